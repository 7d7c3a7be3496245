package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/betbot/acdm/internal/api"
	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/journal"
	"github.com/betbot/acdm/internal/platform"
	"github.com/betbot/acdm/pkg/client"
)

const (
	refreshInterval = 2 * time.Second
	maxOrders       = 10
	maxEvents       = 8
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	saleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")) // 绿色

	tradeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("4")) // 蓝色

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

// model 界面状态
type model struct {
	client *client.Client

	round    *platform.RoundInfo
	plat     *api.PlatformView
	account  *api.AccountView
	orders   []domain.Order
	events   []journal.EventRecord
	updated  time.Time
	err      error
	quitting bool
}

type tickMsg time.Time

type snapshotMsg struct {
	round   *platform.RoundInfo
	plat    *api.PlatformView
	account *api.AccountView
	orders  []domain.Order
	events  []journal.EventRecord
	err     error
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchCmd 拉取一次全部数据；事件日志未开启时忽略
func fetchCmd(c *client.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var msg snapshotMsg
		if msg.round, msg.err = c.Round(ctx); msg.err != nil {
			return msg
		}
		if msg.plat, msg.err = c.Platform(ctx); msg.err != nil {
			return msg
		}
		if msg.orders, msg.err = c.Orders(ctx, client.OrdersQuery{}); msg.err != nil {
			return msg
		}
		if !domain.IsNoAccount(c.Account()) {
			if msg.account, msg.err = c.AccountInfo(ctx, c.Account()); msg.err != nil {
				return msg
			}
		}
		if events, err := c.Events(ctx, client.EventsQuery{Limit: 500}); err == nil {
			if len(events) > maxEvents {
				events = events[len(events)-maxEvents:]
			}
			msg.events = events
		}
		return msg
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), fetchCmd(m.client))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchCmd(m.client)
		}
	case tickMsg:
		return m, tea.Batch(tickCmd(), fetchCmd(m.client))
	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.round, m.plat, m.account, m.orders = msg.round, msg.plat, msg.account, msg.orders
			m.events = msg.events
			m.updated = time.Now()
		}
	}
	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("ACDM 平台 "+m.client.BaseURL()) + "\n\n")

	if m.round == nil {
		if m.err != nil {
			b.WriteString(warnStyle.Render(fmt.Sprintf("错误: %v", m.err)) + "\n")
		} else {
			b.WriteString("加载中...\n")
		}
		b.WriteString(dimStyle.Render("\nq 退出 · r 刷新"))
		return b.String()
	}

	top := lipgloss.JoinHorizontal(lipgloss.Top, borderStyle.Render(m.roundView()), " ", borderStyle.Render(m.platformView()))
	b.WriteString(top + "\n")
	if m.account != nil {
		b.WriteString(borderStyle.Render(m.accountView()) + "\n")
	}
	b.WriteString(borderStyle.Render(m.ordersView()) + "\n")
	if len(m.events) > 0 {
		b.WriteString(borderStyle.Render(m.eventsView()) + "\n")
	}

	footer := fmt.Sprintf("更新于 %s · q 退出 · r 刷新", m.updated.Format("15:04:05"))
	if m.err != nil {
		footer = warnStyle.Render(fmt.Sprintf("刷新失败: %v", m.err)) + " · " + footer
	}
	b.WriteString(dimStyle.Render(footer))
	return b.String()
}

func (m model) roundView() string {
	r := m.round
	var b strings.Builder
	switch r.Kind {
	case domain.RoundKindSale:
		b.WriteString(titleStyle.Render(fmt.Sprintf("第 %d 轮 ", r.Number)) + saleStyle.Render("SALE") + "\n")
		fmt.Fprintf(&b, "价格     %s\n", r.Price)
		fmt.Fprintf(&b, "供应     %s\n", fmtDec(r.TokensForSale))
		fmt.Fprintf(&b, "已售     %s\n", fmtDec(r.TokensSold))
		fmt.Fprintf(&b, "剩余     %s\n", fmtDec(r.TokensRemaining))
		if r.SoldOut {
			b.WriteString(saleStyle.Render("已售罄") + "\n")
		}
	case domain.RoundKindTrade:
		b.WriteString(titleStyle.Render(fmt.Sprintf("第 %d 轮 ", r.Number)) + tradeStyle.Render("TRADE") + "\n")
		fmt.Fprintf(&b, "成交额   %s\n", fmtDec(r.VolumeTraded))
		fmt.Fprintf(&b, "挂单数   %d\n", r.OpenOrders)
		fmt.Fprintf(&b, "上轮价格 %s\n", r.LastSalePrice)
	default:
		b.WriteString(titleStyle.Render("尚未开始") + "\n")
		return b.String()
	}
	left := time.Until(r.EndTime).Truncate(time.Second)
	if r.Expired || left <= 0 {
		b.WriteString(warnStyle.Render("已到期") + "\n")
	} else {
		fmt.Fprintf(&b, "剩余时间 %s\n", left)
	}
	return b.String()
}

func (m model) platformView() string {
	p := m.plat
	if p == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("托管账户") + "\n")
	fmt.Fprintf(&b, "%s\n", p.Custody.Hex())
	fmt.Fprintf(&b, "总供应   %s %s\n", fmtDec(p.TotalSupply), p.TokenSymbol)
	fmt.Fprintf(&b, "托管代币 %s\n", fmtDec(p.CustodyTokens))
	fmt.Fprintf(&b, "托管价值 %s\n", p.CustodyValue)
	if p.Stranded.IsPositive() {
		b.WriteString(warnStyle.Render(fmt.Sprintf("滞留     %s", p.Stranded)) + "\n")
	}
	return b.String()
}

func (m model) accountView() string {
	a := m.account
	var b strings.Builder
	b.WriteString(titleStyle.Render("账户 "+a.Account.Hex()) + "\n")
	fmt.Fprintf(&b, "代币 %s · 价值 %s · 授权 %s\n", fmtDec(a.Tokens), a.Value, fmtDec(a.Allowance))
	if a.Registered {
		fmt.Fprintf(&b, "推荐人 %s / %s\n", short(a.Referrer1), short(a.Referrer2))
	} else {
		b.WriteString(dimStyle.Render("未注册") + "\n")
	}
	return b.String()
}

func (m model) ordersView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("开放订单 (%d)", len(m.orders))) + "\n")
	if len(m.orders) == 0 {
		b.WriteString(dimStyle.Render("无") + "\n")
		return b.String()
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("%-6s %-14s %-18s %-14s", "ID", "卖家", "剩余", "价格")) + "\n")
	for i, o := range m.orders {
		if i >= maxOrders {
			b.WriteString(dimStyle.Render(fmt.Sprintf("... 还有 %d 个", len(m.orders)-maxOrders)) + "\n")
			break
		}
		fmt.Fprintf(&b, "%-6d %-14s %-18s %-14s\n", o.ID, short(o.Seller), fmtDec(o.Remaining), o.Price)
	}
	return b.String()
}

func (m model) eventsView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("最近事件") + "\n")
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		fmt.Fprintf(&b, "%s %-18s %-14s %s\n", e.Timestamp.Local().Format("15:04:05"), e.Type, short(e.Account), fmtDec(e.Amount))
	}
	return b.String()
}

func short(a domain.Account) string {
	if domain.IsNoAccount(a) {
		return "-"
	}
	h := a.Hex()
	return h[:6] + ".." + h[len(h)-4:]
}

func fmtDec(d decimal.Decimal) string {
	return d.StringFixed(4)
}

func main() {
	server := flag.String("server", envOr("ACDM_SERVER", "http://127.0.0.1:8080"), "acdmd 地址")
	accountFlag := flag.String("account", os.Getenv("ACDM_ACCOUNT"), "关注的账户（可选）")
	flag.Parse()

	account := domain.NoAccount
	if *accountFlag != "" {
		a, err := domain.ParseAccount(*accountFlag)
		if err != nil {
			log.Fatalf("账户无效: %v", err)
		}
		account = a
	}

	p := tea.NewProgram(model{client: client.New(*server, account)}, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("运行程序失败: %v", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

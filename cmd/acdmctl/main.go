package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/betbot/acdm/internal/api"
	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/pkg/client"
)

const usage = `用法: acdmctl [-server URL] [-account 0x...] <命令> [参数]

查询:
  platform                   平台概况
  round                      当前轮次
  orders [-seller 0x..] [-all]
  order <id>
  account [0x...]            默认为 -account
  events [-type T] [-limit N]
  payouts [-undelivered]
  watch [类型...]            订阅事件流

操作（需要 -account）:
  register [推荐人]
  start-sale | start-trade
  buy <value>
  approve <amount>
  sell <amount> <price>      挂单
  redeem <id> <value>        吃单
  cancel <id>                撤单
  faucet <value> [0x...]     开发环境充值
`

func main() {
	_ = godotenv.Load()

	server := flag.String("server", envOr("ACDM_SERVER", "http://127.0.0.1:8080"), "acdmd 地址")
	accountFlag := flag.String("account", os.Getenv("ACDM_ACCOUNT"), "调用方账户")
	timeout := flag.Duration("timeout", 15*time.Second, "请求超时")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	account := domain.NoAccount
	if *accountFlag != "" {
		a, err := domain.ParseAccount(*accountFlag)
		if err != nil {
			fatal(err)
		}
		account = a
	}
	c := client.New(*server, account)

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := watch(ctx, c, args); err != nil && ctx.Err() == nil {
			fatal(err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	out, err := run(ctx, c, cmd, args)
	if err != nil {
		fatal(err)
	}
	printJSON(out)
}

func run(ctx context.Context, c *client.Client, cmd string, args []string) (any, error) {
	switch cmd {
	case "platform":
		return c.Platform(ctx)
	case "round":
		return c.Round(ctx)
	case "orders":
		fs := flag.NewFlagSet("orders", flag.ExitOnError)
		seller := fs.String("seller", "", "卖家")
		all := fs.Bool("all", false, "包含已关闭订单")
		_ = fs.Parse(args)
		q := client.OrdersQuery{All: *all}
		if *seller != "" {
			a, err := domain.ParseAccount(*seller)
			if err != nil {
				return nil, err
			}
			q.Seller = a
		}
		return c.Orders(ctx, q)
	case "order":
		id, err := argID(args, 0)
		if err != nil {
			return nil, err
		}
		return c.Order(ctx, id)
	case "account":
		a := c.Account()
		if len(args) > 0 {
			var err error
			if a, err = domain.ParseAccount(args[0]); err != nil {
				return nil, err
			}
		}
		if domain.IsNoAccount(a) {
			return nil, fmt.Errorf("需要账户参数或 -account")
		}
		return c.AccountInfo(ctx, a)
	case "events":
		fs := flag.NewFlagSet("events", flag.ExitOnError)
		typ := fs.String("type", "", "事件类型")
		limit := fs.Int("limit", 50, "数量")
		after := fs.Int64("after", 0, "起始序号（不含）")
		_ = fs.Parse(args)
		return c.Events(ctx, client.EventsQuery{Type: domain.EventType(*typ), Limit: *limit, AfterSeq: *after})
	case "payouts":
		fs := flag.NewFlagSet("payouts", flag.ExitOnError)
		undelivered := fs.Bool("undelivered", false, "只看未送达")
		limit := fs.Int("limit", 50, "数量")
		_ = fs.Parse(args)
		return c.Payouts(ctx, *undelivered, *limit)
	}

	if domain.IsNoAccount(c.Account()) && cmd != "start-sale" && cmd != "start-trade" && cmd != "faucet" {
		return nil, fmt.Errorf("%s 需要 -account", cmd)
	}
	switch cmd {
	case "register":
		referrer := domain.NoAccount
		if len(args) > 0 {
			a, err := domain.ParseAccount(args[0])
			if err != nil {
				return nil, err
			}
			referrer = a
		}
		return c.Register(ctx, referrer)
	case "start-sale":
		return c.StartSaleRound(ctx)
	case "start-trade":
		return c.StartTradeRound(ctx)
	case "buy":
		v, err := argDecimal(args, 0)
		if err != nil {
			return nil, err
		}
		return c.Buy(ctx, v)
	case "approve":
		v, err := argDecimal(args, 0)
		if err != nil {
			return nil, err
		}
		allowance, err := c.Approve(ctx, v)
		return map[string]any{"allowance": allowance}, err
	case "sell":
		amount, err := argDecimal(args, 0)
		if err != nil {
			return nil, err
		}
		price, err := argDecimal(args, 1)
		if err != nil {
			return nil, err
		}
		return c.AddOrder(ctx, amount, price)
	case "redeem":
		id, err := argID(args, 0)
		if err != nil {
			return nil, err
		}
		v, err := argDecimal(args, 1)
		if err != nil {
			return nil, err
		}
		return c.RedeemOrder(ctx, id, v)
	case "cancel":
		id, err := argID(args, 0)
		if err != nil {
			return nil, err
		}
		return c.RemoveOrder(ctx, id)
	case "faucet":
		v, err := argDecimal(args, 0)
		if err != nil {
			return nil, err
		}
		to := c.Account()
		if len(args) > 1 {
			if to, err = domain.ParseAccount(args[1]); err != nil {
				return nil, err
			}
		}
		if domain.IsNoAccount(to) {
			return nil, fmt.Errorf("faucet 需要账户参数或 -account")
		}
		bal, err := c.Faucet(ctx, to, v)
		return map[string]any{"account": to, "value": bal}, err
	default:
		return nil, fmt.Errorf("未知命令: %s", cmd)
	}
}

func watch(ctx context.Context, c *client.Client, args []string) error {
	types := make([]domain.EventType, 0, len(args))
	for _, a := range args {
		types = append(types, domain.EventType(a))
	}
	color.Cyan("订阅事件流 %s ...", c.BaseURL())
	return c.Stream(ctx, types, func(m api.StreamMessage) {
		line := fmt.Sprintf("%s  %-18s round=%d account=%s order=%d amount=%s price=%s",
			m.Timestamp.Local().Format("15:04:05"), m.Type, m.Round, short(m.Account), m.OrderID, m.Amount, m.Price)
		eventColor(m.Type).Println(line)
	})
}

func eventColor(t domain.EventType) *color.Color {
	switch t {
	case domain.EventSaleRoundStarted, domain.EventTradeRoundStarted:
		return color.New(color.FgYellow, color.Bold)
	case domain.EventBuyACDM, domain.EventRedeemOrder:
		return color.New(color.FgGreen)
	case domain.EventRemoveOrder:
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}

func short(a domain.Account) string {
	if domain.IsNoAccount(a) {
		return "-"
	}
	h := a.Hex()
	return h[:6] + ".." + h[len(h)-4:]
}

func argDecimal(args []string, i int) (decimal.Decimal, error) {
	if len(args) <= i {
		return decimal.Zero, fmt.Errorf("缺少参数 #%d", i+1)
	}
	return decimal.NewFromString(strings.TrimSpace(args[i]))
}

func argID(args []string, i int) (uint64, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("缺少订单 ID")
	}
	return strconv.ParseUint(args[i], 10, 64)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	msg := fmt.Sprintf("错误: %v", err)
	if code := client.CodeOf(err); code != "" {
		msg += fmt.Sprintf(" [%s]", code)
	}
	color.New(color.FgRed).Fprintln(os.Stderr, msg)
	os.Exit(1)
}

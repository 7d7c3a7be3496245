package referral

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/betbot/acdm/internal/domain"
)

// Edge 推荐关系：Referee 由 Referrer 推荐。写入后不可修改。
// Referrer 为 domain.NoAccount 表示没有推荐人。
type Edge struct {
	Referee   domain.Account `json:"referee"`
	Referrer  domain.Account `json:"referrer"`
	CreatedAt time.Time      `json:"created_at"`
}

// Graph 推荐关系表（referee -> edge）。
// 只按值查找上级，不持有对象引用；并发由调用方（platform）串行化。
type Graph struct {
	edges map[domain.Account]Edge
}

// NewGraph 创建空的推荐关系表
func NewGraph() *Graph {
	return &Graph{edges: make(map[domain.Account]Edge)}
}

// CanRegister 只做校验，不写入
func (g *Graph) CanRegister(referee, referrer domain.Account) error {
	if domain.IsNoAccount(referee) {
		return domain.ErrInvalidAccount
	}
	if _, ok := g.edges[referee]; ok {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyRegistered, referee.Hex())
	}
	if domain.IsNoAccount(referrer) {
		return nil
	}
	if _, ok := g.edges[referrer]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownReferrer, referrer.Hex())
	}
	return nil
}

// Register 写入推荐关系
func (g *Graph) Register(referee, referrer domain.Account, at time.Time) (Edge, error) {
	if err := g.CanRegister(referee, referrer); err != nil {
		return Edge{}, err
	}
	e := Edge{Referee: referee, Referrer: referrer, CreatedAt: at}
	g.edges[referee] = e
	return e, nil
}

// IsRegistered 是否已注册
func (g *Graph) IsRegistered(account domain.Account) bool {
	_, ok := g.edges[account]
	return ok
}

// ReferrerOf 一级上线
func (g *Graph) ReferrerOf(account domain.Account) domain.Account {
	return g.edges[account].Referrer
}

// ReferrerOfReferrer 二级上线
func (g *Graph) ReferrerOfReferrer(account domain.Account) domain.Account {
	l1 := g.ReferrerOf(account)
	if domain.IsNoAccount(l1) {
		return domain.NoAccount
	}
	return g.ReferrerOf(l1)
}

// Chain 两级上线
func (g *Graph) Chain(account domain.Account) domain.ReferralChain {
	return domain.ReferralChain{
		Level1: g.ReferrerOf(account),
		Level2: g.ReferrerOfReferrer(account),
	}
}

// Len 已注册账户数
func (g *Graph) Len() int {
	return len(g.edges)
}

// Edges 按注册时间（相同时按地址）排序的全部关系，用于快照
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].Referee.Bytes(), out[j].Referee.Bytes()) < 0
	})
	return out
}

// Restore 用快照替换全部关系
func (g *Graph) Restore(edges []Edge) {
	g.edges = make(map[domain.Account]Edge, len(edges))
	for _, e := range edges {
		g.edges[e.Referee] = e
	}
}

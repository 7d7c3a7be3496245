package journal

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/acdm/internal/domain"
)

// EventRecord 带序号的事件
type EventRecord struct {
	Seq int64  `json:"seq"`
	Op  string `json:"op"`
	domain.Event
}

// EventFilter 事件查询条件，零值表示不过滤
type EventFilter struct {
	Type     domain.EventType
	Account  *domain.Account // 匹配 account 或 counterparty
	OrderID  uint64
	AfterSeq int64
	Limit    int // 默认 100
}

// ListEvents 按序号升序返回事件
func (j *Journal) ListEvents(ctx context.Context, f EventFilter) ([]EventRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "type=?")
		args = append(args, string(f.Type))
	}
	if f.Account != nil {
		where = append(where, "(account=? OR counterparty=?)")
		args = append(args, f.Account.Hex(), f.Account.Hex())
	}
	if f.OrderID > 0 {
		where = append(where, "order_id=?")
		args = append(args, int64(f.OrderID))
	}
	if f.AfterSeq > 0 {
		where = append(where, "seq>?")
		args = append(args, f.AfterSeq)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT seq,tx_id,op,type,round,account,counterparty,order_id,amount,price,forced,ts FROM events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq ASC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			rec                  EventRecord
			typ, account, cp, ts string
			amount, price        string
			orderID              int64
			forced               int
		)
		if err := rows.Scan(&rec.Seq, &rec.TxID, &rec.Op, &typ, &rec.Round, &account, &cp, &orderID, &amount, &price, &forced, &ts); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		rec.Type = domain.EventType(typ)
		rec.Account = common.HexToAddress(account)
		rec.Counterparty = common.HexToAddress(cp)
		rec.OrderID = uint64(orderID)
		rec.Amount = decimal.RequireFromString(amount)
		rec.Price = decimal.RequireFromString(price)
		rec.Forced = forced != 0
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PayoutFilter 分账查询条件
type PayoutFilter struct {
	TxID            string
	Recipient       *domain.Account
	UndeliveredOnly bool
	Limit           int // 默认 100
}

// ListPayouts 按写入顺序返回分账记录
func (j *Journal) ListPayouts(ctx context.Context, f PayoutFilter) ([]domain.Payout, error) {
	var (
		where []string
		args  []any
	)
	if f.TxID != "" {
		where = append(where, "tx_id=?")
		args = append(args, f.TxID)
	}
	if f.Recipient != nil {
		where = append(where, "recipient=?")
		args = append(args, f.Recipient.Hex())
	}
	if f.UndeliveredOnly {
		where = append(where, "delivered=0")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT tx_id,leg,recipient,amount,delivered,error,ts FROM payouts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query payouts")
	}
	defer rows.Close()

	var out []domain.Payout
	for rows.Next() {
		var (
			p                          domain.Payout
			leg, recipient, amount, ts string
			delivered                  int
			errMsg                     sql.NullString
		)
		if err := rows.Scan(&p.TxID, &leg, &recipient, &amount, &delivered, &errMsg, &ts); err != nil {
			return nil, errors.Wrap(err, "scan payout")
		}
		p.Leg = domain.PayoutLeg(leg)
		p.Recipient = common.HexToAddress(recipient)
		p.Amount = decimal.RequireFromString(amount)
		p.Delivered = delivered != 0
		p.Error = errMsg.String
		p.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, p)
	}
	return out, rows.Err()
}

// StrandedTotal 所有未送达分账的金额合计（金额以 TEXT 存储，在 Go 侧精确求和）
func (j *Journal) StrandedTotal(ctx context.Context) (decimal.Decimal, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT amount FROM payouts WHERE delivered=0`)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "query stranded payouts")
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, errors.Wrap(err, "scan stranded payout")
		}
		v, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "parse amount %q", amount)
		}
		total = total.Add(v)
	}
	return total, rows.Err()
}

package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/acdm/internal/metrics"
	"github.com/betbot/acdm/internal/platform"
)

// Journal 事件与分账记录（sqlite）。作为 platform.ReceiptHandler 接收每一份回执。
type Journal struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open 打开（必要时创建）sqlite 文件并执行迁移。path 为 ":memory:" 时使用内存库。
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal: db path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "mkdir journal dir")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	j := &Journal{db: db, log: logrus.WithField("module", "journal")}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close 关闭数据库
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS events (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  tx_id TEXT NOT NULL,
  op TEXT NOT NULL,
  type TEXT NOT NULL,
  round INTEGER NOT NULL,
  account TEXT NOT NULL,
  counterparty TEXT NOT NULL,
  order_id INTEGER NOT NULL DEFAULT 0,
  amount TEXT NOT NULL,
  price TEXT NOT NULL,
  forced INTEGER NOT NULL DEFAULT 0,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_events_account ON events(account, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_events_tx ON events(tx_id);`,
		`
CREATE TABLE IF NOT EXISTS payouts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  tx_id TEXT NOT NULL,
  leg TEXT NOT NULL,
  recipient TEXT NOT NULL,
  amount TEXT NOT NULL,
  delivered INTEGER NOT NULL,
  error TEXT,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_payouts_tx ON payouts(tx_id);`,
		`CREATE INDEX IF NOT EXISTS idx_payouts_recipient ON payouts(recipient, id);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// HandleReceipt 在一个事务内写入回执中的事件与分账记录
func (j *Journal) HandleReceipt(ctx context.Context, r *platform.Receipt) error {
	if err := j.record(ctx, r); err != nil {
		metrics.JournalErrors.Add(1)
		return err
	}
	if failed := r.FailedPayouts(); len(failed) > 0 {
		j.log.WithField("tx", r.TxID).Warnf("recorded %d undelivered payouts", len(failed))
	}
	return nil
}

func (j *Journal) record(ctx context.Context, r *platform.Receipt) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin journal tx")
	}
	defer func() { _ = tx.Rollback() }()

	for _, ev := range r.Events {
		_, err := tx.ExecContext(ctx, `
INSERT INTO events (tx_id,op,type,round,account,counterparty,order_id,amount,price,forced,ts)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, ev.TxID, string(r.Op), string(ev.Type), ev.Round, ev.Account.Hex(), ev.Counterparty.Hex(), int64(ev.OrderID),
			ev.Amount.String(), ev.Price.String(), boolToInt(ev.Forced), ev.Timestamp.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return errors.Wrapf(err, "insert event %s", ev.Type)
		}
	}
	for _, p := range r.Payouts {
		_, err := tx.ExecContext(ctx, `
INSERT INTO payouts (tx_id,leg,recipient,amount,delivered,error,ts)
VALUES (?,?,?,?,?,?,?)
`, p.TxID, string(p.Leg), p.Recipient.Hex(), p.Amount.String(), boolToInt(p.Delivered), nullString(p.Error),
			p.Timestamp.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return errors.Wrapf(err, "insert payout %s", p.Leg)
		}
	}
	return errors.Wrap(tx.Commit(), "commit journal tx")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package persistence

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// BadgerOptions Badger 持久化选项
type BadgerOptions struct {
	Path          string
	EncryptionKey []byte // 32 bytes; nil 表示不加密
	InMemory      bool   // 测试用
}

// BadgerService 基于 Badger KV 的持久化服务，每个 store 对应一个 key
type BadgerService struct {
	db *badger.DB
}

// OpenBadger 打开 Badger 数据库
func OpenBadger(opts BadgerOptions) (*BadgerService, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("persistence: badger path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true)
	}
	if len(opts.EncryptionKey) > 0 {
		// 加密模式需要 index cache
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20) // 100MB
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}
	return &BadgerService{db: db}, nil
}

// Close 关闭数据库
func (s *BadgerService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewStore 创建新的存储
func (s *BadgerService) NewStore(prefix, id, tag string) Store {
	return &BadgerStore{db: s.db, key: []byte(storeKey(prefix, id, tag))}
}

// Commit 在同一事务内写入全部 tag
func (s *BadgerService) Commit(prefix, id string, values map[string][]byte) error {
	return errors.Wrapf(s.db.Update(func(txn *badger.Txn) error {
		for tag, b := range values {
			if err := txn.Set([]byte(storeKey(prefix, id, tag)), b); err != nil {
				return err
			}
		}
		return nil
	}), "commit %s:%s", prefix, id)
}

// BadgerStore Badger 存储实现（值为 JSON）
type BadgerStore struct {
	db  *badger.DB
	key []byte
}

// Save 保存数据
func (s *BadgerStore) Save(data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", s.key)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, b)
	})
}

// Load 加载数据
func (s *BadgerStore) Load(data interface{}) error {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotExists
		}
		return errors.Wrapf(err, "get %s", s.key)
	}
	if len(raw) == 0 {
		return ErrNotExists
	}
	return errors.Wrapf(json.Unmarshal(raw, data), "unmarshal %s", s.key)
}

// ParseKey 解析 32 字节加密密钥（hex 或 base64）。空输入返回 nil。
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	// 优先按 hex 解析，避免把 hex 串误当作 base64
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}

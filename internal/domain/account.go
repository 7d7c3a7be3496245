package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Account 参与者身份（以太坊风格地址）
type Account = common.Address

// NoAccount 零地址，用作“无推荐人”哨兵值
var NoAccount Account

// ParseAccount 解析 0x 前缀的十六进制地址
func ParseAccount(s string) (Account, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return NoAccount, fmt.Errorf("%w: %q", ErrInvalidAccount, s)
	}
	return common.HexToAddress(s), nil
}

// IsNoAccount 判断是否为哨兵地址
func IsNoAccount(a Account) bool {
	return a == NoAccount
}

// ReferralChain 两级推荐链（缺失的层级为 NoAccount）
type ReferralChain struct {
	Level1 Account `json:"level1"`
	Level2 Account `json:"level2"`
}

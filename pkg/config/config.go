package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PlatformConfig 平台配置
type PlatformConfig struct {
	Account       string        // 平台托管账户（代币 operator）
	Treasury      string        // 平台份额转出账户（可选）
	RoundDuration time.Duration // 每轮时长，默认 72h
	TokenName     string
	TokenSymbol   string
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Listen      string  // 监听地址，默认 :8080
	RateLimit   float64 // 每个账户每秒请求数，0 表示不限流
	RateBurst   int     // 令牌桶容量
	EnablePprof bool    // 挂载 /debug/pprof
	DebugListen string  // 独立的 expvar/pprof 端口（可选）
}

// StorageConfig 存储配置
type StorageConfig struct {
	Backend       string // json | badger
	Dir           string // 快照目录
	EncryptionKey string // badger 加密密钥（hex/base64，32 bytes，可选）
	JournalPath   string // sqlite 事件日志路径，空表示不记录
}

// KeeperConfig 轮次自动推进
type KeeperConfig struct {
	Enabled  bool
	Schedule string // cron 表达式，默认每分钟
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
	LogByRound bool
}

// DevConfig 开发环境配置
type DevConfig struct {
	Faucet bool // 开启 /api/dev/faucet
}

// Config 应用配置
type Config struct {
	Platform PlatformConfig
	Server   ServerConfig
	Storage  StorageConfig
	Keeper   KeeperConfig
	Log      LogConfig
	Dev      DevConfig
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）；未出现的字段保持默认值
type ConfigFile struct {
	Platform struct {
		Account       string `yaml:"account" json:"account"`
		Treasury      string `yaml:"treasury" json:"treasury"`
		RoundDuration string `yaml:"round_duration" json:"round_duration"` // 例如 "72h"
		TokenName     string `yaml:"token_name" json:"token_name"`
		TokenSymbol   string `yaml:"token_symbol" json:"token_symbol"`
	} `yaml:"platform" json:"platform"`
	Server struct {
		Listen      string   `yaml:"listen" json:"listen"`
		RateLimit   *float64 `yaml:"rate_limit" json:"rate_limit"`
		RateBurst   int      `yaml:"rate_burst" json:"rate_burst"`
		EnablePprof bool     `yaml:"enable_pprof" json:"enable_pprof"`
		DebugListen string   `yaml:"debug_listen" json:"debug_listen"`
	} `yaml:"server" json:"server"`
	Storage struct {
		Backend       string `yaml:"backend" json:"backend"`
		Dir           string `yaml:"dir" json:"dir"`
		EncryptionKey string `yaml:"encryption_key" json:"encryption_key"`
		JournalPath   string `yaml:"journal_path" json:"journal_path"`
	} `yaml:"storage" json:"storage"`
	Keeper struct {
		Enabled  *bool  `yaml:"enabled" json:"enabled"`
		Schedule string `yaml:"schedule" json:"schedule"`
	} `yaml:"keeper" json:"keeper"`
	Log struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSize    int    `yaml:"max_size" json:"max_size"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAge     int    `yaml:"max_age" json:"max_age"`
		Compress   *bool  `yaml:"compress" json:"compress"`
		LogByRound *bool  `yaml:"log_by_round" json:"log_by_round"`
	} `yaml:"log" json:"log"`
	Dev struct {
		Faucet bool `yaml:"faucet" json:"faucet"`
	} `yaml:"dev" json:"dev"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Platform: PlatformConfig{
			RoundDuration: 72 * time.Hour,
			TokenName:     "ACDM",
			TokenSymbol:   "ACDM",
		},
		Server: ServerConfig{
			Listen:    ":8080",
			RateLimit: 20,
			RateBurst: 40,
		},
		Storage: StorageConfig{
			Backend:     "json",
			Dir:         "data/state",
			JournalPath: "data/journal.db",
		},
		Keeper: KeeperConfig{
			Enabled:  true,
			Schedule: "@every 1m",
		},
		Log: LogConfig{
			Level:      "info",
			File:       "logs/acdmd.log",
			MaxSize:    100, // 100MB
			MaxBackups: 3,
			MaxAge:     7, // 7天
			Compress:   true,
			LogByRound: true,
		},
	}
}

// Load 加载配置。优先级：环境变量(ACDM_*) > 配置文件 > 默认值。
// 当前目录下的 .env 会先被加载到环境变量（不覆盖已有变量）。
func Load(filePath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if filePath != "" {
		cf, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		if err := cfg.applyFile(cf); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return &configFile, nil
}

func (c *Config) applyFile(cf *ConfigFile) error {
	setString(&c.Platform.Account, cf.Platform.Account)
	setString(&c.Platform.Treasury, cf.Platform.Treasury)
	setString(&c.Platform.TokenName, cf.Platform.TokenName)
	setString(&c.Platform.TokenSymbol, cf.Platform.TokenSymbol)
	if cf.Platform.RoundDuration != "" {
		d, err := time.ParseDuration(cf.Platform.RoundDuration)
		if err != nil {
			return fmt.Errorf("platform.round_duration: %w", err)
		}
		c.Platform.RoundDuration = d
	}

	setString(&c.Server.Listen, cf.Server.Listen)
	if cf.Server.RateLimit != nil {
		c.Server.RateLimit = *cf.Server.RateLimit
	}
	if cf.Server.RateBurst > 0 {
		c.Server.RateBurst = cf.Server.RateBurst
	}
	c.Server.EnablePprof = cf.Server.EnablePprof
	setString(&c.Server.DebugListen, cf.Server.DebugListen)

	setString(&c.Storage.Backend, cf.Storage.Backend)
	setString(&c.Storage.Dir, cf.Storage.Dir)
	setString(&c.Storage.EncryptionKey, cf.Storage.EncryptionKey)
	setString(&c.Storage.JournalPath, cf.Storage.JournalPath)

	if cf.Keeper.Enabled != nil {
		c.Keeper.Enabled = *cf.Keeper.Enabled
	}
	setString(&c.Keeper.Schedule, cf.Keeper.Schedule)

	setString(&c.Log.Level, cf.Log.Level)
	setString(&c.Log.File, cf.Log.File)
	setInt(&c.Log.MaxSize, cf.Log.MaxSize)
	setInt(&c.Log.MaxBackups, cf.Log.MaxBackups)
	setInt(&c.Log.MaxAge, cf.Log.MaxAge)
	if cf.Log.Compress != nil {
		c.Log.Compress = *cf.Log.Compress
	}
	if cf.Log.LogByRound != nil {
		c.Log.LogByRound = *cf.Log.LogByRound
	}

	c.Dev.Faucet = cf.Dev.Faucet
	return nil
}

func (c *Config) applyEnv() error {
	c.Platform.Account = getEnv("ACDM_PLATFORM_ACCOUNT", c.Platform.Account)
	c.Platform.Treasury = getEnv("ACDM_TREASURY", c.Platform.Treasury)
	if v := os.Getenv("ACDM_ROUND_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ACDM_ROUND_DURATION: %w", err)
		}
		c.Platform.RoundDuration = d
	}

	c.Server.Listen = getEnv("ACDM_LISTEN", c.Server.Listen)
	c.Server.RateLimit = parseFloatEnv("ACDM_RATE_LIMIT", c.Server.RateLimit)
	c.Server.RateBurst = parseIntEnv("ACDM_RATE_BURST", c.Server.RateBurst)
	c.Server.EnablePprof = parseBoolEnv("ACDM_ENABLE_PPROF", c.Server.EnablePprof)
	c.Server.DebugListen = getEnv("ACDM_DEBUG_LISTEN", c.Server.DebugListen)

	c.Storage.Backend = getEnv("ACDM_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Dir = getEnv("ACDM_STORAGE_DIR", c.Storage.Dir)
	c.Storage.EncryptionKey = getEnv("ACDM_STORAGE_KEY", c.Storage.EncryptionKey)
	c.Storage.JournalPath = getEnv("ACDM_JOURNAL_PATH", c.Storage.JournalPath)

	c.Keeper.Enabled = parseBoolEnv("ACDM_KEEPER_ENABLED", c.Keeper.Enabled)
	c.Keeper.Schedule = getEnv("ACDM_KEEPER_SCHEDULE", c.Keeper.Schedule)

	c.Log.Level = getEnv("ACDM_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("ACDM_LOG_FILE", c.Log.File)
	c.Log.LogByRound = parseBoolEnv("ACDM_LOG_BY_ROUND", c.Log.LogByRound)

	c.Dev.Faucet = parseBoolEnv("ACDM_DEV_FAUCET", c.Dev.Faucet)
	return nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Platform.Account == "" {
		return fmt.Errorf("ACDM_PLATFORM_ACCOUNT 未配置")
	}
	if !common.IsHexAddress(c.Platform.Account) {
		return fmt.Errorf("platform.account 不是合法地址: %s", c.Platform.Account)
	}
	if c.Platform.Treasury != "" && !common.IsHexAddress(c.Platform.Treasury) {
		return fmt.Errorf("platform.treasury 不是合法地址: %s", c.Platform.Treasury)
	}
	if c.Platform.RoundDuration <= 0 {
		return fmt.Errorf("platform.round_duration 必须大于 0")
	}
	switch c.Storage.Backend {
	case "json", "badger":
	default:
		return fmt.Errorf("未知的存储后端: %s (支持 json, badger)", c.Storage.Backend)
	}
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir 不能为空")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit 不能为负数")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		return fmt.Errorf("server.rate_burst 必须大于 0")
	}
	if c.Keeper.Enabled && c.Keeper.Schedule == "" {
		return fmt.Errorf("keeper.schedule 不能为空")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

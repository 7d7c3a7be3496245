package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
	// currentLogFile 当前日志文件路径
	currentLogFile string
	// savedConfig 保存的日志配置（用于按轮次切换文件）
	savedConfig Config
	// currentRound 当前日志文件对应的轮次（0 表示尚未开始）
	currentRound int
	// fileWriter 当前文件输出，切换时关闭
	fileWriter *lumberjack.Logger
	// logMu 日志文件切换锁
	logMu sync.Mutex
)

// Config 日志配置
type Config struct {
	Level      string // 日志级别: debug, info, warn, error
	OutputFile string // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize    int    // 日志文件最大大小（MB）
	MaxBackups int    // 保留的旧日志文件数量
	MaxAge     int    // 保留旧日志文件的天数
	Compress   bool   // 是否压缩旧日志文件
	LogByRound bool   // 是否按轮次命名日志文件
	NoConsole  bool   // 不输出到控制台
}

// RoundFileName 按轮次生成日志文件名：logs/acdmd.log -> logs/acdmd_round-3.log
func RoundFileName(basePath string, round int) string {
	if round <= 0 {
		return basePath
	}
	dir := filepath.Dir(basePath)
	baseName := filepath.Base(basePath)
	ext := filepath.Ext(baseName)
	name := fmt.Sprintf("%s_round-%d%s", baseName[:len(baseName)-len(ext)], round, ext)
	if dir == "." || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

func newFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05", // 格式: yy-mm-dd HH:MM:ss
		ForceColors:     true,
	}
}

// apply 按配置重建输出；调用方持有 logMu
func apply(config Config, path string) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	var writers []io.Writer
	if !config.NoConsole {
		writers = append(writers, os.Stdout)
	}

	var fw *lumberjack.Logger
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		fw = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		writers = append(writers, fw)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(newFormatter())
	out := io.MultiWriter(writers...)
	logger.SetOutput(out)

	// 同时设置全局 logrus，各模块通过 logrus.WithField("module", ...) 写日志
	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter())

	if fileWriter != nil {
		_ = fileWriter.Close()
	}
	fileWriter = fw
	currentLogFile = path
	Logger = logger
	return nil
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	savedConfig = config
	path := config.OutputFile
	if config.LogByRound {
		path = RoundFileName(config.OutputFile, currentRound)
	}
	return apply(config, path)
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(Config{
		Level:      "info",
		OutputFile: "logs/acdmd.log",
		MaxSize:    100, // 100MB
		MaxBackups: 3,
		MaxAge:     7, // 7天
		Compress:   true,
		LogByRound: true,
	})
}

// SetRound 新轮次开始时调用；开启 LogByRound 时切换到该轮次的日志文件
func SetRound(round int) error {
	logMu.Lock()
	defer logMu.Unlock()

	if round == currentRound {
		return nil
	}
	currentRound = round
	if !savedConfig.LogByRound || savedConfig.OutputFile == "" {
		return nil
	}

	old := currentLogFile
	path := RoundFileName(savedConfig.OutputFile, round)
	if err := apply(savedConfig, path); err != nil {
		return err
	}
	Logger.Infof("日志文件已切换到第 %d 轮: %s -> %s", round, old, path)
	return nil
}

// Close 关闭当前日志文件
func Close() error {
	logMu.Lock()
	defer logMu.Unlock()
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Info 记录 INFO 级别日志
func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.WithField(key, value)
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	if Logger != nil {
		return Logger.WithFields(fields)
	}
	return logrus.WithFields(fields)
}

// GetCurrentLogFile 获取当前日志文件路径
func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}

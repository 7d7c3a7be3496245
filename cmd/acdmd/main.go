package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/betbot/acdm/internal/app"
	"github.com/betbot/acdm/pkg/config"
	"github.com/betbot/acdm/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("ACDM_CONFIG"), "配置文件路径（.yaml/.yml/.json，可选）")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
		LogByRound: cfg.Log.LogByRound,
	}); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Close()

	a, err := app.New(cfg)
	if err != nil {
		logger.Errorf("启动失败: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	logger.Infof("acdmd 启动: platform=%s round_duration=%s storage=%s", cfg.Platform.Account, cfg.Platform.RoundDuration, cfg.Storage.Backend)
	if err := a.Run(ctx); err != nil {
		logger.Errorf("运行失败: %v", err)
		os.Exit(1)
	}
	logger.Info("acdmd 已停止")
}

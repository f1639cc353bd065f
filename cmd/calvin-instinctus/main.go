package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fungus-wine/calvin-instinctus/common/logger"
	"github.com/fungus-wine/calvin-instinctus/internal/config"
	"github.com/fungus-wine/calvin-instinctus/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "calvin-instinctus")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	// 3. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. 打开设备（REFLEX_SIMULATE=true 时使用模拟设备）
	var hw *service.Hardware
	if cfg.Simulate {
		log.Info("Running with simulated hardware")
		hw = service.SimulatedHardware()
	} else {
		hw, err = service.OpenHardware(ctx, cfg, log)
		if err != nil {
			log.Fatal("Failed to open hardware", zap.Error(err))
		}
	}

	// 5. 创建并启动服务
	reflexService, err := service.NewReflexService(ctx, cfg, log, hw)
	if err != nil {
		_ = hw.Close()
		log.Fatal("Failed to create reflex service", zap.Error(err))
	}
	if err := reflexService.Start(ctx); err != nil {
		_ = reflexService.Stop()
		log.Fatal("Failed to start reflex service", zap.Error(err))
	}

	// 6. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received signal, shutting down",
		zap.String("signal", sig.String()),
	)
	cancel()
	_ = reflexService.Stop()

	log.Info("Reflex service stopped")
}

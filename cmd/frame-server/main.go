// 文件: cmd/frame-server/main.go
package main

import (
	"FrameFinder/config"
	"FrameFinder/internal/api"
	"FrameFinder/internal/bootstrap"
	"FrameFinder/internal/task"
	"FrameFinder/pkg/logger"
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	configDir := flag.String("config", ".", "config.yaml 所在目录")
	flag.Parse()

	// --- 1. 初始化 ---
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("FATAL: 无法加载配置: %v", err)
	}
	if err := logger.InitLogger(cfg.Logger); err != nil {
		log.Fatalf("FATAL: 无法初始化日志: %v", err)
	}
	slog.Info("应用启动")
	defer slog.Info("应用关闭")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 2. 连接存储并创建核心服务实例 ---
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("FATAL: 无法初始化应用", "error", err)
		os.Exit(1)
	}
	defer app.Close(context.Background())
	slog.Info("存储连接成功并已核对配置", "driver", cfg.Database.Driver)

	// 服务关闭时取消所有后台任务
	taskManager := task.NewManager(ctx, app.Pipeline)

	// --- 3. 设置并启动HTTP服务器 ---
	handlers := api.NewAPIHandlers(taskManager, app.Store, app.Searcher, app.Engine, cfg, *configDir)
	router := api.RegisterRoutes(handlers, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("HTTP服务器正在启动...", "地址", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("正在关闭HTTP服务器...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("HTTP服务器异常退出", "error", err)
		os.Exit(1)
	}
}

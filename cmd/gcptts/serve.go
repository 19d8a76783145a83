package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iabetor/gcptts/internal/app"
	"github.com/iabetor/gcptts/internal/config"
	"github.com/iabetor/gcptts/internal/logger"
	"github.com/iabetor/gcptts/internal/server"
)

func newServeCommand(load func() (*config.Config, error)) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP/WebSocket 服务",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "监听地址，覆盖配置文件")
	return cmd
}

func serve(cfg *config.Config) error {
	logger.Infof("[main] gcptts 启动中 (log_level=%s)", cfg.Log.Level)

	// 监听系统信号，优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Start(ctx)

	srv := server.New(a)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Infof("[main] 收到退出信号，正在关闭...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("[main] 关闭 HTTP 服务失败: %v", err)
	}
	logger.Infof("[main] gcptts 已停止")
	return nil
}

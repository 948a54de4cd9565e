/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mautops/moderation-gin/internal/api"
	"github.com/mautops/moderation-gin/internal/config"
	"github.com/mautops/moderation-gin/internal/container"
	"github.com/spf13/cobra"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Long: `Start the Moderation Gin API server.
The server will listen on the configured host and port and provide REST
interfaces for workflows, tasks, pages and moderation decisions, plus a
WebSocket stream of moderation events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. 加载配置
		cfg, configPath, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}

		// 2. 日志
		logger, err := api.NewLoggerFromConfig(&cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		api.SetLogger(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// 3. 链路追踪
		if cfg.Tracing.Enabled {
			shutdown, err := api.InitTracing(ctx, cfg.Tracing)
			if err != nil {
				return fmt.Errorf("failed to initialize tracing: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					logger.WithError(err).Warn("failed to shutdown tracing")
				}
			}()
		}

		// 4. 初始化容器并启动后台组件
		ctr, err := container.NewContainer(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize container: %w", err)
		}
		defer ctr.Close()
		if err := ctr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start background components: %w", err)
		}

		// 5. 配置热更新,只在显式指定配置文件时启用
		if configPath != "" {
			watcher := config.NewConfigWatcher(cfg, configPath)
			watcher.OnConfigChange(ctr.ApplyConfig)
			if err := watcher.Start(); err != nil {
				logger.WithError(err).Warn("config watcher disabled")
			} else {
				defer watcher.Stop()
			}
		}

		// 6. 路由
		healthChecks := map[string]api.HealthChecker{}
		if client := ctr.OpenFGAClient(); client != nil {
			healthChecks["openfga"] = client
		}
		router := api.SetupRoutes(api.RouterOptions{
			Config: cfg,
			DB:     ctr.DB(),
			Logger: logger,
			Services: api.Services{
				Workflows:  ctr.WorkflowService(),
				Tasks:      ctr.TaskService(),
				Pages:      ctr.PageService(),
				Moderation: ctr.ModerationService(),
				Query:      ctr.QueryService(),
				Reports:    ctr.ReportService(),
				Statistics: ctr.StatisticsService(),
			},
			Hub:          ctr.Hub(),
			Validator:    ctr.KeycloakValidator(),
			HealthChecks: healthChecks,
			Tracing:      cfg.Tracing.Enabled,
		})

		// 7. 启动服务器
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		srv := &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.WithField("addr", addr).Info("server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}
		case <-ctx.Done():
		}

		logger.Info("shutting down server")

		// 优雅关闭
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		logger.Info("server exited")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().String("host", "0.0.0.0", "Server host")
	serverCmd.Flags().Int("port", 8080, "Server port")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"newsrank/internal/middleware"
	"newsrank/internal/router"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveRun(ctx)
		},
	}
}

func serveRun(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	// 内存索引每次启动都是空的；Redis 索引也顺便纠正一次
	n, err := a.engine.RebuildIndex(ctx)
	if err != nil {
		return fmt.Errorf("rebuild rank index: %w", err)
	}
	a.logger.Info("Rank index rebuilt", "items", n)

	if err := a.engine.Start(cfg.SweepSchedule); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	production := cfg.AppEnv == "production"
	if production {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := router.New(router.Deps{
		Engine:        a.engine,
		DB:            a.db,
		Metrics:       a.metrics,
		Gatherer:      prometheus.DefaultGatherer,
		Logger:        a.logger,
		SessionSecret: cfg.SessionSecret,
		SecureCookie:  production,
		RateLimiter:   middleware.NewIPRateLimiter(cfg.HTTPRateLimit, cfg.HTTPRateBurst),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", "addr", srv.Addr, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info("Shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.logger.Info("Server stopped")
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reviewpulse/reviewpulse/internal/alerts"
	"github.com/reviewpulse/reviewpulse/internal/app"
)

const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and job workers",
		Long: `Starts the HTTP server, the per-queue worker pools, and the session
cleanup sweeper, then blocks until SIGINT or SIGTERM. Shutdown drains
in-flight HTTP requests and stops workers before releasing resources.`,

		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		appInstance.Dispatcher.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		runCleanupSweeper(ctx, appInstance)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", appInstance.Config.Server.Port),
		Handler:           appInstance.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		stop()
		wg.Wait()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}

	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}

// runCleanupSweeper purges expired sessions on the configured interval. The
// HTTP maintenance endpoint triggers the same operation on demand.
func runCleanupSweeper(ctx context.Context, a *app.App) {
	interval := a.Config.CleanupInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := a.Sessions.Cleanup(ctx, a.Config.Retention())
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				a.Logger.Error("session cleanup failed", zap.Error(err))
				a.Alerts.Dispatch(ctx, alerts.TypeCleanupFailed, "Scheduled session cleanup failed.", alerts.Options{
					Context: map[string]string{"error": err.Error()},
				})
				continue
			}
			if purged > 0 {
				a.Logger.Info("expired sessions purged", zap.Int64("count", purged))
			}
		}
	}
}

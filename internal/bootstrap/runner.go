package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/toralehq/torale/config"
)

// RunServicesWithShutdown runs the enabled service loops until SIGINT or
// SIGTERM, then waits for them to drain. Startup reconciliation runs before
// the scheduler loop starts so no claimed-but-unexecuted fire is lost.
func RunServicesWithShutdown(
	cfg *config.AppConfig,
	services *ServiceContainer,
	logger *slog.Logger,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.IsSchedulerEnabled() {
		if err := services.Scheduler.ReconcileOnStartup(gctx); err != nil {
			return fmt.Errorf("startup reconciliation: %w", err)
		}
		g.Go(func() error {
			return services.Scheduler.Run(gctx)
		})
	}

	if cfg.IsReaperEnabled() {
		g.Go(func() error {
			return services.Reaper.Run(gctx)
		})
	}

	if cfg.IsWebhookRetryEnabled() {
		g.Go(func() error {
			return services.WebhookRetry.Run(gctx)
		})
	}

	logger.InfoContext(ctx, "services running", "services", EnabledServiceNames(cfg))

	err := g.Wait()
	if services.MetricsSink != nil {
		if cerr := services.MetricsSink.Close(); cerr != nil {
			logger.Error("close metrics sink failed", "error", cerr)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

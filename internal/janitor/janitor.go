// Package janitor physically removes soft-deleted messages after a
// retention window. Deletes in the API only tombstone records; this is
// the process that eventually reclaims the space, on a cron schedule.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"branchdb/pkg/config"
	"branchdb/pkg/logger"
	"branchdb/pkg/store"
)

// Start starts the purge scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.JanitorConfig, st *store.Store) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("janitor_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 3 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("janitor_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid janitor cron expression: %s", cfg.Cron)
	}

	retention := cfg.Retention.Duration()
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	logger.Info("janitor_enabled", "cron", cronExpr, "retention", retention.String(), "dry_run", cfg.DryRun)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, retention, cfg.DryRun, st)
	return cancel, nil
}

// runScheduler computes the next tick for the cron expression with gronx
// and sleeps until then. Full cron syntax is supported.
func runScheduler(ctx context.Context, cronExpr string, retention time.Duration, dryRun bool, st *store.Store) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("janitor_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("janitor_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("janitor_scheduler_stopping")
			return
		}

		if err := RunOnce(ctx, retention, dryRun, st); err != nil {
			logger.Error("janitor_run_error", "error", err)
		}
	}
}

// RunOnce purges soft-deleted messages older than the retention window.
// Exposed so admin triggers and tests can run a purge on demand.
func RunOnce(ctx context.Context, retention time.Duration, dryRun bool, st *store.Store) error {
	cutoff := time.Now().UTC().Add(-retention).UnixNano()
	if dryRun {
		logger.Info("janitor_dry_run", "cutoff", cutoff)
		return nil
	}
	start := time.Now()
	n, err := st.PurgeMessagesBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	logger.Info("janitor_run_complete", "purged", n, "took_ms", time.Since(start).Milliseconds())
	return nil
}

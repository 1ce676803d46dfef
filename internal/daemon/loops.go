package daemon

import (
	"context"
	"time"

	"imgshift/internal/logging"
	"imgshift/internal/pipeline"
)

const minLoopInterval = time.Second

// SweepOnce runs one housekeeping pass.
func (d *Daemon) SweepOnce() pipeline.SweepResult {
	return d.svc.Sweep(d.now())
}

// Flush persists the current statistics windows.
func (d *Daemon) Flush(ctx context.Context) error {
	if d.stats == nil {
		return nil
	}
	return d.stats.Save(ctx, d.svc.Accumulator().Windows())
}

func (d *Daemon) sweepLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(max(d.cfg.SweepInterval(), minLoopInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.SweepOnce()
		}
	}
}

func (d *Daemon) flushLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(max(d.cfg.FlushInterval(), minLoopInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := d.Flush(flushCtx); err != nil {
				logging.WarnWithContext(d.logger, "stats flush failed", "stats_flush_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check state_dir permissions and disk space"),
					logging.String(logging.FieldImpact, "statistics will be retried on the next flush"),
				)
			}
			cancel()
		}
	}
}

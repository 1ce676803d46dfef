package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"imgshift/internal/config"
	"imgshift/internal/logging"
	"imgshift/internal/pipeline"
	"imgshift/internal/statsstore"
)

// Daemon coordinates the API server and background loops and enforces
// single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	svc    *pipeline.Service
	api    *apiServer
	stats  *statsstore.Store

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running     bool
	Address     string
	LockPath    string
	StatsDBPath string
	LiveFiles   int
	Downloads   int
}

// New constructs a daemon around svc.
func New(cfg *config.Config, svc *pipeline.Service, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || svc == nil {
		return nil, errors.New("daemon requires config and pipeline service")
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		svc:      svc,
		api:      newAPIServer(cfg, svc, logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		now:      time.Now,
	}, nil
}

// Start acquires the lock, restores statistics, starts the API and launches
// the background loops.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another imgshift daemon instance is already running")
	}

	if err := d.openStats(ctx); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.closeStats()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel

	d.wg.Add(1)
	go d.sweepLoop(runCtx)
	if d.stats != nil {
		d.wg.Add(1)
		go d.flushLoop(runCtx)
	}

	d.running.Store(true)
	d.logger.Info("imgshift daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.address()),
		logging.Bool("stats_persist", d.stats != nil),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop halts the loops and server, writes a final statistics snapshot and
// releases the lock and every temp file.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.wg.Wait()

	if d.stats != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.Flush(ctx); err != nil {
			logging.WarnWithContext(d.logger, "final stats flush failed", "stats_flush_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "statistics since the last flush are lost"),
			)
		}
		cancel()
		d.closeStats()
	}

	released := d.svc.Shutdown()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("imgshift daemon stopped",
		logging.Int("temp_released", released),
		logging.String(logging.FieldEventType, "daemon_stopped"),
	)
}

// Close is Stop for use with defer.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Address returns the API listen address once started.
func (d *Daemon) Address() string { return d.api.address() }

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	st := Status{
		Running:   d.running.Load(),
		Address:   d.api.address(),
		LockPath:  d.lockPath,
		LiveFiles: d.svc.Files().Live(),
		Downloads: d.svc.Downloads(),
	}
	if d.stats != nil {
		st.StatsDBPath = d.stats.Path()
	}
	return st
}

func (d *Daemon) openStats(ctx context.Context) error {
	if !d.cfg.Stats.Persist {
		return nil
	}
	store, err := statsstore.Open(ctx, d.cfg.StatsDBPath())
	if err != nil {
		return fmt.Errorf("open stats store: %w", err)
	}
	windows, err := store.Load(ctx)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("load stats: %w", err)
	}
	d.svc.Accumulator().Restore(windows)
	d.stats = store
	d.logger.Info("stats restored",
		logging.Int("windows", len(windows)),
		logging.String("path", store.Path()),
	)
	return nil
}

func (d *Daemon) closeStats() {
	if d.stats == nil {
		return
	}
	if err := d.stats.Close(); err != nil {
		d.logger.Debug("stats store close failed", logging.Error(err))
	}
	d.stats = nil
}

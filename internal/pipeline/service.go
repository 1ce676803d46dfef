package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"imgshift/internal/batch"
	"imgshift/internal/codec"
	"imgshift/internal/config"
	"imgshift/internal/conversion"
	"imgshift/internal/logging"
	"imgshift/internal/retry"
	"imgshift/internal/services"
	"imgshift/internal/session"
	"imgshift/internal/stats"
	"imgshift/internal/tempfiles"
)

// Deps are the collaborators a Service drives. Build assembles them from
// configuration; tests may supply their own.
type Deps struct {
	Files    *tempfiles.Manager
	Registry *batch.Registry
	Sessions *session.Store
	Engine   *conversion.Engine
	Stats    *stats.Accumulator
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Service orchestrates ingestion, conversion and delivery per session.
type Service struct {
	cfg      *config.Config
	files    *tempfiles.Manager
	registry *batch.Registry
	sessions *session.Store
	engine   *conversion.Engine
	stats    *stats.Accumulator
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.Mutex
	downloads map[string]download
}

// New wires a Service from explicit dependencies.
func New(cfg *config.Config, deps Deps) (*Service, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new", "config is required", nil)
	}
	if deps.Files == nil || deps.Registry == nil || deps.Sessions == nil || deps.Engine == nil || deps.Stats == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new", "missing dependency", nil)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Service{
		cfg:       cfg,
		files:     deps.Files,
		registry:  deps.Registry,
		sessions:  deps.Sessions,
		engine:    deps.Engine,
		stats:     deps.Stats,
		now:       deps.Clock,
		logger:    logging.NewComponentLogger(deps.Logger, "pipeline"),
		downloads: make(map[string]download),
	}, nil
}

// Build constructs every collaborator from cfg and returns the Service.
func Build(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "build", "config is required", nil)
	}
	files, err := tempfiles.NewManager(cfg.Paths.TempDir, logger)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "build", "temp storage", err)
	}

	salt, err := session.SaltFromHex(cfg.Session.Salt)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "build", "session salt", err)
	}
	vault, err := session.NewVault(session.Options{
		Secret:    cfg.Session.Secret,
		Salt:      salt,
		Time:      cfg.Session.KDFTime,
		MemoryKiB: cfg.Session.KDFMemoryKiB,
		Threads:   cfg.Session.KDFThreads,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "build", "session vault", err)
	}

	registry := batch.NewRegistry(batch.Options{
		MaxItems:    cfg.Limits.MaxBatchItems,
		IdleTimeout: cfg.IdleTimeout(),
		Releaser:    files,
		Logger:      logger,
	})
	base, maxDelay := cfg.RetryDelays()
	engine := conversion.New(
		codec.New(codec.Options{
			MaxWidth:    cfg.Limits.MaxWidth,
			MaxHeight:   cfg.Limits.MaxHeight,
			JPEGQuality: cfg.Conversion.JPEGQuality,
		}),
		files,
		registry,
		conversion.Options{
			Workers:     cfg.Conversion.Workers,
			Retry:       retry.Policy{MaxAttempts: cfg.Conversion.MaxAttempts, BaseDelay: base, MaxDelay: maxDelay},
			ItemTimeout: cfg.ItemTimeout(),
			CancelGrace: cfg.CancelGrace(),
			Logger:      logger,
		},
	)

	return New(cfg, Deps{
		Files:    files,
		Registry: registry,
		Sessions: session.NewStore(vault, cfg.SessionTTL(), nil),
		Engine:   engine,
		Stats:    stats.New(nil, cfg.Location()),
		Logger:   logger,
	})
}

// Files exposes the temp file manager.
func (s *Service) Files() *tempfiles.Manager { return s.files }

// Sessions exposes the sealed session store.
func (s *Service) Sessions() *session.Store { return s.sessions }

// Accumulator exposes the statistics accumulator for persistence.
func (s *Service) Accumulator() *stats.Accumulator { return s.stats }

func (s *Service) sessionLogger(ctx context.Context, sessionID string) (context.Context, *slog.Logger) {
	ctx = services.WithSessionID(ctx, sessionID)
	return ctx, logging.WithContext(ctx, s.logger)
}

// loadSession authenticates the session blob. A tampered blob also drops the
// owner's batch so nothing registered before the tamper can be reused.
func (s *Service) loadSession(sessionID string) (session.State, error) {
	state, err := s.sessions.Load(sessionID)
	if err == nil || !errors.Is(err, session.ErrSessionTampered) {
		return state, err
	}
	if b, ok := s.registry.ForOwner(sessionID); ok {
		rerr := s.registry.Retire(b.ID)
		if errors.Is(rerr, batch.ErrAlreadyConverting) {
			rerr = s.registry.Cancel(b.ID)
		}
		attrs := []logging.Attr{
			logging.String(logging.FieldSessionID, sessionID),
			logging.String(logging.FieldBatchID, b.ID),
			logging.String(logging.FieldErrorHint, "client must start a new upload"),
			logging.String(logging.FieldImpact, "pending images for this session were discarded"),
		}
		if rerr != nil {
			attrs = append(attrs, logging.Error(rerr))
		}
		logging.WarnWithContext(s.logger, "session tampered, batch dropped", "session_tampered", attrs...)
	}
	return session.State{}, err
}

// activeBatch resolves the session's batch. The session blob is authenticated
// on every call so tampering is detected before any registry access.
func (s *Service) activeBatch(sessionID string) (session.State, batch.Batch, error) {
	state, err := s.loadSession(sessionID)
	if err != nil {
		return session.State{}, batch.Batch{}, err
	}
	if state.ActiveBatchID == "" {
		return state, batch.Batch{}, ErrNoBatch
	}
	b, err := s.registry.Get(state.ActiveBatchID)
	if err != nil {
		return state, batch.Batch{}, fmt.Errorf("%w: %w", ErrNoBatch, err)
	}
	return state, b, nil
}

// Describe returns the session's current batch.
func (s *Service) Describe(ctx context.Context, sessionID string) (BatchView, error) {
	_, b, err := s.activeBatch(sessionID)
	if err != nil {
		return BatchView{}, err
	}
	return newBatchView(b), nil
}

// Cancel asks the session's running conversion to stop.
func (s *Service) Cancel(ctx context.Context, sessionID string) error {
	_, logger := s.sessionLogger(ctx, sessionID)
	_, b, err := s.activeBatch(sessionID)
	if err != nil {
		return err
	}
	if err := s.registry.Cancel(b.ID); err != nil {
		return err
	}
	logger.Info("conversion cancel requested",
		logging.String(logging.FieldBatchID, b.ID),
		logging.String(logging.FieldEventType, "conversion_cancel_requested"),
	)
	return nil
}

// Formats lists the supported targets.
func (s *Service) Formats() []FormatView { return formatViews() }

// Stats returns the statistics snapshot for scope. Only the configured admin
// may read statistics.
func (s *Service) Stats(requester, scope string) (StatsView, error) {
	if s.cfg.Admin.UserID == "" || requester != s.cfg.Admin.UserID {
		return StatsView{}, ErrForbidden
	}
	sc, err := stats.ParseScope(scope)
	if err != nil {
		return StatsView{}, err
	}
	return NewStatsView(s.stats.Query(sc)), nil
}

// SweepResult reports one housekeeping pass.
type SweepResult struct {
	Batches   batch.SweepResult
	Sessions  int
	Downloads int
}

// Sweep expires idle batches, stale sessions and old downloads.
func (s *Service) Sweep(now time.Time) SweepResult {
	result := SweepResult{
		Batches:   s.registry.Sweep(now),
		Sessions:  s.sessions.Sweep(),
		Downloads: s.sweepDownloads(now),
	}
	if result.Sessions > 0 || result.Downloads > 0 {
		s.logger.Info("housekeeping sweep",
			logging.Int("sessions", result.Sessions),
			logging.Int("downloads", result.Downloads),
			logging.String(logging.FieldEventType, "pipeline_sweep"),
		)
	}
	return result
}

// Shutdown releases every temp file still owned by the process.
func (s *Service) Shutdown() int {
	s.mu.Lock()
	s.downloads = make(map[string]download)
	s.mu.Unlock()
	return s.files.ReleaseAll()
}

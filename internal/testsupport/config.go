package testsupport

import (
	"path/filepath"
	"testing"

	"imgshift/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// TestSalt is a fixed hex salt so sealed blobs are reproducible within a test.
const TestSalt = "00112233445566778899aabbccddeeff"

// NewConfig produces a config seeded with unique temp directories per test.
// The KDF is tuned down so tests stay fast.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.TempDir = filepath.Join(base, "tmp")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Session.Secret = "test-secret"
	cfgVal.Session.Salt = TestSalt
	cfgVal.Session.KDFMemoryKiB = 8 * 1024
	cfgVal.Session.KDFThreads = 1
	cfgVal.Conversion.RetryBaseDelayMS = 1
	cfgVal.Conversion.RetryMaxDelayMS = 2
	cfgVal.Admin.UserID = "admin"

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithMaxBatchItems overrides the batch size limit.
func WithMaxBatchItems(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Limits.MaxBatchItems = n
	}
}

// WithWorkers overrides the conversion pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Conversion.Workers = n
	}
}

// WithStatsPersistence enables the sqlite stats store.
func WithStatsPersistence() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Stats.Persist = true
	}
}

// WithAPIToken sets the bearer token required by the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.TempDir)
}

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	TempDir  string `toml:"temp_dir"`
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Session contains the shared secret and key derivation parameters used by
// the session vault.
type Session struct {
	Secret       string `toml:"secret"`
	Salt         string `toml:"salt"`
	KDFTime      uint32 `toml:"kdf_time"`
	KDFMemoryKiB uint32 `toml:"kdf_memory_kib"`
	KDFThreads   uint8  `toml:"kdf_threads"`
	TTLMinutes   int    `toml:"ttl_minutes"`
}

// Limits bounds what a single upload or batch may contain.
type Limits struct {
	MaxFileBytes      int64 `toml:"max_file_bytes"`
	MaxBatchItems     int   `toml:"max_batch_items"`
	MaxWidth          int   `toml:"max_width"`
	MaxHeight         int   `toml:"max_height"`
	MaxArchiveEntries int   `toml:"max_archive_entries"`
	MaxArchiveBytes   int64 `toml:"max_archive_bytes"`
}

// Conversion controls the worker pool and per-item retry policy.
type Conversion struct {
	Workers            int `toml:"workers"`
	MaxAttempts        int `toml:"max_attempts"`
	RetryBaseDelayMS   int `toml:"retry_base_delay_ms"`
	RetryMaxDelayMS    int `toml:"retry_max_delay_ms"`
	ItemTimeoutSeconds int `toml:"item_timeout_seconds"`
	CancelGraceSeconds int `toml:"cancel_grace_seconds"`
	JPEGQuality        int `toml:"jpeg_quality"`
}

// Registry controls batch expiry.
type Registry struct {
	IdleTimeoutMinutes   int `toml:"idle_timeout_minutes"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
}

// Stats controls the statistics windows and their optional persistence.
type Stats struct {
	Timezone             string `toml:"timezone"`
	Persist              bool   `toml:"persist"`
	FlushIntervalSeconds int    `toml:"flush_interval_seconds"`
}

// Admin identifies the privileged user allowed to read statistics.
type Admin struct {
	UserID string `toml:"user_id"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for imgshift.
//
// Configuration sections by subsystem:
//   - Paths: temp/state/log directories and API bind address
//   - Session: shared secret and argon2id parameters for the session vault
//   - Limits: per-file, per-batch, per-archive and dimension caps
//   - Conversion: worker pool size, retry policy, per-item timeout
//   - Registry: idle batch expiry
//   - Stats: window timezone and SQLite snapshot persistence
//   - Admin: privileged statistics access
//   - Logging: log format, level, and retention
type Config struct {
	Paths      Paths      `toml:"paths"`
	Session    Session    `toml:"session"`
	Limits     Limits     `toml:"limits"`
	Conversion Conversion `toml:"conversion"`
	Registry   Registry   `toml:"registry"`
	Stats      Stats      `toml:"stats"`
	Admin      Admin      `toml:"admin"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("imgshift.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.TempDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StatsDBPath returns the SQLite file used for statistics snapshots.
func (c *Config) StatsDBPath() string {
	return filepath.Join(c.Paths.StateDir, "stats.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "imgshift.lock")
}

// IdleTimeout returns the batch idle timeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Registry.IdleTimeoutMinutes) * time.Minute
}

// SweepInterval returns how often the registry sweeper runs.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Registry.SweepIntervalSeconds) * time.Second
}

// ItemTimeout returns the wall-clock cap for a single codec attempt.
func (c *Config) ItemTimeout() time.Duration {
	return time.Duration(c.Conversion.ItemTimeoutSeconds) * time.Second
}

// CancelGrace bounds how long in-flight items may run after a cancellation.
func (c *Config) CancelGrace() time.Duration {
	return time.Duration(c.Conversion.CancelGraceSeconds) * time.Second
}

// RetryDelays returns the base and maximum retry backoff delays.
func (c *Config) RetryDelays() (time.Duration, time.Duration) {
	return time.Duration(c.Conversion.RetryBaseDelayMS) * time.Millisecond,
		time.Duration(c.Conversion.RetryMaxDelayMS) * time.Millisecond
}

// FlushInterval returns how often statistics snapshots are persisted.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Stats.FlushIntervalSeconds) * time.Second
}

// SessionTTL returns how long an idle session blob is retained.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

// Location resolves the statistics timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Stats.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

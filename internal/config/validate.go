package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	if err := c.validateConversion(); err != nil {
		return err
	}
	if err := c.validateRegistry(); err != nil {
		return err
	}
	if err := c.validateStats(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSession() error {
	if strings.TrimSpace(c.Session.Secret) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("session.secret is required. Set SESSION_PASSWORD env var or edit %s (create with 'imgshift config init')", defaultPath)
	}
	if c.Session.Secret == insecureDefaultSessionSecret {
		return errors.New("session.secret must not be the placeholder value")
	}
	if c.Session.Salt != "" {
		raw, err := hex.DecodeString(c.Session.Salt)
		if err != nil {
			return fmt.Errorf("session.salt must be hex encoded: %w", err)
		}
		if len(raw) < 16 {
			return errors.New("session.salt must be at least 16 bytes")
		}
	}
	if c.Session.KDFMemoryKiB < 8*1024 {
		return errors.New("session.kdf_memory_kib must be at least 8192")
	}
	return nil
}

func (c *Config) validateLimits() error {
	if err := ensurePositiveMap(map[string]int{
		"limits.max_batch_items":     c.Limits.MaxBatchItems,
		"limits.max_width":           c.Limits.MaxWidth,
		"limits.max_height":          c.Limits.MaxHeight,
		"limits.max_archive_entries": c.Limits.MaxArchiveEntries,
	}); err != nil {
		return err
	}
	if c.Limits.MaxFileBytes <= 0 {
		return errors.New("limits.max_file_bytes must be positive")
	}
	if c.Limits.MaxArchiveBytes <= 0 {
		return errors.New("limits.max_archive_bytes must be positive")
	}
	return nil
}

func (c *Config) validateConversion() error {
	if err := ensurePositiveMap(map[string]int{
		"conversion.workers":              c.Conversion.Workers,
		"conversion.max_attempts":         c.Conversion.MaxAttempts,
		"conversion.item_timeout_seconds": c.Conversion.ItemTimeoutSeconds,
		"conversion.cancel_grace_seconds": c.Conversion.CancelGraceSeconds,
	}); err != nil {
		return err
	}
	if c.Conversion.Workers > 32 {
		return errors.New("conversion.workers must be 32 or fewer")
	}
	if c.Conversion.RetryBaseDelayMS < 0 || c.Conversion.RetryMaxDelayMS < 0 {
		return errors.New("conversion retry delays must not be negative")
	}
	if c.Conversion.RetryMaxDelayMS < c.Conversion.RetryBaseDelayMS {
		return errors.New("conversion.retry_max_delay_ms must be >= conversion.retry_base_delay_ms")
	}
	if c.Conversion.JPEGQuality < 1 || c.Conversion.JPEGQuality > 100 {
		return errors.New("conversion.jpeg_quality must be between 1 and 100")
	}
	return nil
}

func (c *Config) validateRegistry() error {
	return ensurePositiveMap(map[string]int{
		"registry.idle_timeout_minutes":   c.Registry.IdleTimeoutMinutes,
		"registry.sweep_interval_seconds": c.Registry.SweepIntervalSeconds,
	})
}

func (c *Config) validateStats() error {
	if _, err := time.LoadLocation(c.Stats.Timezone); err != nil {
		return fmt.Errorf("stats.timezone: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

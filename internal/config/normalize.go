package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSession()
	c.normalizeAdmin()
	c.normalizeStats()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = defaultTempDir
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("IMGSHIFT_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeSession() {
	if c.Session.Secret == "" {
		if value, ok := os.LookupEnv("SESSION_PASSWORD"); ok {
			c.Session.Secret = value
		}
	}
	c.Session.Salt = strings.ToLower(strings.TrimSpace(c.Session.Salt))
	if c.Session.KDFTime == 0 {
		c.Session.KDFTime = defaultKDFTime
	}
	if c.Session.KDFMemoryKiB == 0 {
		c.Session.KDFMemoryKiB = defaultKDFMemoryKiB
	}
	if c.Session.KDFThreads == 0 {
		c.Session.KDFThreads = defaultKDFThreads
	}
	if c.Session.TTLMinutes <= 0 {
		c.Session.TTLMinutes = defaultSessionTTLMinutes
	}
}

func (c *Config) normalizeAdmin() {
	c.Admin.UserID = strings.TrimSpace(c.Admin.UserID)
	if c.Admin.UserID == "" {
		if value, ok := os.LookupEnv("ADMIN_ID"); ok {
			c.Admin.UserID = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeStats() {
	c.Stats.Timezone = strings.TrimSpace(c.Stats.Timezone)
	if c.Stats.Timezone == "" {
		c.Stats.Timezone = defaultStatsTimezone
	}
	if c.Stats.FlushIntervalSeconds <= 0 {
		c.Stats.FlushIntervalSeconds = defaultFlushIntervalSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

package config

const (
	defaultConfigPath            = "~/.config/imgshift/config.toml"
	defaultTempDir               = "~/.cache/imgshift/tmp"
	defaultStateDir              = "~/.local/share/imgshift"
	defaultLogDir                = "~/.local/share/imgshift/logs"
	defaultAPIBind               = "127.0.0.1:7711"
	defaultKDFTime               = 1
	defaultKDFMemoryKiB          = 64 * 1024
	defaultKDFThreads            = 4
	defaultSessionTTLMinutes     = 60
	defaultMaxFileBytes          = 20 << 20
	defaultMaxBatchItems         = 50
	defaultMaxDimension          = 4096
	defaultMaxArchiveEntries     = 500
	defaultMaxArchiveBytes       = 256 << 20
	defaultWorkers               = 4
	defaultMaxAttempts           = 3
	defaultRetryBaseDelayMS      = 200
	defaultRetryMaxDelayMS       = 2000
	defaultItemTimeoutSeconds    = 30
	defaultCancelGraceSeconds    = 10
	defaultJPEGQuality           = 85
	defaultIdleTimeoutMinutes    = 30
	defaultSweepIntervalSeconds  = 60
	defaultStatsTimezone         = "UTC"
	defaultFlushIntervalSeconds  = 300
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	insecureDefaultSessionSecret = "default_password"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			TempDir:  defaultTempDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Session: Session{
			KDFTime:      defaultKDFTime,
			KDFMemoryKiB: defaultKDFMemoryKiB,
			KDFThreads:   defaultKDFThreads,
			TTLMinutes:   defaultSessionTTLMinutes,
		},
		Limits: Limits{
			MaxFileBytes:      defaultMaxFileBytes,
			MaxBatchItems:     defaultMaxBatchItems,
			MaxWidth:          defaultMaxDimension,
			MaxHeight:         defaultMaxDimension,
			MaxArchiveEntries: defaultMaxArchiveEntries,
			MaxArchiveBytes:   defaultMaxArchiveBytes,
		},
		Conversion: Conversion{
			Workers:            defaultWorkers,
			MaxAttempts:        defaultMaxAttempts,
			RetryBaseDelayMS:   defaultRetryBaseDelayMS,
			RetryMaxDelayMS:    defaultRetryMaxDelayMS,
			ItemTimeoutSeconds: defaultItemTimeoutSeconds,
			CancelGraceSeconds: defaultCancelGraceSeconds,
			JPEGQuality:        defaultJPEGQuality,
		},
		Registry: Registry{
			IdleTimeoutMinutes:   defaultIdleTimeoutMinutes,
			SweepIntervalSeconds: defaultSweepIntervalSeconds,
		},
		Stats: Stats{
			Timezone:             defaultStatsTimezone,
			FlushIntervalSeconds: defaultFlushIntervalSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

package preflight

import (
	"context"

	"imgshift/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every check applicable to cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Temp directory", cfg.Paths.TempDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckFreeSpace("Temp free space", cfg.Paths.TempDir, RequiredTempBytes(cfg)),
		CheckBindAddress("API bind", cfg.Paths.APIBind),
	}
	if cfg.Stats.Persist {
		results = append(results, CheckStatsDatabase(ctx, cfg.StatsDBPath()))
	}
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// RequiredTempBytes is the free space needed to hold one full batch of
// sources plus their outputs and result archive.
func RequiredTempBytes(cfg *config.Config) uint64 {
	perBatch := cfg.Limits.MaxFileBytes * int64(cfg.Limits.MaxBatchItems)
	if cfg.Limits.MaxArchiveBytes > perBatch {
		perBatch = cfg.Limits.MaxArchiveBytes
	}
	if perBatch <= 0 {
		return 0
	}
	return uint64(perBatch) * 3
}

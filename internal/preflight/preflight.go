package preflight

import (
	"context"

	"stencil/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Failed returns the subset of results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is in use.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Core directories (always checked)
	results = append(results, CheckDirectoryAccess("Datasets directory", cfg.Paths.DatasetsDir))
	results = append(results, CheckDirectoryAccess("Experiments directory", cfg.Paths.ExperimentsDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))

	// Decode cache directory (when caching is enabled)
	if cfg.Dataset.DecodeCache {
		results = append(results, CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir))
	}

	// Disk space for run artifacts
	results = append(results, CheckFreeSpace("Disk space", cfg.Paths.ExperimentsDir, minFreeBytes))

	// Flickr (when an API key is configured)
	if cfg.Flickr.APIKey != "" {
		results = append(results, CheckFlickr(ctx, cfg.Flickr))
	}

	return results
}

package preflight

import (
	"context"

	"sift/internal/config"
	"sift/internal/detection/backend"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes every applicable check for cfg. The detector is built from
// cfg, checked, and closed.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckReadable("Gallery directory", cfg.Paths.GalleryDir))
	results = append(results, CheckWritable("Review directory", cfg.Paths.ReviewDir))
	if cfg.Cache.Enabled {
		results = append(results, CheckWritable("Cache directory", cfg.Paths.CacheDir))
	}
	results = append(results, CheckWritable("State directory", cfg.Paths.StateDir))
	results = append(results, CheckClassTable(cfg))

	det, err := backend.New(cfg)
	if err != nil {
		results = append(results, Result{Name: "Detector", Detail: err.Error()})
		return results
	}
	defer backend.Close(det)
	results = append(results, CheckDetector(ctx, det))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// Package pipeline runs one scan-classify-relocate pass: it resolves roots,
// builds the detector and cache, scans, relocates or plans, writes reports,
// and records the run in history.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"sift/internal/classify"
	"sift/internal/config"
	"sift/internal/detectcache"
	"sift/internal/detection"
	"sift/internal/detection/backend"
	"sift/internal/history"
	"sift/internal/logging"
	"sift/internal/preflight"
	"sift/internal/relocate"
	"sift/internal/report"
	"sift/internal/scanner"
	"sift/internal/services"
)

// ErrRunInProgress is returned when another process holds the run lock.
var ErrRunInProgress = errors.New("another sift run is in progress")

// Options are per-invocation choices that are not part of the config file.
type Options struct {
	// Roots overrides root discovery when non-empty.
	Roots []string
	// DryRun plans relocations without touching the review tree.
	DryRun     bool
	ClearCache bool
	// ReportPath writes the detection report (JSON plus text siblings).
	ReportPath string
	// ReportOnly skips classification and relocation.
	ReportOnly bool
	Progress   scanner.Reporter
	// Detector replaces the configured backend. No health check is run.
	Detector detection.Detector
	// Now stamps the run; defaults to time.Now.
	Now func() time.Time
}

// Result is everything a run produced.
type Result struct {
	RunID          string
	Roots          []string
	Scan           scanner.Outcome
	Records        []relocate.Record
	Summary        report.Summary
	Report         *report.ReportPaths
	CacheCleared   int
	SummaryWritten bool
}

// Runner executes pipeline runs against a config.
type Runner struct {
	cfg *config.Config
	// base is handed to components, which add their own component field.
	base   *slog.Logger
	logger *slog.Logger
}

// New builds a Runner.
func New(cfg *config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{cfg: cfg, base: logger, logger: logging.NewComponentLogger(logger, "pipeline")}
}

// Run performs one pass. Configuration problems, including a missing
// detector or no readable roots, abort before any file is relocated.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	if r.cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "start", "config unavailable", nil)
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	started := now()
	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, r.logger)

	if err := r.cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "prepare directories", "cannot create state directories", err)
	}
	lock := flock.New(r.cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrRunInProgress, r.cfg.LockPath())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release run lock", logging.Error(err))
		}
	}()

	res := &Result{RunID: runID}
	res.Roots = ResolveRoots(r.cfg, opts.Roots)
	logger.Info("run started",
		logging.Bool("dry_run", opts.DryRun),
		logging.Bool("report_only", opts.ReportOnly),
		logging.String("policy", r.cfg.Review.Policy),
		logging.Int("roots", len(res.Roots)))

	store, cleared, err := r.openStore(opts.ClearCache)
	if err != nil {
		return nil, err
	}
	res.CacheCleared = cleared

	det, closeDetector, err := r.detector(services.WithStage(ctx, "preflight"), opts.Detector)
	if err != nil {
		return nil, err
	}
	defer closeDetector()

	adapter, err := backend.NewAdapter(r.cfg, det)
	if err != nil {
		return nil, err
	}
	scan, err := scanner.New(scanner.Options{
		Store:         store,
		Detector:      adapter,
		Workers:       r.cfg.Scan.Workers,
		Extensions:    r.cfg.Scan.Extensions,
		Exclude:       []string{r.cfg.Paths.ReviewDir, r.cfg.Paths.CacheDir},
		ProgressEvery: r.cfg.Scan.ProgressEvery,
		Logger:        r.base,
		Progress:      opts.Progress,
	})
	if err != nil {
		return nil, err
	}

	outcome, err := scan.Scan(services.WithStage(ctx, "scan"), res.Roots)
	res.Scan = outcome
	if err != nil {
		return res, err
	}

	if opts.ReportPath != "" {
		rep := report.BuildDetectionReport(outcome.Results, r.cfg.Detection.Preset, now())
		paths, err := report.WriteDetectionReport(opts.ReportPath, rep)
		if err != nil {
			return res, fmt.Errorf("write detection report: %w", err)
		}
		res.Report = &paths
		logger.Info("detection report written",
			logging.String("json", paths.JSON),
			logging.String("text", paths.Text),
			logging.String("delete_candidates", paths.DeleteCandidates))
	}

	dryRun := opts.DryRun || opts.ReportOnly
	if !opts.ReportOnly {
		records, err := r.relocate(services.WithStage(ctx, "relocate"), outcome, dryRun)
		if err != nil {
			return res, err
		}
		res.Records = records
	}

	res.Summary = report.Build(res.Records, report.Meta{
		RunID:     runID,
		Timestamp: started,
		DryRun:    dryRun,
		Symlinks:  r.cfg.Review.Symlinks,
		Policy:    r.cfg.Review.Policy,
		Cache:     outcome.Cache,
		Scan:      outcome.Stats,
	})

	if !dryRun && len(res.Records) > 0 {
		if err := report.Write(r.cfg.Paths.ReviewDir, res.Summary); err != nil {
			logging.WarnWithContext(logger, "review summary not written", "summary_write_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check permissions on paths.review_dir"),
				logging.String(logging.FieldImpact, "files were relocated but README.txt and review_summary.json are missing"))
		} else {
			res.SummaryWritten = true
		}
	}

	r.recordHistory(ctx, logger, res.Summary)

	logger.Info("run complete",
		logging.Int("candidates", res.Summary.TotalCandidates),
		logging.Int("errors", res.Summary.TotalErrors),
		logging.Int("scan_failures", outcome.Stats.Failed),
		logging.Int64("cache_hits", outcome.Cache.Hits),
		logging.Duration("duration", time.Since(started)))
	return res, nil
}

func (r *Runner) openStore(clear bool) (detectcache.Store, int, error) {
	if !r.cfg.Cache.Enabled {
		return &detectcache.Disabled{}, 0, nil
	}
	cache, err := detectcache.Open(r.cfg.Paths.CacheDir, r.base)
	if err != nil {
		return nil, 0, services.Wrap(services.ErrConfiguration, "pipeline", "open cache", "cannot use paths.cache_dir", err)
	}
	if !clear {
		return cache, 0, nil
	}
	removed, err := cache.Clear()
	if err != nil {
		return nil, 0, fmt.Errorf("clear cache: %w", err)
	}
	return cache, removed, nil
}

// detector returns the override when set, or builds and health-checks the
// configured backend.
func (r *Runner) detector(ctx context.Context, override detection.Detector) (detection.Detector, func(), error) {
	if override != nil {
		return override, func() {}, nil
	}
	det, err := backend.New(r.cfg)
	if err != nil {
		return nil, nil, err
	}
	if check := preflight.CheckDetector(ctx, det); !check.Passed {
		backend.Close(det)
		return nil, nil, services.Wrap(services.ErrConfiguration, "pipeline", "check detector", check.Detail, nil)
	}
	return det, func() { backend.Close(det) }, nil
}

func (r *Runner) relocate(ctx context.Context, outcome scanner.Outcome, dryRun bool) ([]relocate.Record, error) {
	policy, err := classify.Parse(r.cfg.Review.Policy)
	if err != nil {
		return nil, err
	}
	relocator, err := relocate.New(relocate.Options{
		Policy:     policy,
		OutputRoot: r.cfg.Paths.ReviewDir,
		DryRun:     dryRun,
		Symlink:    r.cfg.Review.Symlinks,
		Collision:  relocate.Collision(r.cfg.Review.Collision),
		Logger:     logging.WithContext(ctx, r.base),
	})
	if err != nil {
		return nil, err
	}
	return relocator.Relocate(outcome.Results, BaseDirs(r.cfg.Paths.GalleryDir, outcome.Stats.Roots)), nil
}

func (r *Runner) recordHistory(ctx context.Context, logger *slog.Logger, summary report.Summary) {
	if !r.cfg.History.Enabled {
		return
	}
	store, err := history.Open(r.cfg.HistoryPath())
	if err == nil {
		defer store.Close()
		err = store.Record(ctx, summary)
	}
	if err != nil {
		logging.WarnWithContext(logger, "run not recorded in history", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete the history database if its schema is outdated"),
			logging.String(logging.FieldImpact, "sift history will not list this run"))
	}
}

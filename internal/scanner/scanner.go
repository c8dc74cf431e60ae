// Package scanner enumerates images under scan roots, serves unchanged files
// from the detection cache, and runs the detector over the rest with a fixed
// worker pool.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sift/internal/detectcache"
	"sift/internal/detection"
	"sift/internal/logging"
	"sift/internal/services"
)

// ErrNoRoots is returned when none of the requested roots can be scanned.
var ErrNoRoots = errors.New("no readable scan roots")

// ImageDetector turns one image path into a Result. *detection.Adapter
// satisfies it.
type ImageDetector interface {
	Detect(ctx context.Context, path string) detection.Result
}

// Reporter receives progress for the files that need detection. Calls come
// from worker goroutines, so implementations must be safe for concurrent use.
type Reporter interface {
	Start(total int)
	Advance()
	Finish()
}

// Options configures a Scanner.
type Options struct {
	Store    detectcache.Store
	Detector ImageDetector
	// Workers is the pool size; zero means runtime.NumCPU().
	Workers int
	// Extensions lists accepted file extensions with a leading dot. Matching
	// is case-insensitive.
	Extensions []string
	// Exclude lists directories never descended into, such as the review
	// output when it lives inside a scan root.
	Exclude       []string
	ProgressEvery int
	Logger        *slog.Logger
	Progress      Reporter
}

// Stats describes one scan.
type Stats struct {
	Roots        []string      `json:"roots"`
	MissingRoots []string      `json:"missing_roots,omitempty"`
	Files        int           `json:"files"`
	Cached       int           `json:"cached"`
	Processed    int           `json:"processed"`
	Failed       int           `json:"failed"`
	WithHits     int           `json:"with_detections"`
	Detections   int           `json:"detections"`
	WalkErrors   int           `json:"walk_errors"`
	Duration     time.Duration `json:"duration"`
}

// Outcome is everything a scan produced. Result order is unspecified.
type Outcome struct {
	Results []detection.Result `json:"results"`
	Cache   detectcache.Stats  `json:"cache"`
	Stats   Stats              `json:"stats"`
}

// Scanner walks roots and collects Results.
type Scanner struct {
	store         detectcache.Store
	detector      ImageDetector
	workers       int
	extensions    map[string]struct{}
	exclude       []string
	progressEvery int64
	logger        *slog.Logger
	progress      Reporter
}

// New validates options and builds a Scanner.
func New(opts Options) (*Scanner, error) {
	if opts.Detector == nil {
		return nil, services.Wrap(services.ErrConfiguration, "scan", "init scanner", "no detector configured", nil)
	}
	if len(opts.Extensions) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "scan", "init scanner", "no image extensions configured", nil)
	}
	store := opts.Store
	if store == nil {
		store = &detectcache.Disabled{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	every := int64(opts.ProgressEvery)
	if every <= 0 {
		every = 10
	}
	exts := make(map[string]struct{}, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}
	exclude := make([]string, 0, len(opts.Exclude))
	for _, dir := range opts.Exclude {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			exclude = append(exclude, abs)
		}
	}
	return &Scanner{
		store:         store,
		detector:      opts.Detector,
		workers:       workers,
		extensions:    exts,
		exclude:       exclude,
		progressEvery: every,
		logger:        logging.NewComponentLogger(opts.Logger, "scanner"),
		progress:      opts.Progress,
	}, nil
}

// Scan enumerates roots, partitions files into cached and to-process, and
// runs detection for the latter. Missing roots are skipped with a warning;
// if none remain Scan returns an ErrNoRoots configuration error. On
// cancellation no new files are dispatched and the partial Outcome is
// returned alongside the context error.
func (s *Scanner) Scan(ctx context.Context, roots []string) (Outcome, error) {
	start := time.Now()
	logger := logging.WithContext(ctx, s.logger)

	var stats Stats
	readable := s.resolveRoots(logger, roots, &stats)
	if len(readable) == 0 {
		return Outcome{Stats: stats}, services.Wrap(services.ErrConfiguration, "scan", "resolve roots",
			fmt.Sprintf("none of %d root(s) exist", len(roots)), ErrNoRoots)
	}
	stats.Roots = readable

	files := s.enumerate(logger, readable, &stats)
	stats.Files = len(files)

	results := make([]detection.Result, 0, len(files))
	pending := make([]string, 0, len(files))
	for _, path := range files {
		if cached, ok := s.store.Get(path); ok {
			results = append(results, cached)
			continue
		}
		pending = append(pending, path)
	}
	stats.Cached = len(results)
	logger.Info(fmt.Sprintf("%d cached, %d to process", len(results), len(pending)),
		logging.Int("cached", len(results)),
		logging.Int("to_process", len(pending)),
		logging.Int("workers", s.workers))

	processed, err := s.process(ctx, logger, pending)
	results = append(results, processed...)
	stats.Processed = len(processed)

	for _, r := range results {
		if r.Failed() {
			stats.Failed++
		}
		if r.HasDetections {
			stats.WithHits++
			stats.Detections += r.Count
		}
	}
	stats.Duration = time.Since(start)

	outcome := Outcome{Results: results, Cache: s.store.Stats(), Stats: stats}
	if err != nil {
		logging.WarnWithContext(logger, "scan interrupted", "scan_cancelled",
			logging.Int("processed", len(processed)),
			logging.Int("pending", len(pending)-len(processed)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "rerun to resume; finished files are cached"),
			logging.String(logging.FieldImpact, "remaining files were not examined"))
		return outcome, fmt.Errorf("scan cancelled: %w", err)
	}
	logger.Info("scan complete",
		logging.Int("files", stats.Files),
		logging.Int("with_detections", stats.WithHits),
		logging.Int("failed", stats.Failed),
		logging.Duration("duration", stats.Duration))
	return outcome, nil
}

func (s *Scanner) resolveRoots(logger *slog.Logger, roots []string, stats *Stats) []string {
	seen := make(map[string]struct{}, len(roots))
	readable := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			stats.MissingRoots = append(stats.MissingRoots, root)
			continue
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			stats.MissingRoots = append(stats.MissingRoots, abs)
			reason := "not a directory"
			if err != nil {
				reason = err.Error()
			}
			logging.WarnWithContext(logger, "scan root skipped", "root_missing",
				logging.String(logging.FieldRoot, abs),
				logging.String("reason", reason),
				logging.String(logging.FieldErrorHint, "check scan.subdirs and paths.gallery_dir"),
				logging.String(logging.FieldImpact, "images under this root are not reviewed"))
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		readable = append(readable, abs)
	}
	return readable
}

// enumerate walks every root without following symlinks and returns the
// distinct matching files in walk order.
func (s *Scanner) enumerate(logger *slog.Logger, roots []string, stats *Stats) []string {
	seen := make(map[string]struct{})
	var files []string
	for _, root := range roots {
		before := len(files)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				stats.WalkErrors++
				logger.Debug("walk error", logging.String(logging.FieldPath, path), logging.Error(err))
				if d != nil && d.IsDir() && path != root {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if path != root && (strings.HasPrefix(d.Name(), ".") || s.excluded(path)) {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !s.matches(d.Name()) {
				return nil
			}
			if _, dup := seen[path]; dup {
				return nil
			}
			seen[path] = struct{}{}
			files = append(files, path)
			return nil
		})
		if err != nil {
			stats.WalkErrors++
			logger.Debug("walk aborted", logging.String(logging.FieldRoot, root), logging.Error(err))
		}
		logger.Debug("root enumerated",
			logging.String(logging.FieldRoot, root),
			logging.Int("files", len(files)-before))
	}
	return files
}

func (s *Scanner) matches(name string) bool {
	_, ok := s.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (s *Scanner) excluded(dir string) bool {
	for _, ex := range s.exclude {
		if dir == ex {
			return true
		}
	}
	return false
}

// process fans pending paths out to the worker pool and gathers results over
// a channel.
func (s *Scanner) process(ctx context.Context, logger *slog.Logger, pending []string) ([]detection.Result, error) {
	total := int64(len(pending))
	if total == 0 {
		return nil, ctx.Err()
	}
	if s.progress != nil {
		s.progress.Start(len(pending))
		defer s.progress.Finish()
	}

	jobs := make(chan string, s.workers*2)
	out := make(chan detection.Result, s.workers*2)
	var done atomic.Int64

	var wg sync.WaitGroup
	for range s.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				result := s.detector.Detect(ctx, path)
				s.store.Set(path, result)
				done.Add(1)
				if s.progress != nil {
					s.progress.Advance()
				}
				out <- result
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, path := range pending {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case jobs <- path:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	sampler := logging.NewProgressSampler(10)
	results := make([]detection.Result, 0, len(pending))
	for result := range out {
		results = append(results, result)
		n := done.Load()
		if result.Failed() {
			logger.Debug("detection failed",
				logging.String(logging.FieldPath, result.Path),
				logging.String("reason", result.Error))
		}
		if sampler.ShouldLog("detect", n, total) {
			logger.Info("detection progress",
				logging.Int64("done", n),
				logging.Int64("total", total))
		} else if n%s.progressEvery == 0 {
			logger.Debug("detection progress",
				logging.Int64("done", n),
				logging.Int64("total", total))
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, ctx.Err()
}

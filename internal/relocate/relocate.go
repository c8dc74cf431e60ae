// Package relocate turns classified results into moves or symlinks under the
// review root, or plans them without touching the filesystem in a dry run.
package relocate

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sift/internal/classify"
	"sift/internal/detection"
	"sift/internal/fileutil"
	"sift/internal/logging"
	"sift/internal/services"
)

// Outcome is what happened to one file.
type Outcome string

const (
	OutcomePlanned Outcome = "planned"
	OutcomeMoved   Outcome = "moved"
	OutcomeLinked  Outcome = "linked"
	OutcomeFailed  Outcome = "failed"
)

// Collision selects how a move treats an existing target.
type Collision string

const (
	// CollisionSuffix appends " (n)" before the extension until the name is free.
	CollisionSuffix Collision = "suffix"
	// CollisionOverwrite replaces the existing target.
	CollisionOverwrite Collision = "overwrite"
)

const maxSuffixAttempts = 10000

// Record describes one relocation.
type Record struct {
	Source        string   `json:"source"`
	Target        string   `json:"target"`
	Bucket        string   `json:"bucket"`
	Outcome       Outcome  `json:"outcome"`
	Reason        string   `json:"reason,omitempty"`
	Rationale     string   `json:"rationale,omitempty"`
	Count         int      `json:"count"`
	Labels        []string `json:"labels"`
	MaxConfidence float64  `json:"max_confidence"`
	Copied        bool     `json:"copied,omitempty"`
}

// Options configures a Relocator.
type Options struct {
	Policy     classify.Policy
	OutputRoot string
	DryRun     bool
	Symlink    bool
	Collision  Collision
	Logger     *slog.Logger
}

// Relocator places files into review buckets.
type Relocator struct {
	policy     classify.Policy
	outputRoot string
	dryRun     bool
	symlink    bool
	collision  Collision
	logger     *slog.Logger
}

// New validates options.
func New(opts Options) (*Relocator, error) {
	if opts.Policy == nil {
		return nil, services.Wrap(services.ErrConfiguration, "relocate", "init relocator", "no classification policy", nil)
	}
	root := strings.TrimSpace(opts.OutputRoot)
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "relocate", "init relocator", "review directory is empty", nil)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "relocate", "init relocator", "resolve review directory", err)
	}
	collision := Collision(strings.ToLower(strings.TrimSpace(string(opts.Collision))))
	switch collision {
	case "":
		collision = CollisionSuffix
	case CollisionSuffix, CollisionOverwrite:
	default:
		return nil, services.Wrap(services.ErrConfiguration, "relocate", "init relocator",
			fmt.Sprintf("unknown collision policy %q", opts.Collision), nil)
	}
	return &Relocator{
		policy:     opts.Policy,
		outputRoot: abs,
		dryRun:     opts.DryRun,
		symlink:    opts.Symlink,
		collision:  collision,
		logger:     logging.NewComponentLogger(opts.Logger, "relocate"),
	}, nil
}

// OutputRoot returns the absolute review root.
func (r *Relocator) OutputRoot() string {
	return r.outputRoot
}

// Relocate produces one record per result with detections, in source path
// order. Each file's directory is kept below its bucket relative to the
// deepest containing entry of baseDirs. Per-file failures are captured as
// failed records.
func (r *Relocator) Relocate(results []detection.Result, baseDirs []string) []Record {
	candidates := make([]detection.Result, 0, len(results))
	for _, res := range results {
		if res.HasDetections {
			candidates = append(candidates, res)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Path < candidates[j].Path })

	roots := absRoots(baseDirs)
	claimed := make(map[string]struct{}, len(candidates))
	records := make([]Record, 0, len(candidates))
	var failed int
	for _, res := range candidates {
		rec := r.relocateOne(res, roots, claimed)
		if rec.Outcome == OutcomeFailed {
			failed++
			logging.WarnWithContext(r.logger, "relocation failed", "relocate_failed",
				logging.String(logging.FieldPath, rec.Source),
				logging.String("target", rec.Target),
				logging.String("reason", rec.Reason),
				logging.String(logging.FieldErrorHint, "check permissions on the source and review directories"),
				logging.String(logging.FieldImpact, "file stays in place"))
		} else {
			r.logger.Debug("relocation",
				logging.String(logging.FieldPath, rec.Source),
				logging.String("target", rec.Target),
				logging.String("outcome", string(rec.Outcome)))
		}
		records = append(records, rec)
	}

	r.logger.Info("relocation complete",
		logging.Int("records", len(records)),
		logging.Int("failed", failed),
		logging.Bool("dry_run", r.dryRun),
		logging.Bool("symlinks", r.symlink))
	return records
}

func (r *Relocator) relocateOne(res detection.Result, roots []string, claimed map[string]struct{}) Record {
	rec := Record{
		Source:        res.Path,
		Count:         res.Count,
		Labels:        append([]string(nil), res.Labels...),
		MaxConfidence: res.MaxConfidence(),
	}
	assignment, err := r.policy.Classify(res)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Reason = err.Error()
		return rec
	}
	rec.Bucket = assignment.Bucket
	rec.Rationale = assignment.Rationale

	source, err := filepath.Abs(res.Path)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Reason = err.Error()
		return rec
	}
	rec.Source = source
	dir := filepath.Join(r.outputRoot, filepath.FromSlash(assignment.Bucket), relDir(filepath.Dir(source), roots))
	target := filepath.Join(dir, filepath.Base(source))

	// Symlink and overwrite modes replace what is on disk, but two sources
	// in one run never share a target.
	onDisk := !r.symlink && r.collision == CollisionSuffix
	if _, taken := claimed[target]; onDisk || taken {
		free, err := nextFreePath(target, claimed, onDisk)
		if err != nil {
			rec.Target = target
			rec.Outcome = OutcomeFailed
			rec.Reason = err.Error()
			return rec
		}
		target = free
	}
	claimed[target] = struct{}{}
	rec.Target = target

	if r.dryRun {
		rec.Outcome = OutcomePlanned
		return rec
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		rec.Outcome = OutcomeFailed
		rec.Reason = fmt.Sprintf("create bucket directory: %v", err)
		return rec
	}
	if r.symlink {
		if err := link(source, target); err != nil {
			rec.Outcome = OutcomeFailed
			rec.Reason = err.Error()
			return rec
		}
		rec.Outcome = OutcomeLinked
		return rec
	}
	copied, err := fileutil.MoveFile(source, target)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Reason = err.Error()
		return rec
	}
	rec.Copied = copied
	rec.Outcome = OutcomeMoved
	return rec
}

// link replaces whatever sits at target with a symlink to source.
func link(source, target string) error {
	if _, err := os.Lstat(target); err == nil {
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("remove existing target: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("inspect target: %w", err)
	}
	if err := os.Symlink(source, target); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}
	return nil
}

// nextFreePath returns target, or "name (n).ext" for the lowest n >= 1 that
// was not claimed earlier in the run and, when onDisk is set, does not exist.
func nextFreePath(target string, claimed map[string]struct{}, onDisk bool) (string, error) {
	free := func(candidate string) (bool, error) {
		if _, taken := claimed[candidate]; taken {
			return false, nil
		}
		if !onDisk {
			return true, nil
		}
		_, err := os.Lstat(candidate)
		if err == nil {
			return false, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, err
	}

	ok, err := free(target)
	if err != nil {
		return "", fmt.Errorf("inspect target: %w", err)
	}
	if ok {
		return target, nil
	}
	dir := filepath.Dir(target)
	ext := filepath.Ext(target)
	stem := strings.TrimSuffix(filepath.Base(target), ext)
	for n := 1; n <= maxSuffixAttempts; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		ok, err := free(candidate)
		if err != nil {
			return "", fmt.Errorf("inspect target: %w", err)
		}
		if ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("exhausted collision suffixes for %s", target)
}

func absRoots(baseDirs []string) []string {
	roots := make([]string, 0, len(baseDirs))
	for _, dir := range baseDirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			roots = append(roots, abs)
		}
	}
	// Longest first so nested roots win.
	sort.Slice(roots, func(i, j int) bool { return len(roots[i]) > len(roots[j]) })
	return roots
}

// relDir returns dir relative to the first root containing it. Directories
// outside every root keep their path minus its leading element.
func relDir(dir string, roots []string) string {
	for _, root := range roots {
		rel, err := filepath.Rel(root, dir)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return rel
	}
	return dropLeading(dir)
}

func dropLeading(dir string) string {
	dir = filepath.Clean(dir)
	dir = strings.TrimPrefix(dir, filepath.VolumeName(dir))
	if filepath.IsAbs(dir) {
		trimmed := strings.TrimLeft(dir, string(filepath.Separator))
		if trimmed == "" {
			return "."
		}
		return trimmed
	}
	parts := strings.SplitN(dir, string(filepath.Separator), 2)
	if len(parts) < 2 {
		return "."
	}
	return parts[1]
}

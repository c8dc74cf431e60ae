package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"sift/internal/config"
	"sift/internal/pipeline"
	"sift/internal/relocate"
	"sift/internal/report"
	"sift/internal/scanner"
	"sift/internal/services"
)

type scanFlags struct {
	galleryDir string
	subdirs    []string
	confidence float64
	classes    []int
	policy     string
	reviewDir  string
	move       bool
	symlinks   bool
	noCache    bool
	clearCache bool
	cacheDir   string
	workers    int
	report     string
	reportOnly bool
	jsonOut    bool
	collision  string
}

type scanOutput struct {
	RunID        string              `json:"run_id"`
	Roots        []string            `json:"roots"`
	CacheCleared int                 `json:"cache_cleared,omitempty"`
	Report       *report.ReportPaths `json:"report,omitempty"`
	Summary      report.Summary      `json:"summary"`
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var flags scanFlags

	cmd := &cobra.Command{
		Use:   "scan [roots...]",
		Short: "Scan images, classify detections, and relocate matches for review",
		Long: `Scan walks the configured gallery (or the roots given as arguments),
runs the detector on every image the cache cannot answer, and sorts images
with detections into the review directory.

Without --move the run is a dry run: the plan is printed and nothing is
touched on disk apart from the detection cache and run history.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg, err := applyScanFlags(cmd, *base, flags)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			opts := pipeline.Options{
				Roots:      args,
				DryRun:     !flags.move,
				ClearCache: flags.clearCache,
				ReportPath: strings.TrimSpace(flags.report),
				ReportOnly: flags.reportOnly,
			}
			if !flags.jsonOut && isTerminal(cmd.ErrOrStderr()) {
				opts.Progress = scanner.NewBarReporter(cmd.ErrOrStderr(), "Scanning")
			}

			res, err := pipeline.New(cfg, logger).Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if flags.jsonOut {
				return writeJSON(cmd, scanOutput{
					RunID:        res.RunID,
					Roots:        res.Roots,
					CacheCleared: res.CacheCleared,
					Report:       res.Report,
					Summary:      res.Summary,
				})
			}
			printScanResult(cmd.OutOrStdout(), cfg, res, flags.reportOnly)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.galleryDir, "gallery-dir", "", "Gallery directory to scan (overrides paths.gallery_dir)")
	f.StringSliceVar(&flags.subdirs, "subdirs", nil, "Gallery subdirectories to scan (comma-separated)")
	f.Float64Var(&flags.confidence, "confidence", 0, "Minimum detection confidence between 0 and 1")
	f.IntSliceVar(&flags.classes, "classes", nil, "Class ids to keep (comma-separated)")
	f.StringVar(&flags.policy, "policy", "", "Classification policy: type or confidence")
	f.StringVar(&flags.reviewDir, "review-dir", "", "Review output directory (overrides paths.review_dir)")
	f.BoolVar(&flags.move, "move", false, "Relocate matches; without it the run is a dry run")
	f.BoolVar(&flags.symlinks, "symlinks", false, "Link matches into the review tree instead of moving them")
	f.BoolVar(&flags.noCache, "no-cache", false, "Disable the detection cache for this run")
	f.BoolVar(&flags.clearCache, "clear-cache", false, "Remove every cached detection before scanning")
	f.StringVar(&flags.cacheDir, "cache-dir", "", "Detection cache directory (overrides paths.cache_dir)")
	f.IntVar(&flags.workers, "workers", 0, "Concurrent detector calls")
	f.StringVar(&flags.report, "report", "", "Write a detection report to this JSON path")
	f.BoolVar(&flags.reportOnly, "report-only", false, "Scan and report without classifying or relocating")
	f.BoolVar(&flags.jsonOut, "json", false, "Print the run summary as JSON")
	f.StringVar(&flags.collision, "collision", "", "Existing target handling: suffix or overwrite")

	return cmd
}

// applyScanFlags returns a copy of cfg with every explicitly set flag applied,
// normalized and validated again.
func applyScanFlags(cmd *cobra.Command, cfg config.Config, flags scanFlags) (*config.Config, error) {
	changed := cmd.Flags().Changed
	if changed("gallery-dir") {
		cfg.Paths.GalleryDir = flags.galleryDir
	}
	if changed("subdirs") {
		cfg.Scan.Subdirs = append([]string(nil), flags.subdirs...)
	}
	if changed("confidence") {
		cfg.Detection.Confidence = flags.confidence
	}
	if changed("classes") {
		cfg.Detection.Classes = append([]int(nil), flags.classes...)
	}
	if changed("policy") {
		cfg.Review.Policy = flags.policy
	}
	if changed("review-dir") {
		cfg.Paths.ReviewDir = flags.reviewDir
	}
	if changed("symlinks") {
		cfg.Review.Symlinks = flags.symlinks
	}
	if changed("no-cache") && flags.noCache {
		cfg.Cache.Enabled = false
	}
	if changed("cache-dir") {
		cfg.Paths.CacheDir = flags.cacheDir
	}
	if changed("workers") {
		cfg.Scan.Workers = flags.workers
	}
	if changed("collision") {
		cfg.Review.Collision = flags.collision
	}
	if flags.clearCache && !cfg.Cache.Enabled {
		return nil, services.Wrap(services.ErrConfiguration, "config", "apply flags", "--clear-cache requires the detection cache", nil)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "config", "apply flags", "", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func printScanResult(out io.Writer, cfg *config.Config, res *pipeline.Result, reportOnly bool) {
	s := res.Summary
	stats := res.Scan.Stats
	cache := res.Scan.Cache

	mode := "move"
	switch {
	case reportOnly:
		mode = "report only"
	case s.DryRun:
		mode = "dry run"
	case s.Symlinks:
		mode = "symlink"
	}
	fmt.Fprintf(out, "Run %s (%s)\n", res.RunID, mode)
	fmt.Fprintf(out, "Scanned %s files in %d root(s): %s cached, %s processed, %s failed\n",
		humanize.Comma(int64(stats.Files)), len(res.Roots),
		humanize.Comma(int64(stats.Cached)), humanize.Comma(int64(stats.Processed)), humanize.Comma(int64(stats.Failed)))
	for _, root := range stats.MissingRoots {
		fmt.Fprintf(out, "Skipped missing root: %s\n", root)
	}
	if res.CacheCleared > 0 {
		fmt.Fprintf(out, "Cleared %s cache entries\n", humanize.Comma(int64(res.CacheCleared)))
	}
	if cfg.Cache.Enabled {
		fmt.Fprintf(out, "Cache hit rate: %.1f%% (%d of %d lookups)\n",
			cache.HitRate()*100, cache.Hits, cache.Lookups())
	} else {
		fmt.Fprintln(out, "Cache: disabled")
	}
	fmt.Fprintf(out, "Images with detections: %s, total detections: %s\n",
		humanize.Comma(int64(stats.WithHits)), humanize.Comma(int64(stats.Detections)))

	if res.Report != nil {
		fmt.Fprintf(out, "Detection report: %s\n", res.Report.JSON)
		fmt.Fprintf(out, "Delete candidates: %s\n", res.Report.DeleteCandidates)
	}
	if reportOnly {
		return
	}

	if len(s.Labels) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable([]string{"Type", "Images"}, countRows(s.Labels), []columnAlignment{alignLeft, alignRight}))
	}
	if len(s.Buckets) > 0 {
		fmt.Fprintln(out, renderTable([]string{"Bucket", "Images"}, countRows(s.Buckets), []columnAlignment{alignLeft, alignRight}))
	}

	var failed [][]string
	for _, rec := range s.Records {
		if rec.Outcome == relocate.OutcomeFailed {
			failed = append(failed, []string{rec.Source, rec.Reason})
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(out, "%d image(s) could not be relocated:\n", len(failed))
		fmt.Fprintln(out, renderTable([]string{"Source", "Reason"}, failed, nil))
	}

	switch {
	case s.TotalCandidates == 0:
		fmt.Fprintln(out, "No images matched; nothing to relocate.")
	case s.DryRun:
		fmt.Fprintf(out, "DRY RUN: %d image(s) would be relocated to %s. Add --move to relocate them.\n",
			s.TotalCandidates, cfg.Paths.ReviewDir)
	default:
		fmt.Fprintf(out, "Relocated %d image(s) to %s (%d failed)\n",
			s.TotalCandidates-s.TotalErrors, cfg.Paths.ReviewDir, s.TotalErrors)
	}
}

// countRows renders a count map sorted by descending count, then name.
func countRows(counts map[string]int) [][]string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, strconv.Itoa(counts[name])})
	}
	return rows
}

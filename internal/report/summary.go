// Package report builds run summaries and the optional detection report, and
// renders both as JSON and plain text.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sift/internal/classify"
	"sift/internal/detectcache"
	"sift/internal/fileutil"
	"sift/internal/relocate"
	"sift/internal/scanner"
)

// File names written under the review root after a real run.
const (
	SummaryFile = "review_summary.json"
	ReadmeFile  = "README.txt"
)

// Meta carries run-level facts that records alone do not hold.
type Meta struct {
	RunID     string
	Timestamp time.Time
	DryRun    bool
	Symlinks  bool
	Policy    string
	Cache     detectcache.Stats
	Scan      scanner.Stats
}

// Summary is the outcome of one run.
type Summary struct {
	RunID           string            `json:"run_id"`
	Timestamp       time.Time         `json:"timestamp"`
	DryRun          bool              `json:"dry_run"`
	Symlinks        bool              `json:"use_symlinks"`
	Policy          string            `json:"policy"`
	TotalCandidates int               `json:"total_candidates"`
	TotalErrors     int               `json:"errors"`
	TotalDetections int               `json:"total_detections"`
	Buckets         map[string]int    `json:"buckets"`
	Labels          map[string]int    `json:"labels"`
	Outcomes        map[string]int    `json:"outcomes"`
	Records         []relocate.Record `json:"records"`
	Cache           detectcache.Stats `json:"cache"`
	Scan            scanner.Stats     `json:"scan"`
}

// Build aggregates records into a Summary. Every record is a candidate, so a
// dry run and a real run over the same results report the same totals;
// failed records are also counted as errors.
func Build(records []relocate.Record, meta Meta) Summary {
	ts := meta.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	s := Summary{
		RunID:     meta.RunID,
		Timestamp: ts.UTC(),
		DryRun:    meta.DryRun,
		Symlinks:  meta.Symlinks,
		Policy:    meta.Policy,
		Buckets:   make(map[string]int),
		Labels:    make(map[string]int),
		Outcomes:  make(map[string]int),
		Records:   append([]relocate.Record(nil), records...),
		Cache:     meta.Cache,
		Scan:      meta.Scan,
	}
	for _, rec := range records {
		s.Outcomes[string(rec.Outcome)]++
		s.TotalCandidates++
		if rec.Outcome == relocate.OutcomeFailed {
			s.TotalErrors++
		}
		s.TotalDetections += rec.Count
		if rec.Bucket != "" {
			s.Buckets[rec.Bucket]++
		}
		for _, label := range rec.Labels {
			s.Labels[label]++
		}
	}
	return s
}

// Narrative renders the human-readable README for the review root.
func Narrative(s Summary) string {
	var b strings.Builder
	title := cases.Title(language.English)

	b.WriteString("Detection Review Directory\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")
	fmt.Fprintf(&b, "Generated: %s\n", s.Timestamp.Format(time.RFC3339))
	if s.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", s.RunID)
	}
	mode := "ACTUAL MOVE"
	if s.DryRun {
		mode = "DRY RUN"
	}
	method := "MOVED FILES"
	if s.Symlinks {
		method = "SYMLINKS"
	}
	fmt.Fprintf(&b, "Mode: %s\n", mode)
	fmt.Fprintf(&b, "Method: %s\n", method)
	fmt.Fprintf(&b, "Policy: %s\n\n", s.Policy)

	b.WriteString("Summary:\n")
	fmt.Fprintf(&b, "- Total candidates: %s\n", humanize.Comma(int64(s.TotalCandidates)))
	fmt.Fprintf(&b, "- Total detections: %s\n", humanize.Comma(int64(s.TotalDetections)))
	if s.TotalErrors > 0 {
		fmt.Fprintf(&b, "- Errors: %d\n", s.TotalErrors)
	}
	if s.Scan.Files > 0 {
		fmt.Fprintf(&b, "- Files scanned: %s\n", humanize.Comma(int64(s.Scan.Files)))
	}
	if lookups := s.Cache.Lookups(); lookups > 0 {
		fmt.Fprintf(&b, "- Cache hit rate: %.1f%% (%s of %s)\n", s.Cache.HitRate()*100,
			humanize.Comma(s.Cache.Hits), humanize.Comma(lookups))
	}
	if s.Scan.Duration > 0 {
		fmt.Fprintf(&b, "- Scan time: %s\n", s.Scan.Duration.Round(time.Millisecond))
	}

	if len(s.Buckets) > 0 {
		b.WriteString("\nBy Bucket:\n")
		for _, bucket := range sortedKeys(s.Buckets) {
			fmt.Fprintf(&b, "- %s: %s\n", bucket, images(s.Buckets[bucket]))
		}
	}
	if len(s.Labels) > 0 {
		b.WriteString("\nBy Subject:\n")
		for _, label := range sortedKeys(s.Labels) {
			fmt.Fprintf(&b, "- %s: %s\n", title.String(label), images(s.Labels[label]))
		}
	}

	b.WriteString("\nDirectories:\n")
	switch s.Policy {
	case classify.PolicyConfidence:
		b.WriteString("- high_confidence/: Highest detection at or above 0.8\n")
		b.WriteString("- medium_confidence/: Highest detection between 0.5 and 0.8\n")
		b.WriteString("- low_confidence/: Highest detection below 0.5\n")
	default:
		b.WriteString("- by_type/<label>/: Images with a single detected subject type\n")
		b.WriteString("- mixed/: Images with several subject types\n")
	}
	b.WriteString("\nReview these images and delete the ones you do not want to keep.\n")
	return b.String()
}

// Write stores review_summary.json and README.txt under outputRoot.
func Write(outputRoot string, s Summary) error {
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return fmt.Errorf("create review directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(outputRoot, SummaryFile), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(outputRoot, ReadmeFile), []byte(Narrative(s)), 0o644); err != nil {
		return fmt.Errorf("write readme: %w", err)
	}
	return nil
}

func images(n int) string {
	if n == 1 {
		return "1 image"
	}
	return humanize.Comma(int64(n)) + " images"
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

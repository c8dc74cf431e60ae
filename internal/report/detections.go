package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"sift/internal/classify"
	"sift/internal/detection"
	"sift/internal/fileutil"
)

// Totals summarizes a detection report.
type Totals struct {
	ImagesScanned        int     `json:"total_images_scanned"`
	ImagesWithDetections int     `json:"images_with_detections"`
	TotalDetections      int     `json:"total_detections"`
	AveragePerImage      float64 `json:"average_detections_per_image"`
	Failed               int     `json:"failed"`
}

// DirectoryTotals are per-directory counts.
type DirectoryTotals struct {
	TotalImages     int `json:"total_images"`
	WithDetections  int `json:"with_detections"`
	TotalDetections int `json:"total_detections"`
}

// DetectionReport is the standalone report requested with --report. An
// image counts toward a confidence level when any of its detections falls in
// that band, so one image can count toward several levels.
type DetectionReport struct {
	Timestamp    time.Time                  `json:"timestamp"`
	DetectorType string                     `json:"detector_type"`
	Summary      Totals                     `json:"summary"`
	ByDirectory  map[string]DirectoryTotals `json:"by_directory"`
	ByConfidence map[string]int             `json:"by_confidence"`
	Detections   []detection.Result         `json:"detections"`
	AllResults   []detection.Result         `json:"all_results"`
}

// ReportPaths lists the files WriteDetectionReport produced.
type ReportPaths struct {
	JSON             string
	Text             string
	DeleteCandidates string
}

const (
	levelHigh   = "high"
	levelMedium = "medium"
	levelLow    = "low"
)

// BuildDetectionReport aggregates scan results.
func BuildDetectionReport(results []detection.Result, detectorType string, now time.Time) DetectionReport {
	all := append([]detection.Result(nil), results...)
	sort.Slice(all, func(i, j int) bool { return all[i].Path < all[j].Path })

	rep := DetectionReport{
		Timestamp:    now.UTC(),
		DetectorType: detectorType,
		ByDirectory:  make(map[string]DirectoryTotals),
		ByConfidence: map[string]int{levelHigh: 0, levelMedium: 0, levelLow: 0},
		Detections:   []detection.Result{},
		AllResults:   all,
	}
	for _, r := range all {
		rep.Summary.ImagesScanned++
		rep.Summary.TotalDetections += r.Count
		if r.Failed() {
			rep.Summary.Failed++
		}

		dir := filepath.Dir(r.Path)
		totals := rep.ByDirectory[dir]
		totals.TotalImages++
		totals.TotalDetections += r.Count

		if r.HasDetections {
			rep.Summary.ImagesWithDetections++
			totals.WithDetections++
			rep.Detections = append(rep.Detections, r)
		}
		rep.ByDirectory[dir] = totals

		for level := range levelsOf(r) {
			rep.ByConfidence[level]++
		}
	}
	if rep.Summary.ImagesScanned > 0 {
		rep.Summary.AveragePerImage = float64(rep.Summary.TotalDetections) / float64(rep.Summary.ImagesScanned)
	}
	return rep
}

func levelsOf(r detection.Result) map[string]struct{} {
	levels := make(map[string]struct{}, 3)
	for _, d := range r.Detections {
		switch {
		case d.Confidence >= classify.HighThreshold:
			levels[levelHigh] = struct{}{}
		case d.Confidence >= classify.MediumThreshold:
			levels[levelMedium] = struct{}{}
		default:
			levels[levelLow] = struct{}{}
		}
	}
	return levels
}

// DeleteCandidates returns results with at least one high-confidence
// detection.
func (rep DetectionReport) DeleteCandidates() []detection.Result {
	var out []detection.Result
	for _, r := range rep.Detections {
		if r.MaxConfidence() >= classify.HighThreshold {
			out = append(out, r)
		}
	}
	return out
}

// Text renders the human-readable report.
func (rep DetectionReport) Text() string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)

	b.WriteString("Detection Report\n")
	fmt.Fprintf(&b, "Generated: %s\n", rep.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Detector Type: %s\n", rep.DetectorType)
	b.WriteString(rule + "\n\n")

	b.WriteString("SUMMARY:\n")
	fmt.Fprintf(&b, "- Total images scanned: %d\n", rep.Summary.ImagesScanned)
	fmt.Fprintf(&b, "- Images with detections: %d\n", rep.Summary.ImagesWithDetections)
	fmt.Fprintf(&b, "- Total detections: %d\n", rep.Summary.TotalDetections)
	fmt.Fprintf(&b, "- Average per image: %.2f\n", rep.Summary.AveragePerImage)
	if rep.Summary.Failed > 0 {
		fmt.Fprintf(&b, "- Failed: %d\n", rep.Summary.Failed)
	}
	b.WriteString("\n")

	b.WriteString("CONFIDENCE DISTRIBUTION:\n")
	fmt.Fprintf(&b, "- High (>=0.8): %d images\n", rep.ByConfidence[levelHigh])
	fmt.Fprintf(&b, "- Medium (0.5-0.8): %d images\n", rep.ByConfidence[levelMedium])
	fmt.Fprintf(&b, "- Low (<0.5): %d images\n\n", rep.ByConfidence[levelLow])

	b.WriteString("BY DIRECTORY:\n")
	dirs := make([]string, 0, len(rep.ByDirectory))
	for dir := range rep.ByDirectory {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		t := rep.ByDirectory[dir]
		fmt.Fprintf(&b, "\n%s:\n", dir)
		fmt.Fprintf(&b, "  - Total images: %d\n", t.TotalImages)
		fmt.Fprintf(&b, "  - With detections: %d\n", t.WithDetections)
		fmt.Fprintf(&b, "  - Total detections: %d\n", t.TotalDetections)
	}

	b.WriteString("\n" + rule + "\n")
	b.WriteString("IMAGES WITH DETECTIONS (sorted by confidence):\n\n")
	ranked := append([]detection.Result(nil), rep.Detections...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].MaxConfidence() > ranked[j].MaxConfidence() })
	for _, r := range ranked {
		fmt.Fprintf(&b, "%s\n", r.Path)
		fmt.Fprintf(&b, "  - Detections: %d\n", r.Count)
		for i, d := range r.Detections {
			fmt.Fprintf(&b, "    %d. %s, Confidence: %.3f, Box: [%d, %d, %d, %d]\n",
				i+1, d.Label, d.Confidence, d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// DeleteCandidatesText renders the high-confidence path list.
func (rep DetectionReport) DeleteCandidatesText() string {
	var b strings.Builder
	b.WriteString("# High-confidence detection candidates for deletion\n")
	b.WriteString("# Review carefully before deleting!\n\n")
	for _, r := range rep.DeleteCandidates() {
		fmt.Fprintf(&b, "%s # confidence: %.3f\n", r.Path, r.MaxConfidence())
	}
	return b.String()
}

// SiblingPaths derives the text and delete-candidate paths from the JSON
// report path.
func SiblingPaths(jsonPath string) ReportPaths {
	stem := strings.TrimSuffix(jsonPath, filepath.Ext(jsonPath))
	return ReportPaths{
		JSON:             jsonPath,
		Text:             stem + ".txt",
		DeleteCandidates: stem + "_delete_candidates.txt",
	}
}

// WriteDetectionReport writes the JSON report and its two text siblings.
func WriteDetectionReport(jsonPath string, rep DetectionReport) (ReportPaths, error) {
	paths := SiblingPaths(jsonPath)
	if paths.Text == paths.JSON {
		paths.Text = jsonPath + ".txt"
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return paths, fmt.Errorf("encode detection report: %w", err)
	}
	if err := fileutil.WriteFileAtomic(paths.JSON, append(data, '\n'), 0o644); err != nil {
		return paths, fmt.Errorf("write detection report: %w", err)
	}
	if err := fileutil.WriteFileAtomic(paths.Text, []byte(rep.Text()), 0o644); err != nil {
		return paths, fmt.Errorf("write detection report text: %w", err)
	}
	if err := fileutil.WriteFileAtomic(paths.DeleteCandidates, []byte(rep.DeleteCandidatesText()), 0o644); err != nil {
		return paths, fmt.Errorf("write delete candidates: %w", err)
	}
	return paths, nil
}

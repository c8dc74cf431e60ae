// Package detection defines the per-image detection record and the adapter
// that turns raw detector output into it.
//
// A Result is built only through NewResult or FailedResult, which keep the
// derived fields (Count, HasDetections, Labels) consistent with Detections.
// Results are values: callers copy them freely and never mutate them after
// construction.
package detection

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Box is a pixel bounding box with X1 < X2 and Y1 < Y2.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Valid reports whether the box has positive width and height.
func (b Box) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// Detection is one filtered, labelled detector hit.
type Detection struct {
	Box        Box     `json:"bbox"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label"`
}

// Result is the outcome of running detection on one image.
type Result struct {
	Path          string      `json:"path"`
	Width         *int        `json:"width"`
	Height        *int        `json:"height"`
	Detections    []Detection `json:"detections"`
	Count         int         `json:"count"`
	HasDetections bool        `json:"has_detections"`
	Labels        []string    `json:"labels"`
	Error         string      `json:"error,omitempty"`
}

// NewResult builds a successful result, deriving Count, HasDetections, and
// the sorted distinct Labels from dets.
func NewResult(path string, width, height int, dets []Detection) Result {
	w, h := width, height
	copied := make([]Detection, len(dets))
	copy(copied, dets)
	return Result{
		Path:          path,
		Width:         &w,
		Height:        &h,
		Detections:    copied,
		Count:         len(copied),
		HasDetections: len(copied) > 0,
		Labels:        distinctLabels(copied),
	}
}

// FailedResult builds a result for an image whose dimensions could not be
// read. It carries no detections.
func FailedResult(path string, err error) Result {
	return Result{
		Path:       path,
		Detections: []Detection{},
		Labels:     []string{},
		Error:      errorText(err),
	}
}

// failedWithSize records a detector failure for an image that probed fine.
func failedWithSize(path string, width, height int, err error) Result {
	r := FailedResult(path, err)
	w, h := width, height
	r.Width, r.Height = &w, &h
	return r
}

// Failed reports whether the result records a per-file error.
func (r Result) Failed() bool {
	return r.Error != ""
}

// MaxConfidence returns the highest detection confidence, or 0 when there
// are no detections.
func (r Result) MaxConfidence() float64 {
	maxConf := 0.0
	for _, d := range r.Detections {
		if d.Confidence > maxConf {
			maxConf = d.Confidence
		}
	}
	return maxConf
}

// Validate checks the structural invariants of a result. Cache reads use it
// to reject entries that were tampered with or written by a different
// version.
func (r Result) Validate() error {
	if r.Path == "" {
		return errors.New("result has no path")
	}
	if r.Count != len(r.Detections) {
		return fmt.Errorf("count %d does not match %d detections", r.Count, len(r.Detections))
	}
	if r.HasDetections != (r.Count > 0) {
		return errors.New("has_detections disagrees with count")
	}
	if r.Error != "" && r.Count > 0 {
		return errors.New("failed result carries detections")
	}
	if (r.Width == nil) != (r.Height == nil) {
		return errors.New("width and height must both be set or both be absent")
	}
	for i, d := range r.Detections {
		if !d.Box.Valid() {
			return fmt.Errorf("detection %d has malformed box %+v", i, d.Box)
		}
		if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
			return fmt.Errorf("detection %d confidence %v outside [0,1]", i, d.Confidence)
		}
	}
	want := distinctLabels(r.Detections)
	if len(want) != len(r.Labels) {
		return errors.New("labels disagree with detections")
	}
	for i := range want {
		if want[i] != r.Labels[i] {
			return errors.New("labels disagree with detections")
		}
	}
	return nil
}

func distinctLabels(dets []Detection) []string {
	seen := make(map[string]struct{}, len(dets))
	labels := make([]string, 0, len(dets))
	for _, d := range dets {
		if _, ok := seen[d.Label]; ok {
			continue
		}
		seen[d.Label] = struct{}{}
		labels = append(labels, d.Label)
	}
	sort.Strings(labels)
	return labels
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "unknown error"
}

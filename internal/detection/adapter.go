package detection

import (
	"context"
	"errors"
	"fmt"
	"math"

	"sift/internal/services"
)

// Raw is one unfiltered detector hit in pixel coordinates (x1, y1, x2, y2).
type Raw struct {
	Box        [4]float64 `json:"box"`
	Confidence float64    `json:"confidence"`
	ClassID    int        `json:"class_id"`
}

// Detector runs object detection on the image at path.
type Detector interface {
	Detect(ctx context.Context, path string) ([]Raw, error)
}

// Prober reads the displayed pixel dimensions of an image.
type Prober interface {
	Probe(path string) (width, height int, err error)
}

// Filter selects which raw hits become detections.
type Filter struct {
	Threshold float64
	// Classes maps allowed class ids to their labels.
	Classes map[int]string
}

// Validate rejects thresholds outside [0,1] and empty class sets.
func (f Filter) Validate() error {
	if math.IsNaN(f.Threshold) || f.Threshold < 0 || f.Threshold > 1 {
		return services.Wrap(services.ErrConfiguration, "detection", "validate filter",
			fmt.Sprintf("confidence threshold %v must be between 0 and 1", f.Threshold), nil)
	}
	if len(f.Classes) == 0 {
		return services.Wrap(services.ErrConfiguration, "detection", "validate filter",
			"class set is empty", nil)
	}
	return nil
}

// Adapter wraps a Detector and Prober, producing well-formed Results.
type Adapter struct {
	detector Detector
	prober   Prober
	filter   Filter
}

// NewAdapter validates its collaborators and filter.
func NewAdapter(detector Detector, prober Prober, filter Filter) (*Adapter, error) {
	if detector == nil {
		return nil, services.Wrap(services.ErrConfiguration, "detection", "init adapter", "no detector configured", nil)
	}
	if prober == nil {
		return nil, services.Wrap(services.ErrConfiguration, "detection", "init adapter", "no image prober configured", nil)
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	classes := make(map[int]string, len(filter.Classes))
	for id, label := range filter.Classes {
		classes[id] = label
	}
	filter.Classes = classes
	return &Adapter{detector: detector, prober: prober, filter: filter}, nil
}

// Filter returns the adapter's active filter.
func (a *Adapter) Filter() Filter {
	return a.filter
}

// Detect never returns an error: probe and detector failures become failed
// results.
func (a *Adapter) Detect(ctx context.Context, path string) Result {
	width, height, err := a.prober.Probe(path)
	if err != nil {
		return FailedResult(path, fmt.Errorf("read image: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return failedWithSize(path, width, height, err)
	}
	raws, err := a.detector.Detect(ctx, path)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return failedWithSize(path, width, height, err)
		}
		return failedWithSize(path, width, height, fmt.Errorf("detect: %w", err))
	}

	dets := make([]Detection, 0, len(raws))
	for _, raw := range raws {
		det, ok := a.accept(raw, width, height)
		if ok {
			dets = append(dets, det)
		}
	}
	return NewResult(path, width, height, dets)
}

func (a *Adapter) accept(raw Raw, width, height int) (Detection, bool) {
	label, ok := a.filter.Classes[raw.ClassID]
	if !ok {
		return Detection{}, false
	}
	conf := raw.Confidence
	if math.IsNaN(conf) || conf > 1 || conf < a.filter.Threshold {
		return Detection{}, false
	}
	box, ok := toBox(raw.Box, width, height)
	if !ok {
		return Detection{}, false
	}
	return Detection{Box: box, Confidence: conf, ClassID: raw.ClassID, Label: label}, true
}

// toBox rounds to whole pixels and clamps to the image bounds. Boxes that
// collapse to zero area are rejected.
func toBox(coords [4]float64, width, height int) (Box, bool) {
	for _, c := range coords {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return Box{}, false
		}
	}
	clamp := func(v float64, limit int) int {
		n := int(math.Round(v))
		if n < 0 {
			return 0
		}
		if limit > 0 && n > limit {
			return limit
		}
		return n
	}
	box := Box{
		X1: clamp(coords[0], width),
		Y1: clamp(coords[1], height),
		X2: clamp(coords[2], width),
		Y2: clamp(coords[3], height),
	}
	return box, box.Valid()
}

package detection_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"sift/internal/detection"
	"sift/internal/services"
	"sift/internal/testsupport"
)

var animals = map[int]string{14: "bird", 15: "cat", 16: "dog"}

func newAdapter(t *testing.T, det detection.Detector, prober detection.Prober, threshold float64) *detection.Adapter {
	t.Helper()
	adapter, err := detection.NewAdapter(det, prober, detection.Filter{Threshold: threshold, Classes: animals})
	if err != nil {
		t.Fatalf("NewAdapter failed: %v", err)
	}
	return adapter
}

func TestAdapterFiltersByClassAndThreshold(t *testing.T) {
	det := testsupport.NewFakeDetector().Respond("a.jpg",
		testsupport.Hit(16, 0.91),
		testsupport.Hit(16, 0.49),
		testsupport.Hit(0, 0.99),
		testsupport.Hit(15, 0.5),
	)
	adapter := newAdapter(t, det, testsupport.FixedProber{Width: 640, Height: 480}, 0.5)

	r := adapter.Detect(context.Background(), "/g/a.jpg")
	if r.Failed() {
		t.Fatalf("unexpected failure: %s", r.Error)
	}
	if r.Count != 2 {
		t.Fatalf("expected 2 detections (threshold inclusive), got %d: %+v", r.Count, r.Detections)
	}
	for _, d := range r.Detections {
		if d.Confidence < 0.5 {
			t.Fatalf("detection below threshold leaked: %+v", d)
		}
		if _, ok := animals[d.ClassID]; !ok {
			t.Fatalf("detection outside class set leaked: %+v", d)
		}
	}
	if len(r.Labels) != 2 || r.Labels[0] != "cat" || r.Labels[1] != "dog" {
		t.Fatalf("unexpected labels %v", r.Labels)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("adapter produced invalid result: %v", err)
	}
}

func TestAdapterDropsMalformedBoxesAndClamps(t *testing.T) {
	det := testsupport.NewFakeDetector().Respond("a.jpg",
		detection.Raw{Box: [4]float64{50, 50, 50, 80}, Confidence: 0.9, ClassID: 16},
		detection.Raw{Box: [4]float64{math.NaN(), 0, 10, 10}, Confidence: 0.9, ClassID: 16},
		detection.Raw{Box: [4]float64{-5, -5, 900, 700}, Confidence: 0.9, ClassID: 14},
		detection.Raw{Box: [4]float64{0, 0, 10, 10}, Confidence: math.NaN(), ClassID: 14},
	)
	adapter := newAdapter(t, det, testsupport.FixedProber{Width: 640, Height: 480}, 0.5)

	r := adapter.Detect(context.Background(), "/g/a.jpg")
	if r.Count != 1 {
		t.Fatalf("expected only the clampable box to survive, got %+v", r.Detections)
	}
	box := r.Detections[0].Box
	if box != (detection.Box{X1: 0, Y1: 0, X2: 640, Y2: 480}) {
		t.Fatalf("expected box clamped to image bounds, got %+v", box)
	}
}

func TestAdapterProbeFailure(t *testing.T) {
	det := testsupport.NewFakeDetector().Respond("bad.jpg", testsupport.Hit(16, 0.9))
	prober := testsupport.FixedProber{Width: 640, Height: 480, Broken: map[string]bool{"bad.jpg": true}}
	adapter := newAdapter(t, det, prober, 0.5)

	r := adapter.Detect(context.Background(), "/g/bad.jpg")
	if !r.Failed() {
		t.Fatal("expected failed result")
	}
	if r.Width != nil || r.Height != nil || r.HasDetections {
		t.Fatalf("unexpected failed result shape: %+v", r)
	}
	if det.Calls() != 0 {
		t.Fatal("detector must not run when probing fails")
	}
}

func TestAdapterDetectorFailureKeepsDimensions(t *testing.T) {
	det := testsupport.NewFakeDetector().Fail("a.jpg", errors.New("model crashed"))
	adapter := newAdapter(t, det, testsupport.FixedProber{Width: 32, Height: 16}, 0.5)

	r := adapter.Detect(context.Background(), "/g/a.jpg")
	if !r.Failed() || r.HasDetections {
		t.Fatalf("expected failed result, got %+v", r)
	}
	if r.Width == nil || *r.Width != 32 {
		t.Fatalf("expected probed width to be kept, got %v", r.Width)
	}
}

func TestNewAdapterRejectsBadFilter(t *testing.T) {
	det := testsupport.NewFakeDetector()
	prober := testsupport.FixedProber{Width: 1, Height: 1}
	cases := map[string]detection.Filter{
		"threshold above one": {Threshold: 1.2, Classes: animals},
		"negative threshold":  {Threshold: -0.1, Classes: animals},
		"empty classes":       {Threshold: 0.5},
	}
	for name, filter := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := detection.NewAdapter(det, prober, filter)
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
	if _, err := detection.NewAdapter(nil, prober, detection.Filter{Threshold: 0.5, Classes: animals}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected missing detector to be a configuration error, got %v", err)
	}
}

package testsupport

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"

	"sift/internal/detection"
)

// FakeDetector returns canned raw hits keyed by file base name.
type FakeDetector struct {
	mu        sync.Mutex
	responses map[string][]detection.Raw
	failures  map[string]error
	calls     atomic.Int64
	seen      []string
}

// NewFakeDetector constructs an empty fake; unknown files yield no hits.
func NewFakeDetector() *FakeDetector {
	return &FakeDetector{
		responses: make(map[string][]detection.Raw),
		failures:  make(map[string]error),
	}
}

// Respond registers hits for files named base.
func (f *FakeDetector) Respond(base string, raws ...detection.Raw) *FakeDetector {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[base] = raws
	return f
}

// Fail makes detection of files named base return err.
func (f *FakeDetector) Fail(base string, err error) *FakeDetector {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = errors.New("detector failure")
	}
	f.failures[base] = err
	return f
}

// Detect implements detection.Detector.
func (f *FakeDetector) Detect(ctx context.Context, path string) ([]detection.Raw, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, path)
	if err, ok := f.failures[base]; ok {
		return nil, err
	}
	return append([]detection.Raw(nil), f.responses[base]...), nil
}

// Calls reports how many times Detect ran.
func (f *FakeDetector) Calls() int64 {
	return f.calls.Load()
}

// Seen returns the paths passed to Detect in call order.
func (f *FakeDetector) Seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

// FixedProber reports the same dimensions for every path, except those whose
// base name appears in Broken.
type FixedProber struct {
	Width, Height int
	Broken        map[string]bool
}

// Probe implements detection.Prober.
func (p FixedProber) Probe(path string) (int, int, error) {
	if p.Broken[filepath.Base(path)] {
		return 0, 0, errors.New("cannot identify image file")
	}
	return p.Width, p.Height, nil
}

// Hit builds a raw hit covering a box in the top-left of a 640x480 image.
func Hit(classID int, confidence float64) detection.Raw {
	return detection.Raw{Box: [4]float64{10, 20, 110, 220}, Confidence: confidence, ClassID: classID}
}

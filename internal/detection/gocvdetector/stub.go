//go:build !gocv

package gocvdetector

import (
	"context"

	"sift/internal/detection"
	"sift/internal/services"
)

// Detector is unavailable in builds without the gocv tag.
type Detector struct{}

// New always fails: rebuild with -tags gocv to enable this backend.
func New(Options) (*Detector, error) {
	return nil, services.Wrap(services.ErrConfiguration, "detection", "init gocv detector",
		"this binary was built without OpenCV support; rebuild with -tags gocv", nil)
}

// Name identifies the backend in logs and preflight output.
func (*Detector) Name() string { return "gocv" }

// Check always fails.
func (*Detector) Check(context.Context) error {
	_, err := New(Options{})
	return err
}

// Close is a no-op.
func (*Detector) Close() error { return nil }

// Detect always fails.
func (*Detector) Detect(context.Context, string) ([]detection.Raw, error) {
	_, err := New(Options{})
	return nil, err
}

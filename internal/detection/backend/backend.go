// Package backend builds the configured detector and its adapter.
package backend

import (
	"context"
	"fmt"
	"io"
	"time"

	"sift/internal/config"
	"sift/internal/detection"
	"sift/internal/detection/execdetector"
	"sift/internal/detection/gocvdetector"
	"sift/internal/detection/httpdetector"
	"sift/internal/services"
)

// Detector is a detection.Detector that can also report its own health.
type Detector interface {
	detection.Detector
	Name() string
	Check(ctx context.Context) error
}

// New constructs the detector selected by cfg.Detection.Backend.
func New(cfg *config.Config) (Detector, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "detection", "select backend", "config unavailable", nil)
	}
	switch cfg.Detection.Backend {
	case config.BackendExec:
		det, err := execdetector.New(execdetector.Options{
			Command:   cfg.DetectorExec.Command,
			Args:      cfg.DetectorExec.Args,
			ModelSize: cfg.Detection.ModelSize,
			Timeout:   seconds(cfg.DetectorExec.TimeoutSeconds),
		})
		if err != nil {
			return nil, err
		}
		return det, nil
	case config.BackendHTTP:
		det, err := httpdetector.New(httpdetector.Options{
			URL:       cfg.DetectorHTTP.URL,
			APIKey:    cfg.DetectorHTTP.APIKey,
			ModelSize: cfg.Detection.ModelSize,
			Timeout:   seconds(cfg.DetectorHTTP.TimeoutSeconds),
		})
		if err != nil {
			return nil, err
		}
		return det, nil
	case config.BackendGoCV:
		det, err := gocvdetector.New(gocvdetector.Options{
			ModelPath:  cfg.DetectorGoCV.ModelPath,
			ConfigPath: cfg.DetectorGoCV.ConfigPath,
			InputSize:  cfg.DetectorGoCV.InputSize,
		})
		if err != nil {
			return nil, err
		}
		return det, nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "detection", "select backend",
			fmt.Sprintf("unsupported detector backend %q", cfg.Detection.Backend), nil)
	}
}

// Filter derives the detection filter from cfg.
func Filter(cfg *config.Config) (detection.Filter, error) {
	classes, err := cfg.ClassTable()
	if err != nil {
		return detection.Filter{}, fmt.Errorf("%w: %w", services.ErrConfiguration, err)
	}
	filter := detection.Filter{Threshold: cfg.Detection.Confidence, Classes: classes}
	if err := filter.Validate(); err != nil {
		return detection.Filter{}, err
	}
	return filter, nil
}

// NewAdapter wires det to the image prober and the configured filter.
func NewAdapter(cfg *config.Config, det detection.Detector) (*detection.Adapter, error) {
	filter, err := Filter(cfg)
	if err != nil {
		return nil, err
	}
	return detection.NewAdapter(det, detection.ImageProber{}, filter)
}

// Close releases backend resources when the detector holds any.
func Close(det Detector) {
	if closer, ok := det.(io.Closer); ok {
		_ = closer.Close()
	}
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

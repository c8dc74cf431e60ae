package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"sift/internal/services"
)

// Validate ensures the configuration is usable. Failures wrap
// services.ErrConfiguration so the CLI maps them to a configuration exit code.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validatePaths,
		c.validateScan,
		c.validateDetection,
		c.validateDetector,
		c.validateReview,
	} {
		if err := check(); err != nil {
			return fmt.Errorf("%w: %w", services.ErrConfiguration, err)
		}
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.ReviewDir) == "" {
		return errors.New("paths.review_dir must be set")
	}
	if c.Cache.Enabled && strings.TrimSpace(c.Paths.CacheDir) == "" {
		return errors.New("paths.cache_dir must be set when cache.enabled is true")
	}
	for _, sub := range c.Scan.Subdirs {
		if filepath.IsAbs(sub) {
			continue
		}
		if strings.TrimSpace(c.Paths.GalleryDir) == "" {
			return errors.New("paths.gallery_dir must be set when scan.subdirs are relative")
		}
	}
	return nil
}

func (c *Config) validateScan() error {
	if c.Scan.Workers <= 0 {
		return errors.New("scan.workers must be positive")
	}
	if c.Scan.ProgressEvery <= 0 {
		return errors.New("scan.progress_every must be positive")
	}
	return nil
}

func (c *Config) validateDetection() error {
	if c.Detection.Confidence < 0 || c.Detection.Confidence > 1 {
		return fmt.Errorf("detection.confidence must be between 0 and 1 (got %g)", c.Detection.Confidence)
	}
	if _, ok := modelSizes[c.Detection.ModelSize]; !ok {
		return fmt.Errorf("detection.model_size: unsupported value %q (want nano, small, medium, large, or xlarge)", c.Detection.ModelSize)
	}
	for _, id := range c.Detection.Classes {
		if id < 0 {
			return fmt.Errorf("detection.classes: negative class id %d", id)
		}
	}
	table, err := c.ClassTable()
	if err != nil {
		return err
	}
	if len(table) == 0 {
		return errors.New("detection.classes resolves to an empty class set")
	}
	return nil
}

func (c *Config) validateDetector() error {
	switch c.Detection.Backend {
	case BackendExec:
		if c.DetectorExec.Command == "" {
			return errors.New("detector_exec.command must be set when detection.backend is exec")
		}
	case BackendHTTP:
		if c.DetectorHTTP.URL == "" {
			return errors.New("detector_http.url must be set when detection.backend is http")
		}
		if !strings.HasPrefix(c.DetectorHTTP.URL, "http://") && !strings.HasPrefix(c.DetectorHTTP.URL, "https://") {
			return fmt.Errorf("detector_http.url must be an http(s) URL (got %q)", c.DetectorHTTP.URL)
		}
	case BackendGoCV:
		if c.DetectorGoCV.ModelPath == "" {
			return errors.New("detector_gocv.model_path must be set when detection.backend is gocv")
		}
	default:
		return fmt.Errorf("detection.backend: unsupported value %q (want exec, http, or gocv)", c.Detection.Backend)
	}
	return nil
}

func (c *Config) validateReview() error {
	switch c.Review.Policy {
	case "type", "confidence":
	default:
		return fmt.Errorf("review.policy: unsupported value %q (want type or confidence)", c.Review.Policy)
	}
	switch c.Review.Collision {
	case "suffix", "overwrite":
	default:
		return fmt.Errorf("review.collision: unsupported value %q (want suffix or overwrite)", c.Review.Collision)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
)

// Normalize expands paths, applies environment fallbacks, and canonicalizes
// enumerations. Load calls it; callers that mutate a config after flag
// overrides call it again before Validate.
func (c *Config) Normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeScan()
	c.normalizeDetection()
	if err := c.normalizeDetectors(); err != nil {
		return err
	}
	c.normalizeReview()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.GalleryDir, err = expandPath(c.Paths.GalleryDir); err != nil {
		return fmt.Errorf("paths.gallery_dir: %w", err)
	}
	if c.Paths.ReviewDir, err = expandPath(c.Paths.ReviewDir); err != nil {
		return fmt.Errorf("paths.review_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir()
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir()
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = c.Paths.StateDir + string(os.PathSeparator) + "logs"
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeScan() {
	subdirs := make([]string, 0, len(c.Scan.Subdirs))
	for _, dir := range c.Scan.Subdirs {
		if trimmed := strings.TrimSpace(dir); trimmed != "" {
			subdirs = append(subdirs, trimmed)
		}
	}
	c.Scan.Subdirs = subdirs

	exts := make([]string, 0, len(c.Scan.Extensions))
	seen := make(map[string]struct{}, len(c.Scan.Extensions))
	for _, ext := range c.Scan.Extensions {
		normalized := strings.ToLower(strings.TrimSpace(ext))
		if normalized == "" {
			continue
		}
		if !strings.HasPrefix(normalized, ".") {
			normalized = "." + normalized
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		exts = append(exts, normalized)
	}
	if len(exts) == 0 {
		exts = append(exts, defaultExtensions...)
	}
	sort.Strings(exts)
	c.Scan.Extensions = exts

	if c.Scan.Workers <= 0 {
		c.Scan.Workers = runtime.NumCPU()
	}
	if c.Scan.ProgressEvery <= 0 {
		c.Scan.ProgressEvery = defaultProgressEvery
	}
}

func (c *Config) normalizeDetection() {
	c.Detection.Backend = strings.ToLower(strings.TrimSpace(c.Detection.Backend))
	if c.Detection.Backend == "" {
		c.Detection.Backend = defaultBackend
	}
	c.Detection.Preset = strings.ToLower(strings.TrimSpace(c.Detection.Preset))
	if c.Detection.Preset == "" {
		c.Detection.Preset = defaultPreset
	}
	c.Detection.ModelSize = strings.ToLower(strings.TrimSpace(c.Detection.ModelSize))
	if c.Detection.ModelSize == "" {
		c.Detection.ModelSize = defaultModelSize
	}
}

func (c *Config) normalizeDetectors() error {
	c.DetectorExec.Command = strings.TrimSpace(c.DetectorExec.Command)
	if c.DetectorExec.TimeoutSeconds < 0 {
		c.DetectorExec.TimeoutSeconds = 0
	}

	c.DetectorHTTP.URL = strings.TrimSpace(c.DetectorHTTP.URL)
	c.DetectorHTTP.APIKey = strings.TrimSpace(c.DetectorHTTP.APIKey)
	if c.DetectorHTTP.APIKey == "" {
		if value, ok := os.LookupEnv("SIFT_DETECTOR_API_KEY"); ok {
			c.DetectorHTTP.APIKey = strings.TrimSpace(value)
		}
	}
	if c.DetectorHTTP.TimeoutSeconds < 0 {
		c.DetectorHTTP.TimeoutSeconds = 0
	}

	var err error
	if c.DetectorGoCV.ModelPath, err = expandPath(strings.TrimSpace(c.DetectorGoCV.ModelPath)); err != nil {
		return fmt.Errorf("detector_gocv.model_path: %w", err)
	}
	if c.DetectorGoCV.ConfigPath, err = expandPath(strings.TrimSpace(c.DetectorGoCV.ConfigPath)); err != nil {
		return fmt.Errorf("detector_gocv.config_path: %w", err)
	}
	if c.DetectorGoCV.InputSize <= 0 {
		c.DetectorGoCV.InputSize = defaultGoCVInputSize
	}
	return nil
}

func (c *Config) normalizeReview() {
	c.Review.Policy = strings.ToLower(strings.TrimSpace(c.Review.Policy))
	if c.Review.Policy == "" {
		c.Review.Policy = defaultPolicy
	}
	c.Review.Collision = strings.ToLower(strings.TrimSpace(c.Review.Collision))
	if c.Review.Collision == "" {
		c.Review.Collision = defaultCollision
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

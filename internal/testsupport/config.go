package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"sift/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields, applies any provided options, and normalizes the
// result.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.GalleryDir = filepath.Join(base, "gallery")
	cfgVal.Paths.ReviewDir = filepath.Join(base, "review")
	cfgVal.Paths.CacheDir = filepath.Join(base, "cache")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "state", "logs")
	cfgVal.Scan.Workers = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Normalize(); err != nil {
		t.Fatalf("normalize test config: %v", err)
	}
	return builder.cfg
}

// WithConfidence overrides the detection threshold.
func WithConfidence(threshold float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Detection.Confidence = threshold
	}
}

// WithPolicy overrides the review policy.
func WithPolicy(policy string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Review.Policy = policy
	}
}

// WithStubbedBinaries writes executables with the given shell bodies and
// prepends their directory to PATH. Each entry maps a binary name to its
// script body; an empty body exits 0.
func WithStubbedBinaries(scripts map[string]string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		for name, body := range scripts {
			if body == "" {
				body = "exit 0"
			}
			script := []byte("#!/bin/sh\n" + body + "\n")
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.GalleryDir)
}

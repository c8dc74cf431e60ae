package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

const (
	defaultGalleryDir    = "gallery"
	defaultReviewDir     = "review"
	defaultBackend       = BackendExec
	defaultPreset        = PresetAnimals
	defaultConfidence    = 0.5
	defaultModelSize     = "nano"
	defaultExecCommand   = "sift-detect"
	defaultGoCVInputSize = 300
	defaultProgressEvery = 10
	defaultPolicy        = "type"
	defaultCollision     = "suffix"
	defaultLogFormat     = "console"
	defaultLogLevel      = "info"
)

// Detector backends.
const (
	BackendExec = "exec"
	BackendHTTP = "http"
	BackendGoCV = "gocv"
)

var defaultExtensions = []string{".jpg", ".jpeg", ".png"}

// Default returns a Config populated with repository defaults. Directory
// defaults that depend on XDG locations are filled in during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			GalleryDir: defaultGalleryDir,
			ReviewDir:  defaultReviewDir,
		},
		Scan: Scan{
			Extensions:    append([]string(nil), defaultExtensions...),
			ProgressEvery: defaultProgressEvery,
		},
		Detection: Detection{
			Backend:    defaultBackend,
			Preset:     defaultPreset,
			Confidence: defaultConfidence,
			ModelSize:  defaultModelSize,
		},
		DetectorExec: DetectorExec{
			Command: defaultExecCommand,
			Args:    []string{"--model-size", "{model_size}", "{path}"},
		},
		DetectorGoCV: DetectorGoCV{
			InputSize: defaultGoCVInputSize,
		},
		Review: Review{
			Policy:    defaultPolicy,
			Collision: defaultCollision,
		},
		Cache: Cache{
			Enabled: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		History: History{
			Enabled: true,
		},
	}
}

func defaultCacheDir() string {
	return filepath.Join(xdg.CacheHome, "sift", "detections")
}

func defaultStateDir() string {
	return filepath.Join(xdg.StateHome, "sift")
}

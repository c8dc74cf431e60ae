package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directories sift reads from and writes to.
type Paths struct {
	GalleryDir string `toml:"gallery_dir"`
	ReviewDir  string `toml:"review_dir"`
	CacheDir   string `toml:"cache_dir"`
	LogDir     string `toml:"log_dir"`
	StateDir   string `toml:"state_dir"`
}

// Scan contains configuration for directory traversal and the worker pool.
type Scan struct {
	Subdirs       []string `toml:"subdirs"`
	Extensions    []string `toml:"extensions"`
	Workers       int      `toml:"workers"`
	ProgressEvery int      `toml:"progress_every"`
}

// Detection contains the detector selection and result filter.
type Detection struct {
	// Backend selects the detector implementation: exec, http, or gocv.
	Backend string `toml:"backend"`
	// Preset seeds the class table: animals, people, or faces.
	Preset     string  `toml:"preset"`
	Confidence float64 `toml:"confidence"`
	// Classes restricts the preset table to these class ids when non-empty.
	Classes []int `toml:"classes"`
	// ClassLabels overrides or extends labels, keyed by decimal class id.
	ClassLabels map[string]string `toml:"class_labels"`
	ModelSize   string            `toml:"model_size"`
}

// DetectorExec configures the external-command detector.
type DetectorExec struct {
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// DetectorHTTP configures the HTTP inference-service detector.
type DetectorHTTP struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// DetectorGoCV configures the in-process OpenCV DNN detector.
type DetectorGoCV struct {
	ModelPath  string `toml:"model_path"`
	ConfigPath string `toml:"config_path"`
	InputSize  int    `toml:"input_size"`
}

// Review contains configuration for how matched files are relocated.
type Review struct {
	Policy    string `toml:"policy"`
	Symlinks  bool   `toml:"symlinks"`
	Collision string `toml:"collision"`
}

// Cache contains configuration for the detection cache.
type Cache struct {
	Enabled bool `toml:"enabled"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// History contains configuration for the run ledger.
type History struct {
	Enabled bool `toml:"enabled"`
}

// Config encapsulates all configuration values for sift.
//
// Configuration sections by subsystem:
//   - Paths: gallery, review output, cache, logs, and state
//   - Scan: root selection, extensions, and worker pool size
//   - Detection: backend choice, class table, confidence threshold
//   - DetectorExec, DetectorHTTP, DetectorGoCV: backend settings
//   - Review: classification policy, symlink mode, collision handling
//   - Cache, Logging, History: ambient subsystems
type Config struct {
	Paths        Paths        `toml:"paths"`
	Scan         Scan         `toml:"scan"`
	Detection    Detection    `toml:"detection"`
	DetectorExec DetectorExec `toml:"detector_exec"`
	DetectorHTTP DetectorHTTP `toml:"detector_http"`
	DetectorGoCV DetectorGoCV `toml:"detector_gocv"`
	Review       Review       `toml:"review"`
	Cache        Cache        `toml:"cache"`
	Logging      Logging      `toml:"logging"`
	History      History      `toml:"history"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(filepath.Join(xdg.ConfigHome, "sift", "config.toml"))
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("sift.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a run writes to. The review
// directory is left alone so dry runs never touch the output tree.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.LogDir, c.Paths.StateDir}
	if c.Cache.Enabled {
		dirs = append(dirs, c.Paths.CacheDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// HistoryPath returns the sqlite database path for the run ledger.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// LockPath returns the path of the exclusive run lock.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "sift.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

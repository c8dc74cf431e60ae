package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sift/internal/config"
	"sift/internal/testsupport"
)

// detectorScript reports a dog in every image whose path contains "dog".
const detectorScript = `for p; do :; done
case "$p" in
*dog*) echo '[{"box":[10,20,110,220],"confidence":0.9,"class_id":16}]' ;;
*) echo '[]' ;;
esac`

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, detectorCommand string) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(map[string]string{
		"fake-detect": detectorScript,
	}))
	base := testsupport.BaseDir(cfg)
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	configPath := filepath.Join(homeDir, ".config", "sift", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg, detectorCommand)

	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func (e *cliTestEnv) gallery(t *testing.T, rels ...string) {
	t.Helper()
	for _, rel := range rels {
		testsupport.WritePNG(t, filepath.Join(e.cfg.Paths.GalleryDir, rel), 320, 320)
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, args, e.configPath)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config, detectorCommand string) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
gallery_dir = %q
review_dir = %q
cache_dir = %q
state_dir = %q
log_dir = %q

[scan]
workers = 2

[detector_exec]
command = %q
timeout_seconds = 10

[logging]
level = "error"
`,
		cfg.Paths.GalleryDir,
		cfg.Paths.ReviewDir,
		cfg.Paths.CacheDir,
		cfg.Paths.StateDir,
		cfg.Paths.LogDir,
		detectorCommand,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

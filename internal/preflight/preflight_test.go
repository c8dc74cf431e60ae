package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sift/internal/detection"
	"sift/internal/testsupport"
)

func TestCheckReadable_OK(t *testing.T) {
	result := CheckReadable("test", t.TempDir())
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckReadable_NotExist(t *testing.T) {
	result := CheckReadable("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckReadable_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckReadable("test", f); result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckWritable_CreatableChild(t *testing.T) {
	result := CheckWritable("review", filepath.Join(t.TempDir(), "a", "b"))
	if !result.Passed {
		t.Fatalf("expected pass for creatable dir, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "will be created") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckWritable_Empty(t *testing.T) {
	if result := CheckWritable("review", " "); result.Passed {
		t.Fatal("expected failure for empty path")
	}
}

type stubDetector struct {
	err error
}

func (stubDetector) Detect(context.Context, string) ([]detection.Raw, error) { return nil, nil }
func (stubDetector) Name() string                                              { return "stub:test" }
func (s stubDetector) Check(context.Context) error                             { return s.err }

func TestCheckDetector(t *testing.T) {
	if result := CheckDetector(context.Background(), stubDetector{}); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	failed := CheckDetector(context.Background(), stubDetector{err: context.DeadlineExceeded})
	if failed.Passed || !strings.Contains(failed.Detail, "timed out") {
		t.Fatalf("expected timeout summary, got %+v", failed)
	}
	failed = CheckDetector(context.Background(), stubDetector{err: errors.New("binary \"sift-detect\" not found")})
	if failed.Passed || !strings.Contains(failed.Detail, "stub:test") {
		t.Fatalf("expected named failure, got %+v", failed)
	}
	if result := CheckDetector(context.Background(), nil); result.Passed {
		t.Fatal("nil detector should fail")
	}
}

func TestRunAll(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(map[string]string{"sift-detect": ""}))
	if err := os.MkdirAll(cfg.Paths.GalleryDir, 0o755); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), cfg)
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("expected all checks to pass, failed: %+v", failed)
	}
	names := map[string]bool{}
	for _, r := range results {
		names[r.Name] = true
	}
	for _, want := range []string{"Gallery directory", "Review directory", "Cache directory", "Detector", "Subject classes"} {
		if !names[want] {
			t.Errorf("missing check %q in %+v", want, results)
		}
	}
}

func TestRunAll_MissingDetector(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.DetectorExec.Command = "clearly-not-present-detector"

	failed := Failed(RunAll(context.Background(), cfg))
	var sawDetector bool
	for _, r := range failed {
		if r.Name == "Detector" {
			sawDetector = true
		}
	}
	if !sawDetector {
		t.Fatalf("expected detector failure, got %+v", failed)
	}
}

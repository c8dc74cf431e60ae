package execdetector_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sift/internal/detection/execdetector"
	"sift/internal/services"
	"sift/internal/testsupport"
)

func TestDetectParsesArrayOutput(t *testing.T) {
	testsupport.NewConfig(t, testsupport.WithStubbedBinaries(map[string]string{
		"fake-detect": `echo '[{"box":[1,2,30,40],"confidence":0.87,"class_id":16}]'`,
	}))

	det, err := execdetector.New(execdetector.Options{Command: "fake-detect", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := det.Check(context.Background()); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	raws, err := det.Detect(context.Background(), "/g/a.jpg")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(raws) != 1 || raws[0].ClassID != 16 || raws[0].Confidence != 0.87 || raws[0].Box[3] != 40 {
		t.Fatalf("unexpected raws: %+v", raws)
	}
}

func TestDetectSubstitutesPlaceholders(t *testing.T) {
	// The stub echoes its arguments back inside the envelope shape.
	testsupport.NewConfig(t, testsupport.WithStubbedBinaries(map[string]string{
		"echo-detect": `if [ "$1" = "--size" ] && [ "$2" = "small" ] && [ "$3" = "/g/b.jpg" ]; then
  echo '{"detections":[{"box":[0,0,5,5],"confidence":0.6,"class_id":15}]}'
else
  echo "bad args: $*" >&2; exit 3
fi`,
	}))

	det, err := execdetector.New(execdetector.Options{
		Command:   "echo-detect",
		Args:      []string{"--size", "{model_size}", "{path}"},
		ModelSize: "small",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	raws, err := det.Detect(context.Background(), "/g/b.jpg")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(raws) != 1 || raws[0].ClassID != 15 {
		t.Fatalf("unexpected raws: %+v", raws)
	}
}

func TestDetectReportsCommandFailure(t *testing.T) {
	testsupport.NewConfig(t, testsupport.WithStubbedBinaries(map[string]string{
		"broken-detect": `echo "model missing" >&2; exit 1`,
	}))
	det, err := execdetector.New(execdetector.Options{Command: "broken-detect"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = det.Detect(context.Background(), "/g/a.jpg")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestDetectRejectsInvalidJSON(t *testing.T) {
	testsupport.NewConfig(t, testsupport.WithStubbedBinaries(map[string]string{
		"chatty-detect": `echo "loading model..."`,
	}))
	det, err := execdetector.New(execdetector.Options{Command: "chatty-detect"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := det.Detect(context.Background(), "/g/a.jpg"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCheckMissingCommand(t *testing.T) {
	det, err := execdetector.New(execdetector.Options{Command: "definitely-not-a-real-detector"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := det.Check(context.Background()); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestNewRejectsEmptyCommand(t *testing.T) {
	if _, err := execdetector.New(execdetector.Options{Command: "  "}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestParseShapes(t *testing.T) {
	raws, err := execdetector.Parse([]byte(" [] \n"))
	if err != nil || len(raws) != 0 {
		t.Fatalf("expected empty array to parse, got %v %v", raws, err)
	}
	raws, err = execdetector.Parse([]byte(`{"detections":[{"box":[1,1,2,2],"confidence":0.5,"class_id":14}]}`))
	if err != nil || len(raws) != 1 {
		t.Fatalf("expected envelope to parse, got %v %v", raws, err)
	}
	if _, err := execdetector.Parse(nil); err == nil {
		t.Fatal("expected empty output to fail")
	}
}

// Package execdetector runs object detection by invoking an external command
// per image and decoding the JSON it prints.
//
// Arguments may contain the placeholders {path} and {model_size}. When no
// argument mentions {path}, the image path is appended. The command must
// print either a JSON array of hits or an object with a "detections" array;
// each hit is {"box": [x1, y1, x2, y2], "confidence": c, "class_id": n}.
package execdetector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"sift/internal/detection"
	"sift/internal/services"
)

// Options configures the detector command.
type Options struct {
	Command   string
	Args      []string
	ModelSize string
	Timeout   time.Duration
}

// Detector implements detection.Detector with a subprocess per image.
type Detector struct {
	command   string
	args      []string
	modelSize string
	timeout   time.Duration
}

// New validates the options; it does not check that the command exists.
func New(opts Options) (*Detector, error) {
	command := strings.TrimSpace(opts.Command)
	if command == "" {
		return nil, services.Wrap(services.ErrConfiguration, "detection", "init exec detector", "detector command is empty", nil)
	}
	return &Detector{
		command:   command,
		args:      append([]string(nil), opts.Args...),
		modelSize: strings.TrimSpace(opts.ModelSize),
		timeout:   opts.Timeout,
	}, nil
}

// Name identifies the backend in logs and preflight output.
func (d *Detector) Name() string {
	return "exec:" + d.command
}

// Check verifies the command resolves on PATH.
func (d *Detector) Check(context.Context) error {
	if _, err := exec.LookPath(d.command); err != nil {
		return services.Wrap(services.ErrExternalTool, "detection", "locate detector", fmt.Sprintf("detector command %q not found", d.command), err)
	}
	return nil
}

// Detect implements detection.Detector.
func (d *Detector) Detect(ctx context.Context, path string) ([]detection.Raw, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("exec detector: empty path")
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, d.command, d.buildArgs(path)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, services.Wrap(services.ErrExternalTool, "detection", "run detector",
			strings.TrimSpace(stderr.String()), err)
	}

	raws, err := Parse(stdout.Bytes())
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "detection", "parse detector output", "detector printed invalid JSON", err)
	}
	return raws, nil
}

func (d *Detector) buildArgs(path string) []string {
	args := make([]string, 0, len(d.args)+1)
	hasPath := false
	for _, arg := range d.args {
		if strings.Contains(arg, "{path}") {
			hasPath = true
		}
		arg = strings.ReplaceAll(arg, "{path}", path)
		arg = strings.ReplaceAll(arg, "{model_size}", d.modelSize)
		args = append(args, arg)
	}
	if !hasPath {
		args = append(args, path)
	}
	return args
}

// Parse decodes detector output in either accepted shape.
func Parse(data []byte) ([]detection.Raw, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty output")
	}
	if trimmed[0] == '[' {
		var raws []detection.Raw
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, err
		}
		return raws, nil
	}
	var envelope struct {
		Detections []detection.Raw `json:"detections"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	return envelope.Detections, nil
}

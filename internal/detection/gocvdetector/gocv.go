//go:build gocv

package gocvdetector

import (
	"context"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"sift/internal/detection"
	"sift/internal/services"
)

// Detector implements detection.Detector with an OpenCV DNN network. The
// network is not safe for concurrent use, so inference is serialized.
type Detector struct {
	mu        sync.Mutex
	net       gocv.Net
	inputSize int
	model     string
}

// New loads the network from disk.
func New(opts Options) (*Detector, error) {
	model := strings.TrimSpace(opts.ModelPath)
	if model == "" {
		return nil, services.Wrap(services.ErrConfiguration, "detection", "init gocv detector", "model path is empty", nil)
	}
	if _, err := os.Stat(model); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "detection", "init gocv detector", "model file not found", err)
	}
	if cfgPath := strings.TrimSpace(opts.ConfigPath); cfgPath != "" {
		if _, err := os.Stat(cfgPath); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "detection", "init gocv detector", "model config file not found", err)
		}
	}

	net := gocv.ReadNet(model, strings.TrimSpace(opts.ConfigPath))
	if net.Empty() {
		return nil, services.Wrap(services.ErrExternalTool, "detection", "init gocv detector", "failed to load network", nil)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, services.Wrap(services.ErrExternalTool, "detection", "init gocv detector", "set backend", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, services.Wrap(services.ErrExternalTool, "detection", "init gocv detector", "set target", err)
	}

	size := opts.InputSize
	if size <= 0 {
		size = 300
	}
	return &Detector{net: net, inputSize: size, model: model}, nil
}

// Name identifies the backend in logs and preflight output.
func (d *Detector) Name() string {
	return "gocv:" + d.model
}

// Check reports whether the network is loaded.
func (d *Detector) Check(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.net.Empty() {
		return services.Wrap(services.ErrExternalTool, "detection", "check gocv detector", "network not loaded", nil)
	}
	return nil
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// Detect implements detection.Detector.
func (d *Detector) Detect(ctx context.Context, path string) ([]detection.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("decode %s: empty image", path)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	d.mu.Unlock()
	defer output.Close()

	cols, rows := float64(mat.Cols()), float64(mat.Rows())
	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()

	raws := make([]detection.Raw, 0, reshaped.Rows())
	for i := 0; i < reshaped.Rows(); i++ {
		classID := contiguousClass(int(reshaped.GetFloatAt(i, 1)))
		if classID < 0 {
			continue
		}
		raws = append(raws, detection.Raw{
			Box: [4]float64{
				float64(reshaped.GetFloatAt(i, 3)) * cols,
				float64(reshaped.GetFloatAt(i, 4)) * rows,
				float64(reshaped.GetFloatAt(i, 5)) * cols,
				float64(reshaped.GetFloatAt(i, 6)) * rows,
			},
			Confidence: float64(reshaped.GetFloatAt(i, 2)),
			ClassID:    classID,
		})
	}
	return raws, nil
}

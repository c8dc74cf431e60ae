// Package httpdetector sends images to a remote inference service.
//
// Each image is POSTed as the raw request body with its sniffed content type.
// The model size travels as the "model_size" query parameter and the API key,
// when set, as a bearer token. The service answers with
// {"detections": [{"box": [...], "confidence": c, "class_id": n}]}.
package httpdetector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"sift/internal/detection"
	"sift/internal/services"
)

// maxResponseBytes bounds how much of a response body is decoded.
const maxResponseBytes = 8 << 20

// HTTPDoer describes the HTTP client used by the detector.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures the remote service.
type Options struct {
	URL       string
	APIKey    string
	ModelSize string
	Timeout   time.Duration
	Client    HTTPDoer
}

// Detector implements detection.Detector over HTTP.
type Detector struct {
	endpoint  *url.URL
	apiKey    string
	modelSize string
	timeout   time.Duration
	client    HTTPDoer
}

// New validates the endpoint URL.
func New(opts Options) (*Detector, error) {
	raw := strings.TrimSpace(opts.URL)
	endpoint, err := url.Parse(raw)
	if err != nil || raw == "" || (endpoint.Scheme != "http" && endpoint.Scheme != "https") || endpoint.Host == "" {
		return nil, services.Wrap(services.ErrConfiguration, "detection", "init http detector", fmt.Sprintf("invalid detector url %q", raw), err)
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Detector{
		endpoint:  endpoint,
		apiKey:    strings.TrimSpace(opts.APIKey),
		modelSize: strings.TrimSpace(opts.ModelSize),
		timeout:   opts.Timeout,
		client:    client,
	}, nil
}

// Name identifies the backend in logs and preflight output.
func (d *Detector) Name() string {
	return "http:" + d.endpoint.Host
}

// Check confirms the service answers. Any response below 500 counts as
// reachable since many services reject GET on the detect endpoint.
func (d *Detector) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build detector health request: %w", err)
	}
	d.authorize(req)
	resp, err := d.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "detection", "reach detector", "detector service unreachable", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= http.StatusInternalServerError {
		return services.Wrap(services.ErrExternalTool, "detection", "reach detector", fmt.Sprintf("detector service returned %d", resp.StatusCode), nil)
	}
	return nil
}

// Detect implements detection.Detector.
func (d *Detector) Detect(ctx context.Context, path string) ([]detection.Raw, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("sniff content: %w", err)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	target := *d.endpoint
	query := target.Query()
	if d.modelSize != "" {
		query.Set("model_size", d.modelSize)
	}
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), file)
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", mtype.String())
	req.Header.Set("Accept", "application/json")
	d.authorize(req)

	resp, err := d.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, services.Wrap(services.ErrExternalTool, "detection", "call detector", "request failed", err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxResponseBytes)
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(body, 512))
		marker := services.ErrExternalTool
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			marker = services.ErrTransient
		}
		return nil, services.Wrap(marker, "detection", "call detector",
			fmt.Sprintf("detector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
	}

	var payload struct {
		Detections []detection.Raw `json:"detections"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "detection", "decode detector response", "invalid JSON", err)
	}
	if payload.Detections == nil {
		return nil, errors.New("detector response missing detections")
	}
	return payload.Detections, nil
}

func (d *Detector) authorize(req *http.Request) {
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}
}

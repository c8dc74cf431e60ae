package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"sift/internal/config"
	"sift/internal/detection/backend"
)

const detectorCheckTimeout = 30 * time.Second

// CheckDetector verifies the configured backend can serve requests. It uses
// a 30-second timeout and a single attempt.
func CheckDetector(ctx context.Context, det backend.Detector) Result {
	const name = "Detector"
	if det == nil {
		return Result{Name: name, Detail: "no detector configured"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, detectorCheckTimeout)
	defer cancel()

	if err := det.Check(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s: %s", det.Name(), summarizeDetectorError(err))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (ready)", det.Name())}
}

// CheckClassTable reports the subject classes the run will keep.
func CheckClassTable(cfg *config.Config) Result {
	const name = "Subject classes"
	table, err := cfg.ClassTable()
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	labels := make([]string, 0, len(table))
	for _, label := range table {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	detail := strings.Join(labels, ", ")
	if len(labels) > 6 {
		detail = strings.Join(labels[:6], ", ") + fmt.Sprintf(" (+%d more)", len(labels)-6)
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckReadable verifies that path is an existing, listable directory.
func CheckReadable(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read ok)", path)}
}

// CheckWritable verifies that path is a writable directory, or that its
// nearest existing ancestor is writable so it can be created.
func CheckWritable(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if !info.IsDir() {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
		}
		if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
	case os.IsNotExist(err):
		parent := nearestExisting(path)
		if parent == "" {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: no existing parent)", path)}
		}
		if err := unix.Access(parent, unix.W_OK|unix.X_OK); err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: cannot create under %s: %v)", path, parent, err)}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (will be created)", path)}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
}

func nearestExisting(path string) string {
	dir := filepath.Clean(path)
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		if info, err := os.Stat(parent); err == nil && info.IsDir() {
			return parent
		}
		dir = parent
	}
}

func summarizeDetectorError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (detector unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (detector unreachable)"
	}
	return err.Error()
}

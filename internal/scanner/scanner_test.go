package scanner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"

	"sift/internal/detectcache"
	"sift/internal/detection"
	"sift/internal/scanner"
	"sift/internal/services"
	"sift/internal/testsupport"
)

var animals = map[int]string{14: "bird", 15: "cat", 16: "dog", 17: "horse"}

type harness struct {
	fake  *testsupport.FakeDetector
	cache *detectcache.Cache
	scan  *scanner.Scanner
}

func newHarness(t *testing.T, cacheDir string, mutate func(*scanner.Options)) *harness {
	t.Helper()
	fake := testsupport.NewFakeDetector()
	adapter, err := detection.NewAdapter(fake, testsupport.FixedProber{Width: 640, Height: 480}, detection.Filter{
		Threshold: 0.5,
		Classes:   animals,
	})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	cache, err := detectcache.Open(cacheDir, nil)
	if err != nil {
		t.Fatalf("Open cache: %v", err)
	}
	opts := scanner.Options{
		Store:      cache,
		Detector:   adapter,
		Workers:    3,
		Extensions: []string{".jpg", ".jpeg", ".png"},
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := scanner.New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{fake: fake, cache: cache, scan: s}
}

func resultFor(t *testing.T, out scanner.Outcome, base string) detection.Result {
	t.Helper()
	for _, r := range out.Results {
		if filepath.Base(r.Path) == base {
			return r
		}
	}
	t.Fatalf("no result for %s in %d results", base, len(out.Results))
	return detection.Result{}
}

func TestScanCachesAcrossRuns(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "gallery", "cats")
	img := filepath.Join(root, "pair.jpg")
	testsupport.WriteFile(t, img, 256)
	cacheDir := filepath.Join(base, "cache")

	first := newHarness(t, cacheDir, nil)
	first.fake.Respond("pair.jpg", testsupport.Hit(15, 0.9), testsupport.Hit(16, 0.6))

	out, err := first.scan.Scan(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	a := resultFor(t, out, "pair.jpg")
	if a.Count != 2 {
		t.Fatalf("expected 2 detections, got %d", a.Count)
	}
	if len(a.Labels) != 2 || a.Labels[0] != "cat" || a.Labels[1] != "dog" {
		t.Fatalf("unexpected labels %v", a.Labels)
	}
	if out.Cache.Misses != 1 || out.Cache.Hits != 0 {
		t.Fatalf("first scan cache stats %+v", out.Cache)
	}

	second := newHarness(t, cacheDir, nil)
	out, err = second.scan.Scan(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if out.Cache.Hits != 1 || out.Cache.Misses != 0 {
		t.Fatalf("second scan cache stats %+v", out.Cache)
	}
	if second.fake.Calls() != 0 {
		t.Fatalf("detector ran %d times for an unchanged file", second.fake.Calls())
	}
	b := resultFor(t, out, "pair.jpg")
	if b.Count != a.Count || b.Detections[0] != a.Detections[0] || b.Detections[1] != a.Detections[1] {
		t.Fatalf("cached result differs: %+v vs %+v", b, a)
	}
	if out.Stats.Cached != 1 || out.Stats.Processed != 0 {
		t.Fatalf("unexpected partition %+v", out.Stats)
	}

	testsupport.WriteFile(t, img, 1024)
	third := newHarness(t, cacheDir, nil)
	third.fake.Respond("pair.jpg", testsupport.Hit(17, 0.7))
	out, err = third.scan.Scan(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("third scan: %v", err)
	}
	if out.Cache.Misses != 1 {
		t.Fatalf("modified file should miss, stats %+v", out.Cache)
	}
	c := resultFor(t, out, "pair.jpg")
	if c.Count != 1 || c.Labels[0] != "horse" {
		t.Fatalf("expected fresh result, got %+v", c)
	}
}

func TestScanEnumeration(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "gallery")
	review := filepath.Join(root, "review")
	for _, rel := range []string{
		"a.jpg",
		"b.JPEG",
		"nested/deep/c.Png",
		"notes.txt",
		".thumbs/hidden.jpg",
		"review/by_type/cat/old.jpg",
	} {
		testsupport.WriteFile(t, filepath.Join(root, rel), 32)
	}
	outside := filepath.Join(base, "outside.jpg")
	testsupport.WriteFile(t, outside, 32)
	if err := os.Symlink(outside, filepath.Join(root, "link.jpg")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	h := newHarness(t, filepath.Join(base, "cache"), func(o *scanner.Options) {
		o.Exclude = []string{review}
	})
	out, err := h.scan.Scan(context.Background(), []string{root, root})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	var got []string
	for _, r := range out.Results {
		rel, _ := filepath.Rel(root, r.Path)
		got = append(got, rel)
	}
	sort.Strings(got)
	want := []string{"a.jpg", "b.JPEG", filepath.Join("nested", "deep", "c.Png")}
	if len(got) != len(want) {
		t.Fatalf("enumerated %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("enumerated %v, want %v", got, want)
		}
	}
	if len(out.Stats.Roots) != 1 {
		t.Errorf("duplicate roots should collapse, got %v", out.Stats.Roots)
	}
}

func TestScanSkipsMissingRoot(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "present")
	testsupport.WriteFile(t, filepath.Join(root, "a.jpg"), 32)
	missing := filepath.Join(base, "absent")

	h := newHarness(t, filepath.Join(base, "cache"), nil)
	out, err := h.scan.Scan(context.Background(), []string{missing, root})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(out.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out.Results))
	}
	if len(out.Stats.MissingRoots) != 1 || out.Stats.MissingRoots[0] != missing {
		t.Fatalf("missing roots %v", out.Stats.MissingRoots)
	}
}

func TestScanNoReadableRoots(t *testing.T) {
	base := t.TempDir()
	h := newHarness(t, filepath.Join(base, "cache"), nil)

	_, err := h.scan.Scan(context.Background(), []string{filepath.Join(base, "nope")})
	if !errors.Is(err, scanner.ErrNoRoots) {
		t.Fatalf("expected ErrNoRoots, got %v", err)
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if services.ExitCode(err) != 2 {
		t.Fatalf("exit code = %d, want 2", services.ExitCode(err))
	}
}

func TestScanFailuresAreRetried(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "gallery")
	testsupport.WriteFile(t, filepath.Join(root, "bad.jpg"), 32)
	testsupport.WriteFile(t, filepath.Join(root, "good.jpg"), 32)
	cacheDir := filepath.Join(base, "cache")

	h := newHarness(t, cacheDir, nil)
	h.fake.Fail("bad.jpg", errors.New("model crashed"))
	h.fake.Respond("good.jpg", testsupport.Hit(15, 0.8))

	out, err := h.scan.Scan(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	bad := resultFor(t, out, "bad.jpg")
	if !bad.Failed() || bad.HasDetections {
		t.Fatalf("expected failed result, got %+v", bad)
	}
	if out.Stats.Failed != 1 || out.Stats.WithHits != 1 {
		t.Fatalf("unexpected stats %+v", out.Stats)
	}

	again := newHarness(t, cacheDir, nil)
	out, err = again.scan.Scan(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if again.fake.Calls() != 1 {
		t.Fatalf("only the failed file should be retried, detector calls = %d", again.fake.Calls())
	}
	if out.Cache.Hits != 1 || out.Cache.Misses != 1 {
		t.Fatalf("rescan cache stats %+v", out.Cache)
	}
}

func TestScanCancelledBeforeDispatch(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "gallery")
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		testsupport.WriteFile(t, filepath.Join(root, name), 32)
	}
	h := newHarness(t, filepath.Join(base, "cache"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := h.scan.Scan(ctx, []string{root})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.fake.Calls() != 0 {
		t.Fatalf("detector should not run after cancellation, calls = %d", h.fake.Calls())
	}
	if out.Stats.Files != 3 {
		t.Fatalf("enumeration should still be reported, got %+v", out.Stats)
	}
}

type countingReporter struct {
	total    atomic.Int64
	advanced atomic.Int64
	finished atomic.Bool
}

func (c *countingReporter) Start(total int) { c.total.Store(int64(total)) }
func (c *countingReporter) Advance()        { c.advanced.Add(1) }
func (c *countingReporter) Finish()         { c.finished.Store(true) }

func TestScanReportsProgress(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "gallery")
	for i := range 25 {
		testsupport.WriteFile(t, filepath.Join(root, string(rune('a'+i))+".jpg"), 32)
	}
	reporter := &countingReporter{}
	h := newHarness(t, filepath.Join(base, "cache"), func(o *scanner.Options) {
		o.Progress = reporter
		o.ProgressEvery = 5
	})

	out, err := h.scan.Scan(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(out.Results) != 25 {
		t.Fatalf("expected 25 results, got %d", len(out.Results))
	}
	if reporter.total.Load() != 25 || reporter.advanced.Load() != 25 || !reporter.finished.Load() {
		t.Fatalf("reporter saw total=%d advanced=%d finished=%v",
			reporter.total.Load(), reporter.advanced.Load(), reporter.finished.Load())
	}
}

func TestNewRequiresDetector(t *testing.T) {
	_, err := scanner.New(scanner.Options{Extensions: []string{".jpg"}})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

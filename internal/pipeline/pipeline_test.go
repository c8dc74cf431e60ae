package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"sift/internal/config"
	"sift/internal/history"
	"sift/internal/pipeline"
	"sift/internal/relocate"
	"sift/internal/report"
	"sift/internal/services"
	"sift/internal/testsupport"
)

func gallery(t *testing.T, cfg *config.Config, rels ...string) {
	t.Helper()
	for _, rel := range rels {
		testsupport.WritePNG(t, filepath.Join(cfg.Paths.GalleryDir, rel), 320, 320)
	}
}

func run(t *testing.T, cfg *config.Config, fake *testsupport.FakeDetector, opts pipeline.Options) *pipeline.Result {
	t.Helper()
	opts.Detector = fake
	res, err := pipeline.New(cfg, nil).Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestDryRunLeavesReviewTreeUntouched(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gallery(t, cfg, "cats/a.png", "cats/b.png", "dogs/c.png", "dogs/empty.png")
	fake := testsupport.NewFakeDetector().
		Respond("a.png", testsupport.Hit(15, 0.9)).
		Respond("b.png", testsupport.Hit(15, 0.7)).
		Respond("c.png", testsupport.Hit(16, 0.6))

	res := run(t, cfg, fake, pipeline.Options{DryRun: true})

	if res.Summary.TotalCandidates != 3 || !res.Summary.DryRun {
		t.Fatalf("summary %+v", res.Summary)
	}
	for _, rec := range res.Records {
		if rec.Outcome != relocate.OutcomePlanned {
			t.Fatalf("dry run produced %s record", rec.Outcome)
		}
	}
	if _, err := os.Stat(cfg.Paths.ReviewDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("review dir should not exist after dry run, stat err = %v", err)
	}
	if res.SummaryWritten {
		t.Fatal("summary must not be written in a dry run")
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.GalleryDir, "cats", "a.png")); err != nil {
		t.Fatalf("source moved during dry run: %v", err)
	}
	if len(res.Roots) != 2 {
		t.Fatalf("expected gallery subdirectories as roots, got %v", res.Roots)
	}
}

func TestRealRunMovesAndWritesSummary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gallery(t, cfg, "cats/pair.png", "cats/solo.png", "cats/none.png")
	fake := testsupport.NewFakeDetector().
		Respond("pair.png", testsupport.Hit(15, 0.9), testsupport.Hit(16, 0.6)).
		Respond("solo.png", testsupport.Hit(15, 0.8))

	res := run(t, cfg, fake, pipeline.Options{})

	byName := map[string]relocate.Record{}
	for _, rec := range res.Records {
		byName[filepath.Base(rec.Source)] = rec
	}
	if got := byName["pair.png"]; got.Bucket != "mixed" || got.Outcome != relocate.OutcomeMoved {
		t.Fatalf("pair record %+v", got)
	}
	if got := byName["solo.png"]; got.Target != filepath.Join(cfg.Paths.ReviewDir, "by_type", "cat", "cats", "solo.png") {
		t.Fatalf("solo target %s", got.Target)
	}
	if _, ok := byName["none.png"]; ok {
		t.Fatal("image without detections must not produce a record")
	}
	if !res.SummaryWritten {
		t.Fatal("expected summary to be written")
	}
	for _, name := range []string{report.SummaryFile, report.ReadmeFile} {
		if _, err := os.Stat(filepath.Join(cfg.Paths.ReviewDir, name)); err != nil {
			t.Fatalf("%s missing: %v", name, err)
		}
	}

	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer store.Close()
	runs, err := store.List(context.Background(), 0)
	if err != nil || len(runs) != 1 || runs[0].ID != res.RunID {
		t.Fatalf("history runs=%+v err=%v", runs, err)
	}
}

func TestDiscoveredSubdirectoriesKeepTheirNames(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Review.Symlinks = true
	gallery(t, cfg, "trip/a.png", "home/a.png")
	fake := testsupport.NewFakeDetector().Respond("a.png", testsupport.Hit(15, 0.9))

	res := run(t, cfg, fake, pipeline.Options{})

	if len(res.Records) != 2 {
		t.Fatalf("records %+v", res.Records)
	}
	for _, rec := range res.Records {
		sub := filepath.Base(filepath.Dir(rec.Source))
		want := filepath.Join(cfg.Paths.ReviewDir, "by_type", "cat", sub, "a.png")
		if rec.Outcome != relocate.OutcomeLinked || rec.Target != want {
			t.Fatalf("record %+v, want linked at %s", rec, want)
		}
		dest, err := os.Readlink(want)
		if err != nil || dest != rec.Source {
			t.Fatalf("link %s -> %s (err %v), want %s", want, dest, err, rec.Source)
		}
	}
}

func TestFailedMovesStillCountAsCandidates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Review.Collision = "overwrite"
	gallery(t, cfg, "trip/cat.png", "home/dog.png")
	fake := testsupport.NewFakeDetector().
		Respond("cat.png", testsupport.Hit(15, 0.9)).
		Respond("dog.png", testsupport.Hit(16, 0.9))
	// A file where the cat bucket's trip directory belongs makes that move fail.
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.ReviewDir, "by_type", "cat", "trip"), 3)

	dry := run(t, cfg, fake, pipeline.Options{DryRun: true})
	live := run(t, cfg, fake, pipeline.Options{})

	if dry.Summary.TotalCandidates != 2 || dry.Summary.TotalErrors != 0 {
		t.Fatalf("dry summary candidates=%d errors=%d", dry.Summary.TotalCandidates, dry.Summary.TotalErrors)
	}
	if live.Summary.TotalCandidates != dry.Summary.TotalCandidates {
		t.Fatalf("real run candidates=%d, dry run candidates=%d", live.Summary.TotalCandidates, dry.Summary.TotalCandidates)
	}
	if live.Summary.TotalErrors != 1 || live.Summary.Outcomes["failed"] != 1 || live.Summary.Outcomes["moved"] != 1 {
		t.Fatalf("real summary errors=%d outcomes=%v", live.Summary.TotalErrors, live.Summary.Outcomes)
	}
	if live.Summary.Buckets["by_type/cat"] != 1 || live.Summary.Buckets["by_type/dog"] != 1 {
		t.Fatalf("buckets %v", live.Summary.Buckets)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.GalleryDir, "trip", "cat.png")); err != nil {
		t.Fatalf("failed move must leave the source in place: %v", err)
	}
}

func TestBaseDirs(t *testing.T) {
	gallery := "/data/gallery"
	got := pipeline.BaseDirs(gallery, []string{"/data/gallery/trip", "/data/gallery/home", "/data/gallery", "/other/pics"})
	want := []string{"/data/gallery", "/other"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("BaseDirs = %v, want %v", got, want)
	}
}

func TestSymlinkRunReplacesExistingTarget(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Review.Symlinks = true
	gallery(t, cfg, "a.png")
	target := filepath.Join(cfg.Paths.ReviewDir, "by_type", "cat", "a.png")
	testsupport.WriteFile(t, target, 5)
	fake := testsupport.NewFakeDetector().Respond("a.png", testsupport.Hit(15, 0.9))

	res := run(t, cfg, fake, pipeline.Options{})

	if len(res.Records) != 1 || res.Records[0].Outcome != relocate.OutcomeLinked {
		t.Fatalf("records %+v", res.Records)
	}
	info, err := os.Lstat(target)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		t.Fatalf("expected symlink at %s (err %v)", target, err)
	}
}

func TestSecondRunServedFromCache(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gallery(t, cfg, "a.png", "b.png")
	fake := testsupport.NewFakeDetector().Respond("a.png", testsupport.Hit(15, 0.9))

	run(t, cfg, fake, pipeline.Options{DryRun: true})
	if fake.Calls() != 2 {
		t.Fatalf("first run detector calls = %d", fake.Calls())
	}
	res := run(t, cfg, fake, pipeline.Options{DryRun: true})
	if fake.Calls() != 2 {
		t.Fatalf("second run should be served from cache, calls = %d", fake.Calls())
	}
	if res.Scan.Cache.Hits != 2 || res.Scan.Cache.Misses != 0 {
		t.Fatalf("cache stats %+v", res.Scan.Cache)
	}

	res = run(t, cfg, fake, pipeline.Options{DryRun: true, ClearCache: true})
	if res.CacheCleared != 2 || fake.Calls() != 4 {
		t.Fatalf("cleared=%d calls=%d", res.CacheCleared, fake.Calls())
	}
}

func TestCacheDisabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Cache.Enabled = false
	gallery(t, cfg, "a.png")
	fake := testsupport.NewFakeDetector()

	run(t, cfg, fake, pipeline.Options{DryRun: true})
	run(t, cfg, fake, pipeline.Options{DryRun: true})
	if fake.Calls() != 2 {
		t.Fatalf("disabled cache should re-detect, calls = %d", fake.Calls())
	}
	if _, err := os.Stat(cfg.Paths.CacheDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("disabled cache should not create its directory, err = %v", err)
	}
}

func TestReportOnly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gallery(t, cfg, "a.png", "b.png")
	fake := testsupport.NewFakeDetector().Respond("a.png", testsupport.Hit(15, 0.95))
	reportPath := filepath.Join(testsupport.BaseDir(cfg), "out", "scan.json")

	res := run(t, cfg, fake, pipeline.Options{ReportPath: reportPath, ReportOnly: true})

	if len(res.Records) != 0 {
		t.Fatalf("report-only must not relocate, got %d records", len(res.Records))
	}
	if res.Report == nil {
		t.Fatal("expected report paths")
	}
	data, err := os.ReadFile(res.Report.DeleteCandidates)
	if err != nil {
		t.Fatalf("read candidates: %v", err)
	}
	if !strings.Contains(string(data), "a.png # confidence: 0.950") {
		t.Fatalf("unexpected candidates:\n%s", data)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.GalleryDir, "a.png")); err != nil {
		t.Fatalf("report-only moved a file: %v", err)
	}
}

func TestNoReadableRootsIsConfigurationError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := pipeline.New(cfg, nil).Run(context.Background(), pipeline.Options{
		Detector: testsupport.NewFakeDetector(),
	})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, statErr := os.Stat(cfg.Paths.ReviewDir); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("no relocation should happen when roots are missing")
	}
}

func TestMissingDetectorAbortsRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.DetectorExec.Command = "clearly-not-present-detector"
	gallery(t, cfg, "a.png")

	_, err := pipeline.New(cfg, nil).Run(context.Background(), pipeline.Options{})
	if services.ExitCode(err) != 2 {
		t.Fatalf("expected configuration exit code, got %v", err)
	}
}

func TestConcurrentRunRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gallery(t, cfg, "a.png")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	held := flock.New(cfg.LockPath())
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("hold lock: ok=%v err=%v", ok, err)
	}
	defer held.Unlock()

	_, err := pipeline.New(cfg, nil).Run(context.Background(), pipeline.Options{
		Detector: testsupport.NewFakeDetector(),
		DryRun:   true,
	})
	if !errors.Is(err, pipeline.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
}

func TestResolveRoots(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.ReviewDir = filepath.Join(cfg.Paths.GalleryDir, "review")

	if roots := pipeline.ResolveRoots(cfg, nil); len(roots) != 1 || roots[0] != cfg.Paths.GalleryDir {
		t.Fatalf("missing gallery should fall back to itself, got %v", roots)
	}

	for _, dir := range []string{"b", "a", ".hidden", "review"} {
		if err := os.MkdirAll(filepath.Join(cfg.Paths.GalleryDir, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	roots := pipeline.ResolveRoots(cfg, nil)
	want := []string{filepath.Join(cfg.Paths.GalleryDir, "a"), filepath.Join(cfg.Paths.GalleryDir, "b")}
	if len(roots) != 2 || roots[0] != want[0] || roots[1] != want[1] {
		t.Fatalf("roots %v, want %v", roots, want)
	}

	cfg.Scan.Subdirs = []string{"b", "/abs/elsewhere"}
	roots = pipeline.ResolveRoots(cfg, nil)
	if roots[0] != want[1] || roots[1] != "/abs/elsewhere" {
		t.Fatalf("subdir roots %v", roots)
	}

	if roots := pipeline.ResolveRoots(cfg, []string{"/x", " "}); len(roots) != 1 || roots[0] != "/x" {
		t.Fatalf("explicit roots %v", roots)
	}
}

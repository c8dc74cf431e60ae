package logging

import "testing"

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(0)
	if s.bucketSize != 10 {
		t.Fatalf("expected default bucket 10, got %v", s.bucketSize)
	}
	if !s.ShouldLog("scan", 0, 100) {
		t.Fatal("expected first call to log")
	}
	if s.ShouldLog("scan", 5, 100) {
		t.Fatal("expected same bucket to be suppressed")
	}
	if !s.ShouldLog("scan", 10, 100) {
		t.Fatal("expected new bucket to log")
	}
	if s.ShouldLog("scan", 9, 100) {
		t.Fatal("expected lower bucket to be suppressed")
	}
	if !s.ShouldLog("scan", 250, 100) {
		t.Fatal("expected completion to log")
	}
}

func TestProgressSamplerPhaseChangeAndReset(t *testing.T) {
	s := NewProgressSampler(25)
	s.ShouldLog("scan", 50, 100)
	if !s.ShouldLog("relocate", 0, 10) {
		t.Fatal("expected phase change to log")
	}
	if s.ShouldLog("relocate", 1, 10) {
		t.Fatal("expected same bucket to be suppressed")
	}
	s.Reset()
	if !s.ShouldLog("relocate", 1, 10) {
		t.Fatal("expected reset sampler to log")
	}
	if s.ShouldLog("relocate", 2, 0) {
		t.Fatal("expected unknown total to emit only on phase change")
	}
}

func TestNilProgressSamplerAlwaysLogs(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog("scan", 1, 2) {
		t.Fatal("expected nil sampler to log")
	}
	s.Reset()
}

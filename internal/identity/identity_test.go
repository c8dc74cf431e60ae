package identity_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"sift/internal/identity"
)

func TestOfIsStableForUnchangedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")
	if err := os.WriteFile(path, []byte("pixels"), 0o644); err != nil {
		t.Fatal(err)
	}
	first, abs, err := identity.Of(path)
	if err != nil {
		t.Fatalf("Of failed: %v", err)
	}
	second, _, err := identity.Of(path)
	if err != nil {
		t.Fatalf("Of failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable key, got %s then %s", first, second)
	}
	if abs != path {
		t.Fatalf("expected absolute path %q, got %q", path, abs)
	}
	if len(first) != 64 {
		t.Fatalf("expected 64-char key, got %d", len(first))
	}
	if err := first.Validate(); err != nil {
		t.Fatalf("expected valid digest: %v", err)
	}
	if first.Shard() != string(first)[:2] {
		t.Fatalf("unexpected shard %q", first.Shard())
	}
}

func TestOfChangesWithMtimeOrSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")
	if err := os.WriteFile(path, []byte("pixels"), 0o644); err != nil {
		t.Fatal(err)
	}
	original, _, err := identity.Of(path)
	if err != nil {
		t.Fatal(err)
	}

	later := time.Now().Add(2 * time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	touched, _, err := identity.Of(path)
	if err != nil {
		t.Fatal(err)
	}
	if touched == original {
		t.Fatal("expected mtime change to produce a new key")
	}

	if err := os.WriteFile(path, []byte("more pixels"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	resized, _, err := identity.Of(path)
	if err != nil {
		t.Fatal(err)
	}
	if resized == touched {
		t.Fatal("expected size change to produce a new key")
	}
}

func TestFromPartsDistinguishesComponents(t *testing.T) {
	base := identity.FromParts("/g/a.jpg", 100, 10)
	cases := map[string]identity.Key{
		"path":  identity.FromParts("/g/b.jpg", 100, 10),
		"mtime": identity.FromParts("/g/a.jpg", 101, 10),
		"size":  identity.FromParts("/g/a.jpg", 100, 11),
	}
	for name, key := range cases {
		if key == base {
			t.Fatalf("expected %s change to alter key", name)
		}
	}
	if identity.FromParts("/g/a.jpg", 100, 10) != base {
		t.Fatal("expected deterministic key")
	}
}

func TestOfMissingFile(t *testing.T) {
	if _, _, err := identity.Of(filepath.Join(t.TempDir(), "missing.jpg")); err == nil {
		t.Fatal("expected stat error")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	if err := identity.Key("not-a-digest").Validate(); err == nil {
		t.Fatal("expected invalid key")
	}
}

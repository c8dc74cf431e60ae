// Package identity derives cache keys for image files from filesystem
// metadata.
//
// A key is the SHA-256 of the absolute path, the modification time in
// nanoseconds, and the size in bytes. Touching or resizing a file changes its
// key; rewriting content while preserving both mtime and size does not, so
// such edits are served from the cache.
package identity

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/opencontainers/go-digest"
)

// Algorithm is the digest used for keys.
const Algorithm = digest.SHA256

// Key is the hex-encoded digest identifying one version of one file.
type Key string

// String returns the hex form of the key.
func (k Key) String() string { return string(k) }

// Shard returns the two-character directory prefix used to fan entries out
// on disk.
func (k Key) Shard() string {
	if len(k) < 2 {
		return "__"
	}
	return string(k[:2])
}

// Validate reports whether k is a well-formed SHA-256 hex digest.
func (k Key) Validate() error {
	return digest.NewDigestFromEncoded(Algorithm, string(k)).Validate()
}

// Of resolves path to an absolute path, stats it, and returns its key along
// with the absolute path. Stat failures are returned wrapped.
func Of(path string) (Key, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", fmt.Errorf("resolve absolute path for %q: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", abs, fmt.Errorf("stat %s: %w", abs, err)
	}
	return FromInfo(abs, info), abs, nil
}

// FromInfo derives a key from metadata the caller already holds.
func FromInfo(abs string, info fs.FileInfo) Key {
	return FromParts(abs, info.ModTime().UnixNano(), info.Size())
}

// FromParts derives a key from its raw components.
func FromParts(abs string, modTimeNanos, size int64) Key {
	payload := abs + "\x00" + strconv.FormatInt(modTimeNanos, 10) + "\x00" + strconv.FormatInt(size, 10)
	return Key(Algorithm.FromString(payload).Encoded())
}

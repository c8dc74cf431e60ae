// Package detectcache persists detection results keyed by file identity.
//
// Each entry lives at <dir>/<key[:2]>/<key>.json and embeds the absolute
// source path, which is checked on read so a key collision can never return
// another file's result. Entries are written through a temp file and rename,
// so concurrent readers see either nothing or a complete document. Entries
// are never rewritten: a modified file gets a new key and its old entry is
// orphaned until Clear.
package detectcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"sift/internal/detection"
	"sift/internal/fileutil"
	"sift/internal/identity"
	"sift/internal/logging"
)

const (
	entryVersion = 1
	entryExt     = ".json"
	lockName     = ".lock"
)

// Stats are monotonic lookup counters for the life of a cache instance.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Invalid int64 `json:"invalid"`
}

// Lookups returns the total number of Get calls counted.
func (s Stats) Lookups() int64 {
	return s.Hits + s.Misses + s.Invalid
}

// HitRate returns hits as a fraction of lookups, or 0 with no lookups.
func (s Stats) HitRate() float64 {
	total := s.Lookups()
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Usage describes the on-disk footprint of the cache.
type Usage struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Store is the cache surface the scanner depends on.
type Store interface {
	Get(path string) (detection.Result, bool)
	Set(path string, result detection.Result)
	Stats() Stats
}

type entry struct {
	Version  int              `json:"version"`
	Path     string           `json:"path"`
	Key      identity.Key     `json:"key"`
	CachedAt time.Time        `json:"cached_at"`
	Result   detection.Result `json:"result"`
}

// Cache is a directory-backed Store safe for concurrent use.
type Cache struct {
	dir    string
	logger *slog.Logger

	hits    atomic.Int64
	misses  atomic.Int64
	invalid atomic.Int64
}

// Open prepares dir for use, creating it when missing.
func Open(dir string, logger *slog.Logger) (*Cache, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("detection cache directory is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", abs, err)
	}
	return &Cache{
		dir:    abs,
		logger: logging.NewComponentLogger(logger, "detectcache"),
	}, nil
}

// Dir returns the absolute cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) entryPath(key identity.Key) string {
	return filepath.Join(c.dir, key.Shard(), key.String()+entryExt)
}

// Get returns the cached result for path when an entry for the file's
// current identity exists and names the same path. Every failure degrades to
// absent.
func (c *Cache) Get(path string) (detection.Result, bool) {
	key, abs, err := identity.Of(path)
	if err != nil {
		c.invalid.Add(1)
		c.logger.Debug("cache key unavailable", logging.String(logging.FieldPath, path), logging.Error(err))
		return detection.Result{}, false
	}

	data, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.misses.Add(1)
			return detection.Result{}, false
		}
		c.invalid.Add(1)
		c.logger.Debug("cache read failed", logging.String(logging.FieldPath, abs), logging.Error(err))
		return detection.Result{}, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.invalid.Add(1)
		c.logger.Debug("cache entry corrupt", logging.String(logging.FieldPath, abs), logging.Error(err))
		return detection.Result{}, false
	}
	if reason := e.mismatch(key, abs); reason != "" {
		c.invalid.Add(1)
		c.logger.Debug("cache entry rejected",
			logging.String(logging.FieldPath, abs),
			logging.String("reason", reason))
		return detection.Result{}, false
	}

	c.hits.Add(1)
	return e.Result, true
}

func (e entry) mismatch(key identity.Key, abs string) string {
	switch {
	case e.Version != entryVersion:
		return fmt.Sprintf("version %d", e.Version)
	case e.Key != key:
		return "key mismatch"
	case e.Path != abs:
		return "path mismatch"
	}
	if err := e.Result.Validate(); err != nil {
		return err.Error()
	}
	return ""
}

// Set stores result under the file's current identity. Failed results are
// not cached so the next run retries them. Write errors are logged and
// swallowed.
func (c *Cache) Set(path string, result detection.Result) {
	if result.Failed() {
		return
	}
	key, abs, err := identity.Of(path)
	if err != nil {
		c.logger.Debug("cache key unavailable; skipping write", logging.String(logging.FieldPath, path), logging.Error(err))
		return
	}
	data, err := json.Marshal(entry{
		Version:  entryVersion,
		Path:     abs,
		Key:      key,
		CachedAt: time.Now().UTC(),
		Result:   result,
	})
	if err != nil {
		c.logger.Debug("cache encode failed", logging.String(logging.FieldPath, abs), logging.Error(err))
		return
	}
	if err := fileutil.WriteFileAtomic(c.entryPath(key), data, 0o644); err != nil {
		logging.WarnWithContext(c.logger, "cache write failed", "cache_write_failed",
			logging.String(logging.FieldPath, abs),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions on the cache directory"),
			logging.String(logging.FieldImpact, "file will be re-detected on the next run"))
	}
}

// Stats returns a snapshot of the lookup counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Invalid: c.invalid.Load(),
	}
}

// Clear removes every entry and stray temp file, returning the number of
// entries removed. An advisory lock keeps two processes from clearing at
// once.
func (c *Cache) Clear() (int, error) {
	lock := flock.New(filepath.Join(c.dir, lockName))
	if err := lock.Lock(); err != nil {
		return 0, fmt.Errorf("lock cache directory: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	removed := 0
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache directory: %w", err)
	}
	for _, shard := range entries {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(c.dir, shard.Name())
		files, err := os.ReadDir(shardDir)
		if err != nil {
			return removed, fmt.Errorf("read cache shard %s: %w", shard.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			if err := os.Remove(filepath.Join(shardDir, f.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return removed, fmt.Errorf("remove cache entry: %w", err)
			}
			if strings.HasSuffix(f.Name(), entryExt) && !strings.HasPrefix(f.Name(), ".") {
				removed++
			}
		}
		_ = os.Remove(shardDir)
	}

	c.logger.Info("detection cache cleared",
		logging.String("dir", c.dir),
		logging.Int("entries_removed", removed))
	return removed, nil
}

// Usage walks the cache directory and totals its entries.
func (c *Cache) Usage() (Usage, error) {
	var usage Usage
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), entryExt) || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		usage.Entries++
		usage.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return Usage{}, fmt.Errorf("measure cache directory: %w", err)
	}
	return usage, nil
}

// Disabled is a Store that never hits and never writes.
type Disabled struct {
	misses atomic.Int64
}

// Get always misses.
func (d *Disabled) Get(string) (detection.Result, bool) {
	d.misses.Add(1)
	return detection.Result{}, false
}

// Set is a no-op.
func (*Disabled) Set(string, detection.Result) {}

// Stats reports every lookup as a miss.
func (d *Disabled) Stats() Stats {
	return Stats{Misses: d.misses.Load()}
}

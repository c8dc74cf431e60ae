package pipeline

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sift/internal/config"
)

// ResolveRoots picks the directories to scan. Explicit roots win; otherwise
// configured subdirs are joined to the gallery; otherwise every immediate,
// non-hidden subdirectory of the gallery is scanned, or the gallery itself
// when it has none. Directories that hold sift's own output are never
// returned by discovery.
func ResolveRoots(cfg *config.Config, explicit []string) []string {
	if roots := nonEmpty(explicit); len(roots) > 0 {
		return roots
	}
	gallery := cfg.Paths.GalleryDir
	if subdirs := nonEmpty(cfg.Scan.Subdirs); len(subdirs) > 0 {
		roots := make([]string, 0, len(subdirs))
		for _, sub := range subdirs {
			if filepath.IsAbs(sub) {
				roots = append(roots, filepath.Clean(sub))
				continue
			}
			roots = append(roots, filepath.Join(gallery, sub))
		}
		return roots
	}

	entries, err := os.ReadDir(gallery)
	if err != nil {
		return []string{gallery}
	}
	skip := map[string]struct{}{}
	for _, dir := range []string{cfg.Paths.ReviewDir, cfg.Paths.CacheDir, cfg.Paths.StateDir} {
		if abs, err := filepath.Abs(dir); err == nil {
			skip[abs] = struct{}{}
		}
	}
	var roots []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(gallery, entry.Name())
		if abs, err := filepath.Abs(dir); err == nil {
			if _, owned := skip[abs]; owned {
				continue
			}
		}
		roots = append(roots, dir)
	}
	if len(roots) == 0 {
		return []string{gallery}
	}
	sort.Strings(roots)
	return roots
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// BaseDirs returns the directories that relocation paths are made relative
// to, one per root. Roots inside the gallery (or the gallery itself) resolve
// to the gallery, so a discovered subdirectory keeps its name below the
// bucket. Any other root resolves to its parent for the same reason.
func BaseDirs(gallery string, roots []string) []string {
	galleryAbs := ""
	if strings.TrimSpace(gallery) != "" {
		if abs, err := filepath.Abs(gallery); err == nil {
			galleryAbs = abs
		}
	}
	seen := make(map[string]struct{}, len(roots))
	bases := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		base := filepath.Dir(abs)
		if galleryAbs != "" && within(galleryAbs, abs) {
			base = galleryAbs
		}
		if _, dup := seen[base]; dup {
			continue
		}
		seen[base] = struct{}{}
		bases = append(bases, base)
	}
	return bases
}

func within(parent, dir string) bool {
	rel, err := filepath.Rel(parent, dir)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

package indexer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// globFilter selects repository-relative slash paths. Exclusions win.
type globFilter struct {
	include []string
	exclude []string
}

func newGlobFilter(include, exclude []string) (globFilter, error) {
	for _, p := range append(append([]string(nil), include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return globFilter{}, fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return globFilter{include: include, exclude: exclude}, nil
}

// Match reports whether rel is selected.
func (g globFilter) Match(rel string) bool {
	for _, p := range g.exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	if len(g.include) == 0 {
		return true
	}
	for _, p := range g.include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// discovery is the outcome of resolving the paths of an index request.
type discovery struct {
	files    []string // absolute paths of selected regular files
	missing  []string // relative paths that no longer exist
	prefixes []string // relative directory prefixes that were walked
}

// discover expands paths into files. Missing paths are reported so that
// their chunks can be pruned.
func (ix *Indexer) discover(paths []string, recursive bool, filter globFilter) (*discovery, error) {
	d := &discovery{}
	seen := make(map[string]struct{})

	add := func(abs string) {
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		d.files = append(d.files, abs)
	}

	for _, p := range paths {
		abs := ix.absPath(p)
		info, err := os.Stat(abs)
		if os.IsNotExist(err) {
			d.missing = append(d.missing, ix.relPath(abs))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cannot stat %s: %w", p, err)
		}

		if !info.IsDir() {
			if filter.Match(ix.relPath(abs)) {
				add(abs)
			}
			continue
		}

		d.prefixes = append(d.prefixes, ix.relPath(abs))
		err = filepath.WalkDir(abs, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable subtrees are skipped.
				if entry != nil && entry.IsDir() && path != abs {
					return filepath.SkipDir
				}
				return nil
			}
			if entry.IsDir() {
				if path == abs {
					return nil
				}
				if !recursive || ix.skipDir(path, entry.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !entry.Type().IsRegular() {
				return nil
			}
			if filter.Match(ix.relPath(path)) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
	}

	sort.Strings(d.files)
	return d, nil
}

func (ix *Indexer) skipDir(path, name string) bool {
	if _, ok := ix.ignoredDirs[name]; ok {
		return true
	}
	return ix.indexDir != "" && path == ix.indexDir
}

// Accepts reports whether the file at path would be indexed: it passes the
// configured globs and lies outside ignored and index directories.
func (ix *Indexer) Accepts(path string) bool {
	abs := ix.absPath(path)
	if ix.indexDir != "" && (abs == ix.indexDir || strings.HasPrefix(abs, ix.indexDir+string(filepath.Separator))) {
		return false
	}
	rel := ix.relPath(abs)
	parts := strings.Split(rel, "/")
	for _, part := range parts[:len(parts)-1] {
		if _, ok := ix.ignoredDirs[part]; ok {
			return false
		}
	}
	return ix.filter.Match(rel)
}

// absPath resolves p against the repository root.
func (ix *Indexer) absPath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(ix.root, p)
}

// relPath returns the slash-separated path of abs relative to the root, or
// the absolute slash path when abs lies outside it.
func (ix *Indexer) relPath(abs string) string {
	rel, err := filepath.Rel(ix.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// underPrefix reports whether rel lies inside the directory prefix.
func underPrefix(rel, prefix string) bool {
	if prefix == "." || prefix == "" {
		return !strings.HasPrefix(rel, "/")
	}
	return rel == prefix || strings.HasPrefix(rel, prefix+"/")
}

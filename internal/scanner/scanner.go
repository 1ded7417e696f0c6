// Package scanner discovers ingestible documents under a directory tree.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Scanner walks a directory tree and returns files with a supported
// extension, skipping hidden directories and excluded paths.
type Scanner struct {
	extensions map[string]struct{}
	excludes   []string
}

// New creates a scanner accepting the given extensions (with or without the
// leading dot, case-insensitive). Excludes are doublestar patterns matched
// against the slash-separated path relative to the scan root and against
// the base name.
func New(extensions []string, excludes []string) (*Scanner, error) {
	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}

	return &Scanner{extensions: exts, excludes: excludes}, nil
}

// Supports reports whether path has an accepted extension.
func (s *Scanner) Supports(path string) bool {
	_, ok := s.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Scan returns the supported files under root in lexical order. A root that
// is itself a file is returned as the only result when supported.
func (s *Scanner) Scan(ctx context.Context, root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !info.IsDir() {
		if s.Supports(root) {
			return []string{root}, nil
		}
		return nil, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if path != root && s.excluded(rel, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		// Office lock files such as "~$report.docx"
		if strings.HasPrefix(d.Name(), "~$") || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if !s.Supports(path) || s.excluded(rel, d.Name()) {
			return nil
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}

func (s *Scanner) excluded(rel, base string) bool {
	for _, pattern := range s.excludes {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

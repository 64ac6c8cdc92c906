// Package project writes generated file sets to disk and normalises the result.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mwiater/codeforge/internal/fileset"
	"github.com/mwiater/codeforge/internal/logging"
)

// Options configures a Materializer.
type Options struct {
	// CleanOutputDir removes the target directory before each save.
	// The default overwrites files in place; files this Materializer wrote earlier
	// that are missing from the new set are removed, anything else is kept.
	CleanOutputDir bool
	// ManifestFile is relative to the project root; empty disables manifest normalisation.
	ManifestFile string
	// Sections lists known manifest sections in output order. The first is required.
	Sections []string
	// SourceExtensions selects files whose residual code fences are stripped.
	SourceExtensions []string
}

// Materializer owns writing and cleaning one project directory.
type Materializer struct {
	opts Options

	mu sync.Mutex
	// written holds the relative paths of the last save, per output directory.
	written map[string]map[string]struct{}
}

func NewMaterializer(opts Options) *Materializer {
	return &Materializer{opts: opts, written: map[string]map[string]struct{}{}}
}

// Save writes every file under dir, creating parent directories and overwriting
// existing files. Files left by this Materializer's previous save to dir that are
// not in files are removed. A failing file does not stop the others; all failures are
// returned joined, each as a *WriteError.
func (m *Materializer) Save(files fileset.FileSet, dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("output directory is required")
	}
	root := filepath.Clean(dir)
	if m.opts.CleanOutputDir {
		if err := removeProjectDir(root); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	var errs []error
	saved := make(map[string]struct{}, len(files))
	for _, rel := range files.Paths() {
		if err := writeFile(root, rel, files[rel]); err != nil {
			logging.LogEvent("[SAVE] %v", err)
			errs = append(errs, err)
			continue
		}
		saved[rel] = struct{}{}
	}

	m.mu.Lock()
	previous := m.written[root]
	m.written[root] = saved
	m.mu.Unlock()
	if !m.opts.CleanOutputDir {
		m.removeStale(root, previous, files)
	}
	return errors.Join(errs...)
}

// removeStale deletes files from the previous save that the new set no longer has,
// so an abandoned source file is not compiled into the next attempt.
func (m *Materializer) removeStale(root string, previous map[string]struct{}, files fileset.FileSet) {
	for rel := range previous {
		if _, ok := files[rel]; ok {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.LogEvent("[SAVE] remove stale %s: %v", rel, err)
			continue
		}
		logging.LogEvent("[SAVE] removed stale %s", rel)
	}
}

// Save writes files with default options.
func Save(files fileset.FileSet, dir string) error {
	return NewMaterializer(Options{}).Save(files, dir)
}

func writeFile(root, rel, content string) error {
	target := filepath.Join(root, filepath.FromSlash(rel))
	inside, err := filepath.Rel(root, target)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return &WriteError{Path: rel, Err: errors.New("path escapes output directory")}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &WriteError{Path: rel, Err: err}
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return &WriteError{Path: rel, Err: err}
	}
	return nil
}

func removeProjectDir(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if abs == filepath.Dir(abs) || root == "." {
		return fmt.Errorf("refusing to clean %q", root)
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("clean output directory: %w", err)
	}
	return nil
}

package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var fenceToken = regexp.MustCompile("```[A-Za-z0-9_+-]*")

// Cleanup strips residual code fences from source files and normalises the manifest.
// Running it twice leaves the same bytes on disk as running it once.
func (m *Materializer) Cleanup(dir string) error {
	root := filepath.Clean(dir)
	exts := make(map[string]struct{}, len(m.opts.SourceExtensions))
	for _, ext := range m.opts.SourceExtensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && d.Name() == "target" {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := exts[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		return rewrite(path, StripFences)
	})
	if err != nil {
		return fmt.Errorf("clean sources: %w", err)
	}

	if m.opts.ManifestFile == "" {
		return nil
	}
	manifestPath := filepath.Join(root, filepath.FromSlash(m.opts.ManifestFile))
	if _, err := os.Stat(manifestPath); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	var sections []string
	if err := rewrite(manifestPath, func(s string) string {
		out, names := NormalizeManifest(s, m.opts.Sections)
		sections = names
		return out
	}); err != nil {
		return fmt.Errorf("clean manifest: %w", err)
	}
	return m.checkManifest(manifestPath, sections)
}

func (m *Materializer) checkManifest(path string, sections []string) error {
	rel := m.opts.ManifestFile
	if len(m.opts.Sections) > 0 {
		required := m.opts.Sections[0]
		found := false
		for _, s := range sections {
			if s == required {
				found = true
				break
			}
		}
		if !found {
			return &ManifestError{Path: rel, Reason: fmt.Sprintf("missing [%s] section", required)}
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	var doc map[string]any
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return &ManifestError{Path: rel, Reason: "invalid TOML", Err: err}
	}
	return nil
}

func rewrite(path string, fn func(string) string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out := fn(string(raw))
	if out == string(raw) {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(out), info.Mode().Perm())
}

// StripFences removes markdown code-fence tokens. Lines holding only a fence are removed.
func StripFences(content string) string {
	if !strings.Contains(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	out := lines[:0]
	for _, line := range lines {
		if !strings.Contains(line, "```") {
			out = append(out, line)
			continue
		}
		stripped := fenceToken.ReplaceAllString(line, "")
		if strings.TrimSpace(stripped) == "" {
			continue
		}
		out = append(out, stripped)
	}
	return strings.Join(out, "\n")
}

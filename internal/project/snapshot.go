package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// SnapshotDirName is the directory under the knowledge base that holds snapshots.
const SnapshotDirName = "project_states"

// SnapshotMetadata is written as metadata.json next to the copied project.
type SnapshotMetadata struct {
	Timestamp    string   `json:"timestamp"`
	OriginalDir  string   `json:"original_dir"`
	Description  string   `json:"description,omitempty"`
	Files        []string `json:"files"`
	InferenceMs  []int64  `json:"inference_ms,omitempty"`
	AttemptCount int      `json:"attempts,omitempty"`
}

// Snapshot copies projectDir to <knowledgeDir>/project_states/<timestamp> and writes
// metadata.json there. Build output under target/ is skipped.
func Snapshot(projectDir, knowledgeDir string, meta SnapshotMetadata, now time.Time) (string, error) {
	info, err := os.Stat(projectDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("no project exists at %s", projectDir)
		}
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", projectDir)
	}

	stamp := now.Format("20060102_150405")
	dest := filepath.Join(knowledgeDir, SnapshotDirName, stamp)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}

	var files []string
	root := filepath.Clean(projectDir)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel != "." && d.Name() == "target" {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dest, rel), 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return copyFile(path, filepath.Join(dest, rel))
	})
	if err != nil {
		return "", fmt.Errorf("copy project: %w", err)
	}

	meta.Timestamp = stamp
	meta.OriginalDir = projectDir
	meta.Files = files
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dest, "metadata.json"), data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot metadata: %w", err)
	}
	return dest, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

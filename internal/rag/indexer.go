package rag

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mwiater/codeforge/internal/logging"
	"github.com/xeipuuv/gojsonschema"
)

// SnapshotDirName is the knowledge-base subdirectory holding project snapshots.
// The loader never ingests it.
const SnapshotDirName = "project_states"

const batchSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["content"],
    "properties": {
      "content": {"type": "string", "minLength": 1},
      "metadata": {
        "type": "object",
        "additionalProperties": {"type": ["string", "number", "boolean"]}
      }
    }
  }
}`

// LoaderOptions describes which files of a knowledge directory become entries.
type LoaderOptions struct {
	Dir                string
	AllowedExtensions  []string
	ExcludeGlobs       []string
	ChunkSizeTokens    int
	ChunkOverlapTokens int
}

// LoadReport summarises a directory load.
type LoadReport struct {
	Files   int
	Entries int
	Skipped []string
}

// LoadDirectory ingests every supported file under opts.Dir into store with one batch add.
func LoadDirectory(ctx context.Context, store *Store, opts LoaderOptions) (LoadReport, error) {
	docs, report, err := CollectDocuments(opts)
	if err != nil {
		return report, err
	}
	if len(docs) == 0 {
		return report, nil
	}
	if _, err := store.AddBatch(ctx, docs); err != nil {
		return report, fmt.Errorf("index knowledge base: %w", err)
	}
	report.Entries = len(docs)
	return report, nil
}

// CollectDocuments reads the knowledge directory without embedding anything.
// Source files become one document each (or several when chunking is enabled),
// JSON files are batches of {content, metadata}, and CSV files are content/summary pairs.
func CollectDocuments(opts LoaderOptions) ([]Document, LoadReport, error) {
	var report LoadReport
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, report, errors.New("knowledge directory is required")
	}
	if opts.ChunkSizeTokens > 0 && opts.ChunkOverlapTokens >= opts.ChunkSizeTokens {
		return nil, report, errors.New("chunk overlap must be smaller than chunk size")
	}
	if _, err := os.Stat(opts.Dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, report, nil
		}
		return nil, report, err
	}

	files, err := discoverCorpusFiles(opts.Dir, opts.AllowedExtensions, opts.ExcludeGlobs)
	if err != nil {
		return nil, report, fmt.Errorf("scan knowledge directory: %w", err)
	}

	var docs []Document
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, report, fmt.Errorf("read knowledge file %s: %w", path, err)
		}
		report.Files++
		name := filepath.Base(path)

		var fileDocs []Document
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			fileDocs, err = ParseBatch(raw)
		case ".csv":
			fileDocs, err = parsePairs(name, raw)
		default:
			fileDocs = documentsFromText(name, string(raw), opts.ChunkSizeTokens, opts.ChunkOverlapTokens)
		}
		if err != nil {
			logging.LogEvent("[KB] skipping %s: %v", path, err)
			report.Skipped = append(report.Skipped, name)
			continue
		}
		if len(fileDocs) == 0 {
			report.Skipped = append(report.Skipped, name)
			continue
		}
		docs = append(docs, fileDocs...)
	}
	return docs, report, nil
}

// ParseBatch validates and decodes a JSON array of knowledge entries.
func ParseBatch(raw []byte) ([]Document, error) {
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(batchSchema), gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, fmt.Errorf("knowledge batch failed validation: %s", strings.Join(details, "; "))
	}

	var items []struct {
		Content  string         `json:"content"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode knowledge batch: %w", err)
	}
	docs := make([]Document, 0, len(items))
	for _, item := range items {
		md := make(map[string]string, len(item.Metadata))
		for k, v := range item.Metadata {
			switch val := v.(type) {
			case string:
				md[k] = val
			case float64:
				md[k] = strconv.FormatFloat(val, 'f', -1, 64)
			default:
				md[k] = fmt.Sprint(val)
			}
		}
		docs = append(docs, Document{Content: item.Content, Metadata: md})
	}
	return docs, nil
}

func parsePairs(name string, raw []byte) ([]Document, error) {
	r := csv.NewReader(strings.NewReader(string(raw)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var docs []Document
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		if len(row) < 2 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		docs = append(docs, Document{
			Content: row[0],
			Metadata: map[string]string{
				"source":  name,
				"type":    "book_content",
				"summary": row[1],
			},
		})
	}
	return docs, nil
}

func documentsFromText(name, text string, chunkSize, overlap int) []Document {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	kind := fileKind(name)
	if chunkSize <= 0 {
		return []Document{{Content: text, Metadata: map[string]string{"source": name, "type": kind}}}
	}
	chunks := ChunkText(text, chunkSize, overlap)
	docs := make([]Document, 0, len(chunks))
	for i, c := range chunks {
		docs = append(docs, Document{
			Content: c.Text,
			Metadata: map[string]string{
				"source": name,
				"type":   kind,
				"chunk":  strconv.Itoa(i),
				"offset": strconv.Itoa(c.Offset),
			},
		})
	}
	return docs
}

func fileKind(name string) string {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".rs":
		return "code"
	case ".txt", ".md":
		return "documentation"
	default:
		return strings.TrimPrefix(ext, ".")
	}
}

// SaveKnowledge writes a .rs or .txt file into dir and adds its content to store.
func SaveKnowledge(ctx context.Context, store *Store, dir, content, filename string) (EntryID, error) {
	name, err := knowledgeFileName(filename)
	if err != nil {
		return 0, err
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".rs" && ext != ".txt" {
		return 0, fmt.Errorf("only .rs and .txt files can be saved directly, got %q", name)
	}
	if strings.TrimSpace(content) == "" {
		return 0, errors.New("knowledge content is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create knowledge directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		return 0, fmt.Errorf("write knowledge file: %w", err)
	}
	return store.Add(ctx, content, map[string]string{"source": name, "type": fileKind(name)})
}

// SaveKnowledgeBatch writes docs as a JSON batch file into dir and adds them to store.
func SaveKnowledgeBatch(ctx context.Context, store *Store, dir string, docs []Document, filename string) ([]EntryID, error) {
	if filename == "" {
		filename = "knowledge.json"
	}
	name, err := knowledgeFileName(filename)
	if err != nil {
		return nil, err
	}
	if strings.ToLower(filepath.Ext(name)) != ".json" {
		return nil, fmt.Errorf("batch files must be .json, got %q", name)
	}
	out := make([]Document, len(docs))
	for i, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			return nil, fmt.Errorf("batch entry %d has empty content", i)
		}
		out[i] = Document{Content: d.Content, Metadata: copyMetadata(d.Metadata)}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal knowledge batch: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create knowledge directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return nil, fmt.Errorf("write knowledge batch: %w", err)
	}
	return store.AddBatch(ctx, out)
}

func knowledgeFileName(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid knowledge file name %q", filename)
	}
	return name, nil
}

func discoverCorpusFiles(root string, allowed []string, exclude []string) ([]string, error) {
	var files []string
	allowedMap := make(map[string]struct{}, len(allowed))
	for _, ext := range allowed {
		allowedMap[strings.ToLower(ext)] = struct{}{}
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (d.Name() == SnapshotDirName || shouldExclude(path, exclude)) {
				return filepath.SkipDir
			}
			return nil
		}

		if shouldExclude(path, exclude) {
			return nil
		}

		if len(allowedMap) > 0 {
			ext := strings.ToLower(filepath.Ext(path))
			if _, ok := allowedMap[ext]; !ok {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

func shouldExclude(path string, patterns []string) bool {
	normalized := filepath.ToSlash(path)
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		pattern = filepath.ToSlash(pattern)
		if strings.Contains(pattern, "**") {
			trimmed := strings.ReplaceAll(pattern, "**", "")
			if trimmed != "" && strings.Contains(normalized, trimmed) {
				return true
			}
		}
		if ok, _ := filepath.Match(pattern, normalized); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(normalized)); ok {
			return true
		}
	}
	return false
}

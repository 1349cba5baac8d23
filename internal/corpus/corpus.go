// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package corpus loads the inputs of a pipeline run: the document
// manifest, raw text files, and the extraction schema.
package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pierre-achkar/sr4all/pkg/types"
)

// maxLineBytes caps a single manifest line.
const maxLineBytes = 1 << 20

// DocumentError classifies a document that cannot enter the pipeline. Code
// is one of the types.ErrCode constants and goes to the stage error log.
type DocumentError struct {
	Code string
	Path string
	Err  error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Path, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// ErrorCode maps an error to a document error code for the stage error
// log, falling back when the error carries no classification of its own.
func ErrorCode(err error, fallback string) string {
	var docErr *DocumentError
	if errors.As(err, &docErr) {
		return docErr.Code
	}
	return fallback
}

// LoadManifest reads a JSONL manifest of corpus documents. Blank lines are
// skipped. IDs must be non-empty and unique.
func LoadManifest(path string) ([]types.ManifestEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest %s: %w", path, err)
	}
	defer f.Close()

	var entries []types.ManifestEntry
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry types.ManifestEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("manifest %s line %d: %w", path, lineNo, err)
		}
		if entry.ID == "" {
			return nil, fmt.Errorf("manifest %s line %d: empty id", path, lineNo)
		}
		if entry.TextPath == "" {
			return nil, fmt.Errorf("manifest %s line %d: empty text_path for %q", path, lineNo, entry.ID)
		}
		if seen[entry.ID] {
			return nil, fmt.Errorf("manifest %s line %d: duplicate id %q", path, lineNo, entry.ID)
		}
		seen[entry.ID] = true
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	return entries, nil
}

// ReadDocument loads one manifest entry's text. Relative paths resolve
// against baseDir; the returned document keeps the entry's own path, so
// records stay relocatable with the data directory. Failures return a
// *DocumentError so callers can route the document to the error log and
// continue with the batch.
func ReadDocument(baseDir string, entry types.ManifestEntry) (types.Document, error) {
	path := entry.TextPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		code := types.ErrCodeReadError
		if os.IsNotExist(err) {
			code = types.ErrCodeFileNotFound
		}
		return types.Document{}, &DocumentError{Code: code, Path: path, Err: err}
	}

	text := string(data)
	if strings.TrimSpace(text) == "" {
		return types.Document{}, &DocumentError{
			Code: types.ErrCodeEmptyText,
			Path: path,
			Err:  fmt.Errorf("no usable text"),
		}
	}

	return types.Document{ID: entry.ID, SourcePath: entry.TextPath, Text: text}, nil
}

// BuildManifest scans dir for .txt and .md files and returns one entry per
// file, with the id taken from the file stem. Subdirectories are not
// descended. Two files reducing to the same stem is an error.
func BuildManifest(dir string) ([]types.ManifestEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading corpus directory %s: %w", dir, err)
	}

	var entries []types.ManifestEntry
	sources := make(map[string]string)

	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		ext := filepath.Ext(de.Name())
		if ext != ".txt" && ext != ".md" {
			continue
		}

		id := strings.TrimSuffix(de.Name(), ext)
		if prev, ok := sources[id]; ok {
			return nil, fmt.Errorf("duplicate document id %q (%s and %s)", id, prev, de.Name())
		}
		sources[id] = de.Name()
		entries = append(entries, types.ManifestEntry{
			ID:       id,
			TextPath: filepath.Join(dir, de.Name()),
		})
	}
	return entries, nil
}

// WriteManifest writes entries as a JSONL manifest file.
func WriteManifest(path string, entries []types.ManifestEntry) error {
	var buf bytes.Buffer
	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling manifest entry %q: %w", entry.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

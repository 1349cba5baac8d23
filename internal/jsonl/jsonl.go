// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package jsonl reads and writes the keyed JSONL files pipeline stages
// exchange. Writers append one JSON line per record; readers keep the last
// line per document id, so re-running a document supersedes its earlier
// output instead of duplicating it.
package jsonl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pierre-achkar/sr4all/pkg/types"
)

// Writer appends records to a JSONL file. Safe for concurrent use by
// batch workers; each record is written as a single append.
type Writer struct {
	mu sync.Mutex
	f  *os.File
}

// OpenWriter opens path for appending, creating the file if needed.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s for append: %w", path, err)
	}
	return &Writer{f: f}, nil
}

// Write appends v as one JSON line.
func (w *Writer) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(line); err != nil {
		return fmt.Errorf("appending record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}

// readLines splits a JSONL file into lines. A final line left unterminated
// by an interrupted run is dropped so a restart can proceed past it.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	complete := bytes.HasSuffix(data, []byte("\n"))
	lines := strings.Split(string(data), "\n")
	if !complete && len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

// ReadRecords loads all records from a stage output file, keeping the last
// record per document id. Order follows each id's first appearance. A
// missing file yields no records. Values decode with json.Number so
// integers survive the round trip.
func ReadRecords(path string) ([]*types.Record, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	var order []string
	byID := make(map[string]*types.Record)

	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var rec types.Record
		dec := json.NewDecoder(strings.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+1, err)
		}
		if rec.DocumentID == "" {
			return nil, fmt.Errorf("%s line %d: missing document_id", path, i+1)
		}

		if _, ok := byID[rec.DocumentID]; !ok {
			order = append(order, rec.DocumentID)
		}
		byID[rec.DocumentID] = &rec
	}

	records := make([]*types.Record, 0, len(order))
	for _, id := range order {
		records = append(records, byID[id])
	}
	return records, nil
}

// CompletedIDs returns the document ids already present in path. Callers
// use it to skip finished documents on restart. A missing file is an
// empty set.
func CompletedIDs(path string) (map[string]bool, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]bool)
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var key struct {
			DocumentID string `json:"document_id"`
		}
		if err := json.Unmarshal([]byte(line), &key); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+1, err)
		}
		if key.DocumentID != "" {
			ids[key.DocumentID] = true
		}
	}
	return ids, nil
}

// ReadErrors loads a stage error log. A missing file yields no entries.
func ReadErrors(path string) ([]types.ErrorEntry, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	var entries []types.ErrorEntry
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var entry types.ErrorEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+1, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

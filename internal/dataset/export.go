// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

// ExportOptions selects the export cohort.
type ExportOptions struct {
	// CompleteOnly restricts the export to complete documents.
	CompleteOnly bool
}

// ExportEntry is one flattened document: field values only, with
// evidence stripped. Statuses are kept so consumers can tell a grounded
// null from a failed one.
type ExportEntry struct {
	DocumentID string            `json:"document_id" yaml:"document_id"`
	Complete   bool              `json:"complete" yaml:"complete"`
	Fields     map[string]any    `json:"fields" yaml:"fields"`
	Statuses   map[string]string `json:"statuses" yaml:"statuses"`
}

// ExportYAML writes the flattened dataset to dataDir/index/export.yaml.
func (s *Store) ExportYAML(ctx context.Context, opts ExportOptions) error {
	entries, err := s.exportEntries(ctx, opts)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return s.writeExport("export.yaml", data)
}

// ExportJSON writes the flattened dataset to dataDir/index/export.json.
func (s *Store) ExportJSON(ctx context.Context, opts ExportOptions) error {
	entries, err := s.exportEntries(ctx, opts)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	return s.writeExport("export.json", data)
}

func (s *Store) writeExport(name string, data []byte) error {
	dir := filepath.Join(s.dataDir, indexDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

func (s *Store) exportEntries(ctx context.Context, opts ExportOptions) ([]ExportEntry, error) {
	query := `SELECT f.document_id, f.name, f.value, f.status, d.complete
		FROM fields f
		LEFT JOIN documents d ON f.document_id = d.id`
	if opts.CompleteOnly {
		query += ` WHERE d.complete = 1`
	}
	query += ` ORDER BY f.document_id, f.name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying for export: %w", err)
	}
	defer rows.Close()

	var entries []ExportEntry
	var current *ExportEntry

	for rows.Next() {
		var (
			docID     string
			name      string
			valueJSON sql.NullString
			status    string
			complete  sql.NullInt64
		)
		if err := rows.Scan(&docID, &name, &valueJSON, &status, &complete); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		if current == nil || current.DocumentID != docID {
			entries = append(entries, ExportEntry{
				DocumentID: docID,
				Complete:   complete.Valid && complete.Int64 != 0,
				Fields:     make(map[string]any),
				Statuses:   make(map[string]string),
			})
			current = &entries[len(entries)-1]
		}

		var value any
		if valueJSON.Valid {
			json.Unmarshal([]byte(valueJSON.String), &value)
		}
		current.Fields[name] = value
		current.Statuses[name] = status
	}

	return entries, rows.Err()
}

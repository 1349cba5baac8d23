// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pierre-achkar/sr4all/internal/align"
	"github.com/pierre-achkar/sr4all/internal/corpus"
	"github.com/pierre-achkar/sr4all/pkg/types"
)

// QueryOptions holds parameters for dataset queries.
type QueryOptions struct {
	// Query is the FTS5 full-text search string over evidence spans.
	Query string

	// Field filters by schema field name.
	Field string

	// Status filters by field status.
	Status types.FieldStatus

	// DocumentID filters by document.
	DocumentID string

	// Group filters by schema field group.
	Group string

	// CompleteOnly keeps only fields of complete documents.
	CompleteOnly bool

	// PlaceholdersOnly keeps only placeholder-flagged values.
	PlaceholdersOnly bool

	// MaxResults limits result count. Zero uses the store default.
	MaxResults int
}

// IsEmpty reports whether the query has no search terms or filters.
func (q QueryOptions) IsEmpty() bool {
	return q.Query == "" && q.Field == "" && q.Status == "" &&
		q.DocumentID == "" && q.Group == "" && !q.CompleteOnly && !q.PlaceholdersOnly
}

// QueryResult is one field row with its document metadata.
type QueryResult struct {
	DocumentID   string            `json:"document_id" yaml:"document_id"`
	Field        string            `json:"field" yaml:"field"`
	Value        any               `json:"value" yaml:"value"`
	Status       types.FieldStatus `json:"status" yaml:"status"`
	EvidenceSpan string            `json:"evidence_span,omitempty" yaml:"evidence_span,omitempty"`
	Reason       string            `json:"reason,omitempty" yaml:"reason,omitempty"`
	Attempts     int               `json:"attempts" yaml:"attempts"`
	Group        string            `json:"group,omitempty" yaml:"group,omitempty"`
	Required     bool              `json:"required" yaml:"required"`
	Placeholder  bool              `json:"placeholder" yaml:"placeholder"`
	SourcePath   string            `json:"source_path,omitempty" yaml:"source_path,omitempty"`
	RunID        string            `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Complete     bool              `json:"complete" yaml:"complete"`
}

// Retrieve queries the dataset with optional full-text search over
// evidence spans and structured filters. Results are ranked by relevance
// for full-text queries or sorted by document and field name otherwise.
func (s *Store) Retrieve(ctx context.Context, opts QueryOptions) ([]QueryResult, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.maxResults
	}

	var (
		qb     strings.Builder
		args   []any
		useFTS = opts.Query != ""
	)

	if useFTS {
		qb.WriteString(
			`SELECT f.document_id, f.name, f.value, f.status, f.evidence_span,
				f.reason, f.attempts, f.group_name, f.required, f.placeholder,
				d.source_path, d.run_id, d.complete
			FROM fields_fts
			JOIN fields f ON f.rowid = fields_fts.rowid
			LEFT JOIN documents d ON f.document_id = d.id
			WHERE fields_fts MATCH ?`)
		args = append(args, opts.Query)
	} else {
		qb.WriteString(
			`SELECT f.document_id, f.name, f.value, f.status, f.evidence_span,
				f.reason, f.attempts, f.group_name, f.required, f.placeholder,
				d.source_path, d.run_id, d.complete
			FROM fields f
			LEFT JOIN documents d ON f.document_id = d.id
			WHERE 1=1`)
	}

	if opts.Field != "" {
		qb.WriteString(` AND f.name = ?`)
		args = append(args, opts.Field)
	}
	if opts.Status != "" {
		qb.WriteString(` AND f.status = ?`)
		args = append(args, string(opts.Status))
	}
	if opts.DocumentID != "" {
		qb.WriteString(` AND f.document_id = ?`)
		args = append(args, opts.DocumentID)
	}
	if opts.Group != "" {
		qb.WriteString(` AND f.group_name = ?`)
		args = append(args, opts.Group)
	}
	if opts.CompleteOnly {
		qb.WriteString(` AND d.complete = 1`)
	}
	if opts.PlaceholdersOnly {
		qb.WriteString(` AND f.placeholder = 1`)
	}

	if useFTS {
		qb.WriteString(` ORDER BY fields_fts.rank`)
	} else {
		qb.WriteString(` ORDER BY f.document_id, f.name`)
	}

	qb.WriteString(` LIMIT ?`)
	args = append(args, maxResults)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying dataset: %w", err)
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		var (
			qr         QueryResult
			status     string
			valueJSON  sql.NullString
			span       sql.NullString
			reason     sql.NullString
			group      sql.NullString
			required   sql.NullInt64
			flagged    sql.NullInt64
			sourcePath sql.NullString
			runID      sql.NullString
			complete   sql.NullInt64
		)

		if err := rows.Scan(
			&qr.DocumentID, &qr.Field, &valueJSON, &status, &span,
			&reason, &qr.Attempts, &group, &required, &flagged,
			&sourcePath, &runID, &complete,
		); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		qr.Status = types.FieldStatus(status)
		if valueJSON.Valid {
			json.Unmarshal([]byte(valueJSON.String), &qr.Value)
		}
		if span.Valid {
			qr.EvidenceSpan = span.String
		}
		if reason.Valid {
			qr.Reason = reason.String
		}
		if group.Valid {
			qr.Group = group.String
		}
		qr.Required = required.Valid && required.Int64 != 0
		qr.Placeholder = flagged.Valid && flagged.Int64 != 0
		if sourcePath.Valid {
			qr.SourcePath = sourcePath.String
		}
		if runID.Valid {
			qr.RunID = runID.String
		}
		qr.Complete = complete.Valid && complete.Int64 != 0

		results = append(results, qr)
	}

	return results, rows.Err()
}

// Trace returns the evidence span of a grounded field in its source
// context: the span's own line plus one line on each side.
func (s *Store) Trace(ctx context.Context, documentID, field string) (string, error) {
	var (
		span       sql.NullString
		status     string
		sourcePath sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT f.evidence_span, f.status, d.source_path
		 FROM fields f LEFT JOIN documents d ON f.document_id = d.id
		 WHERE f.document_id = ? AND f.name = ?`,
		documentID, field,
	).Scan(&span, &status, &sourcePath)

	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("field %s of %s not found", field, documentID)
		}
		return "", fmt.Errorf("looking up field: %w", err)
	}

	if !span.Valid || span.String == "" {
		return "", fmt.Errorf("field %s of %s has no evidence (status %s)", field, documentID, status)
	}
	if !sourcePath.Valid || sourcePath.String == "" {
		return "", fmt.Errorf("document %s has no source path", documentID)
	}

	doc, err := corpus.ReadDocument(s.dataDir, types.ManifestEntry{ID: documentID, TextPath: sourcePath.String})
	if err != nil {
		return "", fmt.Errorf("reading source text: %w", err)
	}

	start := strings.Index(doc.Text, span.String)
	end := start + len(span.String)
	if start < 0 {
		m, ok := align.Find(doc.Text, span.String, 0)
		if !ok {
			return "", fmt.Errorf("evidence span not found in source text")
		}
		start, end = m.Start, m.End
	}

	return surroundingLines(doc.Text, start, end), nil
}

// surroundingLines expands [start, end) to whole lines and includes one
// extra line on each side.
func surroundingLines(text string, start, end int) string {
	lineStart := strings.LastIndexByte(text[:start], '\n') + 1
	if lineStart > 0 {
		prev := strings.LastIndexByte(text[:lineStart-1], '\n')
		lineStart = prev + 1
	}

	lineEnd := end
	for i := 0; i < 2 && lineEnd < len(text); i++ {
		next := strings.IndexByte(text[lineEnd:], '\n')
		if next < 0 {
			lineEnd = len(text)
			break
		}
		lineEnd += next + 1
	}

	return strings.TrimRight(text[lineStart:lineEnd], "\n")
}

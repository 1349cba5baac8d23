// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dataset persists the repaired corpus in SQLite and builds a
// retrieval index over evidence spans. Ingestion re-validates the
// grounding invariant: a grounded field whose span no longer appears in
// its source text fails the whole document.
package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pierre-achkar/sr4all/internal/align"
	"github.com/pierre-achkar/sr4all/internal/corpus"
	"github.com/pierre-achkar/sr4all/internal/jsonl"
	"github.com/pierre-achkar/sr4all/pkg/types"
)

const (
	indexDir = "index"
	dbFile   = "dataset.db"
)

// placeholderQueryRe matches strings that are only query-line references
// and boolean operators, e.g. "#1 AND #2". Such values name other rows
// of a search-strategy table instead of carrying content.
var placeholderQueryRe = regexp.MustCompile(`^(?:#?\d+|AND|OR|NOT|\(|\)|\s)+$`)

// Store manages the dataset SQLite database.
type Store struct {
	db         *sql.DB
	dataDir    string
	schema     types.Schema
	maxResults int
}

// NewStore opens or creates the dataset database. An empty DBPath puts
// it at dataDir/index/dataset.db. The schema is created if it does not
// exist.
func NewStore(cfg types.DatasetConfig, dataDir string, schema types.Schema) (*Store, error) {
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbDir := filepath.Join(dataDir, indexDir)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
		dbPath = filepath.Join(dbDir, dbFile)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}

	s := &Store{
		db:         db,
		dataDir:    dataDir,
		schema:     schema,
		maxResults: maxResults,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			source_path TEXT,
			run_id TEXT,
			checked INTEGER,
			check_failed INTEGER,
			complete INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS fields (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id TEXT NOT NULL REFERENCES documents(id),
			name TEXT NOT NULL,
			value TEXT,
			status TEXT NOT NULL,
			evidence_span TEXT,
			reason TEXT,
			attempts INTEGER,
			group_name TEXT,
			required INTEGER,
			placeholder INTEGER,
			UNIQUE(document_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fields_document_id ON fields(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_fields_status ON fields(status)`,
		`CREATE TABLE IF NOT EXISTS ingest_status (
			document_id TEXT PRIMARY KEY,
			record_time TEXT
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// FTS5 virtual table with triggers for sync.
	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='fields_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}

	if ftsExists == 0 {
		ftsStatements := []string{
			`CREATE VIRTUAL TABLE fields_fts USING fts5(evidence_span, content=fields, content_rowid=rowid)`,
			`CREATE TRIGGER fields_ai AFTER INSERT ON fields BEGIN
				INSERT INTO fields_fts(rowid, evidence_span) VALUES (new.rowid, new.evidence_span);
			END`,
			`CREATE TRIGGER fields_ad AFTER DELETE ON fields BEGIN
				INSERT INTO fields_fts(fields_fts, rowid, evidence_span) VALUES('delete', old.rowid, old.evidence_span);
			END`,
			`CREATE TRIGGER fields_au AFTER UPDATE ON fields BEGIN
				INSERT INTO fields_fts(fields_fts, rowid, evidence_span) VALUES('delete', old.rowid, old.evidence_span);
				INSERT INTO fields_fts(rowid, evidence_span) VALUES (new.rowid, new.evidence_span);
			END`,
		}
		for _, stmt := range ftsStatements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("creating FTS infrastructure: %w", err)
			}
		}
	}

	return nil
}

// IngestSummary holds counts from a dataset ingestion run.
type IngestSummary struct {
	Indexed int
	Updated int
	Skipped int
	Failed  int
}

// Total returns the number of documents processed.
func (s IngestSummary) Total() int {
	return s.Indexed + s.Updated + s.Skipped + s.Failed
}

// Ingest reads the repaired corpus at corpusPath and populates the
// database. Documents whose record timestamp is unchanged since the last
// ingest are skipped, so re-ingesting a corpus is incremental and
// idempotent.
func (s *Store) Ingest(ctx context.Context, corpusPath string, w io.Writer) (IngestSummary, error) {
	records, err := jsonl.ReadRecords(corpusPath)
	if err != nil {
		return IngestSummary{}, fmt.Errorf("reading corpus %s: %w", corpusPath, err)
	}

	var summary IngestSummary

	for _, rec := range records {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		recTime := rec.Timestamp.UTC().Format(time.RFC3339Nano)

		var storedTime string
		err := s.db.QueryRowContext(ctx,
			`SELECT record_time FROM ingest_status WHERE document_id = ?`, rec.DocumentID,
		).Scan(&storedTime)

		if err == nil && storedTime == recTime {
			fmt.Fprintf(w, "skipped %s\n", rec.DocumentID)
			summary.Skipped++
			continue
		}
		isUpdate := err == nil

		if err := s.verifyGrounding(rec); err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", rec.DocumentID, err)
			summary.Failed++
			continue
		}

		if err := s.ingestRecord(ctx, rec, recTime); err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", rec.DocumentID, err)
			summary.Failed++
			continue
		}

		if isUpdate {
			fmt.Fprintf(w, "updated %s (%d fields)\n", rec.DocumentID, len(rec.Fields))
			summary.Updated++
		} else {
			fmt.Fprintf(w, "indexing %s (%d fields)\n", rec.DocumentID, len(rec.Fields))
			summary.Indexed++
		}
	}

	fmt.Fprintf(w, "\nindexed: %d, updated: %d, skipped: %d, failed: %d\n",
		summary.Indexed, summary.Updated, summary.Skipped, summary.Failed)

	return summary, nil
}

// verifyGrounding re-checks the evidence invariant against the source
// text: every verified or repaired span must still appear in the raw
// document, literally or modulo whitespace.
func (s *Store) verifyGrounding(rec *types.Record) error {
	var text string
	for _, field := range s.schema.Fields {
		fv := rec.Fields[field.Name]
		if fv == nil || !fv.Status.Grounded() {
			continue
		}
		if fv.EvidenceSpan == nil {
			return fmt.Errorf("field %s is %s without an evidence span", field.Name, fv.Status)
		}

		if text == "" {
			doc, err := corpus.ReadDocument(s.dataDir, types.ManifestEntry{ID: rec.DocumentID, TextPath: rec.SourcePath})
			if err != nil {
				return fmt.Errorf("reading source text: %w", err)
			}
			text = doc.Text
		}

		if !align.SpanSupported(text, *fv.EvidenceSpan) {
			return fmt.Errorf("field %s: evidence span not found in source text", field.Name)
		}
	}
	return nil
}

func (s *Store) ingestRecord(ctx context.Context, rec *types.Record, recTime string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Delete-then-insert keeps the FTS triggers in sync; REPLACE would
	// evict conflicting rows without firing them.
	if _, err := tx.ExecContext(ctx, `DELETE FROM fields WHERE document_id = ?`, rec.DocumentID); err != nil {
		return fmt.Errorf("deleting old fields: %w", err)
	}

	var checked, checkFailed any
	if rec.FactCheck != nil {
		checked = rec.FactCheck.Checked
		checkFailed = rec.FactCheck.Failed
	}
	complete := Completeness(s.schema, rec)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, source_path, run_id, checked, check_failed, complete, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			source_path=excluded.source_path, run_id=excluded.run_id,
			checked=excluded.checked, check_failed=excluded.check_failed,
			complete=excluded.complete, updated_at=excluded.updated_at`,
		rec.DocumentID, rec.SourcePath, rec.RunID, checked, checkFailed,
		boolToInt(complete), recTime,
	)
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fields (document_id, name, value, status, evidence_span, reason, attempts, group_name, required, placeholder)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, field := range s.schema.Fields {
		fv := rec.Fields[field.Name]
		if fv == nil {
			fv = &types.FieldValue{Status: types.StatusUnset}
		}

		var value any
		if fv.Value != nil {
			valueJSON, err := json.Marshal(fv.Value)
			if err != nil {
				return fmt.Errorf("encoding %s value: %w", field.Name, err)
			}
			value = string(valueJSON)
		}
		var span any
		if fv.EvidenceSpan != nil {
			span = *fv.EvidenceSpan
		}

		_, err := stmt.ExecContext(ctx,
			rec.DocumentID, field.Name, value, string(fv.Status), span,
			fv.Reason, fv.Attempts, field.Group, boolToInt(field.Required),
			boolToInt(isPlaceholderValue(fv.Value)),
		)
		if err != nil {
			return fmt.Errorf("inserting field %s: %w", field.Name, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ingest_status (document_id, record_time) VALUES (?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET record_time=excluded.record_time`,
		rec.DocumentID, recTime,
	)
	if err != nil {
		return fmt.Errorf("updating ingest status: %w", err)
	}

	return tx.Commit()
}

// Completeness reports whether a record is complete under the schema:
// every required field is grounded and every field group has at least
// one grounded member.
func Completeness(schema types.Schema, rec *types.Record) bool {
	grounded := func(name string) bool {
		fv := rec.Fields[name]
		return fv != nil && fv.Status.Grounded()
	}

	for _, f := range schema.Fields {
		if f.Required && !grounded(f.Name) {
			return false
		}
	}
	for _, group := range schema.Groups() {
		covered := false
		for _, f := range schema.Fields {
			if f.Group == group && grounded(f.Name) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

// isPlaceholderValue reports whether a value is only query references
// and boolean operators. A list is a placeholder when every element is.
func isPlaceholderValue(v any) bool {
	switch val := v.(type) {
	case string:
		return placeholderQueryRe.MatchString(val)
	case []string:
		if len(val) == 0 {
			return false
		}
		for _, e := range val {
			if !placeholderQueryRe.MatchString(e) {
				return false
			}
		}
		return true
	case []any:
		if len(val) == 0 {
			return false
		}
		for _, e := range val {
			s, ok := e.(string)
			if !ok || !placeholderQueryRe.MatchString(s) {
				return false
			}
		}
		return true
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pierre-achkar/sr4all/internal/jsonl"
	"github.com/pierre-achkar/sr4all/internal/pipeline"
	"github.com/pierre-achkar/sr4all/pkg/types"
)

func testSchema() types.Schema {
	return types.Schema{
		Name: "trial-report",
		Fields: []types.FieldSpec{
			{Name: "objective", Type: types.TypeString, Required: true},
			{Name: "sample_size", Type: types.TypeInteger},
			{Name: "dropout_rate", Type: types.TypeNumber},
		},
	}
}

func strPtr(s string) *string { return &s }

func writeRecords(t *testing.T, path string, recs ...*types.Record) {
	t.Helper()
	w, err := jsonl.OpenWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func writeErrors(t *testing.T, path string, entries ...types.ErrorEntry) {
	t.Helper()
	w, err := jsonl.OpenWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if err := w.Write(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func statusRecord(docID string, statuses map[string]types.FieldStatus) *types.Record {
	fields := make(map[string]*types.FieldValue, len(statuses))
	for name, status := range statuses {
		fv := &types.FieldValue{Status: status}
		if status.Grounded() {
			fv.Value = "x"
			fv.EvidenceSpan = strPtr("x")
		}
		fields[name] = fv
	}
	return &types.Record{
		DocumentID: docID,
		RunID:      "run-test",
		Timestamp:  time.Now().UTC(),
		Fields:     fields,
	}
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()

	writeRecords(t, filepath.Join(dir, pipeline.CheckedFile),
		statusRecord("doc-1", map[string]types.FieldStatus{
			"objective":    types.StatusVerified,
			"sample_size":  types.StatusUnsupported,
			"dropout_rate": types.StatusUnsupported,
		}),
		statusRecord("doc-2", map[string]types.FieldStatus{
			"objective":    types.StatusVerified,
			"sample_size":  types.StatusVerified,
			"dropout_rate": types.StatusUnset,
		}),
	)
	writeRecords(t, filepath.Join(dir, pipeline.RepairedFile),
		statusRecord("doc-1", map[string]types.FieldStatus{
			"objective":    types.StatusVerified,
			"sample_size":  types.StatusRepaired,
			"dropout_rate": types.StatusRepairFailed,
		}),
		statusRecord("doc-2", map[string]types.FieldStatus{
			"objective":    types.StatusVerified,
			"sample_size":  types.StatusVerified,
			"dropout_rate": types.StatusRepairFailed,
		}),
	)

	got, err := Generate(dir, testSchema())
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"Run run-test over 2 documents",
		"built from " + pipeline.RepairedFile,
		"| verified | 3 |",
		"| repaired | 1 |",
		"| repair_failed | 2 |",
		"| objective | 2 | 2 | 0 | 0 | 0 | 100% |",
		"| sample_size | 2 | 1 | 1 | 0 | 0 | 100% |",
		"| dropout_rate | 0 | 0 | 0 | 2 | 0 | 0% |",
		"2 of 2 documents are complete",
		"Repair recovered 1 fields and exhausted its budget\non 2 (33% recovery)",
		"No document errors recorded.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("report missing %q:\n%s", want, got)
		}
	}

	if strings.Contains(got, "WARNING") {
		t.Errorf("report should not warn without regressions:\n%s", got)
	}
}

func TestGenerateFallsBackToCheckedCorpus(t *testing.T) {
	dir := t.TempDir()

	writeRecords(t, filepath.Join(dir, pipeline.CheckedFile),
		statusRecord("doc-1", map[string]types.FieldStatus{
			"objective":    types.StatusVerified,
			"sample_size":  types.StatusUnsupported,
			"dropout_rate": types.StatusUnsupported,
		}),
	)

	got, err := Generate(dir, testSchema())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "built from "+pipeline.CheckedFile) {
		t.Errorf("report should name the fact-checked corpus:\n%s", got)
	}
	if strings.Contains(got, "## Repair impact") {
		t.Errorf("repair impact needs both corpora:\n%s", got)
	}
}

func TestGenerateNoCorpus(t *testing.T) {
	dir := t.TempDir()

	_, err := Generate(dir, testSchema())
	if err == nil {
		t.Fatal("expected error for empty data directory")
	}
	if !strings.Contains(err.Error(), "run the pipeline first") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestGenerateWarnsOnRegression(t *testing.T) {
	dir := t.TempDir()

	writeRecords(t, filepath.Join(dir, pipeline.CheckedFile),
		statusRecord("doc-1", map[string]types.FieldStatus{
			"objective":    types.StatusVerified,
			"sample_size":  types.StatusVerified,
			"dropout_rate": types.StatusUnsupported,
		}),
	)
	writeRecords(t, filepath.Join(dir, pipeline.RepairedFile),
		statusRecord("doc-1", map[string]types.FieldStatus{
			"objective":    types.StatusVerified,
			"sample_size":  types.StatusUnsupported,
			"dropout_rate": types.StatusRepaired,
		}),
	)

	got, err := Generate(dir, testSchema())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "WARNING: 1 fields lost grounding") {
		t.Errorf("report should flag the regression:\n%s", got)
	}
	if !strings.Contains(got, "- doc-1/sample_size") {
		t.Errorf("report should name the regressed field:\n%s", got)
	}
}

func TestGenerateCountsErrors(t *testing.T) {
	dir := t.TempDir()

	writeRecords(t, filepath.Join(dir, pipeline.CheckedFile),
		statusRecord("doc-1", map[string]types.FieldStatus{
			"objective":    types.StatusVerified,
			"sample_size":  types.StatusVerified,
			"dropout_rate": types.StatusVerified,
		}),
	)
	writeErrors(t, filepath.Join(dir, pipeline.ExtractErrorsFile),
		types.ErrorEntry{DocumentID: "doc-2", Stage: "extract", Code: types.ErrCodeModelCall, Time: time.Now().UTC()},
		types.ErrorEntry{DocumentID: "doc-3", Stage: "extract", Code: types.ErrCodeModelCall, Time: time.Now().UTC()},
	)
	writeErrors(t, filepath.Join(dir, pipeline.RepairErrorsFile),
		types.ErrorEntry{DocumentID: "doc-4", Stage: "repair", Code: types.ErrCodeReadError, Time: time.Now().UTC()},
	)

	got, err := Generate(dir, testSchema())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "| extract | "+types.ErrCodeModelCall+" | 2 |") {
		t.Errorf("report missing extract error row:\n%s", got)
	}
	if !strings.Contains(got, "| repair | "+types.ErrCodeReadError+" | 1 |") {
		t.Errorf("report missing repair error row:\n%s", got)
	}
}

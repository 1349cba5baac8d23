package factcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pierre-achkar/sr4all/internal/jsonl"
	"github.com/pierre-achkar/sr4all/internal/llm"
	"github.com/pierre-achkar/sr4all/pkg/types"
)

// --- mock judges ---

// mockJudge answers per field, matched by name in the prompt.
type mockJudge struct {
	verdicts map[string]bool // field name → supported
	errOn    string          // field name that triggers a call error
	calls    int
	prompts  []string
}

func (m *mockJudge) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	m.calls++
	m.prompts = append(m.prompts, req.Prompt)
	if m.errOn != "" && strings.Contains(req.Prompt, "Field: "+m.errOn+" (") {
		return llm.Response{}, &llm.CallError{Provider: "test", Err: fmt.Errorf("boom")}
	}
	for name, supported := range m.verdicts {
		if strings.Contains(req.Prompt, "Field: "+name+" (") {
			return llm.Response{Text: fmt.Sprintf(`{"supported": %t}`, supported)}, nil
		}
	}
	return llm.Response{Text: `{"supported": false}`}, nil
}

// seqJudge returns canned responses in call order; the last repeats.
type seqJudge struct {
	responses []string
	calls     int
	prompts   []string
}

func (s *seqJudge) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	s.calls++
	s.prompts = append(s.prompts, req.Prompt)
	i := s.calls - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return llm.Response{Text: s.responses[i]}, nil
}

func testSchema() types.Schema {
	return types.Schema{
		Name: "trial-report",
		Fields: []types.FieldSpec{
			{Name: "objective", Type: types.TypeString, Required: true},
			{Name: "sample_size", Type: types.TypeInteger},
			{Name: "databases", Type: types.TypeStringList},
			{Name: "blinded", Type: types.TypeBoolean},
		},
	}
}

func strPtr(s string) *string { return &s }

// alignedRecord is a record as the aligner hands it over: two aligned
// fields, one unaligned, one never extracted.
func alignedRecord() *types.Record {
	return &types.Record{
		DocumentID: "doc-1",
		Fields: map[string]*types.FieldValue{
			"objective":   {Value: "assess treatment efficacy", EvidenceSpan: strPtr("to assess treatment efficacy"), Status: types.StatusAligned},
			"sample_size": {Value: int64(142), EvidenceSpan: strPtr("We enrolled 42 participants"), Status: types.StatusAligned},
			"databases":   {Value: []string{"PubMed"}, Status: types.StatusUnaligned, Reason: types.ReasonNoEvidence},
			"blinded":     {Status: types.StatusUnset},
		},
	}
}

// --- CheckRecord ---

func TestCheckRecord(t *testing.T) {
	judge := &mockJudge{verdicts: map[string]bool{
		"objective":   true,
		"sample_size": false,
	}}
	r := &Runner{Backend: judge, Schema: testSchema(), MaxRetries: 1}

	rec := alignedRecord()
	if err := r.CheckRecord(context.Background(), rec); err != nil {
		t.Fatalf("CheckRecord: %v", err)
	}

	want := map[string]*types.FieldValue{
		"objective":   {Value: "assess treatment efficacy", EvidenceSpan: strPtr("to assess treatment efficacy"), Status: types.StatusVerified},
		"sample_size": {Status: types.StatusUnsupported, Reason: types.ReasonUnsupportedValue},
		"databases":   {Status: types.StatusUnsupported, Reason: types.ReasonNoEvidence},
		"blinded":     {Status: types.StatusUnset},
	}
	if diff := cmp.Diff(want, rec.Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}

	// Only the two aligned fields reach the judge.
	if judge.calls != 2 {
		t.Errorf("judge.calls = %d, want 2", judge.calls)
	}

	if rec.FactCheck == nil {
		t.Fatal("FactCheck stats not set")
	}
	if rec.FactCheck.Checked != 3 || rec.FactCheck.Failed != 2 {
		t.Errorf("stats = %+v, want checked 3, failed 2", rec.FactCheck)
	}
}

func TestCheckRecordIdempotent(t *testing.T) {
	judge := &mockJudge{verdicts: map[string]bool{"objective": true, "sample_size": false}}
	r := &Runner{Backend: judge, Schema: testSchema(), MaxRetries: 1}

	rec := alignedRecord()
	if err := r.CheckRecord(context.Background(), rec); err != nil {
		t.Fatalf("first CheckRecord: %v", err)
	}
	before, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := judge.calls

	if err := r.CheckRecord(context.Background(), rec); err != nil {
		t.Fatalf("second CheckRecord: %v", err)
	}
	after, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(string(before), string(after)); diff != "" {
		t.Errorf("re-check changed the record (-first +second):\n%s", diff)
	}
	if judge.calls != callsAfterFirst {
		t.Errorf("judge.calls = %d after re-check, want %d", judge.calls, callsAfterFirst)
	}
}

func TestCheckRecordRetriesBadVerdict(t *testing.T) {
	judge := &seqJudge{responses: []string{"definitely supported!", `{"supported": true}`}}
	r := &Runner{Backend: judge, Schema: testSchema(), MaxRetries: 1, ParseRetries: 2}

	span := "to assess treatment efficacy"
	rec := &types.Record{
		DocumentID: "doc-1",
		Fields: map[string]*types.FieldValue{
			"objective": {Value: "assess treatment efficacy", EvidenceSpan: &span, Status: types.StatusAligned},
		},
	}
	if err := r.CheckRecord(context.Background(), rec); err != nil {
		t.Fatalf("CheckRecord: %v", err)
	}

	if judge.calls != 2 {
		t.Fatalf("judge.calls = %d, want 2", judge.calls)
	}
	if !strings.Contains(judge.prompts[1], "could not be parsed") {
		t.Error("second prompt missing strict instruction")
	}
	if got := rec.Fields["objective"].Status; got != types.StatusVerified {
		t.Errorf("objective status = %q, want %q", got, types.StatusVerified)
	}
}

func TestCheckRecordVerdictParseExhausted(t *testing.T) {
	judge := &seqJudge{responses: []string{"not json"}}
	r := &Runner{Backend: judge, Schema: testSchema(), MaxRetries: 1, ParseRetries: 1}

	span := "some evidence"
	rec := &types.Record{
		DocumentID: "doc-1",
		Fields: map[string]*types.FieldValue{
			"objective": {Value: "x", EvidenceSpan: &span, Status: types.StatusAligned},
		},
	}
	err := r.CheckRecord(context.Background(), rec)
	if err == nil {
		t.Fatal("expected error for unparseable verdicts")
	}
	var parseErr *llm.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("error = %v, want *llm.ParseError", err)
	}
}

// --- RunBatch ---

func writeRecords(t *testing.T, path string, recs ...*types.Record) {
	t.Helper()
	w, err := jsonl.OpenWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunBatch(t *testing.T) {
	tmpDir := t.TempDir()
	inputPath := filepath.Join(tmpDir, "aligned_candidates.jsonl")
	outputPath := filepath.Join(tmpDir, "fact_checked_corpus.jsonl")
	errorPath := filepath.Join(tmpDir, "factcheck_errors.jsonl")

	rec1 := alignedRecord()
	rec2 := &types.Record{
		DocumentID: "doc-2",
		Fields: map[string]*types.FieldValue{
			"blinded": {Value: true, EvidenceSpan: strPtr("a double-blind trial"), Status: types.StatusAligned},
		},
	}
	writeRecords(t, inputPath, rec1, rec2)

	judge := &mockJudge{
		verdicts: map[string]bool{"objective": true, "sample_size": true},
		errOn:    "blinded",
	}
	r := &Runner{Backend: judge, Schema: testSchema(), MaxRetries: 1, Concurrency: 1}

	var buf strings.Builder
	summary, err := r.RunBatch(context.Background(), inputPath, outputPath, errorPath, &buf)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	if summary.Checked != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 1 checked, 1 failed", summary)
	}

	records, err := jsonl.ReadRecords(outputPath)
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(records) != 1 || records[0].DocumentID != "doc-1" {
		t.Fatalf("output = %v, want only doc-1", records)
	}
	if got := records[0].Fields["objective"].Status; got != types.StatusVerified {
		t.Errorf("objective status = %q, want %q", got, types.StatusVerified)
	}

	entries, err := jsonl.ReadErrors(errorPath)
	if err != nil {
		t.Fatalf("ReadErrors: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d error entries, want 1", len(entries))
	}
	if entries[0].DocumentID != "doc-2" || entries[0].Stage != "factcheck" || entries[0].Code != types.ErrCodeModelCall {
		t.Errorf("error entry = %+v", entries[0])
	}

	// Resume: doc-1 skipped, doc-2 retried.
	summary, err = r.RunBatch(context.Background(), inputPath, outputPath, errorPath, &buf)
	if err != nil {
		t.Fatalf("second RunBatch: %v", err)
	}
	if summary.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", summary.Skipped)
	}
}

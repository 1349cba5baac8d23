package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pierre-achkar/sr4all/internal/jsonl"
	"github.com/pierre-achkar/sr4all/internal/llm"
	"github.com/pierre-achkar/sr4all/pkg/types"
)

const docText = "We enrolled 42 participants to assess treatment efficacy. The dropout rate was not stated."

// stageBackend routes calls by prompt kind so one mock can serve the
// whole pipeline. Responses are consumed in order; the last repeats.
type stageBackend struct {
	extractResponses []string
	repairResponses  []string
	judgeResponses   []string

	extractCalls int
	repairCalls  int
	judgeCalls   int
}

func take(responses []string, call int) string {
	if call >= len(responses) {
		call = len(responses) - 1
	}
	return responses[call]
}

func (m *stageBackend) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	switch {
	case strings.Contains(req.Prompt, "fact-checking judge"):
		m.judgeCalls++
		return llm.Response{Text: take(m.judgeResponses, m.judgeCalls-1)}, nil
	case strings.Contains(req.Prompt, "repairing one field"):
		m.repairCalls++
		return llm.Response{Text: take(m.repairResponses, m.repairCalls-1)}, nil
	default:
		m.extractCalls++
		return llm.Response{Text: take(m.extractResponses, m.extractCalls-1)}, nil
	}
}

func (m *stageBackend) totalCalls() int {
	return m.extractCalls + m.repairCalls + m.judgeCalls
}

func testPipeline(t *testing.T, backend llm.Backend) (*Pipeline, string) {
	t.Helper()
	tmpDir := t.TempDir()

	if err := os.MkdirAll(filepath.Join(tmpDir, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "docs", "doc-1.txt"), []byte(docText), 0o644); err != nil {
		t.Fatal(err)
	}
	manifest := `{"id": "doc-1", "text_path": "docs/doc-1.txt"}` + "\n"
	if err := os.WriteFile(filepath.Join(tmpDir, ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	schema := types.Schema{
		Name: "trial-report",
		Fields: []types.FieldSpec{
			{Name: "objective", Type: types.TypeString, Required: true},
			{Name: "sample_size", Type: types.TypeInteger},
			{Name: "dropout_rate", Type: types.TypeNumber},
		},
	}
	cfg := types.PipelineConfig{
		DataDir:     tmpDir,
		Concurrency: 1,
		AI:          types.AIConfig{MaxRetries: 1},
		Extract:     types.ExtractConfig{ParseRetries: 1},
		Align:       types.AlignConfig{SimilarityThreshold: 0.8},
		Repair:      types.RepairConfig{MaxAttempts: 2},
	}
	return &Pipeline{Backend: backend, Schema: schema, Config: cfg}, tmpDir
}

func TestRunFullPipeline(t *testing.T) {
	backend := &stageBackend{
		extractResponses: []string{`{
			"objective": {"value": "assess treatment efficacy", "evidence": "to assess treatment efficacy"},
			"sample_size": {"value": 500, "evidence": "500 subjects were recruited"},
			"dropout_rate": {"value": null, "evidence": null}
		}`},
		repairResponses: []string{
			`{"value": 42, "evidence": "We enrolled 42 participants"}`,
			`{"value": null, "evidence": null}`,
		},
		judgeResponses: []string{`{"supported": true}`},
	}
	p, tmpDir := testPipeline(t, backend)

	var buf strings.Builder
	res, err := p.Run(context.Background(), &buf)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.RunID == "" {
		t.Error("empty run ID")
	}
	if res.Failed() {
		t.Errorf("Failed() = true, summaries: %+v", res)
	}
	if res.Extract.Extracted != 1 || res.Align.Aligned != 1 || res.FactCheck.Checked != 1 || res.Repair.Repaired != 1 {
		t.Errorf("summaries = %+v, want 1 document through every stage", res)
	}

	records, err := jsonl.ReadRecords(filepath.Join(tmpDir, RepairedFile))
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d final records, want 1", len(records))
	}
	rec := records[0]

	if rec.RunID != res.RunID {
		t.Errorf("record run_id = %q, want %q", rec.RunID, res.RunID)
	}

	// Extracted with good evidence: verified, value and span intact.
	obj := rec.Fields["objective"]
	if obj.Status != types.StatusVerified {
		t.Errorf("objective status = %q, want %q", obj.Status, types.StatusVerified)
	}
	if obj.EvidenceSpan == nil || *obj.EvidenceSpan != "to assess treatment efficacy" {
		t.Errorf("objective evidence = %v", obj.EvidenceSpan)
	}

	// Hallucinated figure: unaligned, nulled by the fact checker, then
	// recovered by repair with grounded evidence.
	ss := rec.Fields["sample_size"]
	if ss.Status != types.StatusRepaired {
		t.Errorf("sample_size status = %q, want %q", ss.Status, types.StatusRepaired)
	}
	if ss.EvidenceSpan == nil || *ss.EvidenceSpan != "We enrolled 42 participants" {
		t.Errorf("sample_size evidence = %v", ss.EvidenceSpan)
	}
	if got := ss.Value; got == nil {
		t.Error("sample_size value is nil after repair")
	}

	// Never stated: repair exhausts its budget and the value stays null.
	dr := rec.Fields["dropout_rate"]
	if dr.Status != types.StatusRepairFailed {
		t.Errorf("dropout_rate status = %q, want %q", dr.Status, types.StatusRepairFailed)
	}
	if dr.Value != nil || dr.EvidenceSpan != nil {
		t.Errorf("dropout_rate = %+v, want null value and span", dr)
	}
	if dr.Attempts != 2 {
		t.Errorf("dropout_rate attempts = %d, want 2", dr.Attempts)
	}
	if dr.Reason != types.ReasonNoEvidence {
		t.Errorf("dropout_rate reason = %q, want %q", dr.Reason, types.ReasonNoEvidence)
	}

	if rec.FactCheck == nil || rec.FactCheck.Checked != 2 || rec.FactCheck.Failed != 1 {
		t.Errorf("fact_check stats = %+v, want checked 2, failed 1", rec.FactCheck)
	}

	// One judge call at fact-check (objective), one at repair (sample_size).
	if backend.judgeCalls != 2 {
		t.Errorf("judgeCalls = %d, want 2", backend.judgeCalls)
	}
	// One repair call for sample_size plus two exhausted for dropout_rate.
	if backend.repairCalls != 3 {
		t.Errorf("repairCalls = %d, want 3", backend.repairCalls)
	}

	// Every stage file exists.
	for _, name := range []string{RawFile, AlignedFile, CheckedFile, RepairedFile} {
		if _, err := os.Stat(filepath.Join(tmpDir, name)); err != nil {
			t.Errorf("missing stage file %s: %v", name, err)
		}
	}
}

func TestRunResumesCompletedStages(t *testing.T) {
	backend := &stageBackend{
		extractResponses: []string{`{
			"objective": {"value": "assess treatment efficacy", "evidence": "to assess treatment efficacy"},
			"sample_size": {"value": 42, "evidence": "We enrolled 42 participants"},
			"dropout_rate": {"value": null, "evidence": null}
		}`},
		repairResponses: []string{`{"value": null, "evidence": null}`},
		judgeResponses:  []string{`{"supported": true}`},
	}
	p, _ := testPipeline(t, backend)

	var buf strings.Builder
	if _, err := p.Run(context.Background(), &buf); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	callsAfterFirst := backend.totalCalls()

	res, err := p.Run(context.Background(), &buf)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if res.Extract.Skipped != 1 || res.Align.Skipped != 1 || res.FactCheck.Skipped != 1 || res.Repair.Skipped != 1 {
		t.Errorf("summaries = %+v, want every stage skipping the completed document", res)
	}
	if backend.totalCalls() != callsAfterFirst {
		t.Errorf("model calls = %d after resume, want %d", backend.totalCalls(), callsAfterFirst)
	}
}

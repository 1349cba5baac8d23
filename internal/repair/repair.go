// Package repair retries failed fields one at a time. A repair attempt
// is a full round trip: targeted re-extraction, re-alignment against the
// raw text, and a fresh grounding verdict. Only fields the fact checker
// left unsupported, or that extraction never set, are eligible; verified
// fields are never touched.
package repair

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pierre-achkar/sr4all/internal/align"
	"github.com/pierre-achkar/sr4all/internal/corpus"
	"github.com/pierre-achkar/sr4all/internal/extract"
	"github.com/pierre-achkar/sr4all/internal/factcheck"
	"github.com/pierre-achkar/sr4all/internal/jsonl"
	"github.com/pierre-achkar/sr4all/internal/llm"
	"github.com/pierre-achkar/sr4all/pkg/types"
)

const (
	defaultMaxRetries   = 5
	defaultParseRetries = 2
	defaultMaxAttempts  = 2
)

// repairPromptTmpl re-asks for a single field. The field's repair
// instruction, when the schema carries one, replaces the generic hint.
var repairPromptTmpl = template.Must(template.New("repair").Parse(`{{if .Strict}}Your previous response could not be parsed as JSON. Respond with ONLY the JSON object described below. No prose, no markdown fences, no commentary.

{{end}}You are repairing one field of a systematic-review extraction.

Field: {{.Name}} ({{.Type}})
Instruction: {{.Instruction}}
{{if .Reason}}An earlier pass failed this field with reason: {{.Reason}}. Re-read the document carefully before answering.
{{end}}
Report two keys:
- "value": the extracted value, typed as declared (string, integer, number, boolean, or string_list). Use null if the document truly does not state it. Never guess.
- "evidence": a short verbatim quote from the document that states the value. Copy the exact characters, do not paraphrase. Use null when value is null.

Respond with a JSON object: {"value": ..., "evidence": ...}. Do not include any text outside the JSON object.

Document:
{{.Text}}
`))

// repairResponse is the model's answer for the single repaired field.
type repairResponse struct {
	Value    any     `json:"value"`
	Evidence *string `json:"evidence"`
}

// Runner executes the repair stage.
type Runner struct {
	Backend llm.Backend
	Schema  types.Schema

	// MaxRetries caps model-call retries per invocation; <= 0 uses the
	// default (5).
	MaxRetries int

	// ParseRetries caps stricter-prompt retries after unparseable model
	// output; <= 0 uses the default (2).
	ParseRetries int

	// MaxAttempts caps repair attempts per field; <= 0 uses the
	// default (2).
	MaxAttempts int

	// Threshold is the fuzzy alignment threshold for repaired evidence.
	Threshold float64

	// Concurrency caps records processed in parallel; <= 0 means 1.
	Concurrency int

	// BaseDir resolves the source_path stored on each record.
	BaseDir string

	Logger *zap.Logger
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Runner) maxAttempts() int {
	if r.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return r.MaxAttempts
}

// RepairRecord repairs every eligible field of rec in place against the
// document text. Fields end repaired or repair_failed; everything else
// is left untouched, so re-running on a repaired record changes nothing.
func (r *Runner) RepairRecord(ctx context.Context, rec *types.Record, text string) error {
	for _, field := range r.Schema.Fields {
		fv := rec.Fields[field.Name]
		if fv == nil {
			continue
		}
		if fv.Status != types.StatusUnsupported && fv.Status != types.StatusUnset {
			continue
		}
		if err := r.repairField(ctx, rec.DocumentID, field, fv, text); err != nil {
			return fmt.Errorf("repairing %s: %w", field.Name, err)
		}
	}
	return nil
}

// repairField runs the bounded attempt loop for one field. Attempts
// counts failures; ones carried over from a previous run still count
// against the budget.
func (r *Runner) repairField(ctx context.Context, docID string, field types.FieldSpec, fv *types.FieldValue, text string) error {
	for fv.Attempts < r.maxAttempts() {
		repaired, err := r.attemptField(ctx, field, fv, text)
		if err != nil {
			return err
		}
		if repaired {
			fv.Status = types.StatusRepaired
			fv.Reason = ""
			r.logger().Info("field repaired",
				zap.String("document_id", docID),
				zap.String("field", field.Name),
				zap.Int("failed_attempts", fv.Attempts))
			return nil
		}
		fv.Attempts++
	}
	fv.Status = types.StatusRepairFailed
	r.logger().Warn("field repair exhausted",
		zap.String("document_id", docID),
		zap.String("field", field.Name),
		zap.Int("attempts", fv.Attempts))
	return nil
}

// attemptField makes one repair attempt: re-extract the field, re-align
// the new evidence, and re-check the grounding. The new value lands on fv
// only when the whole round trip succeeds; a failed attempt leaves the
// value null and records why.
func (r *Runner) attemptField(ctx context.Context, field types.FieldSpec, fv *types.FieldValue, text string) (bool, error) {
	parsed, err := r.reextract(ctx, field, fv.Reason, text)
	if err != nil {
		return false, err
	}

	if parsed.Value == nil {
		fv.Reason = types.ReasonNoEvidence
		return false, nil
	}
	value, err := extract.CoerceValue(field.Type, parsed.Value)
	if err != nil || extract.IsGhost(value) {
		fv.Reason = types.ReasonNoEvidence
		return false, nil
	}

	// Align on a scratch field so a failed attempt cannot clobber fv.
	trial := &types.FieldValue{Value: value, Status: types.StatusExtracted}
	if parsed.Evidence != nil && strings.TrimSpace(*parsed.Evidence) != "" {
		quote := *parsed.Evidence
		trial.EvidenceSpan = &quote
	}
	if _, ok := align.AlignField(trial, text, r.Threshold); !ok {
		fv.Reason = types.ReasonNoEvidence
		return false, nil
	}

	supported, err := factcheck.JudgeField(ctx, r.Backend, field, trial.Value, *trial.EvidenceSpan, r.MaxRetries, r.ParseRetries)
	if err != nil {
		return false, err
	}
	if !supported {
		fv.Reason = types.ReasonUnsupportedValue
		return false, nil
	}

	fv.Value = trial.Value
	fv.EvidenceSpan = trial.EvidenceSpan
	return true, nil
}

// reextract asks the model for the single field, retrying with a
// stricter instruction while the response fails to parse.
func (r *Runner) reextract(ctx context.Context, field types.FieldSpec, reason string, text string) (repairResponse, error) {
	maxRetries := r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	parseRetries := r.ParseRetries
	if parseRetries <= 0 {
		parseRetries = defaultParseRetries
	}

	instruction := field.RepairInstruction
	if instruction == "" {
		instruction = field.Instruction
	}
	if instruction == "" {
		instruction = "extract the value stated in the document"
	}

	data := struct {
		Strict      bool
		Name        string
		Type        string
		Instruction string
		Reason      string
		Text        string
	}{
		Name:        field.Name,
		Type:        string(field.Type),
		Instruction: instruction,
		Reason:      reason,
		Text:        text,
	}

	var lastErr error
	for attempt := 0; attempt <= parseRetries; attempt++ {
		var buf bytes.Buffer
		if err := repairPromptTmpl.Execute(&buf, data); err != nil {
			return repairResponse{}, fmt.Errorf("rendering repair prompt: %w", err)
		}

		resp, err := llm.CallWithRetry(ctx, r.Backend, llm.Request{Prompt: buf.String()}, maxRetries)
		if err != nil {
			return repairResponse{}, err
		}

		var parsed repairResponse
		if err := llm.DecodeObject(resp.Text, &parsed); err != nil {
			lastErr = err
			data.Strict = true
			continue
		}
		return parsed, nil
	}
	return repairResponse{}, lastErr
}

// BatchSummary holds counts from a batch repair run.
type BatchSummary struct {
	Repaired int
	Skipped  int
	Failed   int
}

// Total returns the number of records processed.
func (s BatchSummary) Total() int {
	return s.Repaired + s.Skipped + s.Failed
}

// HasFailures reports whether any records failed.
func (s BatchSummary) HasFailures() bool {
	return s.Failed > 0
}

// RunBatch repairs every record in inputPath and appends the results to
// outputPath, re-reading each record's source document from BaseDir.
// Records already present in outputPath are skipped. Unreadable
// documents, model-call exhaustion, and persistently unparseable output
// send the record to errorPath and the batch continues; a cancelled
// context aborts the batch.
func (r *Runner) RunBatch(ctx context.Context, inputPath, outputPath, errorPath string, w io.Writer) (BatchSummary, error) {
	records, err := jsonl.ReadRecords(inputPath)
	if err != nil {
		return BatchSummary{}, err
	}
	done, err := jsonl.CompletedIDs(outputPath)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("reading prior output: %w", err)
	}

	out, err := jsonl.OpenWriter(outputPath)
	if err != nil {
		return BatchSummary{}, err
	}
	defer out.Close()

	errLog, err := jsonl.OpenWriter(errorPath)
	if err != nil {
		return BatchSummary{}, err
	}
	defer errLog.Close()

	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var mu sync.Mutex
	var summary BatchSummary

	fail := func(id, code string, cause error) error {
		if werr := errLog.Write(types.ErrorEntry{
			DocumentID: id,
			Stage:      "repair",
			Code:       code,
			Message:    cause.Error(),
			Time:       time.Now().UTC(),
		}); werr != nil {
			return werr
		}
		mu.Lock()
		fmt.Fprintf(w, "failed  %s: %v\n", id, cause)
		summary.Failed++
		mu.Unlock()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, rec := range records {
		if done[rec.DocumentID] {
			mu.Lock()
			fmt.Fprintf(w, "skipped %s\n", rec.DocumentID)
			summary.Skipped++
			mu.Unlock()
			continue
		}

		rec := rec
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			if rec.SourcePath == "" {
				return fail(rec.DocumentID, types.ErrCodeReadError, fmt.Errorf("record has no source_path"))
			}
			doc, err := corpus.ReadDocument(r.BaseDir, types.ManifestEntry{ID: rec.DocumentID, TextPath: rec.SourcePath})
			if err != nil {
				return fail(rec.DocumentID, corpus.ErrorCode(err, types.ErrCodeReadError), err)
			}

			if err := r.RepairRecord(ctx, rec, doc.Text); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				code := types.ErrCodeModelCall
				var parseErr *llm.ParseError
				if errors.As(err, &parseErr) {
					code = types.ErrCodeParseFail
				}
				return fail(rec.DocumentID, code, err)
			}

			rec.Timestamp = time.Now().UTC()
			if err := out.Write(rec); err != nil {
				return err
			}

			repaired, exhausted := 0, 0
			for _, fv := range rec.Fields {
				switch fv.Status {
				case types.StatusRepaired:
					repaired++
				case types.StatusRepairFailed:
					exhausted++
				}
			}
			mu.Lock()
			fmt.Fprintf(w, "repaired %s (%d repaired, %d exhausted)\n", rec.DocumentID, repaired, exhausted)
			summary.Repaired++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

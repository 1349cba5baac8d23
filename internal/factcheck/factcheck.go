// Package factcheck judges whether aligned evidence actually supports
// extracted values. It is the pipeline's only authority for nulling a
// value: unaligned fields fail here with reason no_evidence_found, and
// aligned fields whose span does not state the value fail with reason
// evidence_does_not_support_value.
package factcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pierre-achkar/sr4all/internal/jsonl"
	"github.com/pierre-achkar/sr4all/internal/llm"
	"github.com/pierre-achkar/sr4all/pkg/types"
)

const (
	defaultMaxRetries   = 5
	defaultParseRetries = 2
)

// judgePromptTmpl asks the model for a yes/no grounding verdict on one
// field. The judge sees only the evidence span, never the full document,
// so it cannot invent support the aligner did not find.
var judgePromptTmpl = template.Must(template.New("judge").Parse(`{{if .Strict}}Your previous response could not be parsed as JSON. Respond with ONLY the JSON object described below. No prose, no markdown fences, no commentary.

{{end}}You are a fact-checking judge for a systematic-review extraction pipeline.

Field: {{.Name}} ({{.Type}})
Extracted value: {{.Value}}
Evidence quoted from the document:
"{{.Span}}"

Does the evidence state or directly support the extracted value? Judge strictly from the quoted evidence; do not use outside knowledge or assume missing context.

Respond with a JSON object: {"supported": true} or {"supported": false}. Do not include any text outside the JSON object.
`))

// verdict is the judge's response for one field.
type verdict struct {
	Supported bool `json:"supported"`
}

// Runner executes the fact-checking stage.
type Runner struct {
	Backend llm.Backend
	Schema  types.Schema

	// MaxRetries caps model-call retries per judge invocation; <= 0 uses
	// the default (5).
	MaxRetries int

	// ParseRetries caps stricter-prompt retries after an unparseable
	// verdict; <= 0 uses the default (2).
	ParseRetries int

	// Concurrency caps records processed in parallel; <= 0 means 1.
	Concurrency int

	Logger *zap.Logger
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// JudgeField asks the model whether the span supports the value,
// retrying with a stricter instruction while the verdict fails to parse.
// maxRetries and parseRetries <= 0 fall back to the package defaults.
// The repair stage uses it to re-check repaired fields.
func JudgeField(ctx context.Context, backend llm.Backend, field types.FieldSpec, value any, span string, maxRetries, parseRetries int) (bool, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if parseRetries <= 0 {
		parseRetries = defaultParseRetries
	}

	data := struct {
		Strict bool
		Name   string
		Type   string
		Value  string
		Span   string
	}{
		Name:  field.Name,
		Type:  string(field.Type),
		Value: renderValue(value),
		Span:  span,
	}

	var lastErr error
	for attempt := 0; attempt <= parseRetries; attempt++ {
		var buf bytes.Buffer
		if err := judgePromptTmpl.Execute(&buf, data); err != nil {
			return false, fmt.Errorf("rendering judge prompt: %w", err)
		}

		resp, err := llm.CallWithRetry(ctx, backend, llm.Request{Prompt: buf.String()}, maxRetries)
		if err != nil {
			return false, err
		}

		var v verdict
		if err := llm.DecodeObject(resp.Text, &v); err != nil {
			lastErr = err
			data.Strict = true
			continue
		}
		return v.Supported, nil
	}
	return false, lastErr
}

// renderValue formats a field value for the judge prompt.
func renderValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// CheckRecord fact-checks every field of rec in place. Aligned fields are
// judged and become verified or unsupported; unaligned fields become
// unsupported without a judge call. Unsupported fields lose their value
// and span. Fields in any other status are left untouched, so re-checking
// an already checked record changes nothing.
func (r *Runner) CheckRecord(ctx context.Context, rec *types.Record) error {
	stats := &types.FactCheckStats{}

	failField := func(fv *types.FieldValue, reason string) {
		stats.Failed++
		fv.Value = nil
		fv.EvidenceSpan = nil
		fv.Status = types.StatusUnsupported
		fv.Reason = reason
	}

	for _, field := range r.Schema.Fields {
		fv := rec.Fields[field.Name]
		if fv == nil {
			continue
		}

		switch fv.Status {
		case types.StatusUnaligned:
			stats.Checked++
			failField(fv, types.ReasonNoEvidence)
			continue
		case types.StatusAligned:
		default:
			continue
		}

		if fv.EvidenceSpan == nil {
			stats.Checked++
			failField(fv, types.ReasonNoEvidence)
			continue
		}

		stats.Checked++
		supported, err := JudgeField(ctx, r.Backend, field, fv.Value, *fv.EvidenceSpan, r.MaxRetries, r.ParseRetries)
		if err != nil {
			return fmt.Errorf("judging %s: %w", field.Name, err)
		}
		if supported {
			fv.Status = types.StatusVerified
			fv.Reason = ""
			r.logger().Debug("field verified",
				zap.String("document_id", rec.DocumentID),
				zap.String("field", field.Name))
		} else {
			failField(fv, types.ReasonUnsupportedValue)
			r.logger().Warn("evidence does not support value",
				zap.String("document_id", rec.DocumentID),
				zap.String("field", field.Name))
		}
	}

	// A re-check finds nothing to judge; keep the original stats then.
	if stats.Checked > 0 || rec.FactCheck == nil {
		rec.FactCheck = stats
	}
	return nil
}

// BatchSummary holds counts from a batch fact-checking run.
type BatchSummary struct {
	Checked int
	Skipped int
	Failed  int
}

// Total returns the number of records processed.
func (s BatchSummary) Total() int {
	return s.Checked + s.Skipped + s.Failed
}

// HasFailures reports whether any records failed.
func (s BatchSummary) HasFailures() bool {
	return s.Failed > 0
}

// RunBatch fact-checks every record in inputPath and appends the results
// to outputPath. Records already present in outputPath are skipped.
// Judge-call exhaustion and persistently unparseable verdicts send the
// record to errorPath and the batch continues; a cancelled context aborts
// the batch.
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
			Stage:      "factcheck",
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

			if err := r.CheckRecord(ctx, rec); err != nil {
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

			verified, unsupported := 0, 0
			for _, fv := range rec.Fields {
				switch fv.Status {
				case types.StatusVerified:
					verified++
				case types.StatusUnsupported:
					unsupported++
				}
			}
			mu.Lock()
			fmt.Fprintf(w, "checked %s (%d verified, %d unsupported)\n", rec.DocumentID, verified, unsupported)
			summary.Checked++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

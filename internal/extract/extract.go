// Package extract produces candidate records from document text: one
// model call per document requesting every schema field, parsed against
// the schema and typed, but not yet verified against the text.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pierre-achkar/sr4all/internal/corpus"
	"github.com/pierre-achkar/sr4all/internal/jsonl"
	"github.com/pierre-achkar/sr4all/internal/llm"
	"github.com/pierre-achkar/sr4all/pkg/types"
)

const (
	defaultMaxRetries   = 5
	defaultParseRetries = 2
)

// ghostStrings are placeholder values the model emits for fields it could
// not find. They carry no information and are dropped to unset.
var ghostStrings = map[string]bool{
	"n/a":           true,
	"na":            true,
	"none":          true,
	"null":          true,
	"unknown":       true,
	"not reported":  true,
	"not specified": true,
}

// fieldResponse is one field as returned by the model: the value and a
// claimed verbatim quote supporting it.
type fieldResponse struct {
	Value    any     `json:"value"`
	Evidence *string `json:"evidence"`
}

// Runner executes the extraction stage.
type Runner struct {
	Backend llm.Backend
	Schema  types.Schema

	// MaxRetries caps model-call retries per invocation; <= 0 uses the
	// default (5).
	MaxRetries int

	// ParseRetries caps stricter-prompt retries after unparseable model
	// output; <= 0 uses the default (2).
	ParseRetries int

	// Concurrency caps documents processed in parallel; <= 0 means 1.
	Concurrency int

	// BaseDir resolves relative text paths in the manifest.
	BaseDir string

	// RunID is stamped on every record this runner writes.
	RunID string

	Logger *zap.Logger
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Run extracts one document into a candidate record. Every schema field
// is present in the result: extracted where the model supplied a usable
// value, unset otherwise. The model's evidence quote is stored on the
// field unvalidated; alignment resolves it against the text later.
func (r *Runner) Run(ctx context.Context, doc types.Document) (*types.Record, error) {
	rec := &types.Record{
		DocumentID: doc.ID,
		SourcePath: doc.SourcePath,
		RunID:      r.RunID,
		Fields:     make(map[string]*types.FieldValue, len(r.Schema.Fields)),
	}
	for _, field := range r.Schema.Fields {
		rec.Fields[field.Name] = &types.FieldValue{Status: types.StatusUnset}
	}

	parsed, err := r.extractFields(ctx, doc.Text)
	if err != nil {
		return nil, err
	}

	for _, field := range r.Schema.Fields {
		resp, ok := parsed[field.Name]
		if !ok || resp.Value == nil {
			continue
		}

		value, err := CoerceValue(field.Type, resp.Value)
		if err != nil {
			r.logger().Debug("dropping mistyped value",
				zap.String("document_id", doc.ID),
				zap.String("field", field.Name),
				zap.Error(err))
			continue
		}
		if IsGhost(value) {
			r.logger().Debug("dropping placeholder value",
				zap.String("document_id", doc.ID),
				zap.String("field", field.Name))
			continue
		}

		fv := rec.Fields[field.Name]
		fv.Value = value
		fv.Status = types.StatusExtracted
		if resp.Evidence != nil && strings.TrimSpace(*resp.Evidence) != "" {
			quote := *resp.Evidence
			fv.EvidenceSpan = &quote
		}
	}
	return rec, nil
}

// extractFields calls the model and parses the response, retrying with a
// stricter instruction while the output fails to parse. A *llm.ParseError
// after all retries means the document is an extraction error.
func (r *Runner) extractFields(ctx context.Context, text string) (map[string]fieldResponse, error) {
	maxRetries := r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	parseRetries := r.ParseRetries
	if parseRetries <= 0 {
		parseRetries = defaultParseRetries
	}

	strict := false
	var lastErr error
	for attempt := 0; attempt <= parseRetries; attempt++ {
		prompt, err := renderPrompt(r.Schema, text, strict)
		if err != nil {
			return nil, fmt.Errorf("rendering prompt: %w", err)
		}

		resp, err := llm.CallWithRetry(ctx, r.Backend, llm.Request{Prompt: prompt}, maxRetries)
		if err != nil {
			return nil, err
		}

		var parsed map[string]fieldResponse
		if err := llm.DecodeObject(resp.Text, &parsed); err != nil {
			lastErr = err
			strict = true
			continue
		}
		return parsed, nil
	}
	return nil, lastErr
}

// CoerceValue converts a decoded JSON value to the field's declared
// type. Mild model sloppiness is tolerated: quoted numbers, yes/no
// booleans, and a bare string where a list was asked for. The repair
// stage reuses it for re-extracted values.
func CoerceValue(ft types.FieldType, v any) (any, error) {
	switch ft {
	case types.TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", v)
		}
		return strings.TrimSpace(s), nil

	case types.TypeInteger:
		switch val := v.(type) {
		case json.Number:
			return parseInteger(val.String())
		case string:
			return parseInteger(strings.TrimSpace(val))
		}
		return nil, fmt.Errorf("want integer, got %T", v)

	case types.TypeNumber:
		switch val := v.(type) {
		case json.Number:
			return val.Float64()
		case string:
			return strconv.ParseFloat(strings.TrimSpace(val), 64)
		}
		return nil, fmt.Errorf("want number, got %T", v)

	case types.TypeBoolean:
		switch val := v.(type) {
		case bool:
			return val, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(val)) {
			case "true", "yes":
				return true, nil
			case "false", "no":
				return false, nil
			}
		}
		return nil, fmt.Errorf("want boolean, got %v", v)

	case types.TypeStringList:
		switch val := v.(type) {
		case []any:
			var list []string
			for i, e := range val {
				s, ok := e.(string)
				if !ok {
					return nil, fmt.Errorf("element %d: want string, got %T", i, e)
				}
				if s = strings.TrimSpace(s); s != "" {
					list = append(list, s)
				}
			}
			return list, nil
		case string:
			if s := strings.TrimSpace(val); s != "" {
				return []string{s}, nil
			}
			return []string(nil), nil
		}
		return nil, fmt.Errorf("want string list, got %T", v)
	}
	return nil, fmt.Errorf("unknown field type %q", ft)
}

// parseInteger accepts plain integers and integral floats ("42.0").
func parseInteger(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	n := int64(f)
	if float64(n) != f {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return n, nil
}

// IsGhost reports whether a coerced value carries no information.
func IsGhost(v any) bool {
	switch val := v.(type) {
	case string:
		return val == "" || ghostStrings[strings.ToLower(val)]
	case []string:
		return len(val) == 0
	}
	return false
}

// BatchSummary holds counts from a batch extraction run.
type BatchSummary struct {
	Extracted int
	Skipped   int
	Failed    int
}

// Total returns the number of documents processed.
func (s BatchSummary) Total() int {
	return s.Extracted + s.Skipped + s.Failed
}

// HasFailures reports whether any documents failed.
func (s BatchSummary) HasFailures() bool {
	return s.Failed > 0
}

// RunBatch extracts every manifest document and appends candidate records
// to outputPath. Documents already present in outputPath are skipped.
// Unreadable documents, model-call exhaustion, and persistently
// unparseable output go to errorPath and the batch continues; a cancelled
// context aborts the batch.
func (r *Runner) RunBatch(ctx context.Context, manifestPath, outputPath, errorPath string, w io.Writer) (BatchSummary, error) {
	entries, err := corpus.LoadManifest(manifestPath)
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
			Stage:      "extract",
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

	for _, entry := range entries {
		if done[entry.ID] {
			mu.Lock()
			fmt.Fprintf(w, "skipped %s\n", entry.ID)
			summary.Skipped++
			mu.Unlock()
			continue
		}

		entry := entry
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			doc, err := corpus.ReadDocument(r.BaseDir, entry)
			if err != nil {
				return fail(entry.ID, corpus.ErrorCode(err, types.ErrCodeReadError), err)
			}

			rec, err := r.Run(ctx, doc)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				code := types.ErrCodeModelCall
				var parseErr *llm.ParseError
				if errors.As(err, &parseErr) {
					code = types.ErrCodeParseFail
				}
				return fail(entry.ID, code, err)
			}

			rec.Timestamp = time.Now().UTC()
			if err := out.Write(rec); err != nil {
				return err
			}

			populated := 0
			for _, fv := range rec.Fields {
				if fv.Status == types.StatusExtracted {
					populated++
				}
			}
			mu.Lock()
			fmt.Fprintf(w, "extracted %s (%d fields)\n", entry.ID, populated)
			summary.Extracted++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

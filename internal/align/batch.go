// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package align

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pierre-achkar/sr4all/internal/corpus"
	"github.com/pierre-achkar/sr4all/internal/jsonl"
	"github.com/pierre-achkar/sr4all/pkg/types"
)

// BatchSummary holds counts from a batch alignment run.
type BatchSummary struct {
	Aligned int
	Skipped int
	Failed  int
}

// Total returns the number of documents processed.
func (s BatchSummary) Total() int {
	return s.Aligned + s.Skipped + s.Failed
}

// HasFailures reports whether any documents failed.
func (s BatchSummary) HasFailures() bool {
	return s.Failed > 0
}

// Runner executes the alignment stage over a candidates file. Alignment
// makes no model calls; concurrency only spreads the text loading and
// span search across documents.
type Runner struct {
	Schema types.Schema

	// Threshold is the fuzzy-match cutoff. Outside (0, 1] the fuzzy tier
	// is off and only exact and normalized matches count.
	Threshold float64

	// Concurrency caps documents processed in parallel; <= 0 means 1.
	Concurrency int

	// BaseDir resolves relative source paths in the input records.
	BaseDir string

	Logger *zap.Logger
}

// RunBatch aligns every record in inputPath and appends the results to
// outputPath. Documents already present in outputPath are skipped, so an
// interrupted run resumes where it stopped. Documents whose text cannot
// be read go to errorPath and the batch continues; per-document progress
// goes to w.
func (r *Runner) RunBatch(ctx context.Context, inputPath, outputPath, errorPath string, w io.Writer) (BatchSummary, error) {
	records, err := jsonl.ReadRecords(inputPath)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("reading candidates: %w", err)
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

	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var mu sync.Mutex
	var summary BatchSummary

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

			entry := types.ManifestEntry{ID: rec.DocumentID, TextPath: rec.SourcePath}
			doc, err := corpus.ReadDocument(r.BaseDir, entry)
			if err != nil {
				if werr := errLog.Write(types.ErrorEntry{
					DocumentID: rec.DocumentID,
					Stage:      "align",
					Code:       corpus.ErrorCode(err, types.ErrCodeReadError),
					Message:    err.Error(),
					Time:       time.Now().UTC(),
				}); werr != nil {
					return werr
				}
				mu.Lock()
				fmt.Fprintf(w, "failed  %s: %v\n", rec.DocumentID, err)
				summary.Failed++
				mu.Unlock()
				return nil
			}

			AlignRecord(r.Schema, rec, doc.Text, r.Threshold, logger)
			rec.Timestamp = time.Now().UTC()

			if err := out.Write(rec); err != nil {
				return err
			}

			mu.Lock()
			fmt.Fprintf(w, "aligned %s\n", rec.DocumentID)
			summary.Aligned++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

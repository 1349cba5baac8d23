// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline wires the four stages into one run over a data
// directory. Each stage reads the previous stage's file and appends to
// its own, so a crashed run resumes from the last completed document.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pierre-achkar/sr4all/internal/align"
	"github.com/pierre-achkar/sr4all/internal/extract"
	"github.com/pierre-achkar/sr4all/internal/factcheck"
	"github.com/pierre-achkar/sr4all/internal/llm"
	"github.com/pierre-achkar/sr4all/internal/repair"
	"github.com/pierre-achkar/sr4all/pkg/types"
)

// Stage files inside the data directory.
const (
	ManifestFile = "manifest.jsonl"
	RawFile      = "raw_candidates.jsonl"
	AlignedFile  = "aligned_candidates.jsonl"
	CheckedFile  = "fact_checked_corpus.jsonl"
	RepairedFile = "repaired_corpus.jsonl"

	ExtractErrorsFile   = "extract_errors.jsonl"
	AlignErrorsFile     = "align_errors.jsonl"
	FactCheckErrorsFile = "factcheck_errors.jsonl"
	RepairErrorsFile    = "repair_errors.jsonl"
)

// Pipeline runs the stages in order against one data directory.
type Pipeline struct {
	Backend llm.Backend
	Schema  types.Schema
	Config  types.PipelineConfig
	Logger  *zap.Logger
}

// Result summarizes a full pipeline run.
type Result struct {
	RunID     string
	Extract   extract.BatchSummary
	Align     align.BatchSummary
	FactCheck factcheck.BatchSummary
	Repair    repair.BatchSummary
	Duration  time.Duration
}

// Failed reports whether any stage recorded document failures.
func (r Result) Failed() bool {
	return r.Extract.HasFailures() || r.Align.HasFailures() ||
		r.FactCheck.HasFailures() || r.Repair.HasFailures()
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// path resolves a stage file inside the data directory.
func (p *Pipeline) path(name string) string {
	return filepath.Join(p.Config.DataDir, name)
}

// Extractor builds the extraction runner for this pipeline's config.
func (p *Pipeline) Extractor(runID string) *extract.Runner {
	return &extract.Runner{
		Backend:      p.Backend,
		Schema:       p.Schema,
		MaxRetries:   p.Config.AI.MaxRetries,
		ParseRetries: p.Config.Extract.ParseRetries,
		Concurrency:  p.Config.Concurrency,
		BaseDir:      p.Config.DataDir,
		RunID:        runID,
		Logger:       p.logger(),
	}
}

// Aligner builds the alignment runner for this pipeline's config.
func (p *Pipeline) Aligner() *align.Runner {
	return &align.Runner{
		Schema:      p.Schema,
		Threshold:   p.Config.Align.SimilarityThreshold,
		Concurrency: p.Config.Concurrency,
		BaseDir:     p.Config.DataDir,
		Logger:      p.logger(),
	}
}

// FactChecker builds the fact-checking runner for this pipeline's config.
func (p *Pipeline) FactChecker() *factcheck.Runner {
	return &factcheck.Runner{
		Backend:      p.Backend,
		Schema:       p.Schema,
		MaxRetries:   p.Config.AI.MaxRetries,
		ParseRetries: p.Config.Extract.ParseRetries,
		Concurrency:  p.Config.Concurrency,
		Logger:       p.logger(),
	}
}

// Repairer builds the repair runner for this pipeline's config.
func (p *Pipeline) Repairer() *repair.Runner {
	return &repair.Runner{
		Backend:      p.Backend,
		Schema:       p.Schema,
		MaxRetries:   p.Config.AI.MaxRetries,
		ParseRetries: p.Config.Extract.ParseRetries,
		MaxAttempts:  p.Config.Repair.MaxAttempts,
		Threshold:    p.Config.Align.SimilarityThreshold,
		Concurrency:  p.Config.Concurrency,
		BaseDir:      p.Config.DataDir,
		Logger:       p.logger(),
	}
}

// Run executes extract, align, fact-check, and repair in order. Stage
// errors abort the run; per-document failures are already logged by the
// stages and do not.
func (p *Pipeline) Run(ctx context.Context, w io.Writer) (Result, error) {
	start := time.Now()
	res := Result{RunID: uuid.NewString()}
	log := p.logger().With(zap.String("run_id", res.RunID))

	stageStart := time.Now()
	fmt.Fprintln(w, "extract:")
	esum, err := p.Extractor(res.RunID).RunBatch(ctx, p.path(ManifestFile), p.path(RawFile), p.path(ExtractErrorsFile), w)
	res.Extract = esum
	if err != nil {
		return res, fmt.Errorf("extract stage: %w", err)
	}
	log.Info("extract stage finished",
		zap.Int("extracted", esum.Extracted),
		zap.Int("skipped", esum.Skipped),
		zap.Int("failed", esum.Failed),
		zap.Duration("elapsed", time.Since(stageStart)))

	stageStart = time.Now()
	fmt.Fprintln(w, "align:")
	asum, err := p.Aligner().RunBatch(ctx, p.path(RawFile), p.path(AlignedFile), p.path(AlignErrorsFile), w)
	res.Align = asum
	if err != nil {
		return res, fmt.Errorf("align stage: %w", err)
	}
	log.Info("align stage finished",
		zap.Int("aligned", asum.Aligned),
		zap.Int("skipped", asum.Skipped),
		zap.Int("failed", asum.Failed),
		zap.Duration("elapsed", time.Since(stageStart)))

	stageStart = time.Now()
	fmt.Fprintln(w, "factcheck:")
	csum, err := p.FactChecker().RunBatch(ctx, p.path(AlignedFile), p.path(CheckedFile), p.path(FactCheckErrorsFile), w)
	res.FactCheck = csum
	if err != nil {
		return res, fmt.Errorf("factcheck stage: %w", err)
	}
	log.Info("factcheck stage finished",
		zap.Int("checked", csum.Checked),
		zap.Int("skipped", csum.Skipped),
		zap.Int("failed", csum.Failed),
		zap.Duration("elapsed", time.Since(stageStart)))

	stageStart = time.Now()
	fmt.Fprintln(w, "repair:")
	rsum, err := p.Repairer().RunBatch(ctx, p.path(CheckedFile), p.path(RepairedFile), p.path(RepairErrorsFile), w)
	res.Repair = rsum
	if err != nil {
		return res, fmt.Errorf("repair stage: %w", err)
	}
	log.Info("repair stage finished",
		zap.Int("repaired", rsum.Repaired),
		zap.Int("skipped", rsum.Skipped),
		zap.Int("failed", rsum.Failed),
		zap.Duration("elapsed", time.Since(stageStart)))

	res.Duration = time.Since(start)
	log.Info("pipeline finished", zap.Duration("elapsed", res.Duration))
	return res, nil
}

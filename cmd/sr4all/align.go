package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pierre-achkar/sr4all/internal/pipeline"
)

var alignCmd = &cobra.Command{
	Use:   "align",
	Short: "Pin each candidate's evidence quote to its source text",
	Long: `Align locates every extracted field's evidence quote in the source
document, exactly or by fuzzy match above the similarity threshold, and
rewrites the quote to the verbatim document span. Fields whose quotes
cannot be found are marked unaligned. No model calls are made.`,
	RunE: runAlign,
}

func init() {
	rootCmd.AddCommand(alignCmd)
}

func runAlign(cmd *cobra.Command, args []string) error {
	p, err := buildPipeline(cmd, false)
	if err != nil {
		return err
	}

	sum, err := p.Aligner().RunBatch(cmd.Context(),
		stagePath(p.Config, pipeline.RawFile),
		stagePath(p.Config, pipeline.AlignedFile),
		stagePath(p.Config, pipeline.AlignErrorsFile),
		cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if sum.HasFailures() {
		return fmt.Errorf("%d document(s) failed alignment; see %s", sum.Failed, pipeline.AlignErrorsFile)
	}
	return nil
}

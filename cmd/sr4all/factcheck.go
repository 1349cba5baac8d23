package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pierre-achkar/sr4all/internal/pipeline"
)

var factcheckCmd = &cobra.Command{
	Use:   "factcheck",
	Short: "Verify each aligned value against its evidence span",
	Long: `Factcheck asks the model, for every aligned field, whether the pinned
evidence span supports the extracted value. Supported fields become
verified; unsupported ones have their value nulled and keep a reason.
Unaligned fields are nulled without a model call.`,
	RunE: runFactCheck,
}

func init() {
	rootCmd.AddCommand(factcheckCmd)
}

func runFactCheck(cmd *cobra.Command, args []string) error {
	p, err := buildPipeline(cmd, true)
	if err != nil {
		return err
	}

	sum, err := p.FactChecker().RunBatch(cmd.Context(),
		stagePath(p.Config, pipeline.AlignedFile),
		stagePath(p.Config, pipeline.CheckedFile),
		stagePath(p.Config, pipeline.FactCheckErrorsFile),
		cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if sum.HasFailures() {
		return fmt.Errorf("%d document(s) failed fact-checking; see %s", sum.Failed, pipeline.FactCheckErrorsFile)
	}
	return nil
}

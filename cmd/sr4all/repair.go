package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pierre-achkar/sr4all/internal/pipeline"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Retry failed fields one at a time with focused prompts",
	Long: `Repair re-extracts each unsupported or unset field individually,
telling the model why the previous attempt failed, then re-aligns and
re-verifies the new candidate. Fields that survive become repaired;
fields that exhaust the attempt budget become repair_failed and stay
null. Verified fields pass through untouched.`,
	RunE: runRepair,
}

func init() {
	rootCmd.AddCommand(repairCmd)
}

func runRepair(cmd *cobra.Command, args []string) error {
	p, err := buildPipeline(cmd, true)
	if err != nil {
		return err
	}

	sum, err := p.Repairer().RunBatch(cmd.Context(),
		stagePath(p.Config, pipeline.CheckedFile),
		stagePath(p.Config, pipeline.RepairedFile),
		stagePath(p.Config, pipeline.RepairErrorsFile),
		cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if sum.HasFailures() {
		return fmt.Errorf("%d document(s) failed repair; see %s", sum.Failed, pipeline.RepairErrorsFile)
	}
	return nil
}

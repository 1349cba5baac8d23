package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run extract, align, factcheck, and repair in order",
	Long: `Run executes the full pipeline against the data directory, each stage
reading the previous stage's file. Stages skip documents they have
already completed, so rerunning after a crash or a partial failure only
processes what is missing. The final output is repaired_corpus.jsonl.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	p, err := buildPipeline(cmd, true)
	if err != nil {
		return err
	}

	res, err := p.Run(cmd.Context(), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s finished in %s\n", res.RunID, res.Duration.Round(time.Millisecond))
	if res.Failed() {
		return fmt.Errorf("run finished with document failures; see the *_errors.jsonl files in %s", p.Config.DataDir)
	}
	return nil
}

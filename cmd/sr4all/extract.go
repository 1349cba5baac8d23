package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pierre-achkar/sr4all/internal/pipeline"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Propose field values for every manifest document",
	Long: `Extract reads the manifest, sends each document's text to the model
with the schema's field instructions, and appends one candidate record
per document to raw_candidates.jsonl. Documents already present in the
output are skipped, so an interrupted run resumes where it stopped.`,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	p, err := buildPipeline(cmd, true)
	if err != nil {
		return err
	}

	sum, err := p.Extractor(uuid.NewString()).RunBatch(cmd.Context(),
		stagePath(p.Config, pipeline.ManifestFile),
		stagePath(p.Config, pipeline.RawFile),
		stagePath(p.Config, pipeline.ExtractErrorsFile),
		cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if sum.HasFailures() {
		return fmt.Errorf("%d document(s) failed extraction; see %s", sum.Failed, pipeline.ExtractErrorsFile)
	}
	return nil
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pierre-achkar/sr4all/internal/corpus"
	"github.com/pierre-achkar/sr4all/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a Markdown summary of the latest pipeline run",
	Long: `Report reads the fact-checked and repaired corpora from the data
directory and renders a Markdown summary: field status counts, grounding
rates per field, document completeness, repair impact, and the document
errors recorded by each stage.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().String("out", "", "write the report to a file instead of stdout")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	schema, err := corpus.LoadSchema(cfg.SchemaPath)
	if err != nil {
		return err
	}

	text, err := report.Generate(cfg.DataDir, schema)
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		fmt.Fprint(cmd.OutOrStdout(), text)
		return nil
	}
	if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", out)
	return nil
}

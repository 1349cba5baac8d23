// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pierre-achkar/sr4all/internal/corpus"
	"github.com/pierre-achkar/sr4all/internal/dataset"
	"github.com/pierre-achkar/sr4all/internal/pipeline"
	"github.com/pierre-achkar/sr4all/pkg/types"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Manage the extracted dataset (ingest, query, export, trace)",
	Long: `Dataset manages a local SQLite index built from the repaired corpus.
Use subcommands to ingest the corpus, query fields, export the flattened
dataset, or trace a value back to its source context.`,
}

// --- ingest subcommand ---

var datasetIngestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index the repaired corpus into the dataset database",
	Long: `Ingest reads the repaired corpus, re-verifies that every grounded
value's evidence span still appears in its source document, and indexes
the fields into a SQLite database with FTS5 search over evidence spans.
Documents whose record timestamp is unchanged are skipped, so
re-ingesting is incremental.`,
	RunE: runDatasetIngest,
}

func runDatasetIngest(cmd *cobra.Command, args []string) error {
	store, cfg, err := datasetStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	corpusPath, _ := cmd.Flags().GetString("corpus")
	if corpusPath == "" {
		corpusPath = stagePath(cfg, pipeline.RepairedFile)
	}

	summary, err := store.Ingest(cmd.Context(), corpusPath, os.Stdout)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d document(s) failed indexing", summary.Failed)
	}
	return nil
}

// --- query subcommand ---

var datasetQueryCmd = &cobra.Command{
	Use:   "query [search terms]",
	Short: "Query the dataset with full-text search and filters",
	Long: `Query searches the dataset using FTS5 full-text search over evidence
spans, structured filters (field, status, document, group), or a
combination of both. Every result carries its evidence span and source
path, so nothing leaves the dataset without provenance.`,
	RunE: runDatasetQuery,
}

func runDatasetQuery(cmd *cobra.Command, args []string) error {
	store, _, err := datasetStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := queryOptsFromFlags(cmd, args)
	if opts.IsEmpty() {
		return fmt.Errorf("query or filter required: provide search terms, --field, --status, --document, or --group")
	}

	results, err := store.Retrieve(cmd.Context(), opts)
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	return formatQueryOutput(results, jsonOutput)
}

func formatQueryOutput(results []dataset.QueryResult, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-4s  %-20s  %-22s  %-13s  %-28s  %s\n",
		"Rank", "Document", "Field", "Status", "Value", "Evidence")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 120))

	for i, r := range results {
		doc := truncate(r.DocumentID, 20)
		field := truncate(r.Field, 22)
		value := truncate(formatValue(r.Value), 28)
		evidence := truncate(r.EvidenceSpan, 40)
		fmt.Fprintf(os.Stdout, "%-4d  %-20s  %-22s  %-13s  %-28s  %s\n",
			i+1, doc, field, r.Status, value, evidence)
	}

	fmt.Fprintf(os.Stdout, "\n%d results\n", len(results))
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatValue(v any) string {
	if v == nil {
		return "(null)"
	}
	if list, ok := v.([]any); ok {
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = fmt.Sprintf("%v", item)
		}
		return strings.Join(parts, "; ")
	}
	return fmt.Sprintf("%v", v)
}

// --- export subcommand ---

var datasetExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the flattened dataset to YAML or JSON",
	Long: `Export writes one entry per document with field values and statuses to
index/export.yaml or export.json inside the data directory. Evidence
spans are stripped; statuses stay so consumers can tell a grounded null
from a failed one.`,
	RunE: runDatasetExport,
}

func runDatasetExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	completeOnly, _ := cmd.Flags().GetBool("complete")

	store, cfg, err := datasetStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := dataset.ExportOptions{CompleteOnly: completeOnly}

	switch format {
	case "yaml", "":
		if err := store.ExportYAML(cmd.Context(), opts); err != nil {
			return err
		}
		fmt.Printf("Exported to %s/index/export.yaml\n", cfg.DataDir)
	case "json":
		if err := store.ExportJSON(cmd.Context(), opts); err != nil {
			return err
		}
		fmt.Printf("Exported to %s/index/export.json\n", cfg.DataDir)
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}

	return nil
}

// --- trace subcommand ---

var datasetTraceCmd = &cobra.Command{
	Use:   "trace <document-id> <field>",
	Short: "Show the source context behind one field's value",
	Long: `Trace locates a field's evidence span in its source document and
prints the span with the surrounding lines, so a reviewer can judge the
value against the text that produced it.`,
	Args: cobra.ExactArgs(2),
	RunE: runDatasetTrace,
}

func runDatasetTrace(cmd *cobra.Command, args []string) error {
	store, _, err := datasetStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	text, err := store.Trace(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

// --- shared helpers ---

func datasetStore(cmd *cobra.Command) (*dataset.Store, types.PipelineConfig, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, cfg, err
	}
	if v, _ := cmd.Flags().GetInt("max-results"); v > 0 {
		cfg.Dataset.MaxResults = v
	}

	schema, err := corpus.LoadSchema(cfg.SchemaPath)
	if err != nil {
		return nil, cfg, err
	}

	store, err := dataset.NewStore(cfg.Dataset, cfg.DataDir, schema)
	if err != nil {
		return nil, cfg, err
	}
	return store, cfg, nil
}

func queryOptsFromFlags(cmd *cobra.Command, args []string) dataset.QueryOptions {
	queryText, _ := cmd.Flags().GetString("query")
	if queryText == "" && len(args) > 0 {
		queryText = strings.Join(args, " ")
	}

	field, _ := cmd.Flags().GetString("field")
	status, _ := cmd.Flags().GetString("status")
	documentID, _ := cmd.Flags().GetString("document")
	group, _ := cmd.Flags().GetString("group")
	completeOnly, _ := cmd.Flags().GetBool("complete")
	placeholders, _ := cmd.Flags().GetBool("placeholders")
	limit, _ := cmd.Flags().GetInt("limit")

	return dataset.QueryOptions{
		Query:            queryText,
		Field:            field,
		Status:           types.FieldStatus(status),
		DocumentID:       documentID,
		Group:            group,
		CompleteOnly:     completeOnly,
		PlaceholdersOnly: placeholders,
		MaxResults:       limit,
	}
}

func init() {
	// Shared flags on the parent command, inherited by subcommands.
	datasetCmd.PersistentFlags().Int("max-results", 0, "maximum number of query results (default 20)")

	// Ingest flags.
	datasetIngestCmd.Flags().String("corpus", "", "corpus file to ingest (default <data-dir>/repaired_corpus.jsonl)")

	// Query flags.
	datasetQueryCmd.Flags().String("query", "", "full-text search over evidence spans")
	datasetQueryCmd.Flags().String("field", "", "filter by schema field name")
	datasetQueryCmd.Flags().String("status", "", "filter by field status: verified, repaired, unsupported, repair_failed, unset")
	datasetQueryCmd.Flags().String("document", "", "filter by document ID")
	datasetQueryCmd.Flags().String("group", "", "filter by schema field group")
	datasetQueryCmd.Flags().Bool("complete", false, "keep only fields of complete documents")
	datasetQueryCmd.Flags().Bool("placeholders", false, "keep only placeholder-flagged values")
	datasetQueryCmd.Flags().Int("limit", 0, "maximum results (0 = use default)")
	datasetQueryCmd.Flags().Bool("json", false, "output results as JSON")

	// Export flags.
	datasetExportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	datasetExportCmd.Flags().Bool("complete", false, "export only complete documents")

	// Wire subcommands.
	datasetCmd.AddCommand(datasetIngestCmd)
	datasetCmd.AddCommand(datasetQueryCmd)
	datasetCmd.AddCommand(datasetExportCmd)
	datasetCmd.AddCommand(datasetTraceCmd)

	rootCmd.AddCommand(datasetCmd)
}

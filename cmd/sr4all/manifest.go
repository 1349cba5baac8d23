package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pierre-achkar/sr4all/internal/corpus"
	"github.com/pierre-achkar/sr4all/internal/pipeline"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest [docs-dir]",
	Short: "Build the document manifest from a directory of text files",
	Long: `Manifest scans a directory for .txt and .md files and writes one
manifest entry per file to manifest.jsonl in the data directory, with
the document id taken from the file stem. The default docs-dir is
docs/ inside the data directory. Paths under the data directory are
stored relative to it, so the directory stays relocatable.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runManifest,
}

func init() {
	rootCmd.AddCommand(manifestCmd)
}

func runManifest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	docsDir := filepath.Join(cfg.DataDir, "docs")
	if len(args) == 1 {
		docsDir = args[0]
	}

	entries, err := corpus.BuildManifest(docsDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no .txt or .md files in %s", docsDir)
	}

	for i, entry := range entries {
		rel, err := filepath.Rel(cfg.DataDir, entry.TextPath)
		if err == nil && !strings.HasPrefix(rel, "..") {
			entries[i].TextPath = rel
			continue
		}
		abs, err := filepath.Abs(entry.TextPath)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", entry.TextPath, err)
		}
		entries[i].TextPath = abs
	}

	out := stagePath(cfg, pipeline.ManifestFile)
	if err := corpus.WriteManifest(out, entries); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "manifest: %d document(s) -> %s\n", len(entries), out)
	return nil
}

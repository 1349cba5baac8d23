package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pierre-achkar/sr4all/internal/corpus"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect the extraction schema (validate, show)",
}

var schemaValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the schema file for errors",
	Long: `Validate loads the schema file and reports the first problem it finds:
missing names, duplicate fields, unknown types, or fields without an
extraction instruction.`,
	RunE: runSchemaValidate,
}

var schemaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the schema's fields and instructions",
	RunE:  runSchemaShow,
}

func init() {
	schemaCmd.AddCommand(schemaValidateCmd)
	schemaCmd.AddCommand(schemaShowCmd)
	rootCmd.AddCommand(schemaCmd)
}

func runSchemaValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	schema, err := corpus.LoadSchema(cfg.SchemaPath)
	if err != nil {
		return err
	}

	required := 0
	for _, f := range schema.Fields {
		if f.Required {
			required++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema %q OK: %d fields, %d required, %d groups\n",
		schema.Name, len(schema.Fields), required, len(schema.Groups()))
	return nil
}

func runSchemaShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	schema, err := corpus.LoadSchema(cfg.SchemaPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%-26s  %-12s  %-9s  %s\n", "Field", "Type", "Required", "Group")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 70))
	for _, f := range schema.Fields {
		required := ""
		if f.Required {
			required = "yes"
		}
		fmt.Fprintf(os.Stdout, "%-26s  %-12s  %-9s  %s\n", f.Name, f.Type, required, f.Group)
		fmt.Fprintf(os.Stdout, "    %s\n", f.Instruction)
	}
	return nil
}

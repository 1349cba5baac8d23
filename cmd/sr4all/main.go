// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the sr4all CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pierre-achkar/sr4all/internal/corpus"
	"github.com/pierre-achkar/sr4all/internal/llm"
	"github.com/pierre-achkar/sr4all/internal/pipeline"
	"github.com/pierre-achkar/sr4all/internal/secrets"
	"github.com/pierre-achkar/sr4all/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// logger is the process-wide zap logger, built in PersistentPreRunE.
var logger *zap.Logger

// secretDefault returns fallback when set, else the named secret.
func secretDefault(key, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if v, ok := loadedSecrets[key]; ok {
		return v
	}
	return ""
}

// rootCmd is the base command for the sr4all CLI.
var rootCmd = &cobra.Command{
	Use:   "sr4all",
	Short: "Grounded data extraction from systematic-review documents",
	Long: `sr4all extracts structured fields from a corpus of study documents and
refuses to keep anything it cannot ground. Every value must be backed by a
verbatim evidence span from its source text: extraction proposes values,
alignment pins their quotes to the document, a fact-check pass nulls what
the evidence does not support, and a repair pass retries the failures
field by field.

Each stage is a subcommand reading the previous stage's JSONL file from
the data directory; run executes all four in order. The dataset
subcommands index the repaired corpus into SQLite for querying and export.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		var err error
		if verbose {
			logger, err = zap.NewDevelopment()
		} else {
			zcfg := zap.NewProductionConfig()
			zcfg.DisableStacktrace = true
			logger, err = zcfg.Build()
		}
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}

		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./sr4all.yaml or ~/.config/sr4all/config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	rootCmd.PersistentFlags().String("data-dir", "", "base directory for pipeline files (default data)")
	rootCmd.PersistentFlags().String("schema", "", "extraction schema YAML file (default schema.yaml)")
	rootCmd.PersistentFlags().String("provider", "", "AI provider: gemini or claude")
	rootCmd.PersistentFlags().String("model", "", "AI model identifier")
	rootCmd.PersistentFlags().Int("concurrency", 0, "documents processed in parallel (default 4)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("sr4all")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "sr4all"))
		}
	}

	viper.SetEnvPrefix("SR4ALL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig materializes the pipeline configuration from the config
// file, environment, flags, and loaded secrets, in that precedence.
func loadConfig(cmd *cobra.Command) (types.PipelineConfig, error) {
	var cfg types.PipelineConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing configuration: %w", err)
	}

	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("schema"); v != "" {
		cfg.SchemaPath = v
	}
	if v, _ := cmd.Flags().GetString("provider"); v != "" {
		cfg.AI.Provider = types.AIProvider(v)
	}
	if v, _ := cmd.Flags().GetString("model"); v != "" {
		cfg.AI.Model = v
	}
	if v, _ := cmd.Flags().GetInt("concurrency"); v > 0 {
		cfg.Concurrency = v
	}

	cfg.SetDefaults()

	switch cfg.AI.Provider {
	case types.ProviderClaude:
		cfg.AI.APIKey = secretDefault("anthropic-api-key", cfg.AI.APIKey)
	default:
		cfg.AI.APIKey = secretDefault("gemini-api-key", cfg.AI.APIKey)
	}

	return cfg, nil
}

// stagePath resolves a stage file inside the configured data directory.
func stagePath(cfg types.PipelineConfig, name string) string {
	return filepath.Join(cfg.DataDir, name)
}

// buildPipeline assembles a pipeline from the resolved configuration.
// withBackend is false for stages that never call the model.
func buildPipeline(cmd *cobra.Command, withBackend bool) (*pipeline.Pipeline, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	schema, err := corpus.LoadSchema(cfg.SchemaPath)
	if err != nil {
		return nil, err
	}
	p := &pipeline.Pipeline{Schema: schema, Config: cfg, Logger: logger}
	if withBackend {
		backend, err := llm.New(cmd.Context(), cfg.AI)
		if err != nil {
			return nil, err
		}
		p.Backend = backend
	}
	return p, nil
}

func main() {
	err := rootCmd.Execute()
	if logger != nil {
		logger.Sync()
	}
	if err != nil {
		os.Exit(1)
	}
}

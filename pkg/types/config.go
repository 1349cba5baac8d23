package types

// AIProvider identifies the Generative AI API a stage calls.
type AIProvider string

const (
	ProviderGemini AIProvider = "gemini"
	ProviderClaude AIProvider = "claude"
)

// AIConfig holds shared settings for stages that call a Generative AI API.
type AIConfig struct {
	// Provider selects the API: gemini or claude.
	Provider AIProvider `json:"provider" yaml:"provider" mapstructure:"provider"`

	// Model is the AI model identifier (e.g. "gemini-2.5-flash").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxRetries is the number of retry attempts for failed API calls
	// (default 5). Distinct from the repair budget: this bounds transport
	// retries of a single call.
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// Temperature is the sampling temperature (default 0.1; extraction
	// wants near-deterministic output).
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
}

// ExtractConfig holds settings for the extraction stage.
type ExtractConfig struct {
	// ParseRetries is the number of stricter-prompt retries after the
	// model returns output that fails schema parsing (default 2).
	ParseRetries int `json:"parse_retries" yaml:"parse_retries" mapstructure:"parse_retries"`
}

// AlignConfig holds settings for the alignment stage.
type AlignConfig struct {
	// SimilarityThreshold is the minimum token similarity for a fuzzy
	// span match, between 0 and 1 (default 0.8).
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
}

// RepairConfig holds settings for the repair stage.
type RepairConfig struct {
	// MaxAttempts is the per-field repair budget (default 2). A field
	// still ungrounded after this many targeted re-extractions becomes
	// repair_failed.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
}

// DatasetConfig holds settings for the dataset store.
type DatasetConfig struct {
	// DBPath is the SQLite database file (default <data_dir>/index/dataset.db).
	DBPath string `json:"db_path" yaml:"db_path" mapstructure:"db_path"`

	// MaxResults is the default maximum number of query results
	// (default 20).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	// DataDir is the base directory for pipeline files (manifest, stage
	// outputs, error logs).
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`

	// SchemaPath is the extraction schema YAML file.
	SchemaPath string `json:"schema" yaml:"schema" mapstructure:"schema"`

	// Concurrency caps documents processed in parallel (default 4).
	Concurrency int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`

	AI      AIConfig      `json:"ai" yaml:"ai" mapstructure:"ai"`
	Extract ExtractConfig `json:"extract" yaml:"extract" mapstructure:"extract"`
	Align   AlignConfig   `json:"align" yaml:"align" mapstructure:"align"`
	Repair  RepairConfig  `json:"repair" yaml:"repair" mapstructure:"repair"`
	Dataset DatasetConfig `json:"dataset" yaml:"dataset" mapstructure:"dataset"`
}

// SetDefaults fills unset fields with their documented defaults. The
// model default depends on the provider, so it resolves after the
// provider does.
func (c *PipelineConfig) SetDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.SchemaPath == "" {
		c.SchemaPath = "schema.yaml"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.AI.Provider == "" {
		c.AI.Provider = ProviderGemini
	}
	if c.AI.Model == "" {
		switch c.AI.Provider {
		case ProviderClaude:
			c.AI.Model = "claude-sonnet-4-5"
		default:
			c.AI.Model = "gemini-2.5-flash"
		}
	}
	if c.AI.MaxRetries <= 0 {
		c.AI.MaxRetries = 5
	}
	if c.AI.Temperature == 0 {
		c.AI.Temperature = 0.1
	}
	if c.Extract.ParseRetries <= 0 {
		c.Extract.ParseRetries = 2
	}
	if c.Align.SimilarityThreshold <= 0 {
		c.Align.SimilarityThreshold = 0.8
	}
	if c.Repair.MaxAttempts <= 0 {
		c.Repair.MaxAttempts = 2
	}
	if c.Dataset.MaxResults <= 0 {
		c.Dataset.MaxResults = 20
	}
}

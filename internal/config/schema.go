package config

import "time"

// Config holds guideshelf configuration.
// Stored at: {home}/config.yaml
type Config struct {
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	Defaults     DefaultsCfg               `mapstructure:"defaults" yaml:"defaults"`
	Pipeline     PipelineCfg               `mapstructure:"pipeline" yaml:"pipeline"`
	Storage      StorageCfg                `mapstructure:"storage" yaml:"storage"`
	Database     DatabaseCfg               `mapstructure:"database" yaml:"database"`
	Jobs         JobsCfg                   `mapstructure:"jobs" yaml:"jobs"`
	Server       ServerCfg                 `mapstructure:"server" yaml:"server"`
	Logging      LoggingCfg                `mapstructure:"logging" yaml:"logging"`
}

// LLMProviderCfg configures a text-generation provider.
type LLMProviderCfg struct {
	Type           string  `mapstructure:"type" yaml:"type"`                       // "openai", "openrouter", "gemini", "mock"
	Model          string  `mapstructure:"model" yaml:"model"`                     // Model name
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"`                 // API key (supports ${ENV_VAR} syntax)
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url,omitempty"`     // Override for OpenAI-compatible endpoints
	RateLimit      float64 `mapstructure:"rate_limit" yaml:"rate_limit"`           // Requests per minute
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"` // HTTP timeout
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg specifies default provider selections.
type DefaultsCfg struct {
	LLMProvider string `mapstructure:"llm_provider" yaml:"llm_provider"`
}

// PipelineCfg tunes page processing and consolidation.
type PipelineCfg struct {
	// ContextPages is how many prior page summaries go into a context pack.
	ContextPages int `mapstructure:"context_pages" yaml:"context_pages"`
	// StabilityGap is the page distance after which an untouched subtopic becomes stable.
	StabilityGap int `mapstructure:"stability_gap" yaml:"stability_gap"`
	// SummaryTokenCeiling is a soft limit for the rolling book summary.
	SummaryTokenCeiling int `mapstructure:"summary_token_ceiling" yaml:"summary_token_ceiling"`
	// MaxAttempts bounds retries of a single collaborator call.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// RetryBaseDelay is the first backoff delay; later delays double.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	// CallTimeout bounds a single collaborator round trip.
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	// IndexWriteAttempts bounds retries of index writes after a committed shard write.
	IndexWriteAttempts int `mapstructure:"index_write_attempts" yaml:"index_write_attempts"`
	// SummarySimilarity is the Jaccard threshold for duplicate candidates.
	SummarySimilarity float64 `mapstructure:"summary_similarity" yaml:"summary_similarity"`
	// MinNewTopicConfidence enables boundary hysteresis when > 0.
	MinNewTopicConfidence float64 `mapstructure:"min_new_topic_confidence" yaml:"min_new_topic_confidence"`
}

// StorageCfg selects the blob store backend.
type StorageCfg struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "fs" or "gcs"
	Root    string `mapstructure:"root" yaml:"root"`       // fs: root directory (default: {home}/blobs)
	Bucket  string `mapstructure:"bucket" yaml:"bucket"`   // gcs: bucket name
	Prefix  string `mapstructure:"prefix" yaml:"prefix"`   // gcs: object prefix
}

// DatabaseCfg locates the sqlite database.
type DatabaseCfg struct {
	Path string `mapstructure:"path" yaml:"path"` // default: {home}/guideshelf.db
}

// JobsCfg tunes the book lock.
type JobsCfg struct {
	LockTTL           time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// ServerCfg holds HTTP listen settings.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// LoggingCfg configures the slog handler.
type LoggingCfg struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {
				Type:           "openrouter",
				Model:          "anthropic/claude-sonnet-4",
				APIKey:         "${OPENROUTER_API_KEY}",
				RateLimit:      150,
				TimeoutSeconds: 120,
				Enabled:        true,
			},
			"openai": {
				Type:           "openai",
				Model:          "gpt-4o-mini",
				APIKey:         "${OPENAI_API_KEY}",
				RateLimit:      500,
				TimeoutSeconds: 120,
				Enabled:        false,
			},
			"gemini": {
				Type:           "gemini",
				Model:          "gemini-2.5-flash",
				APIKey:         "${GOOGLE_API_KEY}",
				RateLimit:      60,
				TimeoutSeconds: 120,
				Enabled:        false,
			},
		},
		Defaults: DefaultsCfg{
			LLMProvider: "openrouter",
		},
		Pipeline: PipelineCfg{
			ContextPages:        5,
			StabilityGap:        5,
			SummaryTokenCeiling: 2000,
			MaxAttempts:         3,
			RetryBaseDelay:      time.Second,
			CallTimeout:         120 * time.Second,
			IndexWriteAttempts:  5,
			SummarySimilarity:   0.5,
		},
		Storage: StorageCfg{
			Backend: "fs",
		},
		Jobs: JobsCfg{
			LockTTL:           2 * time.Minute,
			HeartbeatInterval: 30 * time.Second,
		},
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Logging: LoggingCfg{
			Level:  "info",
			Format: "text",
		},
	}
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// EnabledLLMProviders returns all enabled LLM providers.
func (c *Config) EnabledLLMProviders() map[string]LLMProviderCfg {
	result := make(map[string]LLMProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

package config

import "time"

// Config holds docproc configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Pipeline   PipelineCfg            `mapstructure:"pipeline" yaml:"pipeline"`
	Chunking   ChunkingCfg            `mapstructure:"chunking" yaml:"chunking"`
	Batch      BatchCfg               `mapstructure:"batch" yaml:"batch"`
	Retry      RetryCfg               `mapstructure:"retry" yaml:"retry"`
	Cost       CostCfg                `mapstructure:"cost" yaml:"cost"`
	Providers  map[string]ProviderCfg `mapstructure:"providers" yaml:"providers"`
	Categories map[string]CategoryCfg `mapstructure:"categories" yaml:"categories"`
	Output     OutputCfg              `mapstructure:"output" yaml:"output"`
	Prompts    PromptsCfg             `mapstructure:"prompts" yaml:"prompts"`
}

// PipelineCfg selects providers and dispatch strategy.
// Either Provider (combined OCR + extraction) or OCRProvider + TextProvider is set.
type PipelineCfg struct {
	Provider     string `mapstructure:"provider" yaml:"provider"`
	OCRProvider  string `mapstructure:"ocr_provider" yaml:"ocr_provider"`
	TextProvider string `mapstructure:"text_provider" yaml:"text_provider"`
	MaxWorkers   int    `mapstructure:"max_workers" yaml:"max_workers"`
	UseBatch     bool   `mapstructure:"use_batch" yaml:"use_batch"`
}

// ChunkingCfg bounds chunk size. Provider max_pages overrides the default.
type ChunkingCfg struct {
	MaxPagesPerChunk int `mapstructure:"max_pages_per_chunk" yaml:"max_pages_per_chunk"`
}

// BatchCfg controls batch job polling.
type BatchCfg struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxWait      time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
}

// RetryCfg is the retry policy shared by all provider calls.
type RetryCfg struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// CostCfg configures cost tracking and pricing lookups.
type CostCfg struct {
	Enabled    bool                  `mapstructure:"enabled" yaml:"enabled"`
	BackendURL string                `mapstructure:"backend_url" yaml:"backend_url"`
	Timeout    time.Duration         `mapstructure:"timeout" yaml:"timeout"`
	Fallback   map[string]PricingCfg `mapstructure:"fallback" yaml:"fallback"` // keyed by provider type
}

// PricingCfg holds static rates used when remote pricing is unavailable.
type PricingCfg struct {
	InputPer1K  float64 `mapstructure:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `mapstructure:"output_per_1k" yaml:"output_per_1k"`
	OCRPerPage  float64 `mapstructure:"ocr_per_page" yaml:"ocr_per_page"`
}

// ProviderCfg configures one named provider.
type ProviderCfg struct {
	Type      string        `mapstructure:"type" yaml:"type"`             // "mistral", "openai", "openrouter", "docai"
	APIKey    string        `mapstructure:"api_key" yaml:"api_key"`       // API key (supports ${ENV_VAR} syntax)
	Model     string        `mapstructure:"model" yaml:"model"`           // Model name
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`     // Optional endpoint override
	Endpoint  string        `mapstructure:"endpoint" yaml:"endpoint"`     // Document AI processor path
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxPages  int           `mapstructure:"max_pages" yaml:"max_pages"` // Chunk size override
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
}

// CategoryCfg describes how records of one document category are located,
// deduplicated, validated and laid out.
type CategoryCfg struct {
	ID               int      `mapstructure:"id" yaml:"id"`
	RecordsKey       string   `mapstructure:"records_key" yaml:"records_key"`
	AltRecordKeys    []string `mapstructure:"alt_record_keys" yaml:"alt_record_keys"`
	PageField        string   `mapstructure:"page_field" yaml:"page_field"`
	PageFieldAliases []string `mapstructure:"page_field_aliases" yaml:"page_field_aliases"`
	DedupKeys        []string `mapstructure:"dedup_keys" yaml:"dedup_keys"`
	RequiredFields   []string `mapstructure:"required_fields" yaml:"required_fields"`
	ColumnOrder      []string `mapstructure:"column_order" yaml:"column_order"`
}

// RecordKeys returns the primary records key followed by its alternates.
func (c CategoryCfg) RecordKeys() []string {
	keys := make([]string, 0, 1+len(c.AltRecordKeys))
	if c.RecordsKey != "" {
		keys = append(keys, c.RecordsKey)
	}
	return append(keys, c.AltRecordKeys...)
}

// PageFieldName returns the page field, defaulting to Page_no.
func (c CategoryCfg) PageFieldName() string {
	if c.PageField == "" {
		return "Page_no"
	}
	return c.PageField
}

// OutputCfg configures result writers.
type OutputCfg struct {
	Dir     string   `mapstructure:"dir" yaml:"dir"`         // Defaults to {home}/results
	Formats []string `mapstructure:"formats" yaml:"formats"` // json, csv, xlsx
}

// PromptsCfg allows overriding embedded prompt templates.
type PromptsCfg struct {
	Dir string `mapstructure:"dir" yaml:"dir"` // Directory of {category}.{system,user}.tmpl overrides
}

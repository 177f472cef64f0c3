package config

import (
	"time"
)

// Default pipeline settings.
const (
	DefaultMaxPagesPerChunk = 15
	DefaultMaxWorkers       = 8
	DefaultPollInterval     = 10 * time.Second
	DefaultMaxWait          = 3600 * time.Second
	DefaultRetryAttempts    = 3
	DefaultRetryBaseDelay   = time.Second
	DefaultRetryMaxDelay    = 30 * time.Second
)

// EOBColumnOrder is the tabular layout for remittance records.
var EOBColumnOrder = []string{
	"Page_no", "Patient_acct", "Patient_ID", "Claim_ID", "Patient Name",
	"First_Name", "Last Name", "member_number", "account_number", "check_number",
	"service_date", "billed_amount", "allowed_amount", "paid_amount", "interest_amount",
	"adj_co45", "adj_co253", "adj_co144", "cpt_hcpcs", "insurance_co",
	"claim_summary", "action_required", "patient_responsibility", "reason_code_comments",
	"Confidence_Score",
}

var pageAliases = []string{"Original_page_no", "page_no", "page", "page_number", "Page"}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineCfg{
			Provider:   "mistral",
			MaxWorkers: DefaultMaxWorkers,
			UseBatch:   true,
		},
		Chunking: ChunkingCfg{
			MaxPagesPerChunk: DefaultMaxPagesPerChunk,
		},
		Batch: BatchCfg{
			PollInterval: DefaultPollInterval,
			MaxWait:      DefaultMaxWait,
		},
		Retry: RetryCfg{
			MaxAttempts: DefaultRetryAttempts,
			BaseDelay:   DefaultRetryBaseDelay,
			MaxDelay:    DefaultRetryMaxDelay,
		},
		Cost: CostCfg{
			Enabled: false,
			Timeout: 10 * time.Second,
			Fallback: map[string]PricingCfg{
				"mistral":    {InputPer1K: 0.002, OutputPer1K: 0.006, OCRPerPage: 0.001},
				"openai":     {InputPer1K: 0.00015, OutputPer1K: 0.0006},
				"openrouter": {InputPer1K: 0.003, OutputPer1K: 0.015},
				"docai":      {OCRPerPage: 0.015},
			},
		},
		Providers: map[string]ProviderCfg{
			"mistral": {
				Type:      "mistral",
				APIKey:    "${MISTRAL_API_KEY}",
				Model:     "pixtral-large-latest",
				RateLimit: 6.0,
				Timeout:   300 * time.Second,
				MaxPages:  30,
				Enabled:   true,
			},
			"openai": {
				Type:      "openai",
				APIKey:    "${OPENAI_API_KEY}",
				Model:     "gpt-4o",
				RateLimit: 8.0,
				Timeout:   300 * time.Second,
				Enabled:   true,
			},
			"openrouter": {
				Type:      "openrouter",
				APIKey:    "${OPENROUTER_API_KEY}",
				Model:     "openai/gpt-4o",
				RateLimit: 10.0,
				Timeout:   300 * time.Second,
				Enabled:   false,
			},
			"docai": {
				Type:      "docai",
				APIKey:    "${GOOGLE_ACCESS_TOKEN}",
				Endpoint:  "${DOCAI_PROCESSOR}",
				RateLimit: 2.0,
				Timeout:   300 * time.Second,
				MaxPages:  15,
				Enabled:   false,
			},
		},
		Categories: DefaultCategories(),
		Output: OutputCfg{
			Formats: []string{"json", "csv"},
		},
	}
}

// DefaultCategories returns the built-in category definitions.
func DefaultCategories() map[string]CategoryCfg {
	return map[string]CategoryCfg{
		"eob": {
			ID:               1,
			RecordsKey:       "claims",
			AltRecordKeys:    []string{"data", "records"},
			PageField:        "Page_no",
			PageFieldAliases: pageAliases,
			DedupKeys:        []string{"Patient_acct", "service_date", "paid_amount"},
			RequiredFields:   []string{"patient_acct", "service_date"},
			ColumnOrder:      EOBColumnOrder,
		},
		"facesheet": {
			ID:               2,
			RecordsKey:       "patients",
			AltRecordKeys:    []string{"patient_info", "additional_data", "data"},
			PageField:        "Page_no",
			PageFieldAliases: pageAliases,
			DedupKeys:        []string{"patient_name", "date_of_birth", "medical_record_number"},
			RequiredFields:   []string{"patient_name", "date_of_birth", "medical_record_number"},
			ColumnOrder: []string{
				"Page_no", "patient_name", "date_of_birth", "medical_record_number",
				"admission_date", "insurance_primary", "insurance_secondary", "Confidence_Score",
			},
		},
		"invoice": {
			ID:               3,
			RecordsKey:       "line_items",
			AltRecordKeys:    []string{"data", "records"},
			PageField:        "Page_no",
			PageFieldAliases: pageAliases,
			DedupKeys:        []string{"invoice_number", "line_number", "description", "amount"},
			RequiredFields:   []string{"invoice_number", "invoice_date", "vendor_name", "total_amount"},
			ColumnOrder: []string{
				"Page_no", "invoice_number", "invoice_date", "vendor_name", "line_number",
				"description", "quantity", "unit_price", "amount", "total_amount", "Confidence_Score",
			},
		},
	}
}

// GetProvider returns a provider config by name.
func (c *Config) GetProvider(name string) (ProviderCfg, bool) {
	cfg, ok := c.Providers[name]
	return cfg, ok
}

// EnabledProviders returns all enabled providers.
func (c *Config) EnabledProviders() map[string]ProviderCfg {
	result := make(map[string]ProviderCfg)
	for name, cfg := range c.Providers {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// Category returns the category config by name.
func (c *Config) Category(name string) (CategoryCfg, bool) {
	cfg, ok := c.Categories[name]
	return cfg, ok
}

// MaxPagesFor returns the chunk size for the active pipeline. A provider-level
// max_pages wins over chunking.max_pages_per_chunk; for split pipelines the
// OCR provider bounds the chunk.
func (c *Config) MaxPagesFor() int {
	name := c.Pipeline.Provider
	if name == "" {
		name = c.Pipeline.OCRProvider
	}
	if p, ok := c.Providers[name]; ok && p.MaxPages > 0 {
		return p.MaxPages
	}
	return c.Chunking.MaxPagesPerChunk
}

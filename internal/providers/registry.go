package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

// Registry holds named extraction providers.
// It supports config-driven instantiation, hot-reload, and provides thread-safe access.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	configs   map[string]ProviderConfig
	retry     RetryPolicy
	logger    *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		configs:   make(map[string]ProviderConfig),
		logger:    slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register adds a provider under name, replacing any existing entry.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
	delete(r.configs, name)
	r.logger.Info("registered provider", "name", name, "type", p.Name())
}

// Unregister removes a provider by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, name)
	delete(r.configs, name)
	r.logger.Info("unregistered provider", "name", name)
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	return p, nil
}

// Has checks if a provider is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capabilities describes what a registered provider can do.
type Capabilities struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Combined bool   `json:"combined" yaml:"combined"`
	OCR      bool   `json:"ocr" yaml:"ocr"`
	Text     bool   `json:"text" yaml:"text"`
	Batch    bool   `json:"batch" yaml:"batch"`
}

// Describe lists the capabilities of every registered provider, sorted by name.
func (r *Registry) Describe() []Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Capabilities, 0, len(r.providers))
	for name, p := range r.providers {
		c := Capabilities{Name: name, Type: p.Name()}
		_, c.Combined = p.(CombinedProvider)
		_, c.OCR = p.(OCRProvider)
		_, c.Text = p.(TextExtractor)
		_, c.Batch = p.(BatchProvider)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Selection names the providers a pipeline run should use. Either Combined,
// or both OCR and Text, must be set. A complete OCR+Text pair takes precedence.
type Selection struct {
	Combined string `json:"combined,omitempty" yaml:"combined,omitempty"`
	OCR      string `json:"ocr,omitempty" yaml:"ocr,omitempty"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
}

// Split reports whether the selection names a two-step OCR then text pipeline.
func (s Selection) Split() bool {
	return s.OCR != "" && s.Text != ""
}

// Strategy is a resolved selection. Exactly one of Combined or the OCR/Text
// pair is set. Batch is set when the extracting provider also supports batches.
type Strategy struct {
	Combined CombinedProvider
	OCR      OCRProvider
	Text     TextExtractor
	Batch    BatchProvider

	// Names as registered, used for logging and pricing.
	CombinedName string
	OCRName      string
	TextName     string
}

// Split reports whether the strategy runs OCR and text extraction separately.
func (s *Strategy) Split() bool {
	return s.Combined == nil
}

// String returns "mistral" or "docai+openai" style names.
func (s *Strategy) String() string {
	if s.Split() {
		return s.OCRName + "+" + s.TextName
	}
	return s.CombinedName
}

// Resolve turns a selection into a strategy, checking capability and availability.
func (r *Registry) Resolve(sel Selection) (*Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sel.Split() {
		ocr, err := lookup[OCRProvider](r, sel.OCR, "pipeline.ocr_provider", "OCR")
		if err != nil {
			return nil, err
		}
		text, err := lookup[TextExtractor](r, sel.Text, "pipeline.text_provider", "text extraction")
		if err != nil {
			return nil, err
		}
		s := &Strategy{OCR: ocr, Text: text, OCRName: sel.OCR, TextName: sel.Text}
		if b, ok := text.(BatchProvider); ok {
			s.Batch = b
		}
		return s, nil
	}

	if sel.Combined == "" {
		return nil, &types.ConfigurationError{
			Field: "pipeline.provider",
			Msg:   "no provider selected; set provider or both ocr_provider and text_provider",
		}
	}
	combined, err := lookup[CombinedProvider](r, sel.Combined, "pipeline.provider", "combined extraction")
	if err != nil {
		return nil, err
	}
	s := &Strategy{Combined: combined, CombinedName: sel.Combined}
	if b, ok := combined.(BatchProvider); ok {
		s.Batch = b
	}
	return s, nil
}

// lookup fetches name and asserts capability T. Must be called with lock held.
func lookup[T Provider](r *Registry, name, field, capability string) (T, error) {
	var zero T
	p, ok := r.providers[name]
	if !ok {
		return zero, &types.ConfigurationError{
			Field: field,
			Msg:   fmt.Sprintf("provider %q is not configured (disabled or missing credentials)", name),
		}
	}
	typed, ok := p.(T)
	if !ok {
		return zero, &types.ConfigurationError{
			Field: field,
			Msg:   fmt.Sprintf("provider %q does not support %s", name, capability),
		}
	}
	if !typed.IsAvailable() {
		return zero, &types.ConfigurationError{
			Field: field,
			Msg:   fmt.Sprintf("provider %q is not available", name),
		}
	}
	return typed, nil
}

// RegistryConfig defines the providers to instantiate from config.
// This mirrors the config.Config structure for provider setup.
type RegistryConfig struct {
	Providers map[string]ProviderConfig
	Retry     RetryPolicy
}

// ProviderConfig matches config.ProviderCfg with resolved credentials.
type ProviderConfig struct {
	Type      string // "mistral", "openai", "openrouter", "docai"
	Model     string
	APIKey    string // Resolved API key or access token
	BaseURL   string
	Endpoint  string // Document AI processor URL
	RateLimit float64
	Timeout   time.Duration
	Enabled   bool
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Only enabled providers with credentials will be registered.
func NewRegistryFromConfig(cfg RegistryConfig, logger *slog.Logger) *Registry {
	r := NewRegistry()
	if logger != nil {
		r.logger = logger
	}
	r.Reload(cfg)
	return r
}

// Reload updates the registry based on new configuration.
// Providers that are no longer configured will be unregistered.
// Providers with changed settings will be re-created.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	retry := cfg.Retry
	retry.Logger = r.logger
	retryChanged := retry != r.retry
	r.retry = retry

	want := make(map[string]bool)
	for name, provCfg := range cfg.Providers {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		if provCfg.Type == "" {
			provCfg.Type = name
		}

		existing, hasExisting := r.configs[name]
		if hasExisting && existing == provCfg && !retryChanged {
			want[name] = true
			continue
		}

		p := createProvider(provCfg, retry)
		if p == nil {
			r.logger.Warn("unknown provider type", "name", name, "type", provCfg.Type)
			continue
		}
		want[name] = true
		r.providers[name] = p
		r.configs[name] = provCfg
		if hasExisting {
			r.logger.Info("updated provider", "name", name, "type", provCfg.Type)
		} else {
			r.logger.Info("registered provider", "name", name, "type", provCfg.Type)
		}
	}

	// Manually registered providers have no config entry and are left alone.
	for name := range r.configs {
		if !want[name] {
			delete(r.providers, name)
			delete(r.configs, name)
			r.logger.Info("unregistered provider", "name", name)
		}
	}
}

// createProvider creates a provider based on its type.
func createProvider(cfg ProviderConfig, retry RetryPolicy) Provider {
	switch cfg.Type {
	case MistralName:
		return NewMistralClient(MistralConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			Retry:     retry,
		})
	case OpenAIName:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			Retry:     retry,
		})
	case OpenRouterName:
		return NewOpenRouterClient(OpenRouterConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			Retry:     retry,
		})
	case DocumentAIName:
		return NewDocumentAIClient(DocumentAIConfig{
			AccessToken: cfg.APIKey,
			Endpoint:    cfg.Endpoint,
			Timeout:     cfg.Timeout,
			RateLimit:   cfg.RateLimit,
			Retry:       retry,
		})
	default:
		return nil
	}
}

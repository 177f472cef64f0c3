package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/providers"
)

// EnvPrefix is the prefix for environment overrides, e.g. DOCPROC_PIPELINE_MAX_WORKERS.
const EnvPrefix = "DOCPROC"

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
	logger    *slog.Logger
}

// NewManager creates a new config manager and loads initial config.
// cfgFile may be empty, in which case ./config.yaml and $HOME/.docproc/config.yaml are searched.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
		logger:    slog.Default(),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// SetLogger sets the logger used for reload diagnostics.
func (cm *Manager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	d := DefaultConfig()

	// Scalar defaults are registered per key so environment overrides resolve.
	v.SetDefault("pipeline.provider", d.Pipeline.Provider)
	v.SetDefault("pipeline.ocr_provider", d.Pipeline.OCRProvider)
	v.SetDefault("pipeline.text_provider", d.Pipeline.TextProvider)
	v.SetDefault("pipeline.max_workers", d.Pipeline.MaxWorkers)
	v.SetDefault("pipeline.use_batch", d.Pipeline.UseBatch)
	v.SetDefault("chunking.max_pages_per_chunk", d.Chunking.MaxPagesPerChunk)
	v.SetDefault("batch.poll_interval", d.Batch.PollInterval)
	v.SetDefault("batch.max_wait", d.Batch.MaxWait)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("cost.enabled", d.Cost.Enabled)
	v.SetDefault("cost.backend_url", d.Cost.BackendURL)
	v.SetDefault("cost.timeout", d.Cost.Timeout)
	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.formats", d.Output.Formats)
	v.SetDefault("prompts.dir", d.Prompts.Dir)

	// Environment variables with DOCPROC_ prefix
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.docproc")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
// Map sections (providers, categories, cost fallbacks) start from the defaults;
// an entry present in the file replaces the default entry of the same name.
func (cm *Manager) load() (*Config, error) {
	cfg := DefaultConfig()
	// Registered via SetDefault; clear so a shorter list from the file is not merged into it.
	cfg.Output.Formats = nil
	if err := cm.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func (cm *Manager) ConfigFileUsed() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cm.reload(e.Name)
	})
	cm.v.WatchConfig()
}

func (cm *Manager) reload(source string) {
	cfg, err := cm.load()
	if err != nil {
		cm.mu.RLock()
		logger := cm.logger
		cm.mu.RUnlock()
		logger.Warn("config reload rejected", "file", source, "error", err)
		return
	}

	cm.mu.Lock()
	cm.config = cfg
	callbacks := make([]func(*Config), len(cm.callbacks))
	copy(callbacks, cm.callbacks)
	cm.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}

// Validate checks values that would otherwise fail deep inside the pipeline.
func (c *Config) Validate() error {
	if c.Chunking.MaxPagesPerChunk <= 0 {
		return fmt.Errorf("chunking.max_pages_per_chunk must be positive, got %d", c.Chunking.MaxPagesPerChunk)
	}
	if c.Pipeline.MaxWorkers <= 0 {
		return fmt.Errorf("pipeline.max_workers must be positive, got %d", c.Pipeline.MaxWorkers)
	}
	if c.Pipeline.Provider == "" && (c.Pipeline.OCRProvider == "" || c.Pipeline.TextProvider == "") {
		return fmt.Errorf("pipeline requires provider or both ocr_provider and text_provider")
	}
	for name, cat := range c.Categories {
		if cat.RecordsKey == "" && len(cat.AltRecordKeys) == 0 {
			return fmt.Errorf("category %s has no records_key", name)
		}
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys and endpoints.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		Providers: make(map[string]providers.ProviderConfig, len(c.Providers)),
		Retry: providers.RetryPolicy{
			MaxAttempts: c.Retry.MaxAttempts,
			BaseDelay:   c.Retry.BaseDelay,
			MaxDelay:    c.Retry.MaxDelay,
		},
	}

	for name, p := range c.Providers {
		cfg.Providers[name] = providers.ProviderConfig{
			Type:      p.Type,
			Model:     p.Model,
			APIKey:    ResolveEnvVars(p.APIKey),
			BaseURL:   p.BaseURL,
			Endpoint:  ResolveEnvVars(p.Endpoint),
			RateLimit: p.RateLimit,
			Timeout:   p.Timeout,
			Enabled:   p.Enabled,
		}
	}

	return cfg
}

// Selection returns the provider selection for providers.Registry.Resolve.
func (c *Config) Selection() providers.Selection {
	return providers.Selection{
		Combined: c.Pipeline.Provider,
		OCR:      c.Pipeline.OCRProvider,
		Text:     c.Pipeline.TextProvider,
	}
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# docproc configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell or .env: MISTRAL_API_KEY=xxx OPENAI_API_KEY=xxx OPENROUTER_API_KEY=xxx
# Any scalar can be overridden with DOCPROC_<SECTION>_<KEY>, e.g. DOCPROC_PIPELINE_MAX_WORKERS=4

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}

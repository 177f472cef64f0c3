package providers

import (
	"os"
)

// TestConfig holds provider credentials loaded from environment variables.
// Live tests skip when the credential they need is absent.
type TestConfig struct {
	MistralAPIKey    string
	OpenAIAPIKey     string
	OpenRouterAPIKey string
	DocAIToken       string
	DocAIEndpoint    string
}

// LoadTestConfig loads provider API keys from environment variables.
// Returns a TestConfig with whatever keys are available.
func LoadTestConfig() TestConfig {
	return TestConfig{
		MistralAPIKey:    os.Getenv("MISTRAL_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		DocAIToken:       os.Getenv("GOOGLE_ACCESS_TOKEN"),
		DocAIEndpoint:    os.Getenv("DOCAI_PROCESSOR"),
	}
}

// HasMistral returns true if a Mistral API key is configured.
func (c TestConfig) HasMistral() bool {
	return c.MistralAPIKey != ""
}

// HasOpenAI returns true if an OpenAI API key is configured.
func (c TestConfig) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// HasOpenRouter returns true if an OpenRouter API key is configured.
func (c TestConfig) HasOpenRouter() bool {
	return c.OpenRouterAPIKey != ""
}

// HasDocAI returns true if a Document AI token and processor are configured.
func (c TestConfig) HasDocAI() bool {
	return c.DocAIToken != "" && c.DocAIEndpoint != ""
}

package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

const (
	OpenRouterName         = "openrouter"
	OpenRouterBaseURL      = "https://openrouter.ai/api/v1"
	OpenRouterDefaultModel = "openai/gpt-4o"
)

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	RateLimit  float64 // Requests per second (default: 150)
	Retry      RetryPolicy
	HTTPClient *http.Client // Optional (tests)
}

// OpenRouterClient implements CombinedProvider and TextExtractor using the
// OpenRouter API. PDFs are sent as file parts.
type OpenRouterClient struct {
	apiKey    string
	model     string
	rateLimit float64
	retry     RetryPolicy
	http      *httpTransport
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = OpenRouterDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 150.0
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenRouterClient{
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		rateLimit: cfg.RateLimit,
		retry:     cfg.Retry,
		http: &httpTransport{
			provider: OpenRouterName,
			baseURL:  cfg.BaseURL,
			apiKey:   cfg.APIKey,
			client:   httpClient,
			limiter:  NewRateLimiter(cfg.RateLimit),
			// 413/422 are often cache or format hiccups; retried with a nonce.
			retryCodes: map[int]bool{
				http.StatusRequestEntityTooLarge: true,
				http.StatusUnprocessableEntity:   true,
			},
			headers: map[string]string{
				"HTTP-Referer": "https://github.com/sdasgarali/ai-doc-processor-latest",
				"X-Title":      "docproc",
			},
		},
	}
}

// Name returns the client identifier.
func (c *OpenRouterClient) Name() string {
	return OpenRouterName
}

// IsAvailable reports whether an API key is configured.
func (c *OpenRouterClient) IsAvailable() bool {
	return c.apiKey != ""
}

// Model returns the configured model.
func (c *OpenRouterClient) Model() string {
	return c.model
}

// Chat sends a chat completion request.
func (c *OpenRouterClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	body := &chatCompletionRequest{
		Model:       model,
		Messages:    toChatMessages(req.Messages, openRouterFilePart),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		body.ResponseFormat = &chatResponseFormat{Type: "json_object"}
	}

	var resp chatCompletionResponse
	attempts := 0
	err := c.retry.Do(ctx, "openrouter.chat", func(ctx context.Context) error {
		if attempts > 0 {
			injectNonce(body, attempts)
		}
		attempts++
		resp = chatCompletionResponse{}
		if err := c.http.doJSON(ctx, http.MethodPost, "/chat/completions", body, &resp); err != nil {
			return err
		}
		if resp.Error != nil {
			// Upstream model failures arrive as 200 with an error object.
			return &types.TransientProviderError{
				Provider: OpenRouterName,
				Err:      fmt.Errorf("openrouter upstream error: %s", resp.Error.Message),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openrouter: no choices in response (id=%s)", resp.ID)
	}

	return &ChatResult{
		Content:          messageText(resp.Choices[0].Message.Content),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		ExecutionTime:    time.Since(start),
		Provider:         OpenRouterName,
		ModelUsed:        resp.Model,
		RequestID:        requestID,
		Attempts:         attempts,
		FinishReason:     resp.Choices[0].FinishReason,
	}, nil
}

// ExtractDocument sends the chunk PDF as a file part for combined extraction.
func (c *OpenRouterClient) ExtractDocument(ctx context.Context, unit *types.ExtractionUnit) (*types.RawResponse, error) {
	if len(unit.PDF) == 0 {
		return nil, fmt.Errorf("openrouter: %s has no document payload", unit.Chunk)
	}
	res, err := c.Chat(ctx, unitChatRequest(unit, c.model))
	if err != nil {
		return nil, err
	}
	return rawFromChat(res), nil
}

// ExtractText structures previously OCR'd text.
func (c *OpenRouterClient) ExtractText(ctx context.Context, unit *types.ExtractionUnit) (*types.RawResponse, error) {
	res, err := c.Chat(ctx, unitChatRequest(unit, c.model))
	if err != nil {
		return nil, err
	}
	return rawFromChat(res), nil
}

func openRouterFilePart(pdf []byte, idx int) chatContentPart {
	return chatContentPart{
		Type: "file",
		File: &chatFile{
			Filename: fmt.Sprintf("chunk_%d.pdf", idx+1),
			FileData: pdfDataURL(pdf),
		},
	}
}

// injectNonce appends a unique comment to the last user message so a retried
// request is not served from a poisoned cache entry.
func injectNonce(req *chatCompletionRequest, attempt int) {
	comment := fmt.Sprintf("\n<!-- retry_%d_id: %s -->", attempt, uuid.New().String()[:16])
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role != "user" {
			continue
		}
		switch content := req.Messages[i].Content.(type) {
		case string:
			req.Messages[i].Content = content + comment
		case []chatContentPart:
			for j := range content {
				if content[j].Type == "text" {
					content[j].Text += comment
					break
				}
			}
		}
		return
	}
}

// Verify interfaces
var (
	_ CombinedProvider = (*OpenRouterClient)(nil)
	_ TextExtractor    = (*OpenRouterClient)(nil)
	_ LLMClient        = (*OpenRouterClient)(nil)
)

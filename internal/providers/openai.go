package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

const (
	OpenAIName         = "openai"
	OpenAIDefaultModel = "gpt-4o"
)

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	RateLimit  float64       // Requests per second
	Timeout    time.Duration // HTTP timeout
	Retry      RetryPolicy
	BaseURL    string       // Optional (tests)
	HTTPClient *http.Client // Optional (tests)
}

// OpenAIClient implements TextExtractor and BatchProvider using the official OpenAI SDK.
// SDK-level retries are disabled; the shared RetryPolicy governs all attempts.
type OpenAIClient struct {
	apiKey    string
	model     string
	rateLimit float64
	retry     RetryPolicy
	limiter   *RateLimiter
	client    openai.Client
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = OpenAIDefaultModel
	}
	if cfg.RateLimit <= 0 {
		// Default to ~500 RPM.
		cfg.RateLimit = 8.0
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		rateLimit: cfg.RateLimit,
		retry:     cfg.Retry,
		limiter:   NewRateLimiter(cfg.RateLimit),
		client:    openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// IsAvailable reports whether an API key is configured.
func (c *OpenAIClient) IsAvailable() bool {
	return c.apiKey != ""
}

// Model returns the configured chat model.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Chat sends a chat completion request. Documents are not supported; use a
// combined provider or OCR first.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	params, err := c.chatParams(req)
	if err != nil {
		return nil, err
	}

	var completion *openai.ChatCompletion
	attempts := 0
	err = c.retry.Do(ctx, "openai.chat", func(ctx context.Context) error {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var callErr error
		completion, callErr = c.client.Chat.Completions.New(ctx, params)
		if callErr != nil {
			return c.mapError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices in response (id=%s)", completion.ID)
	}

	return &ChatResult{
		Content:          completion.Choices[0].Message.Content,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:      int(completion.Usage.TotalTokens),
		ExecutionTime:    time.Since(start),
		Provider:         OpenAIName,
		ModelUsed:        completion.Model,
		RequestID:        req.RequestID,
		Attempts:         attempts,
		FinishReason:     string(completion.Choices[0].FinishReason),
	}, nil
}

func (c *OpenAIClient) chatParams(req *ChatRequest) (openai.ChatCompletionNewParams, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		if len(m.Documents) > 0 {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("openai: document attachments are not supported")
		}
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params, nil
}

// ExtractText structures OCR text into JSON.
func (c *OpenAIClient) ExtractText(ctx context.Context, unit *types.ExtractionUnit) (*types.RawResponse, error) {
	if unit.Text == "" {
		return nil, fmt.Errorf("openai: %s has no text payload", unit.Chunk)
	}
	res, err := c.Chat(ctx, unitChatRequest(unit, c.model))
	if err != nil {
		return nil, err
	}
	return rawFromChat(res), nil
}

// mapError converts SDK errors into the shared error taxonomy.
func (c *OpenAIClient) mapError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		// Timeouts and connection resets are worth retrying; a 200 whose
		// body does not decode is not.
		if isNetworkError(err) {
			return &types.TransientProviderError{Provider: OpenAIName, Err: err}
		}
		return fmt.Errorf("openai: %w", err)
	}

	cause := fmt.Errorf("openai error (status %d): %s", apiErr.StatusCode, apiErr.Message)
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		var retryAfter time.Duration
		if apiErr.Response != nil {
			retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			c.limiter.Record429(retryAfter)
		}
		return &types.TransientProviderError{
			Provider:   OpenAIName,
			StatusCode: apiErr.StatusCode,
			RetryAfter: retryAfter,
			Err:        cause,
		}
	case apiErr.StatusCode == http.StatusConflict || isRetryableStatus(apiErr.StatusCode):
		return &types.TransientProviderError{Provider: OpenAIName, StatusCode: apiErr.StatusCode, Err: cause}
	default:
		return cause
	}
}

// Verify interfaces
var (
	_ TextExtractor = (*OpenAIClient)(nil)
	_ BatchProvider = (*OpenAIClient)(nil)
	_ LLMClient     = (*OpenAIClient)(nil)
)

package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

const (
	MistralName         = "mistral"
	MistralBaseURL      = "https://api.mistral.ai/v1"
	MistralDefaultModel = "pixtral-large-latest"
	MistralOCRModel     = "mistral-ocr-latest"
)

// MistralConfig holds configuration for the Mistral client.
type MistralConfig struct {
	APIKey     string
	BaseURL    string
	Model      string // Chat model used for combined extraction
	OCRModel   string
	Timeout    time.Duration
	RateLimit  float64 // Requests per second (default: 6.0)
	Retry      RetryPolicy
	HTTPClient *http.Client // Optional (tests)
}

// MistralClient implements CombinedProvider, OCRProvider, TextExtractor and
// BatchProvider against the Mistral API. Combined extraction sends the chunk
// PDF as a document_url part to a vision chat model.
type MistralClient struct {
	apiKey    string
	model     string
	ocrModel  string
	rateLimit float64
	retry     RetryPolicy
	http      *httpTransport
}

// NewMistralClient creates a new Mistral client.
func NewMistralClient(cfg MistralConfig) *MistralClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MistralBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = MistralDefaultModel
	}
	if cfg.OCRModel == "" {
		cfg.OCRModel = MistralOCRModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 6.0
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &MistralClient{
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		ocrModel:  cfg.OCRModel,
		rateLimit: cfg.RateLimit,
		retry:     cfg.Retry,
		http: &httpTransport{
			provider: MistralName,
			baseURL:  cfg.BaseURL,
			apiKey:   cfg.APIKey,
			client:   httpClient,
			limiter:  NewRateLimiter(cfg.RateLimit),
		},
	}
}

// Name returns the provider identifier.
func (c *MistralClient) Name() string {
	return MistralName
}

// IsAvailable reports whether an API key is configured.
func (c *MistralClient) IsAvailable() bool {
	return c.apiKey != ""
}

// Model returns the chat model used for extraction.
func (c *MistralClient) Model() string {
	return c.model
}

// Chat sends a chat completion request, retrying transient failures.
func (c *MistralClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	body := c.chatBody(req)

	var resp chatCompletionResponse
	attempts := 0
	err := c.retry.Do(ctx, "mistral.chat", func(ctx context.Context) error {
		attempts++
		resp = chatCompletionResponse{}
		return c.http.doJSON(ctx, http.MethodPost, "/chat/completions", body, &resp)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("mistral: no choices in response (id=%s)", resp.ID)
	}

	return &ChatResult{
		Content:          messageText(resp.Choices[0].Message.Content),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		ExecutionTime:    time.Since(start),
		Provider:         MistralName,
		ModelUsed:        resp.Model,
		RequestID:        requestID,
		Attempts:         attempts,
		FinishReason:     resp.Choices[0].FinishReason,
	}, nil
}

func (c *MistralClient) chatBody(req *ChatRequest) *chatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	body := &chatCompletionRequest{
		Model:       model,
		Messages:    toChatMessages(req.Messages, mistralDocumentPart),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		body.ResponseFormat = &chatResponseFormat{Type: "json_object"}
	}
	return body
}

// ExtractDocument runs OCR and structured extraction over the unit's PDF in one call.
func (c *MistralClient) ExtractDocument(ctx context.Context, unit *types.ExtractionUnit) (*types.RawResponse, error) {
	if len(unit.PDF) == 0 {
		return nil, fmt.Errorf("mistral: %s has no document payload", unit.Chunk)
	}
	res, err := c.Chat(ctx, unitChatRequest(unit, c.model))
	if err != nil {
		return nil, err
	}
	return rawFromChat(res), nil
}

// ExtractText structures previously OCR'd text.
func (c *MistralClient) ExtractText(ctx context.Context, unit *types.ExtractionUnit) (*types.RawResponse, error) {
	res, err := c.Chat(ctx, unitChatRequest(unit, c.model))
	if err != nil {
		return nil, err
	}
	return rawFromChat(res), nil
}

// OCRDocument extracts page-marked markdown from a PDF using the Mistral OCR endpoint.
func (c *MistralClient) OCRDocument(ctx context.Context, pdf []byte, chunk types.Chunk) (*OCRResult, error) {
	start := time.Now()

	reqBody := mistralOCRRequest{
		Model: c.ocrModel,
		Document: mistralDocument{
			Type:        "document_url",
			DocumentURL: pdfDataURL(pdf),
		},
	}

	var resp mistralOCRResponse
	err := c.retry.Do(ctx, "mistral.ocr", func(ctx context.Context) error {
		resp = mistralOCRResponse{}
		return c.http.doJSON(ctx, http.MethodPost, "/ocr", reqBody, &resp)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Pages) == 0 {
		return nil, fmt.Errorf("mistral: no pages in OCR response for %s", chunk)
	}

	texts := make([]string, len(resp.Pages))
	for i, page := range resp.Pages {
		texts[i] = page.Markdown
	}

	metadata := map[string]any{"model_used": resp.Model}
	if resp.UsageInfo != nil {
		metadata["pages_processed"] = resp.UsageInfo.PagesProcessed
		if resp.UsageInfo.DocSizeBytes > 0 {
			metadata["doc_size_bytes"] = resp.UsageInfo.DocSizeBytes
		}
	}

	return &OCRResult{
		Text:          joinPages(texts),
		Pages:         len(resp.Pages),
		ExecutionTime: time.Since(start),
		Metadata:      metadata,
	}, nil
}

// joinPages joins per-page text with 1-based local page markers so the
// extraction model can attribute records to pages within the chunk.
func joinPages(pages []string) string {
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "--- Page %d ---\n", i+1)
		b.WriteString(strings.TrimSpace(p))
	}
	return b.String()
}

// Mistral OCR API types

type mistralOCRRequest struct {
	Model              string          `json:"model"`
	Document           mistralDocument `json:"document"`
	IncludeImageBase64 bool            `json:"include_image_base64,omitempty"`
	Pages              []int           `json:"pages,omitempty"`
}

type mistralDocument struct {
	Type        string `json:"type"` // "document_url" or "image_url"
	DocumentURL string `json:"document_url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type mistralOCRResponse struct {
	Model     string            `json:"model"`
	Pages     []mistralOCRPage  `json:"pages"`
	UsageInfo *mistralUsageInfo `json:"usage_info,omitempty"`
}

type mistralOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type mistralUsageInfo struct {
	PagesProcessed int `json:"pages_processed"`
	DocSizeBytes   int `json:"doc_size_bytes,omitempty"`
}

// Verify interfaces
var (
	_ CombinedProvider = (*MistralClient)(nil)
	_ OCRProvider      = (*MistralClient)(nil)
	_ TextExtractor    = (*MistralClient)(nil)
	_ BatchProvider    = (*MistralClient)(nil)
	_ LLMClient        = (*MistralClient)(nil)
)

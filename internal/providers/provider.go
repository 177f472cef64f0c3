package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

// Provider is the capability shared by every extraction backend.
type Provider interface {
	// Name returns the provider type identifier (e.g., "mistral", "openai").
	Name() string

	// IsAvailable reports whether the provider is configured well enough to
	// accept requests. Used for upfront validation before processing starts.
	IsAvailable() bool
}

// CombinedProvider performs OCR and structured extraction in one call on raw pages.
type CombinedProvider interface {
	Provider
	ExtractDocument(ctx context.Context, unit *types.ExtractionUnit) (*types.RawResponse, error)
}

// OCRProvider turns raw pages into text. Separate from extraction because it has
// different rate limits, pricing (per page) and result handling.
type OCRProvider interface {
	Provider
	OCRDocument(ctx context.Context, pdf []byte, chunk types.Chunk) (*OCRResult, error)
}

// TextExtractor turns OCR text (unit.Text) into structured JSON.
type TextExtractor interface {
	Provider
	ExtractText(ctx context.Context, unit *types.ExtractionUnit) (*types.RawResponse, error)
}

// BatchProvider submits many units as one asynchronous job.
// Results are keyed by the unit's CustomID.
type BatchProvider interface {
	Provider
	SubmitBatch(ctx context.Context, units []*types.ExtractionUnit) (*types.BatchJob, error)
	BatchStatus(ctx context.Context, jobID string) (*types.BatchJob, error)
	BatchResults(ctx context.Context, job *types.BatchJob) (map[string]*types.RawResponse, error)
	CancelBatch(ctx context.Context, jobID string) error
}

// LLMClient is the chat-completion surface shared by the HTTP providers.
type LLMClient interface {
	Name() string
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)
}

// Message represents a chat message.
type Message struct {
	Role      string   `json:"role"` // "system", "user", "assistant"
	Content   string   `json:"content"`
	Documents [][]byte `json:"-"` // PDFs attached as document_url parts
}

// ChatRequest is a request to an LLM.
type ChatRequest struct {
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// JSONMode requests a JSON object response where the provider supports it.
	JSONMode bool `json:"-"`

	RequestID string `json:"-"`
}

// ChatResult is the complete response from an LLM call.
type ChatResult struct {
	Content          string        `json:"content"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	ExecutionTime    time.Duration `json:"execution_time"`
	Provider         string        `json:"provider"`
	ModelUsed        string        `json:"model_used"`
	RequestID        string        `json:"request_id"`
	Attempts         int           `json:"attempts"`
	FinishReason     string        `json:"finish_reason,omitempty"`
}

// OCRResult is the response from an OCR provider.
type OCRResult struct {
	Text          string         `json:"text"` // Page-marked text
	Pages         int            `json:"pages"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Default generation parameters for extraction calls.
const (
	DefaultMaxTokens   = 16384
	DefaultTemperature = 0.0
)

// unitChatRequest builds the chat request for an extraction unit. When the unit
// carries a PDF it is attached to the user message; otherwise the OCR text is
// appended to the user prompt.
func unitChatRequest(unit *types.ExtractionUnit, model string) *ChatRequest {
	user := Message{Role: "user", Content: unit.UserPrompt}
	if len(unit.PDF) > 0 {
		user.Documents = [][]byte{unit.PDF}
	} else {
		user.Content = fmt.Sprintf("%s\n\nDOCUMENT TEXT:\n%s", unit.UserPrompt, unit.Text)
	}

	msgs := make([]Message, 0, 2)
	if unit.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: unit.SystemPrompt})
	}
	msgs = append(msgs, user)

	return &ChatRequest{
		Messages:    msgs,
		Model:       model,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		JSONMode:    true,
		RequestID:   unit.CustomID,
	}
}

// rawFromChat converts a chat result into a RawResponse.
func rawFromChat(res *ChatResult) *types.RawResponse {
	return &types.RawResponse{
		Content: res.Content,
		Usage: types.Usage{
			InputTokens:  res.PromptTokens,
			OutputTokens: res.CompletionTokens,
		},
		Model: res.ModelUsed,
	}
}

// pdfDataURL encodes a PDF as a data URL for document_url content parts.
func pdfDataURL(pdf []byte) string {
	return "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf)
}

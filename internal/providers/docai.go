package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

const DocumentAIName = "docai"

// DocumentAIConfig holds configuration for the Google Document AI OCR client.
// Endpoint is the processor resource URL, for example
// https://us-documentai.googleapis.com/v1/projects/P/locations/us/processors/ID.
type DocumentAIConfig struct {
	AccessToken string
	Endpoint    string
	Timeout     time.Duration
	RateLimit   float64
	Retry       RetryPolicy
	HTTPClient  *http.Client // Optional (tests)
}

// DocumentAIClient implements OCRProvider using a Document AI processor.
type DocumentAIClient struct {
	token    string
	endpoint string
	retry    RetryPolicy
	http     *httpTransport
}

// NewDocumentAIClient creates a new Document AI client.
func NewDocumentAIClient(cfg DocumentAIConfig) *DocumentAIClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 2.0
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &DocumentAIClient{
		token:    cfg.AccessToken,
		endpoint: cfg.Endpoint,
		retry:    cfg.Retry,
		http: &httpTransport{
			provider: DocumentAIName,
			baseURL:  cfg.Endpoint,
			apiKey:   cfg.AccessToken,
			client:   httpClient,
			limiter:  NewRateLimiter(cfg.RateLimit),
		},
	}
}

// Name returns the provider identifier.
func (c *DocumentAIClient) Name() string {
	return DocumentAIName
}

// IsAvailable reports whether both a token and a processor endpoint are set.
func (c *DocumentAIClient) IsAvailable() bool {
	return c.token != "" && c.endpoint != ""
}

// OCRDocument runs the processor over a chunk PDF and returns page-marked text.
func (c *DocumentAIClient) OCRDocument(ctx context.Context, pdf []byte, chunk types.Chunk) (*OCRResult, error) {
	start := time.Now()

	req := docAIProcessRequest{
		RawDocument: docAIRawDocument{
			Content:  base64.StdEncoding.EncodeToString(pdf),
			MimeType: "application/pdf",
		},
		SkipHumanReview: true,
	}

	var resp docAIProcessResponse
	err := c.retry.Do(ctx, "docai.process", func(ctx context.Context) error {
		resp = docAIProcessResponse{}
		return c.http.doJSON(ctx, http.MethodPost, ":process", req, &resp)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Document.Pages) == 0 {
		return nil, fmt.Errorf("docai: no pages in response for %s", chunk)
	}

	text := []rune(resp.Document.Text)
	pages := make([]string, len(resp.Document.Pages))
	tables := 0
	for i, p := range resp.Document.Pages {
		pages[i] = anchorText(p.Layout.TextAnchor, text)
		tables += len(p.Tables)
	}

	return &OCRResult{
		Text:          joinPages(pages),
		Pages:         len(pages),
		ExecutionTime: time.Since(start),
		Metadata:      map[string]any{"tables_count": tables},
	}, nil
}

// anchorText concatenates the document text covered by the anchor's segments.
// Offsets are in characters, not bytes.
func anchorText(a docAITextAnchor, text []rune) string {
	var b strings.Builder
	for _, seg := range a.TextSegments {
		start := min(max(int(seg.StartIndex), 0), len(text))
		end := min(max(int(seg.EndIndex), start), len(text))
		b.WriteString(string(text[start:end]))
	}
	return b.String()
}

// Document AI REST types

type docAIProcessRequest struct {
	RawDocument     docAIRawDocument `json:"rawDocument"`
	SkipHumanReview bool             `json:"skipHumanReview"`
}

type docAIRawDocument struct {
	Content  string `json:"content"`
	MimeType string `json:"mimeType"`
}

type docAIProcessResponse struct {
	Document struct {
		Text  string      `json:"text"`
		Pages []docAIPage `json:"pages"`
	} `json:"document"`
}

type docAIPage struct {
	PageNumber int `json:"pageNumber"`
	Layout     struct {
		TextAnchor docAITextAnchor `json:"textAnchor"`
	} `json:"layout"`
	Tables []json.RawMessage `json:"tables,omitempty"`
}

type docAITextAnchor struct {
	TextSegments []struct {
		StartIndex docAIIndex `json:"startIndex"`
		EndIndex   docAIIndex `json:"endIndex"`
	} `json:"textSegments"`
}

// docAIIndex accepts int64 offsets encoded either as JSON numbers or strings.
type docAIIndex int64

func (i *docAIIndex) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid text index %q: %w", s, err)
	}
	*i = docAIIndex(n)
	return nil
}

var _ OCRProvider = (*DocumentAIClient)(nil)

// Package types provides the domain types shared across the extraction pipeline.
// This package has no dependencies on other internal packages to avoid import cycles.
package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Category identifies a document family. Each category has its own prompt,
// record key, dedup key and column order (see config.CategoryCfg).
type Category string

const (
	CategoryEOB       Category = "eob"
	CategoryFacesheet Category = "facesheet"
	CategoryInvoice   Category = "invoice"
)

var categoryIDs = map[string]Category{
	"1": CategoryEOB,
	"2": CategoryFacesheet,
	"3": CategoryInvoice,
}

// ParseCategory accepts a category name ("eob") or its numeric id ("1").
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := categoryIDs[s]; ok {
		return c, nil
	}
	switch Category(s) {
	case CategoryEOB, CategoryFacesheet, CategoryInvoice:
		return Category(s), nil
	}
	return "", &ConfigurationError{Field: "category", Msg: fmt.Sprintf("unknown document category %q", s)}
}

// Chunk is a contiguous, 1-based inclusive page range of a document.
type Chunk struct {
	Index     int `json:"index"`
	StartPage int `json:"start_page"`
	EndPage   int `json:"end_page"`
	PageCount int `json:"page_count"`
}

// CustomID is the stable batch correlation id for the chunk.
func (c Chunk) CustomID() string {
	return strconv.Itoa(c.Index)
}

// PageRange renders the chunk as a "start-end" page selection.
func (c Chunk) PageRange() string {
	return fmt.Sprintf("%d-%d", c.StartPage, c.EndPage)
}

func (c Chunk) String() string {
	return fmt.Sprintf("chunk %d (pages %d-%d)", c.Index, c.StartPage, c.EndPage)
}

// ExtractionUnit is one provider request built from a chunk.
// Exactly one of PDF or Text is set: PDF for OCR-capable providers,
// Text for text-only extraction after a separate OCR step.
type ExtractionUnit struct {
	CustomID     string
	Chunk        Chunk
	Category     Category
	SystemPrompt string
	UserPrompt   string
	PDF          []byte
	Text         string
}

// Usage is the token accounting reported by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// RawResponse is unparsed provider output.
type RawResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
	Model   string `json:"model,omitempty"`
}

// Record is one extracted claim, patient or line item.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ChunkResult holds the parsed records of one successful chunk.
type ChunkResult struct {
	Chunk        Chunk
	Records      []Record
	InputTokens  int
	OutputTokens int
	Model        string
}

// ChunkFailure records a chunk that produced no usable result. Tokens are set
// when the provider answered and billed the call but the reply was unusable.
type ChunkFailure struct {
	Chunk        Chunk
	Err          error
	InputTokens  int
	OutputTokens int
}

// ExtractionResult is the consolidated output for one document.
type ExtractionResult struct {
	Records           []Record `json:"records"`
	TotalInputTokens  int      `json:"total_input_tokens"`
	TotalOutputTokens int      `json:"total_output_tokens"`
	Model             string   `json:"model"`
	Warnings          []string `json:"warnings,omitempty"`
	ChunksTotal       int      `json:"chunks_total"`
	ChunksSucceeded   int      `json:"chunks_succeeded"`
	Strategy          string   `json:"strategy"`
}

// CostBreakdown is the usage-based cost for one document.
type CostBreakdown struct {
	OCRCost        float64 `json:"ocr_cost" yaml:"ocr_cost"`
	ExtractionCost float64 `json:"extraction_cost" yaml:"extraction_cost"`
	TotalCost      float64 `json:"total_cost" yaml:"total_cost"`
	Pages          int     `json:"pages" yaml:"pages"`
	InputTokens    int     `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens   int     `json:"output_tokens" yaml:"output_tokens"`
	ElapsedSeconds float64 `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	Model          string  `json:"model" yaml:"model"`
}

// BatchStatus is the normalized state of an asynchronous batch job.
type BatchStatus string

const (
	BatchQueued    BatchStatus = "queued"
	BatchRunning   BatchStatus = "running"
	BatchSucceeded BatchStatus = "succeeded"
	BatchFailed    BatchStatus = "failed"
	BatchExpired   BatchStatus = "expired"
	BatchCancelled BatchStatus = "cancelled"
)

// Terminal reports whether no further status transitions are expected.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchSucceeded, BatchFailed, BatchExpired, BatchCancelled:
		return true
	}
	return false
}

// BatchJob tracks a submitted batch.
type BatchJob struct {
	ID            string      `json:"id"`
	UnitCount     int         `json:"unit_count"`
	Status        BatchStatus `json:"status"`
	ResultsHandle string      `json:"results_handle,omitempty"`
	SubmittedAt   time.Time   `json:"submitted_at"`
}

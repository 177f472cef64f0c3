package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	openai "github.com/openai/openai-go/v3"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

const openAIBatchEndpoint = "/v1/chat/completions"

// openAIBatchBody is the per-line request body. The SDK param types are not
// meant for standalone JSON encoding, so the wire shape is written out here.
type openAIBatchBody struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Temperature    float64             `json:"temperature"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

// openAIBatchStatus maps OpenAI batch states onto the normalized set.
func openAIBatchStatus(s openai.BatchStatus) types.BatchStatus {
	switch s {
	case openai.BatchStatusValidating:
		return types.BatchQueued
	case openai.BatchStatusCompleted:
		return types.BatchSucceeded
	case openai.BatchStatusFailed:
		return types.BatchFailed
	case openai.BatchStatusExpired:
		return types.BatchExpired
	case openai.BatchStatusCancelling, openai.BatchStatusCancelled:
		return types.BatchCancelled
	default:
		return types.BatchRunning
	}
}

// SubmitBatch uploads the units as a JSONL file and creates a 24h batch.
func (c *OpenAIClient) SubmitBatch(ctx context.Context, units []*types.ExtractionUnit) (*types.BatchJob, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("openai: empty batch")
	}

	lines := make([]batchInputLine, 0, len(units))
	for _, u := range units {
		req := unitChatRequest(u, c.model)
		for _, m := range req.Messages {
			if len(m.Documents) > 0 {
				return nil, fmt.Errorf("openai: %s carries a document; batch requires OCR text", u.Chunk)
			}
		}
		lines = append(lines, batchInputLine{
			CustomID: u.CustomID,
			Method:   "POST",
			URL:      openAIBatchEndpoint,
			Body: openAIBatchBody{
				Model:          req.Model,
				Messages:       toChatMessages(req.Messages, nil),
				Temperature:    req.Temperature,
				MaxTokens:      req.MaxTokens,
				ResponseFormat: &chatResponseFormat{Type: "json_object"},
			},
		})
	}
	payload, err := encodeBatchLines(lines)
	if err != nil {
		return nil, err
	}

	var file *openai.FileObject
	err = c.retry.Do(ctx, "openai.files.upload", func(ctx context.Context) error {
		var callErr error
		file, callErr = c.client.Files.New(ctx, openai.FileNewParams{
			File:    openai.File(bytes.NewReader(payload), "batch.jsonl", "application/jsonl"),
			Purpose: openai.FilePurposeBatch,
		})
		if callErr != nil {
			return c.mapError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("openai: batch upload failed: %w", err)
	}

	var batch *openai.Batch
	err = c.retry.Do(ctx, "openai.batches.create", func(ctx context.Context) error {
		var callErr error
		batch, callErr = c.client.Batches.New(ctx, openai.BatchNewParams{
			CompletionWindow: openai.BatchNewParamsCompletionWindow24h,
			Endpoint:         openai.BatchNewParamsEndpointV1ChatCompletions,
			InputFileID:      file.ID,
		})
		if callErr != nil {
			return c.mapError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("openai: batch create failed: %w", err)
	}

	return &types.BatchJob{
		ID:          batch.ID,
		UnitCount:   len(units),
		Status:      openAIBatchStatus(batch.Status),
		SubmittedAt: time.Now(),
	}, nil
}

// BatchStatus fetches the current job state.
func (c *OpenAIClient) BatchStatus(ctx context.Context, jobID string) (*types.BatchJob, error) {
	var batch *openai.Batch
	err := c.retry.Do(ctx, "openai.batches.get", func(ctx context.Context) error {
		var callErr error
		batch, callErr = c.client.Batches.Get(ctx, jobID)
		if callErr != nil {
			return c.mapError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &types.BatchJob{
		ID:            batch.ID,
		UnitCount:     int(batch.RequestCounts.Total),
		Status:        openAIBatchStatus(batch.Status),
		ResultsHandle: batch.OutputFileID,
	}, nil
}

// BatchResults downloads and indexes the output file of a completed batch.
func (c *OpenAIClient) BatchResults(ctx context.Context, job *types.BatchJob) (map[string]*types.RawResponse, error) {
	if job.ResultsHandle == "" {
		return nil, fmt.Errorf("openai: batch %s has no output file", job.ID)
	}

	var raw []byte
	err := c.retry.Do(ctx, "openai.files.content", func(ctx context.Context) error {
		resp, callErr := c.client.Files.Content(ctx, job.ResultsHandle)
		if callErr != nil {
			return c.mapError(callErr)
		}
		defer resp.Body.Close()
		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return &types.TransientProviderError{Provider: OpenAIName, Err: readErr}
		}
		raw = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	results, skipped, err := decodeBatchOutput(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		c.retry.withDefaults().Logger.Warn("openai batch request failed", "job_id", job.ID, "detail", s)
	}
	return results, nil
}

// CancelBatch requests cancellation of a running batch.
func (c *OpenAIClient) CancelBatch(ctx context.Context, jobID string) error {
	return c.retry.Do(ctx, "openai.batches.cancel", func(ctx context.Context) error {
		if _, err := c.client.Batches.Cancel(ctx, jobID); err != nil {
			return c.mapError(err)
		}
		return nil
	})
}

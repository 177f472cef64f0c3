package providers

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

// Mistral batch API types

type mistralFile struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Purpose  string `json:"purpose"`
}

type mistralBatchJobRequest struct {
	InputFiles []string `json:"input_files"`
	Endpoint   string   `json:"endpoint"`
	Model      string   `json:"model"`
}

type mistralBatchJob struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	OutputFile        string `json:"output_file,omitempty"`
	ErrorFile         string `json:"error_file,omitempty"`
	TotalRequests     int    `json:"total_requests"`
	SucceededRequests int    `json:"succeeded_requests"`
	FailedRequests    int    `json:"failed_requests"`
}

// mistralBatchStatus maps Mistral job states onto the normalized set.
func mistralBatchStatus(s string) types.BatchStatus {
	switch s {
	case "QUEUED":
		return types.BatchQueued
	case "SUCCESS":
		return types.BatchSucceeded
	case "FAILED":
		return types.BatchFailed
	case "TIMEOUT_EXCEEDED", "EXPIRED":
		return types.BatchExpired
	case "CANCELLED", "CANCELLATION_REQUESTED":
		return types.BatchCancelled
	default:
		return types.BatchRunning
	}
}

// SubmitBatch uploads all units as a JSONL file and creates a batch job.
func (c *MistralClient) SubmitBatch(ctx context.Context, units []*types.ExtractionUnit) (*types.BatchJob, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("mistral: empty batch")
	}

	lines := make([]batchInputLine, 0, len(units))
	for _, u := range units {
		lines = append(lines, batchInputLine{
			CustomID: u.CustomID,
			Body:     c.chatBody(unitChatRequest(u, c.model)),
		})
	}
	payload, err := encodeBatchLines(lines)
	if err != nil {
		return nil, err
	}

	file, err := c.uploadBatchFile(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("mistral: batch upload failed: %w", err)
	}

	var job mistralBatchJob
	req := mistralBatchJobRequest{
		InputFiles: []string{file.ID},
		Endpoint:   "/v1/chat/completions",
		Model:      c.model,
	}
	err = c.retry.Do(ctx, "mistral.batch.create", func(ctx context.Context) error {
		return c.http.doJSON(ctx, http.MethodPost, "/batch/jobs", req, &job)
	})
	if err != nil {
		return nil, fmt.Errorf("mistral: batch create failed: %w", err)
	}

	return &types.BatchJob{
		ID:          job.ID,
		UnitCount:   len(units),
		Status:      mistralBatchStatus(job.Status),
		SubmittedAt: time.Now(),
	}, nil
}

func (c *MistralClient) uploadBatchFile(ctx context.Context, payload []byte) (*mistralFile, error) {
	var file mistralFile
	err := c.retry.Do(ctx, "mistral.files.upload", func(ctx context.Context) error {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		if err := w.WriteField("purpose", "batch"); err != nil {
			return err
		}
		part, err := w.CreateFormFile("file", "batch.jsonl")
		if err != nil {
			return err
		}
		if _, err := part.Write(payload); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		return c.http.do(ctx, http.MethodPost, "/files", w.FormDataContentType(), &body, &file)
	})
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// BatchStatus fetches the current job state.
func (c *MistralClient) BatchStatus(ctx context.Context, jobID string) (*types.BatchJob, error) {
	var job mistralBatchJob
	err := c.retry.Do(ctx, "mistral.batch.status", func(ctx context.Context) error {
		return c.http.doJSON(ctx, http.MethodGet, "/batch/jobs/"+url.PathEscape(jobID), nil, &job)
	})
	if err != nil {
		return nil, err
	}
	return &types.BatchJob{
		ID:            job.ID,
		UnitCount:     job.TotalRequests,
		Status:        mistralBatchStatus(job.Status),
		ResultsHandle: job.OutputFile,
	}, nil
}

// BatchResults downloads the output file of a succeeded job.
func (c *MistralClient) BatchResults(ctx context.Context, job *types.BatchJob) (map[string]*types.RawResponse, error) {
	if job.ResultsHandle == "" {
		return nil, fmt.Errorf("mistral: batch %s has no output file", job.ID)
	}

	var raw []byte
	err := c.retry.Do(ctx, "mistral.files.content", func(ctx context.Context) error {
		return c.http.do(ctx, http.MethodGet, "/files/"+url.PathEscape(job.ResultsHandle)+"/content", "", nil, &raw)
	})
	if err != nil {
		return nil, err
	}

	results, skipped, err := decodeBatchOutput(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		c.retry.withDefaults().Logger.Warn("mistral batch request failed", "job_id", job.ID, "detail", s)
	}
	return results, nil
}

// CancelBatch requests cancellation of a running job.
func (c *MistralClient) CancelBatch(ctx context.Context, jobID string) error {
	return c.retry.Do(ctx, "mistral.batch.cancel", func(ctx context.Context) error {
		return c.http.doJSON(ctx, http.MethodPost, "/batch/jobs/"+url.PathEscape(jobID)+"/cancel", nil, nil)
	})
}

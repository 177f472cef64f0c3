// Package batch drives one asynchronous batch job per document: submit,
// poll until terminal, then index results by chunk.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/providers"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultMaxWait      = time.Hour

	// maxStatusErrors is how many consecutive status failures end polling.
	maxStatusErrors = 5

	cancelTimeout = 30 * time.Second
)

// Coordinator submits units as one batch job and waits for the results.
// It keeps no state between Run calls.
type Coordinator struct {
	Provider     providers.BatchProvider
	PollInterval time.Duration
	MaxWait      time.Duration
	Logger       *slog.Logger
}

// Run submits the units and returns the responses keyed by chunk index.
// Units missing from the job output are logged and left out of the map.
// Any job-level failure is returned as *types.BatchJobError.
func (c *Coordinator) Run(ctx context.Context, units []*types.ExtractionUnit) (map[int]*types.RawResponse, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := c.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	maxWait := c.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}

	if len(units) == 0 {
		return map[int]*types.RawResponse{}, nil
	}
	submitted := make(map[int]bool, len(units))
	for _, u := range units {
		u.CustomID = u.Chunk.CustomID()
		submitted[u.Chunk.Index] = true
	}

	job, err := c.Provider.SubmitBatch(ctx, units)
	if err != nil {
		return nil, &types.BatchJobError{Status: "submit_failed", Err: err}
	}
	logger.Info("batch submitted",
		"provider", c.Provider.Name(),
		"job_id", job.ID,
		"units", len(units),
	)

	job, err = c.wait(ctx, job, poll, maxWait, logger)
	if err != nil {
		return nil, err
	}

	raw, err := c.Provider.BatchResults(ctx, job)
	if err != nil {
		return nil, &types.BatchJobError{JobID: job.ID, Status: "results_failed", Err: err}
	}

	results := make(map[int]*types.RawResponse, len(raw))
	for id, resp := range raw {
		idx, err := strconv.Atoi(id)
		if err != nil || !submitted[idx] {
			logger.Warn("batch result has unknown custom_id", "job_id", job.ID, "custom_id", id)
			continue
		}
		results[idx] = resp
	}
	for _, u := range units {
		if _, ok := results[u.Chunk.Index]; !ok {
			logger.Warn("batch result missing chunk",
				"job_id", job.ID,
				"chunk", u.Chunk.Index,
				"pages", u.Chunk.PageRange(),
			)
		}
	}

	logger.Info("batch completed",
		"job_id", job.ID,
		"results", len(results),
		"units", len(units),
	)
	return results, nil
}

// wait polls the job until it reaches a terminal status or maxWait elapses.
func (c *Coordinator) wait(ctx context.Context, job *types.BatchJob, poll, maxWait time.Duration, logger *slog.Logger) (*types.BatchJob, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()

	last := job.Status
	statusErrors := 0

	for {
		select {
		case <-ctx.Done():
			c.cancel(job.ID, logger)
			return nil, &types.BatchJobError{JobID: job.ID, Status: "cancelled", Err: ctx.Err()}

		case <-deadline.C:
			c.cancel(job.ID, logger)
			return nil, &types.BatchJobError{
				JobID:  job.ID,
				Status: "timeout",
				Err:    fmt.Errorf("job did not finish within %s", maxWait),
			}

		case <-ticker.C:
			current, err := c.Provider.BatchStatus(ctx, job.ID)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				statusErrors++
				logger.Warn("batch status check failed", "job_id", job.ID, "consecutive", statusErrors, "error", err)
				if statusErrors >= maxStatusErrors {
					return nil, &types.BatchJobError{JobID: job.ID, Status: "status_failed", Err: err}
				}
				continue
			}
			statusErrors = 0

			if current.Status != last {
				logger.Info("batch status changed", "job_id", job.ID, "from", last, "to", current.Status)
				last = current.Status
			} else {
				logger.Debug("batch still pending", "job_id", job.ID, "status", current.Status)
			}

			if !current.Status.Terminal() {
				continue
			}
			if current.Status != types.BatchSucceeded {
				return nil, &types.BatchJobError{
					JobID:  job.ID,
					Status: string(current.Status),
					Err:    fmt.Errorf("job ended with status %s", current.Status),
				}
			}
			if current.UnitCount == 0 {
				current.UnitCount = job.UnitCount
			}
			return current, nil
		}
	}
}

// cancel requests cancellation without blocking on the caller's context.
func (c *Coordinator) cancel(jobID string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := c.Provider.CancelBatch(ctx, jobID); err != nil {
		logger.Warn("failed to cancel batch job", "job_id", jobID, "error", err)
		return
	}
	logger.Info("batch job cancelled", "job_id", jobID)
}

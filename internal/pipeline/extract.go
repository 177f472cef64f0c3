package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/batch"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/config"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/parse"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/providers"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

// dispatchFunc produces the raw response for one unit.
type dispatchFunc func(ctx context.Context, unit *types.ExtractionUnit) (*types.RawResponse, error)

// extract dispatches the units and parses the responses. Batch mode is used
// when the strategy supports it, batching is enabled and there is more than
// one chunk; a failed batch job falls back to sequential sync dispatch.
func (o *Orchestrator) extract(ctx context.Context, r *run, units []*types.ExtractionUnit) ([]types.ChunkResult, []types.ChunkFailure, string, error) {
	s := r.strategy
	useBatch := s.Batch != nil && o.BatchEnabled && len(units) > 1

	if !useBatch {
		results, failures := o.runPool(ctx, r, units, o.syncDispatch(s), o.workers())
		if err := ctx.Err(); err != nil {
			return nil, nil, "", err
		}
		return results, failures, StrategyParallel, nil
	}

	var failures []types.ChunkFailure
	if s.Split() {
		units, failures = o.ocrAll(ctx, r, units)
		if err := ctx.Err(); err != nil {
			return nil, nil, "", err
		}
		if len(units) == 0 {
			return nil, failures, StrategyBatch, nil
		}
	}

	coord := &batch.Coordinator{
		Provider:     s.Batch,
		PollInterval: o.PollInterval,
		MaxWait:      o.MaxWait,
		Logger:       r.logger,
	}
	responses, err := coord.Run(ctx, units)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, "", ctxErr
		}
		var jobErr *types.BatchJobError
		if !errors.As(err, &jobErr) {
			return nil, nil, "", err
		}
		r.logger.Warn("batch failed, falling back to sequential processing", "status", jobErr.Status, "error", err)

		dispatch := o.syncDispatch(s)
		if s.Split() {
			// Units already carry OCR text.
			dispatch = s.Text.ExtractText
		}
		results, seqFailures := o.runPool(ctx, r, units, dispatch, 1)
		if err := ctx.Err(); err != nil {
			return nil, nil, "", err
		}
		return results, append(failures, seqFailures...), StrategyBatchFallback, nil
	}

	var results []types.ChunkResult
	for _, u := range units {
		raw, ok := responses[u.Chunk.Index]
		if !ok {
			failures = append(failures, types.ChunkFailure{Chunk: u.Chunk, Err: fmt.Errorf("no result in batch output")})
			continue
		}
		res, err := o.toResult(r, u, raw)
		if err != nil {
			failures = append(failures, billedFailure(u, raw, err))
			continue
		}
		results = append(results, res)
	}
	return results, failures, StrategyBatch, nil
}

// syncDispatch returns the per-chunk call for the strategy: one combined call,
// or OCR followed by text extraction.
func (o *Orchestrator) syncDispatch(s *providers.Strategy) dispatchFunc {
	if !s.Split() {
		return s.Combined.ExtractDocument
	}
	return func(ctx context.Context, unit *types.ExtractionUnit) (*types.RawResponse, error) {
		textUnit, err := ocrUnit(ctx, s.OCR, unit)
		if err != nil {
			return nil, err
		}
		return s.Text.ExtractText(ctx, textUnit)
	}
}

// runPool dispatches units on at most workers goroutines. Results and
// failures are collected in completion order.
func (o *Orchestrator) runPool(ctx context.Context, r *run, units []*types.ExtractionUnit, dispatch dispatchFunc, workers int) ([]types.ChunkResult, []types.ChunkFailure) {
	var (
		mu       sync.Mutex
		results  []types.ChunkResult
		failures []types.ChunkFailure
		g        errgroup.Group
	)
	g.SetLimit(workers)

	for _, u := range units {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			raw, err := dispatch(ctx, u)
			if err == nil {
				var res types.ChunkResult
				res, err = o.toResult(r, u, raw)
				if err == nil {
					mu.Lock()
					results = append(results, res)
					mu.Unlock()
					return nil
				}
			} else {
				raw = nil
			}
			if ctx.Err() == nil {
				r.logger.Warn("chunk failed", "chunk", u.Chunk.Index, "pages", u.Chunk.PageRange(), "error", err)
			}
			mu.Lock()
			failures = append(failures, billedFailure(u, raw, err))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, failures
}

// billedFailure records a failed chunk. raw is the provider reply when the
// call itself succeeded, so its usage still counts toward the totals.
func billedFailure(u *types.ExtractionUnit, raw *types.RawResponse, err error) types.ChunkFailure {
	f := types.ChunkFailure{Chunk: u.Chunk, Err: err}
	if raw != nil {
		f.InputTokens = raw.Usage.InputTokens
		f.OutputTokens = raw.Usage.OutputTokens
	}
	return f
}

// ocrAll runs OCR for every unit on the worker pool and returns text units
// for the chunks that succeeded.
func (o *Orchestrator) ocrAll(ctx context.Context, r *run, units []*types.ExtractionUnit) ([]*types.ExtractionUnit, []types.ChunkFailure) {
	var (
		mu       sync.Mutex
		byIndex  = make(map[int]*types.ExtractionUnit, len(units))
		failures []types.ChunkFailure
		g        errgroup.Group
	)
	g.SetLimit(o.workers())

	for _, u := range units {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			textUnit, err := ocrUnit(ctx, r.strategy.OCR, u)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Warn("chunk OCR failed", "chunk", u.Chunk.Index, "pages", u.Chunk.PageRange(), "error", err)
				failures = append(failures, types.ChunkFailure{Chunk: u.Chunk, Err: err})
				return nil
			}
			byIndex[u.Chunk.Index] = textUnit
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*types.ExtractionUnit, 0, len(byIndex))
	for _, u := range units {
		if tu, ok := byIndex[u.Chunk.Index]; ok {
			out = append(out, tu)
		}
	}
	return out, failures
}

// ocrUnit returns a copy of unit carrying OCR text instead of the PDF.
func ocrUnit(ctx context.Context, ocr providers.OCRProvider, unit *types.ExtractionUnit) (*types.ExtractionUnit, error) {
	res, err := ocr.OCRDocument(ctx, unit.PDF, unit.Chunk)
	if err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}
	tu := *unit
	tu.PDF = nil
	tu.Text = res.Text
	return &tu, nil
}

// toResult parses a raw response into a chunk result.
func (o *Orchestrator) toResult(r *run, u *types.ExtractionUnit, raw *types.RawResponse) (types.ChunkResult, error) {
	if raw == nil {
		return types.ChunkResult{}, &types.MalformedResponseError{Chunk: u.Chunk, Err: errors.New("empty response")}
	}
	structured, records, err := o.parser().Parse(raw.Content, r.category)
	if err != nil {
		var malformed *types.MalformedResponseError
		if errors.As(err, &malformed) {
			malformed.Chunk = u.Chunk
		}
		return types.ChunkResult{}, err
	}
	if structured[parse.RecoveredKey] == true {
		r.logger.Warn("recovered records from truncated response", "chunk", u.Chunk.Index, "records", len(records))
	}
	return types.ChunkResult{
		Chunk:        u.Chunk,
		Records:      records,
		InputTokens:  raw.Usage.InputTokens,
		OutputTokens: raw.Usage.OutputTokens,
		Model:        raw.Model,
	}, nil
}

func (o *Orchestrator) parser() *parse.Parser {
	if o.Parser != nil {
		return o.Parser
	}
	return parse.NewParser(o.Categories)
}

func (o *Orchestrator) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return config.DefaultMaxWorkers
}

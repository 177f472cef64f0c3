// Package pipeline runs one document through validation, chunking,
// extraction, consolidation and costing.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/chunk"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/config"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/consolidate"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/cost"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/pagesource"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/parse"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/prompts"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/providers"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/validate"
)

const cleanupTimeout = 30 * time.Second

// Output is the result of processing one document.
type Output struct {
	RunID      string                  `json:"run_id"`
	Document   string                  `json:"document"`
	Category   types.Category          `json:"category"`
	Result     *types.ExtractionResult `json:"result"`
	Cost       types.CostBreakdown     `json:"cost"`
	Validation *validate.Summary       `json:"validation,omitempty"`
}

// Orchestrator holds the collaborators shared by every Process call.
// All per-document state lives in Process, so concurrent calls are safe.
type Orchestrator struct {
	Source     pagesource.Source
	Registry   *providers.Registry
	Selection  providers.Selection
	Categories map[string]config.CategoryCfg
	Parser     *parse.Parser
	Validator  *validate.Validator
	Estimator  *cost.Estimator
	Prompts    *prompts.Builder

	MaxPagesPerChunk int
	Workers          int
	BatchEnabled     bool
	PollInterval     time.Duration
	MaxWait          time.Duration
	ScratchDir       string

	// ProviderKinds maps registered provider names to their type for pricing.
	ProviderKinds map[string]string

	Logger *slog.Logger
}

// New builds an orchestrator from configuration.
func New(cfg *config.Config, registry *providers.Registry, scratchDir string, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	validator, err := validate.NewValidator(cfg.Categories)
	if err != nil {
		return nil, err
	}
	builder, err := prompts.NewBuilder(cfg.Prompts.Dir, cfg.Categories, logger)
	if err != nil {
		return nil, err
	}

	kinds := make(map[string]string, len(cfg.Providers))
	for name, p := range cfg.Providers {
		kinds[name] = p.Type
		if p.Type == "" {
			kinds[name] = name
		}
	}

	return &Orchestrator{
		Source:           pagesource.NewPDFSource(logger),
		Registry:         registry,
		Selection:        cfg.Selection(),
		Categories:       cfg.Categories,
		Parser:           parse.NewParser(cfg.Categories),
		Validator:        validator,
		Estimator:        cost.NewEstimator(cfg.Cost, logger),
		Prompts:          builder,
		MaxPagesPerChunk: cfg.MaxPagesFor(),
		Workers:          cfg.Pipeline.MaxWorkers,
		BatchEnabled:     cfg.Pipeline.UseBatch,
		PollInterval:     cfg.Batch.PollInterval,
		MaxWait:          cfg.Batch.MaxWait,
		ScratchDir:       scratchDir,
		ProviderKinds:    kinds,
		Logger:           logger,
	}, nil
}

// run is the per-document state of one Process call.
type run struct {
	id       string
	handle   string
	category types.Category
	catCfg   config.CategoryCfg
	customPr string
	started  time.Time
	state    State
	logger   *slog.Logger

	strategy *providers.Strategy
	pages    int
	chunks   []types.Chunk
}

// Process extracts, consolidates and prices the records of one PDF. Every
// returned error is a *types.DocumentError carrying the failing state.
func (o *Orchestrator) Process(ctx context.Context, handle string, category types.Category, customPrompt string) (*Output, error) {
	id := uuid.NewString()
	r := &run{
		id:       id,
		handle:   handle,
		category: category,
		customPr: customPrompt,
		started:  time.Now(),
		logger:   o.logger().With("run_id", id, "document", filepath.Base(handle)),
	}

	out, err := o.process(ctx, r)
	if err != nil {
		failedIn := r.state
		r.logger.Error("document processing failed", "state", failedIn, "error", err)
		r.state = StateFailed
		return nil, &types.DocumentError{Document: handle, State: failedIn.String(), Err: err}
	}
	o.transition(r, StateDone)
	r.logger.Info("document processed",
		"records", len(out.Result.Records),
		"chunks", out.Result.ChunksTotal,
		"succeeded", out.Result.ChunksSucceeded,
		"strategy", out.Result.Strategy,
		"total_cost", out.Cost.TotalCost,
		"elapsed", time.Since(r.started).Round(time.Millisecond))
	return out, nil
}

func (o *Orchestrator) process(ctx context.Context, r *run) (*Output, error) {
	o.transition(r, StateValidating)
	if err := o.validateInput(ctx, r); err != nil {
		return nil, err
	}

	o.transition(r, StateChunking)
	chunks, err := chunk.Plan(r.pages, o.MaxPagesPerChunk)
	if err != nil {
		return nil, err
	}
	r.chunks = chunks
	r.logger.Info("planned chunks", "pages", r.pages, "chunks", len(chunks), "max_pages", o.MaxPagesPerChunk)

	o.transition(r, StateExtracting)
	results, failures, dispatch, err := o.extractDocument(ctx, r)
	if err != nil {
		return nil, err
	}

	o.transition(r, StateConsolidating)
	result, err := consolidate.New(r.catCfg, r.logger).Consolidate(results, failures)
	if err != nil {
		return nil, err
	}
	result.Strategy = dispatch
	for _, w := range result.Warnings {
		r.logger.Warn("partial extraction", "warning", w)
	}

	var summary *validate.Summary
	if o.Validator != nil {
		summary, err = o.Validator.Summarize(result.Records, r.category)
		if err != nil {
			return nil, err
		}
		if !summary.Passed {
			r.logger.Warn("validation below threshold",
				"valid", summary.ValidRecords,
				"total", summary.TotalRecords,
				"average_confidence", summary.AverageConfidence)
		}
	}

	o.transition(r, StateCosting)
	breakdown := o.estimate(ctx, r, result)

	return &Output{
		RunID:      r.id,
		Document:   r.handle,
		Category:   r.category,
		Result:     result,
		Cost:       breakdown,
		Validation: summary,
	}, nil
}

func (o *Orchestrator) validateInput(ctx context.Context, r *run) error {
	cat, ok := o.Categories[string(r.category)]
	if !ok {
		return &types.ConfigurationError{Field: "category", Msg: fmt.Sprintf("unknown document category %q", r.category)}
	}
	r.catCfg = cat

	if o.Registry == nil {
		return &types.ConfigurationError{Field: "providers", Msg: "no provider registry"}
	}
	strategy, err := o.Registry.Resolve(o.Selection)
	if err != nil {
		return err
	}
	r.strategy = strategy

	pages, err := o.Source.PageCount(ctx, r.handle)
	if err != nil {
		return err
	}
	r.pages = pages
	r.logger.Info("document accepted", "category", r.category, "pages", pages, "providers", strategy.String())
	return nil
}

// extractDocument materializes the chunks into a per-run scratch directory,
// dispatches them and always removes the scratch directory afterwards.
func (o *Orchestrator) extractDocument(ctx context.Context, r *run) ([]types.ChunkResult, []types.ChunkFailure, string, error) {
	scratch := filepath.Join(o.scratchRoot(), r.id)
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := o.Source.Cleanup(cctx, scratch); err != nil {
			r.logger.Warn("failed to remove scratch directory", "dir", scratch, "error", err)
		}
	}()

	units, err := o.buildUnits(ctx, r, scratch)
	if err != nil {
		return nil, nil, "", err
	}
	return o.extract(ctx, r, units)
}

func (o *Orchestrator) buildUnits(ctx context.Context, r *run, scratch string) ([]*types.ExtractionUnit, error) {
	system, err := o.Prompts.System(r.category)
	if err != nil {
		return nil, err
	}

	units := make([]*types.ExtractionUnit, 0, len(r.chunks))
	for _, c := range r.chunks {
		path, err := o.Source.Materialize(ctx, r.handle, scratch, c, r.pages)
		if err != nil {
			return nil, err
		}
		pdf, err := o.Source.ReadChunk(path)
		if err != nil {
			return nil, err
		}
		if path != r.handle {
			if err := o.Source.Remove(ctx, path); err != nil {
				r.logger.Warn("failed to remove chunk file", "path", path, "error", err)
			}
		}

		user, err := o.Prompts.User(r.category, prompts.UserInput{
			Filename:     filepath.Base(r.handle),
			Chunk:        c,
			TotalChunks:  len(r.chunks),
			CustomPrompt: r.customPr,
		})
		if err != nil {
			return nil, err
		}
		units = append(units, &types.ExtractionUnit{
			CustomID:     c.CustomID(),
			Chunk:        c,
			Category:     r.category,
			SystemPrompt: system,
			UserPrompt:   user,
			PDF:          pdf,
		})
	}
	return units, nil
}

func (o *Orchestrator) estimate(ctx context.Context, r *run, result *types.ExtractionResult) types.CostBreakdown {
	u := cost.Usage{
		Pages:        r.pages,
		InputTokens:  result.TotalInputTokens,
		OutputTokens: result.TotalOutputTokens,
		Elapsed:      time.Since(r.started),
		Model:        result.Model,
	}
	if r.strategy.Split() {
		u.OCRKind = o.kind(r.strategy.OCRName)
		u.ProviderKind = o.kind(r.strategy.TextName)
	} else {
		u.ProviderKind = o.kind(r.strategy.CombinedName)
	}
	if u.Model == "" {
		u.Model = r.strategy.String()
	}
	if o.Estimator == nil {
		return (&cost.Estimator{}).Estimate(ctx, u)
	}
	return o.Estimator.Estimate(ctx, u)
}

func (o *Orchestrator) transition(r *run, s State) {
	r.state = s
	r.logger.Info("state transition", "state", s)
}

func (o *Orchestrator) kind(name string) string {
	if k, ok := o.ProviderKinds[name]; ok && k != "" {
		return k
	}
	return name
}

func (o *Orchestrator) scratchRoot() string {
	if o.ScratchDir != "" {
		return o.ScratchDir
	}
	return filepath.Join(os.TempDir(), "docproc")
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

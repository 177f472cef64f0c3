// Package cost computes usage-based processing cost for a document.
package cost

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/config"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

// Provider kinds with special pricing rules.
const (
	KindMistral    = "mistral"
	KindDocumentAI = "docai"
)

// Usage is everything the estimator needs from a finished run.
type Usage struct {
	Pages        int
	InputTokens  int
	OutputTokens int
	Elapsed      time.Duration

	// ProviderKind is the extraction provider type. OCRKind is set only for
	// split pipelines.
	ProviderKind string
	OCRKind      string
	Model        string
}

// Estimator prices usage from a remote source with static fallbacks.
type Estimator struct {
	Source   PricingSource
	Fallback map[string]config.PricingCfg // keyed by provider kind
	Enabled  bool
	Logger   *slog.Logger

	// mu guards the caches only; lookups run outside it and concurrent misses
	// for the same key share one fetch.
	mu      sync.Mutex
	models  map[string]Pricing
	ocrRate *float64
	fetches singleflight.Group
}

// NewEstimator creates an estimator from the cost config. A remote source is
// attached only when a backend URL is configured.
func NewEstimator(cfg config.CostCfg, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Estimator{
		Fallback: cfg.Fallback,
		Enabled:  cfg.Enabled,
		Logger:   logger,
	}
	if cfg.Enabled && cfg.BackendURL != "" {
		e.Source = NewRemotePricing(cfg.BackendURL, cfg.Timeout, logger)
	}
	return e
}

// Estimate prices u. It never fails: pricing lookups fall back to static rates.
func (e *Estimator) Estimate(ctx context.Context, u Usage) types.CostBreakdown {
	out := types.CostBreakdown{
		Pages:          u.Pages,
		InputTokens:    u.InputTokens,
		OutputTokens:   u.OutputTokens,
		ElapsedSeconds: round(u.Elapsed.Seconds(), 2),
		Model:          u.Model,
	}
	if !e.Enabled {
		return out
	}

	var ocr float64
	switch {
	case u.OCRKind != "":
		ocr = float64(u.Pages) * e.ocrPerPage(ctx, u.OCRKind)
	case u.ProviderKind != KindMistral:
		ocr = float64(u.Pages) * e.Fallback[u.ProviderKind].OCRPerPage
	}

	rates := e.modelRates(ctx, u.ProviderKind, u.Model)
	if rates.ModelName != "" {
		out.Model = rates.ModelName
	}
	extraction := float64(u.InputTokens)/1000*rates.InputPer1K + float64(u.OutputTokens)/1000*rates.OutputPer1K

	out.OCRCost = round4(ocr)
	out.ExtractionCost = round4(extraction)
	out.TotalCost = round4(out.OCRCost + out.ExtractionCost)

	e.Logger.Info("estimated cost",
		"pages", u.Pages,
		"ocr_cost", out.OCRCost,
		"extraction_cost", out.ExtractionCost,
		"total_cost", out.TotalCost,
		"model", out.Model)
	return out
}

func (e *Estimator) ocrPerPage(ctx context.Context, kind string) float64 {
	fallback := e.Fallback[kind].OCRPerPage
	if kind != KindDocumentAI || e.Source == nil {
		return fallback
	}

	e.mu.Lock()
	cached := e.ocrRate
	e.mu.Unlock()
	if cached != nil {
		return *cached
	}

	v, _, _ := e.fetches.Do("ocr:"+kind, func() (any, error) {
		rate, err := e.Source.OCRPerPage(ctx)
		if err != nil {
			e.Logger.Warn("using fallback OCR pricing", "kind", kind, "rate", fallback, "error", err)
			rate = fallback
		}
		e.mu.Lock()
		e.ocrRate = &rate
		e.mu.Unlock()
		return rate, nil
	})
	return v.(float64)
}

func (e *Estimator) modelRates(ctx context.Context, kind, model string) Pricing {
	fb := e.Fallback[kind]
	fallback := Pricing{InputPer1K: fb.InputPer1K, OutputPer1K: fb.OutputPer1K}
	if kind == KindMistral || e.Source == nil || model == "" {
		return fallback
	}

	e.mu.Lock()
	p, ok := e.models[model]
	e.mu.Unlock()
	if ok {
		return p
	}

	v, _, _ := e.fetches.Do("model:"+model, func() (any, error) {
		p, err := e.Source.Pricing(ctx, model)
		if err != nil {
			e.Logger.Warn("using fallback model pricing", "model", model, "kind", kind, "error", err)
			p = fallback
		}
		e.mu.Lock()
		if e.models == nil {
			e.models = make(map[string]Pricing)
		}
		e.models[model] = p
		e.mu.Unlock()
		return p, nil
	})
	return v.(Pricing)
}

func round4(v float64) float64 {
	return round(v, 4)
}

// round rounds to places decimals and clamps negatives to zero.
func round(v float64, places int) float64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

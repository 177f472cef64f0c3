package cost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// Pricing is the per-model token rate.
type Pricing struct {
	ModelName   string
	ModelCode   string
	InputPer1K  float64
	OutputPer1K float64
}

// PricingSource supplies rates from an external pricing backend.
type PricingSource interface {
	Pricing(ctx context.Context, model string) (Pricing, error)
	OCRPerPage(ctx context.Context) (float64, error)
}

// RemotePricing reads rates from the admin pricing API.
type RemotePricing struct {
	BaseURL  string
	Client   *http.Client
	Attempts uint
	Delay    time.Duration
	Logger   *slog.Logger
}

// NewRemotePricing creates a pricing source for baseURL.
func NewRemotePricing(baseURL string, timeout time.Duration, logger *slog.Logger) *RemotePricing {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemotePricing{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Client:   &http.Client{Timeout: timeout},
		Attempts: 3,
		Delay:    time.Second,
		Logger:   logger,
	}
}

type pricingResponse struct {
	Data struct {
		ModelName   string          `json:"model_name"`
		ModelCode   string          `json:"model_code"`
		InputPer1K  json.RawMessage `json:"input_cost_per_1k"`
		OutputPer1K json.RawMessage `json:"output_cost_per_1k"`
	} `json:"data"`
}

type configValueResponse struct {
	Data struct {
		Value json.RawMessage `json:"value"`
	} `json:"data"`
}

// Pricing fetches the token rates for model.
func (p *RemotePricing) Pricing(ctx context.Context, model string) (Pricing, error) {
	var resp pricingResponse
	path := "/api/admin/openai-models/" + url.PathEscape(model) + "/pricing"
	if err := p.get(ctx, path, &resp); err != nil {
		return Pricing{}, err
	}

	in, err := number(resp.Data.InputPer1K)
	if err != nil {
		return Pricing{}, fmt.Errorf("input_cost_per_1k: %w", err)
	}
	out, err := number(resp.Data.OutputPer1K)
	if err != nil {
		return Pricing{}, fmt.Errorf("output_cost_per_1k: %w", err)
	}
	return Pricing{
		ModelName:   resp.Data.ModelName,
		ModelCode:   resp.Data.ModelCode,
		InputPer1K:  in,
		OutputPer1K: out,
	}, nil
}

// OCRPerPage fetches the Document AI per-page rate.
func (p *RemotePricing) OCRPerPage(ctx context.Context) (float64, error) {
	var resp configValueResponse
	if err := p.get(ctx, "/api/admin/config/docai_cost_per_page", &resp); err != nil {
		return 0, err
	}
	return number(resp.Data.Value)
}

func (p *RemotePricing) get(ctx context.Context, path string, out any) error {
	if p.BaseURL == "" {
		return errors.New("pricing backend url not configured")
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 3
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+path, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
			}
			if err := json.Unmarshal(body, out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("GET %s: decode: %w", path, err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.Logger.Warn("pricing fetch failed", "path", path, "attempt", n+1, "error", err)
		}),
	)
}

// number accepts a JSON number or a numeric string.
func number(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("missing value")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

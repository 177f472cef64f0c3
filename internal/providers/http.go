package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

// maxErrorBody bounds how much of an error response is echoed into errors.
const maxErrorBody = 2048

// httpTransport wraps the bits every raw-HTTP provider shares: auth header,
// JSON encoding, rate limiting and status classification.
type httpTransport struct {
	provider   string
	baseURL    string
	apiKey     string
	client     *http.Client
	limiter    *RateLimiter
	retryCodes map[int]bool // extra statuses treated as transient
	headers    map[string]string
}

// doJSON sends body as JSON (nil for no body) and decodes a 2xx response into out.
func (t *httpTransport) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	return t.do(ctx, method, path, "application/json", reader, out)
}

// do sends a request with the given content type and decodes a 2xx JSON response into out.
// out may be *[]byte to receive the raw body.
func (t *httpTransport) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, t.url(path), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" && body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Network errors and client timeouts are transient.
		return &types.TransientProviderError{Provider: t.provider, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &types.TransientProviderError{Provider: t.provider, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if err := t.classify(resp, respBody); err != nil {
		if t.limiter != nil {
			var te *types.TransientProviderError
			if errors.As(err, &te) && te.IsRateLimit() {
				t.limiter.Record429(te.RetryAfter)
			}
		}
		return err
	}

	switch o := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*o = respBody
		return nil
	default:
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to unmarshal %s response: %w", t.provider, err)
		}
		return nil
	}
}

func (t *httpTransport) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(t.baseURL, "/") + path
}

// classify maps a non-2xx response to an error. Rate limits and server errors
// are transient; everything else is permanent.
func (t *httpTransport) classify(resp *http.Response, body []byte) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	msg := errorMessage(body)
	cause := fmt.Errorf("%s error (status %d): %s", t.provider, code, msg)

	if code == http.StatusTooManyRequests {
		return &types.TransientProviderError{
			Provider:   t.provider,
			StatusCode: code,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        cause,
		}
	}
	if isRetryableStatus(code) || t.retryCodes[code] {
		return &types.TransientProviderError{Provider: t.provider, StatusCode: code, Err: cause}
	}
	return cause
}

// isRetryableStatus returns true for status codes that should be retried.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	case 520, 521, 522, 523, 524: // Cloudflare errors
		return true
	default:
		return code >= 500
	}
}

// isNetworkError reports whether err came from the transport rather than from
// the response: dial and read failures, timeouts and truncated bodies.
func isNetworkError(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// errorMessage extracts a readable message from a provider error body.
func errorMessage(body []byte) string {
	var withObj struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &withObj) == nil {
		if withObj.Error.Message != "" {
			return withObj.Error.Message
		}
		if withObj.Message != "" {
			return withObj.Message
		}
	}
	var withStr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &withStr) == nil && withStr.Error != "" {
		return withStr.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "...[truncated]"
	}
	return s
}

// parseRetryAfter parses a Retry-After header given in seconds or as an HTTP date.
// Returns 0 when absent or unparseable.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

func TestHTTPTransport_Classify(t *testing.T) {
	tr := &httpTransport{provider: "test", retryCodes: map[int]bool{422: true}}

	tests := []struct {
		name       string
		code       int
		retryAfter string
		transient  bool
		wantDelay  time.Duration
	}{
		{"ok", 200, "", false, 0},
		{"bad request", 400, "", false, 0},
		{"unauthorized", 401, "", false, 0},
		{"extra retry code", 422, "", true, 0},
		{"rate limit", 429, "3", true, 3 * time.Second},
		{"rate limit without header", 429, "", true, 0},
		{"server error", 500, "", true, 0},
		{"cloudflare", 524, "", true, 0},
		{"timeout", 408, "", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.code, Header: http.Header{}}
			if tt.retryAfter != "" {
				resp.Header.Set("Retry-After", tt.retryAfter)
			}
			err := tr.classify(resp, []byte(`{"error":{"message":"nope"}}`))
			if tt.code == 200 {
				if err != nil {
					t.Errorf("classify(200) = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("classify(%d) = nil", tt.code)
			}
			if got := types.IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v (%v)", got, tt.transient, err)
			}
			var te *types.TransientProviderError
			if errors.As(err, &te) && te.RetryAfter != tt.wantDelay {
				t.Errorf("RetryAfter = %v, want %v", te.RetryAfter, tt.wantDelay)
			}
		})
	}
}

func TestIsNetworkError(t *testing.T) {
	var syntaxErr error = &json.SyntaxError{Offset: 3}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"dial failure", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"url error", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("reset")}, true},
		{"truncated body", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), true},
		{"json syntax", syntaxErr, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNetworkError(tt.err); got != tt.want {
				t.Errorf("isNetworkError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("2"); got != 2*time.Second {
		t.Errorf("parseRetryAfter(2) = %v", got)
	}
	if got := parseRetryAfter("garbage"); got != 0 {
		t.Errorf("parseRetryAfter(garbage) = %v", got)
	}
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 50*time.Second || got > time.Minute {
		t.Errorf("parseRetryAfter(date) = %v", got)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := map[string]string{
		`{"error":{"message":"nested"}}`: "nested",
		`{"message":"flat"}`:             "flat",
		`{"error":"string"}`:             "string",
		"plain text":                     "plain text",
	}
	for body, want := range tests {
		if got := errorMessage([]byte(body)); got != want {
			t.Errorf("errorMessage(%s) = %q, want %q", body, got, want)
		}
	}
}

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

// fastRetry keeps retry tests quick.
func fastRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		RateLimitDelay: time.Millisecond,
	}
}

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":    "cmpl-1",
		"model": "pixtral-large-latest",
		"choices": []map[string]any{
			{
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     120,
			"completion_tokens": 30,
			"total_tokens":      150,
		},
	}
}

func testUnit(idx int) *types.ExtractionUnit {
	chunk := types.Chunk{Index: idx, StartPage: idx*2 + 1, EndPage: idx*2 + 2, PageCount: 2}
	return &types.ExtractionUnit{
		CustomID:     chunk.CustomID(),
		Chunk:        chunk,
		Category:     types.CategoryEOB,
		SystemPrompt: "system",
		UserPrompt:   "extract",
		PDF:          []byte("%PDF-1.7 fake"),
	}
}

func newTestMistral(url string) *MistralClient {
	return NewMistralClient(MistralConfig{
		APIKey:    "test-key",
		BaseURL:   url,
		RateLimit: 1000,
		Retry:     fastRetry(),
	})
}

func TestMistralClient_ExtractDocument(t *testing.T) {
	t.Run("sends pdf as document_url part", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}

			var req struct {
				Model          string            `json:"model"`
				MaxTokens      int               `json:"max_tokens"`
				ResponseFormat map[string]string `json:"response_format"`
				Messages       []struct {
					Role    string          `json:"role"`
					Content json.RawMessage `json:"content"`
				} `json:"messages"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
				return
			}
			if req.Model != MistralDefaultModel {
				t.Errorf("model = %q", req.Model)
			}
			if req.MaxTokens != DefaultMaxTokens {
				t.Errorf("max_tokens = %d", req.MaxTokens)
			}
			if req.ResponseFormat["type"] != "json_object" {
				t.Errorf("response_format = %v", req.ResponseFormat)
			}
			if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
				t.Errorf("unexpected messages: %+v", req.Messages)
				return
			}
			var parts []chatContentPart
			if err := json.Unmarshal(req.Messages[1].Content, &parts); err != nil {
				t.Errorf("user content is not parts: %v", err)
				return
			}
			if len(parts) != 2 || parts[1].Type != "document_url" {
				t.Errorf("unexpected parts: %+v", parts)
				return
			}
			if !strings.HasPrefix(parts[1].DocumentURL, "data:application/pdf;base64,") {
				t.Errorf("document_url = %q", parts[1].DocumentURL)
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(chatResponse(`{"claims":[]}`))
		}))
		defer server.Close()

		raw, err := newTestMistral(server.URL).ExtractDocument(context.Background(), testUnit(0))
		if err != nil {
			t.Fatalf("ExtractDocument() error = %v", err)
		}
		if raw.Content != `{"claims":[]}` {
			t.Errorf("Content = %q", raw.Content)
		}
		if raw.Usage.InputTokens != 120 || raw.Usage.OutputTokens != 30 {
			t.Errorf("Usage = %+v", raw.Usage)
		}
	})

	t.Run("rejects unit without pdf", func(t *testing.T) {
		unit := testUnit(0)
		unit.PDF = nil
		if _, err := newTestMistral("http://unused").ExtractDocument(context.Background(), unit); err == nil {
			t.Error("expected error for missing pdf")
		}
	})

	t.Run("retries rate limit then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.Header().Set("Retry-After", "0.01")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprint(w, `{"message":"slow down"}`)
				return
			}
			json.NewEncoder(w).Encode(chatResponse(`{"claims":[]}`))
		}))
		defer server.Close()

		client := newTestMistral(server.URL)
		res, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if res.Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", res.Attempts)
		}
		if calls.Load() != 2 {
			t.Errorf("server calls = %d, want 2", calls.Load())
		}
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"bad document"}}`)
		}))
		defer server.Close()

		_, err := newTestMistral(server.URL).ExtractDocument(context.Background(), testUnit(0))
		if err == nil {
			t.Fatal("expected error")
		}
		if types.IsTransient(err) {
			t.Errorf("400 should not be transient: %v", err)
		}
		if !strings.Contains(err.Error(), "bad document") {
			t.Errorf("error = %v, want provider message", err)
		}
		if calls.Load() != 1 {
			t.Errorf("server calls = %d, want 1", calls.Load())
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		_, err := newTestMistral(server.URL).ExtractDocument(context.Background(), testUnit(0))
		var te *types.TransientProviderError
		if !errors.As(err, &te) {
			t.Fatalf("error = %v, want TransientProviderError", err)
		}
		if te.StatusCode != http.StatusBadGateway {
			t.Errorf("StatusCode = %d", te.StatusCode)
		}
		if calls.Load() != 3 {
			t.Errorf("server calls = %d, want 3", calls.Load())
		}
	})
}

func TestMistralClient_OCRDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ocr" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req mistralOCRRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != MistralOCRModel || req.Document.Type != "document_url" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": MistralOCRModel,
			"pages": []map[string]any{
				{"index": 0, "markdown": "Claim A\n"},
				{"index": 1, "markdown": "Claim B"},
			},
			"usage_info": map[string]int{"pages_processed": 2},
		})
	}))
	defer server.Close()

	chunk := types.Chunk{Index: 0, StartPage: 1, EndPage: 2, PageCount: 2}
	res, err := newTestMistral(server.URL).OCRDocument(context.Background(), []byte("%PDF"), chunk)
	if err != nil {
		t.Fatalf("OCRDocument() error = %v", err)
	}
	want := "--- Page 1 ---\nClaim A\n\n--- Page 2 ---\nClaim B"
	if res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
	if res.Pages != 2 {
		t.Errorf("Pages = %d", res.Pages)
	}
	if res.Metadata["pages_processed"] != 2 {
		t.Errorf("Metadata = %v", res.Metadata)
	}
}

func TestMistralClient_Batch(t *testing.T) {
	var uploaded []batchInputLine
	var cancelled atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("POST /files", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if r.FormValue("purpose") != "batch" {
			t.Errorf("purpose = %q", r.FormValue("purpose"))
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			var l batchInputLine
			json.Unmarshal([]byte(line), &l)
			uploaded = append(uploaded, l)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "file-in", "purpose": "batch"})
	})
	mux.HandleFunc("POST /batch/jobs", func(w http.ResponseWriter, r *http.Request) {
		var req mistralBatchJobRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.InputFiles) != 1 || req.InputFiles[0] != "file-in" {
			t.Errorf("input_files = %v", req.InputFiles)
		}
		if req.Endpoint != "/v1/chat/completions" {
			t.Errorf("endpoint = %q", req.Endpoint)
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "job-1", "status": "QUEUED"})
	})
	mux.HandleFunc("GET /batch/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id": "job-1", "status": "SUCCESS", "output_file": "file-out", "total_requests": 2,
		})
	})
	mux.HandleFunc("GET /files/file-out/content", func(w http.ResponseWriter, r *http.Request) {
		ok, _ := json.Marshal(map[string]any{
			"custom_id": "0",
			"response":  map[string]any{"status_code": 200, "body": chatResponse(`{"claims":[{"Page_no":1}]}`)},
		})
		failed, _ := json.Marshal(map[string]any{
			"custom_id": "1",
			"error":     map[string]any{"message": "model overloaded"},
		})
		fmt.Fprintf(w, "%s\n%s\n", ok, failed)
	})
	mux.HandleFunc("POST /batch/jobs/job-1/cancel", func(w http.ResponseWriter, r *http.Request) {
		cancelled.Store(true)
		json.NewEncoder(w).Encode(map[string]any{"id": "job-1", "status": "CANCELLATION_REQUESTED"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestMistral(server.URL)
	ctx := context.Background()

	job, err := client.SubmitBatch(ctx, []*types.ExtractionUnit{testUnit(0), testUnit(1)})
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if job.ID != "job-1" || job.Status != types.BatchQueued || job.UnitCount != 2 {
		t.Errorf("job = %+v", job)
	}
	if len(uploaded) != 2 || uploaded[0].CustomID != "0" || uploaded[1].CustomID != "1" {
		t.Errorf("uploaded = %+v", uploaded)
	}

	status, err := client.BatchStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("BatchStatus() error = %v", err)
	}
	if status.Status != types.BatchSucceeded || status.ResultsHandle != "file-out" {
		t.Errorf("status = %+v", status)
	}

	results, err := client.BatchResults(ctx, status)
	if err != nil {
		t.Fatalf("BatchResults() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 (failed line skipped)", len(results))
	}
	if results["0"].Content != `{"claims":[{"Page_no":1}]}` {
		t.Errorf("content = %q", results["0"].Content)
	}

	if err := client.CancelBatch(ctx, job.ID); err != nil {
		t.Fatalf("CancelBatch() error = %v", err)
	}
	if !cancelled.Load() {
		t.Error("cancel endpoint not called")
	}
}

func TestMistralBatchStatus(t *testing.T) {
	tests := map[string]types.BatchStatus{
		"QUEUED":                 types.BatchQueued,
		"RUNNING":                types.BatchRunning,
		"SUCCESS":                types.BatchSucceeded,
		"FAILED":                 types.BatchFailed,
		"TIMEOUT_EXCEEDED":       types.BatchExpired,
		"CANCELLATION_REQUESTED": types.BatchCancelled,
		"CANCELLED":              types.BatchCancelled,
	}
	for in, want := range tests {
		if got := mistralBatchStatus(in); got != want {
			t.Errorf("mistralBatchStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

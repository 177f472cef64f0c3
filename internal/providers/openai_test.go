package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

func newTestOpenAI(url string) *OpenAIClient {
	return NewOpenAIClient(OpenAIConfig{
		APIKey:    "test-key",
		BaseURL:   url,
		RateLimit: 1000,
		Retry:     fastRetry(),
	})
}

func textUnit(idx int) *types.ExtractionUnit {
	u := testUnit(idx)
	u.PDF = nil
	u.Text = "--- Page 1 ---\nClaim 123"
	return u
}

func TestOpenAIClient_ExtractText(t *testing.T) {
	t.Run("json mode chat completion", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			if req["model"] != OpenAIDefaultModel {
				t.Errorf("model = %v", req["model"])
			}
			format, _ := req["response_format"].(map[string]any)
			if format["type"] != "json_object" {
				t.Errorf("response_format = %v", req["response_format"])
			}
			msgs, _ := req["messages"].([]any)
			if len(msgs) != 2 {
				t.Errorf("messages = %v", msgs)
			} else {
				user := msgs[1].(map[string]any)
				if !strings.Contains(fmt.Sprint(user["content"]), "DOCUMENT TEXT:") {
					t.Errorf("user content missing OCR text: %v", user["content"])
				}
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 1700000000,
				"model":   "gpt-4o-2024-08-06",
				"choices": []map[string]any{
					{
						"index":         0,
						"message":       map[string]any{"role": "assistant", "content": `{"claims":[]}`},
						"finish_reason": "stop",
					},
				},
				"usage": map[string]int{"prompt_tokens": 40, "completion_tokens": 5, "total_tokens": 45},
			})
		}))
		defer server.Close()

		raw, err := newTestOpenAI(server.URL).ExtractText(context.Background(), textUnit(0))
		if err != nil {
			t.Fatalf("ExtractText() error = %v", err)
		}
		if raw.Content != `{"claims":[]}` {
			t.Errorf("Content = %q", raw.Content)
		}
		if raw.Usage.InputTokens != 40 || raw.Usage.OutputTokens != 5 {
			t.Errorf("Usage = %+v", raw.Usage)
		}
		if raw.Model != "gpt-4o-2024-08-06" {
			t.Errorf("Model = %q", raw.Model)
		}
	})

	t.Run("rejects unit without text", func(t *testing.T) {
		if _, err := newTestOpenAI("http://unused").ExtractText(context.Background(), testUnit(0)); err == nil {
			t.Error("expected error for pdf-only unit")
		}
	})

	t.Run("rate limit is transient", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"rate limited","type":"requests"}}`)
		}))
		defer server.Close()

		_, err := newTestOpenAI(server.URL).ExtractText(context.Background(), textUnit(0))
		if !types.IsTransient(err) {
			t.Fatalf("error = %v, want transient", err)
		}
		if calls.Load() != 3 {
			t.Errorf("server calls = %d, want 3", calls.Load())
		}
	})

	t.Run("bad request is permanent", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"invalid model","type":"invalid_request_error"}}`)
		}))
		defer server.Close()

		_, err := newTestOpenAI(server.URL).ExtractText(context.Background(), textUnit(0))
		if err == nil || types.IsTransient(err) {
			t.Fatalf("error = %v, want permanent error", err)
		}
		if calls.Load() != 1 {
			t.Errorf("server calls = %d, want 1", calls.Load())
		}
	})

	t.Run("undecodable success body is permanent", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"chatcmpl-1","choices":[`)
		}))
		defer server.Close()

		_, err := newTestOpenAI(server.URL).ExtractText(context.Background(), textUnit(0))
		if err == nil || types.IsTransient(err) {
			t.Fatalf("error = %v, want permanent error", err)
		}
		if calls.Load() != 1 {
			t.Errorf("server calls = %d, want 1", calls.Load())
		}
	})
}

func TestOpenAIClient_Batch(t *testing.T) {
	var uploaded string

	batch := func(status string) map[string]any {
		b := map[string]any{
			"id":                "batch_1",
			"object":            "batch",
			"endpoint":          "/v1/chat/completions",
			"input_file_id":     "file-in",
			"completion_window": "24h",
			"status":            status,
			"created_at":        1700000000,
			"request_counts":    map[string]int{"total": 2, "completed": 2, "failed": 0},
		}
		if status == "completed" {
			b["output_file_id"] = "file-out"
		}
		return b
	}

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
		uploaded = string(data)
		writeJSON(w, map[string]any{
			"id": "file-in", "object": "file", "bytes": len(data), "created_at": 1700000000,
			"filename": "batch.jsonl", "purpose": "batch", "status": "processed",
		})
	})
	mux.HandleFunc("POST /batches", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["input_file_id"] != "file-in" || req["completion_window"] != "24h" {
			t.Errorf("unexpected batch request: %v", req)
		}
		writeJSON(w, batch("validating"))
	})
	mux.HandleFunc("GET /batches/batch_1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, batch("completed"))
	})
	mux.HandleFunc("GET /files/file-out/content", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/jsonl")
		for _, id := range []string{"0", "1"} {
			line, _ := json.Marshal(map[string]any{
				"custom_id": id,
				"response":  map[string]any{"status_code": 200, "body": chatResponse(`{"claims":[]}`)},
			})
			fmt.Fprintf(w, "%s\n", line)
		}
	})
	mux.HandleFunc("POST /batches/batch_1/cancel", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, batch("cancelling"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestOpenAI(server.URL)
	ctx := context.Background()

	job, err := client.SubmitBatch(ctx, []*types.ExtractionUnit{textUnit(0), textUnit(1)})
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if job.ID != "batch_1" || job.Status != types.BatchQueued {
		t.Errorf("job = %+v", job)
	}
	lines := strings.Split(strings.TrimSpace(uploaded), "\n")
	if len(lines) != 2 {
		t.Fatalf("uploaded %d lines, want 2", len(lines))
	}
	var first batchInputLine
	json.Unmarshal([]byte(lines[0]), &first)
	if first.CustomID != "0" || first.Method != "POST" || first.URL != openAIBatchEndpoint {
		t.Errorf("first line = %+v", first)
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
	if len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}

	if err := client.CancelBatch(ctx, job.ID); err != nil {
		t.Errorf("CancelBatch() error = %v", err)
	}

	t.Run("pdf units cannot be batched", func(t *testing.T) {
		if _, err := client.SubmitBatch(ctx, []*types.ExtractionUnit{testUnit(0)}); err == nil {
			t.Error("expected error for pdf unit")
		}
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

package providers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

// maxBatchLine bounds a single JSONL result line.
const maxBatchLine = 32 << 20

// batchInputLine is one request in a batch input file.
// Method and URL are required by OpenAI and ignored by Mistral.
type batchInputLine struct {
	CustomID string `json:"custom_id"`
	Method   string `json:"method,omitempty"`
	URL      string `json:"url,omitempty"`
	Body     any    `json:"body"`
}

// batchOutputLine is one result in a batch output file.
type batchOutputLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int                    `json:"status_code"`
		Body       chatCompletionResponse `json:"body"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code,omitempty"`
	} `json:"error"`
}

func encodeBatchLines(lines []batchInputLine) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, l := range lines {
		if err := enc.Encode(l); err != nil {
			return nil, fmt.Errorf("failed to encode batch line %s: %w", l.CustomID, err)
		}
	}
	return buf.Bytes(), nil
}

// decodeBatchOutput indexes successful result lines by custom_id. Lines that
// do not decode or carry a per-request error or non-200 status are skipped and
// reported in the returned slice; the coordinator treats them as missing.
func decodeBatchOutput(r io.Reader) (map[string]*types.RawResponse, []string, error) {
	results := make(map[string]*types.RawResponse)
	var skipped []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxBatchLine)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var out batchOutputLine
		if err := json.Unmarshal([]byte(line), &out); err != nil {
			skipped = append(skipped, fmt.Sprintf("line %d: undecodable: %v", n, err))
			continue
		}
		if out.Error != nil || out.Response == nil {
			msg := "no response"
			if out.Error != nil {
				msg = out.Error.Message
			}
			skipped = append(skipped, fmt.Sprintf("%s: %s", out.CustomID, msg))
			continue
		}
		if out.Response.StatusCode != 0 && out.Response.StatusCode != 200 {
			skipped = append(skipped, fmt.Sprintf("%s: status %d", out.CustomID, out.Response.StatusCode))
			continue
		}

		body := out.Response.Body
		if len(body.Choices) == 0 {
			skipped = append(skipped, fmt.Sprintf("%s: no choices", out.CustomID))
			continue
		}
		results[out.CustomID] = &types.RawResponse{
			Content: messageText(body.Choices[0].Message.Content),
			Usage: types.Usage{
				InputTokens:  body.Usage.PromptTokens,
				OutputTokens: body.Usage.CompletionTokens,
			},
			Model: body.Model,
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read batch output: %w", err)
	}
	return results, skipped, nil
}

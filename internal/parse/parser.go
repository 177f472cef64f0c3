// Package parse turns raw model output into structured JSON and records,
// recovering complete records from truncated responses.
package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/config"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

// RecoveredKey marks structured output rebuilt from a truncated response.
const RecoveredKey = "_recovered"

// Parser extracts records using the per-category record keys.
type Parser struct {
	Categories map[string]config.CategoryCfg
}

// NewParser creates a parser for the given categories.
func NewParser(categories map[string]config.CategoryCfg) *Parser {
	return &Parser{Categories: categories}
}

// Parse decodes raw model output for category. A response that fails strict
// decoding but yields complete records through truncated recovery is not an
// error. When nothing can be recovered the error is *types.MalformedResponseError
// with an unset Chunk; callers fill it in.
func (p *Parser) Parse(raw string, category types.Category) (map[string]any, []types.Record, error) {
	cat, ok := p.Categories[string(category)]
	if !ok {
		return nil, nil, &types.ConfigurationError{Field: "category", Msg: fmt.Sprintf("no configuration for category %q", category)}
	}

	content := strings.TrimSpace(raw)
	if content == "" {
		return nil, nil, &types.MalformedResponseError{Raw: raw, Err: errors.New("empty response")}
	}

	doc, decodeErr := decodeCandidates(content)
	if decodeErr == nil {
		structured, records, err := structure(doc, cat)
		var malformed *types.MalformedResponseError
		if errors.As(err, &malformed) {
			malformed.Raw = raw
		}
		return structured, records, err
	}

	body := content
	if stripped := stripCodeFences(content); stripped != "" {
		body = stripped
	}
	records := recoverRecords(body, cat.RecordKeys())
	if len(records) == 0 {
		return nil, nil, &types.MalformedResponseError{Raw: raw, Err: decodeErr}
	}

	key := cat.RecordsKey
	if key == "" {
		key = "records"
	}
	list := make([]any, len(records))
	for i, r := range records {
		list[i] = map[string]any(r)
	}
	return map[string]any{key: list, RecoveredKey: true}, records, nil
}

// structure locates the records in a decoded document.
func structure(doc any, cat config.CategoryCfg) (map[string]any, []types.Record, error) {
	switch v := doc.(type) {
	case map[string]any:
		for _, key := range cat.RecordKeys() {
			if records := toRecords(v[key]); len(records) > 0 {
				return v, records, nil
			}
		}
		return v, nil, nil
	case []any:
		key := cat.RecordsKey
		if key == "" {
			key = "records"
		}
		return map[string]any{key: v}, toRecords(v), nil
	default:
		return nil, nil, &types.MalformedResponseError{Err: fmt.Errorf("top-level JSON is %T, want object or array", doc)}
	}
}

// toRecords accepts a list of objects or a single object.
func toRecords(v any) []types.Record {
	switch t := v.(type) {
	case []any:
		out := make([]types.Record, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, types.Record(m))
			}
		}
		return out
	case map[string]any:
		if len(t) == 0 {
			return nil
		}
		return []types.Record{t}
	default:
		return nil
	}
}

// decodeCandidates tries the content as-is, fence-stripped and trimmed to the
// outermost JSON value.
func decodeCandidates(content string) (any, error) {
	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONCandidate(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	var firstErr error
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}

		var doc any
		err := json.Unmarshal([]byte(candidate), &doc)
		if err == nil {
			return doc, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("failed to parse JSON: %w", firstErr)
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop the opening fence (```json or ```).
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractJSONCandidate(content string) string {
	objectStart := strings.Index(content, "{")
	arrayStart := strings.Index(content, "[")

	start := -1
	closeChar := ""
	switch {
	case objectStart >= 0 && (arrayStart < 0 || objectStart < arrayStart):
		start, closeChar = objectStart, "}"
	case arrayStart >= 0:
		start, closeChar = arrayStart, "]"
	default:
		return ""
	}

	end := strings.LastIndex(content, closeChar)
	if end < start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}

// Package consolidate merges per-chunk records into one document result with
// original page numbers and duplicate records collapsed.
package consolidate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/config"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

// Consolidator applies one category's page and dedup rules.
type Consolidator struct {
	Category config.CategoryCfg
	Logger   *slog.Logger
}

// New creates a consolidator for category.
func New(category config.CategoryCfg, logger *slog.Logger) *Consolidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consolidator{Category: category, Logger: logger}
}

// Consolidate corrects page numbers, deduplicates and orders the records of
// every successful chunk. Failures are reported as warnings and their billed
// tokens are added to the totals; when there are no
// successful chunks the error is *types.AllChunksFailedError.
func (c *Consolidator) Consolidate(results []types.ChunkResult, failures []types.ChunkFailure) (*types.ExtractionResult, error) {
	failed := make([]types.ChunkFailure, len(failures))
	copy(failed, failures)
	sort.SliceStable(failed, func(i, j int) bool { return failed[i].Chunk.Index < failed[j].Chunk.Index })

	if len(results) == 0 {
		var lastErr error = errors.New("no chunk results")
		if len(failed) > 0 && failed[len(failed)-1].Err != nil {
			lastErr = failed[len(failed)-1].Err
		}
		return nil, &types.AllChunksFailedError{Chunks: len(failed), LastErr: lastErr}
	}

	ordered := make([]types.ChunkResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Chunk.Index < ordered[j].Chunk.Index })

	out := &types.ExtractionResult{
		Records:         make([]types.Record, 0),
		ChunksTotal:     len(results) + len(failures),
		ChunksSucceeded: len(results),
	}

	pageField := c.Category.PageFieldName()
	seen := make(map[string]int)
	merged := 0

	for _, res := range ordered {
		out.TotalInputTokens += res.InputTokens
		out.TotalOutputTokens += res.OutputTokens
		if out.Model == "" {
			out.Model = res.Model
		}

		for _, rec := range res.Records {
			r := c.correctPage(rec, res.Chunk)

			key, ok := c.dedupKey(r)
			if !ok {
				out.Records = append(out.Records, r)
				continue
			}
			if idx, dup := seen[key]; dup {
				mergeInto(out.Records[idx], r, pageField)
				merged++
				continue
			}
			seen[key] = len(out.Records)
			out.Records = append(out.Records, r)
		}
	}

	sort.SliceStable(out.Records, func(i, j int) bool {
		pi, _ := pageNumber(out.Records[i][pageField])
		pj, _ := pageNumber(out.Records[j][pageField])
		return pi < pj
	})

	for _, f := range failed {
		out.TotalInputTokens += f.InputTokens
		out.TotalOutputTokens += f.OutputTokens
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s failed: %v", f.Chunk, f.Err))
	}

	c.Logger.Debug("consolidated records",
		"chunks", out.ChunksTotal,
		"succeeded", out.ChunksSucceeded,
		"records", len(out.Records),
		"merged", merged)

	return out, nil
}

// correctPage returns a copy of rec with the page field rewritten to original
// document coordinates. Aliases are folded into the page field.
func (c *Consolidator) correctPage(rec types.Record, chunk types.Chunk) types.Record {
	r := rec.Clone()
	pageField := c.Category.PageFieldName()

	fields := append([]string{pageField}, c.Category.PageFieldAliases...)
	local, found := 0, false
	for _, f := range fields {
		v, ok := r[f]
		if !ok {
			continue
		}
		if n, ok := pageNumber(v); ok {
			local, found = n, true
			break
		}
	}
	for _, f := range c.Category.PageFieldAliases {
		if f != pageField {
			delete(r, f)
		}
	}

	count := chunk.PageCount
	if count <= 0 {
		count = chunk.EndPage - chunk.StartPage + 1
	}
	switch {
	case !found || local < 1:
		local = 1
	case local > count:
		local = count
	}
	r[pageField] = chunk.StartPage + local - 1
	return r
}

// dedupKey builds the normalized composite key. ok is false when every
// component is empty; such records are never merged.
func (c *Consolidator) dedupKey(r types.Record) (string, bool) {
	if len(c.Category.DedupKeys) == 0 {
		return "", false
	}
	parts := make([]string, len(c.Category.DedupKeys))
	nonEmpty := false
	for i, k := range c.Category.DedupKeys {
		parts[i] = normalize(r[k])
		if parts[i] != "" {
			nonEmpty = true
		}
	}
	return strings.Join(parts, "\x1f"), nonEmpty
}

// mergeInto fills empty fields of dst from src and keeps the earliest page.
func mergeInto(dst, src types.Record, pageField string) {
	for k, v := range src {
		if k == pageField {
			continue
		}
		if isEmpty(dst[k]) && !isEmpty(v) {
			dst[k] = v
		}
	}
	dp, dok := pageNumber(dst[pageField])
	sp, sok := pageNumber(src[pageField])
	if sok && (!dok || sp < dp) {
		dst[pageField] = sp
	}
}

func normalize(v any) string {
	if v == nil {
		return ""
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		s = fmt.Sprint(t)
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

// pageNumber parses an int, float or numeric string page value.
func pageNumber(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		if f, err := t.Float64(); err == nil {
			return int(f), true
		}
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return int(f), true
		}
	}
	return 0, false
}

// Package validate summarizes the quality of extracted records against a
// per-category JSON Schema of required fields.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/config"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

// Pass thresholds.
const (
	MinValidPercent   = 80.0
	MinAvgConfidence  = 70.0
	DefaultConfidence = 100.0
	maxErrors         = 10
)

var confidenceFields = []string{"Confidence_Score", "confidence_score", "Confidence Score"}

// Summary is the validation result for one document.
type Summary struct {
	TotalRecords      int      `json:"total_records" yaml:"total_records"`
	ValidRecords      int      `json:"valid_records" yaml:"valid_records"`
	InvalidRecords    int      `json:"invalid_records" yaml:"invalid_records"`
	Errors            []string `json:"errors,omitempty" yaml:"errors,omitempty"`
	AverageConfidence float64  `json:"average_confidence" yaml:"average_confidence"`
	Passed            bool     `json:"passed" yaml:"passed"`
}

// Validator holds one compiled schema per category.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles the required-field schema of every category.
func NewValidator(categories map[string]config.CategoryCfg) (*Validator, error) {
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(categories))}
	for name, cat := range categories {
		schema, err := compile(name, cat.RequiredFields)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", name, err)
		}
		v.schemas[name] = schema
	}
	return v, nil
}

// compile builds an object schema requiring each field to be a non-blank
// string or a number. Field names are matched after normalization.
func compile(name string, required []string) (*jsonschema.Schema, error) {
	value := map[string]any{
		"anyOf": []any{
			map[string]any{"type": "string", "pattern": `\S`},
			map[string]any{"type": "number"},
		},
	}
	props := make(map[string]any, len(required))
	req := make([]string, 0, len(required))
	for _, f := range required {
		key := normalizeKey(f)
		props[key] = value
		req = append(req, key)
	}
	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"required":   req,
		"properties": props,
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	url := name + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Summarize validates records for category. An empty record set never passes.
func (v *Validator) Summarize(records []types.Record, category types.Category) (*Summary, error) {
	schema, ok := v.schemas[string(category)]
	if !ok {
		return nil, &types.ConfigurationError{Field: "category", Msg: fmt.Sprintf("no validation schema for %q", category)}
	}

	s := &Summary{TotalRecords: len(records)}
	if len(records) == 0 {
		s.Errors = []string{"no records extracted"}
		return s, nil
	}

	var total float64
	for i, rec := range records {
		if err := schema.Validate(normalizeRecord(rec)); err != nil {
			s.InvalidRecords++
			for _, msg := range leafMessages(err) {
				s.addError(fmt.Sprintf("record %d: %s", i, msg))
			}
		} else {
			s.ValidRecords++
		}

		conf := confidence(rec)
		if conf < MinAvgConfidence {
			s.addError(fmt.Sprintf("record %d: low confidence %g%%", i, conf))
		}
		total += conf
	}

	s.AverageConfidence = total / float64(len(records))
	validPercent := float64(s.ValidRecords) / float64(len(records)) * 100
	s.Passed = validPercent >= MinValidPercent && s.AverageConfidence >= MinAvgConfidence
	return s, nil
}

func (s *Summary) addError(msg string) {
	if len(s.Errors) < maxErrors {
		s.Errors = append(s.Errors, msg)
	}
}

// normalizeRecord lowercases keys and maps spaces to underscores so that
// "Patient_acct" and "Patient Acct" both satisfy "patient_acct". The first
// non-empty value wins when keys collide.
func normalizeRecord(rec types.Record) map[string]any {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(rec))
	for _, k := range keys {
		nk := normalizeKey(k)
		if existing, ok := out[nk]; ok && !blank(existing) {
			continue
		}
		out[nk] = jsonValue(rec[k])
	}
	return out
}

// jsonValue converts Go numeric types the schema validator does not accept.
func jsonValue(v any) any {
	switch t := v.(type) {
	case int:
		return json.Number(strconv.Itoa(t))
	case int64:
		return json.Number(strconv.FormatInt(t, 10))
	case float32:
		return float64(t)
	}
	return v
}

func normalizeKey(k string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), " ", "_")
}

func blank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

// confidence reads the record's confidence score, accepting numbers and
// strings such as "85%". Records without a score count as fully confident.
func confidence(rec types.Record) float64 {
	for _, field := range confidenceFields {
		switch t := rec[field].(type) {
		case float64:
			return t
		case int:
			return float64(t)
		case json.Number:
			if f, err := t.Float64(); err == nil {
				return f
			}
		case string:
			s := strings.TrimSuffix(strings.TrimSpace(t), "%")
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f
			}
		}
	}
	return DefaultConfidence
}

// leafMessages flattens a validation error into its most specific causes.
func leafMessages(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}

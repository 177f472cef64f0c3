// Package output writes extraction results to JSON, CSV and XLSX files.
package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/validate"
)

// Supported formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Document is everything written for one processed file.
type Document struct {
	RunID      string
	Source     string // input PDF path
	Category   types.Category
	Columns    []string // preferred column order
	Result     *types.ExtractionResult
	Cost       types.CostBreakdown
	Validation *validate.Summary
}

// Writer writes result files into Dir.
type Writer struct {
	Dir     string
	Formats []string
	Logger  *slog.Logger
	Now     func() time.Time
}

// NewWriter creates a writer for the given formats.
func NewWriter(dir string, formats []string, logger *slog.Logger) (*Writer, error) {
	for _, f := range formats {
		switch strings.ToLower(f) {
		case FormatJSON, FormatCSV, FormatXLSX:
		default:
			return nil, &types.ConfigurationError{Field: "output.formats", Msg: fmt.Sprintf("unsupported format %q", f)}
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{Dir: dir, Formats: formats, Logger: logger, Now: time.Now}, nil
}

// Write renders doc in every configured format and returns the written paths.
func (w *Writer) Write(doc Document) ([]string, error) {
	if doc.Result == nil {
		return nil, fmt.Errorf("no result to write")
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	base := strings.TrimSuffix(filepath.Base(doc.Source), filepath.Ext(doc.Source))
	if base == "" || base == "." {
		base = "document"
	}
	stem := filepath.Join(w.Dir, fmt.Sprintf("%s_%s", base, now().Format("20060102_150405")))
	columns := Columns(doc.Result.Records, doc.Columns)

	var paths []string
	for _, format := range w.Formats {
		format = strings.ToLower(format)
		var (
			data []byte
			err  error
		)
		switch format {
		case FormatJSON:
			data, err = encodeJSON(doc)
		case FormatCSV:
			data, err = encodeCSV(doc.Result.Records, columns)
		case FormatXLSX:
			data, err = encodeXLSX(doc, columns)
		default:
			err = fmt.Errorf("unsupported format %q", format)
		}
		if err != nil {
			return paths, fmt.Errorf("encode %s: %w", format, err)
		}

		path := stem + "." + format
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
		w.Logger.Info("wrote results", "format", format, "path", path, "records", len(doc.Result.Records))
	}
	return paths, nil
}

// Columns returns order followed by every other field present in records,
// sorted by name.
func Columns(records []types.Record, order []string) []string {
	cols := make([]string, 0, len(order))
	seen := make(map[string]bool, len(order))
	for _, c := range order {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}

	var extra []string
	for _, r := range records {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(cols, extra...)
}

type jsonDocument struct {
	RunID           string              `json:"run_id,omitempty"`
	Source          string              `json:"source"`
	Category        types.Category      `json:"category"`
	Strategy        string              `json:"strategy"`
	Model           string              `json:"model"`
	ChunksTotal     int                 `json:"chunks_total"`
	ChunksSucceeded int                 `json:"chunks_succeeded"`
	Records         []types.Record      `json:"records"`
	Cost            types.CostBreakdown `json:"cost"`
	Validation      *validate.Summary   `json:"validation,omitempty"`
	Warnings        []string            `json:"warnings,omitempty"`
}

func encodeJSON(doc Document) ([]byte, error) {
	records := doc.Result.Records
	if records == nil {
		records = []types.Record{}
	}
	return json.MarshalIndent(jsonDocument{
		RunID:           doc.RunID,
		Source:          filepath.Base(doc.Source),
		Category:        doc.Category,
		Strategy:        doc.Result.Strategy,
		Model:           doc.Result.Model,
		ChunksTotal:     doc.Result.ChunksTotal,
		ChunksSucceeded: doc.Result.ChunksSucceeded,
		Records:         records,
		Cost:            doc.Cost,
		Validation:      doc.Validation,
		Warnings:        doc.Result.Warnings,
	}, "", "  ")
}

func encodeCSV(records []types.Record, columns []string) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(columns); err != nil {
		return nil, err
	}
	row := make([]string, len(columns))
	for _, r := range records {
		for i, c := range columns {
			row[i] = cellString(r[c])
		}
		if err := cw.Write(row); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	return buf.Bytes(), cw.Error()
}

// cellString renders a record value for tabular output.
func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

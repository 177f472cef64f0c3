package output

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	recordsSheet = "Records"
	costSheet    = "Cost"
)

func encodeXLSX(doc Document, columns []string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", recordsSheet); err != nil {
		return nil, err
	}
	for i, h := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(recordsSheet, cell, h); err != nil {
			return nil, err
		}
	}
	for r, rec := range doc.Result.Records {
		for c, col := range columns {
			v, ok := rec[col]
			if !ok || v == nil {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(recordsSheet, cell, xlsxValue(v)); err != nil {
				return nil, err
			}
		}
	}
	if len(columns) > 0 {
		last, _ := excelize.ColumnNumberToName(len(columns))
		_ = f.SetColWidth(recordsSheet, "A", last, 16)
		_ = f.SetPanes(recordsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	}

	if _, err := f.NewSheet(costSheet); err != nil {
		return nil, err
	}
	rows := summaryRows(doc)
	for i, row := range rows {
		if err := f.SetSheetRow(costSheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(costSheet, "A", "A", 24)
	_ = f.SetColWidth(costSheet, "B", "B", 60)

	idx, _ := f.GetSheetIndex(recordsSheet)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// xlsxValue keeps numbers numeric and flattens nested values to text.
func xlsxValue(v any) any {
	switch v.(type) {
	case string, float64, int, int64, bool:
		return v
	default:
		return cellString(v)
	}
}

func summaryRows(doc Document) [][]any {
	c := doc.Cost
	res := doc.Result
	rows := [][]any{
		{"Metric", "Value"},
		{"Run ID", doc.RunID},
		{"Category", string(doc.Category)},
		{"Strategy", res.Strategy},
		{"Model", c.Model},
		{"Pages", c.Pages},
		{"Chunks", fmt.Sprintf("%d/%d", res.ChunksSucceeded, res.ChunksTotal)},
		{"Input tokens", c.InputTokens},
		{"Output tokens", c.OutputTokens},
		{"OCR cost", c.OCRCost},
		{"Extraction cost", c.ExtractionCost},
		{"Total cost", c.TotalCost},
		{"Elapsed seconds", c.ElapsedSeconds},
	}
	if v := doc.Validation; v != nil {
		rows = append(rows,
			[]any{"Valid records", fmt.Sprintf("%d/%d", v.ValidRecords, v.TotalRecords)},
			[]any{"Average confidence", v.AverageConfidence},
			[]any{"Validation passed", v.Passed},
		)
	}
	for _, w := range res.Warnings {
		rows = append(rows, []any{"Warning", w})
	}
	return rows
}

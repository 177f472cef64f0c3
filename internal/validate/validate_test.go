package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/config"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(config.DefaultCategories())
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}
	return v
}

func TestValidator_Summarize(t *testing.T) {
	v := newValidator(t)

	t.Run("all valid", func(t *testing.T) {
		records := []types.Record{
			{"Patient_acct": "A1", "service_date": "01/02/2024", "Confidence_Score": 95},
			{"Patient Acct": "A2", "Service_Date": "01/03/2024", "Confidence_Score": "85%"},
		}
		s, err := v.Summarize(records, types.CategoryEOB)
		if err != nil {
			t.Fatalf("Summarize() error = %v", err)
		}
		if s.TotalRecords != 2 || s.ValidRecords != 2 || s.InvalidRecords != 0 {
			t.Errorf("summary = %+v", s)
		}
		if s.AverageConfidence != 90 || !s.Passed {
			t.Errorf("summary = %+v", s)
		}
		if len(s.Errors) != 0 {
			t.Errorf("errors = %v", s.Errors)
		}
	})

	t.Run("missing and blank fields", func(t *testing.T) {
		records := []types.Record{
			{"Patient_acct": "A1", "service_date": "01/02/2024"},
			{"Patient_acct": "  ", "service_date": "01/02/2024"},
			{"service_date": 20240102},
		}
		s, err := v.Summarize(records, types.CategoryEOB)
		if err != nil {
			t.Fatalf("Summarize() error = %v", err)
		}
		if s.ValidRecords != 1 || s.InvalidRecords != 2 {
			t.Errorf("summary = %+v", s)
		}
		if s.Passed {
			t.Error("33% valid should not pass")
		}
		if s.AverageConfidence != DefaultConfidence {
			t.Errorf("AverageConfidence = %v", s.AverageConfidence)
		}
		joined := strings.Join(s.Errors, "\n")
		if !strings.Contains(joined, "record 1:") || !strings.Contains(joined, "record 2:") {
			t.Errorf("errors = %v", s.Errors)
		}
	})

	t.Run("low confidence fails", func(t *testing.T) {
		records := []types.Record{
			{"patient_name": "Jane", "date_of_birth": "1980-01-01", "medical_record_number": "M1", "Confidence_Score": 50.0},
			{"patient_name": "John", "date_of_birth": "1981-01-01", "medical_record_number": "M2", "confidence_score": "60"},
		}
		s, err := v.Summarize(records, types.CategoryFacesheet)
		if err != nil {
			t.Fatalf("Summarize() error = %v", err)
		}
		if s.ValidRecords != 2 || s.AverageConfidence != 55 || s.Passed {
			t.Errorf("summary = %+v", s)
		}
		if len(s.Errors) != 2 || !strings.Contains(s.Errors[0], "low confidence 50%") {
			t.Errorf("errors = %v", s.Errors)
		}
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		records := make([]types.Record, 0, 5)
		for i := 0; i < 4; i++ {
			records = append(records, types.Record{
				"invoice_number": "INV-1", "invoice_date": "2024-01-01", "vendor_name": "Acme", "total_amount": 10.5,
				"Confidence_Score": 70,
			})
		}
		records = append(records, types.Record{"invoice_number": "INV-1", "Confidence_Score": 70})

		s, err := v.Summarize(records, types.CategoryInvoice)
		if err != nil {
			t.Fatalf("Summarize() error = %v", err)
		}
		if s.ValidRecords != 4 || !s.Passed {
			t.Errorf("summary = %+v", s)
		}
	})

	t.Run("errors are capped", func(t *testing.T) {
		records := make([]types.Record, 20)
		for i := range records {
			records[i] = types.Record{}
		}
		s, err := v.Summarize(records, types.CategoryEOB)
		if err != nil {
			t.Fatalf("Summarize() error = %v", err)
		}
		if len(s.Errors) != 10 || s.InvalidRecords != 20 {
			t.Errorf("errors = %d, invalid = %d", len(s.Errors), s.InvalidRecords)
		}
	})

	t.Run("empty never passes", func(t *testing.T) {
		s, err := v.Summarize(nil, types.CategoryEOB)
		if err != nil {
			t.Fatalf("Summarize() error = %v", err)
		}
		if s.Passed || s.TotalRecords != 0 || s.AverageConfidence != 0 {
			t.Errorf("summary = %+v", s)
		}
	})

	t.Run("unknown category", func(t *testing.T) {
		_, err := v.Summarize([]types.Record{{}}, types.Category("receipt"))
		var cfgErr *types.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Errorf("error = %v, want ConfigurationError", err)
		}
	})
}

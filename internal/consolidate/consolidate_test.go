package consolidate

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/config"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/testutil"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

func eob(t *testing.T) *Consolidator {
	return New(config.DefaultCategories()["eob"], testutil.Logger(t))
}

func chunk(index, start, end int) types.Chunk {
	return types.Chunk{Index: index, StartPage: start, EndPage: end, PageCount: end - start + 1}
}

func TestConsolidate_PageCorrection(t *testing.T) {
	c := eob(t)
	ch := chunk(1, 31, 60)

	tests := []struct {
		name string
		rec  types.Record
		want int
	}{
		{"int page", types.Record{"Page_no": 3}, 33},
		{"float page", types.Record{"Page_no": float64(3)}, 33},
		{"string page", types.Record{"Page_no": " 3 "}, 33},
		{"alias", types.Record{"page_number": "5"}, 35},
		{"original page alias", types.Record{"Original_page_no": 2.0}, 32},
		{"missing", types.Record{"Patient_acct": "A"}, 31},
		{"unparseable", types.Record{"Page_no": "n/a"}, 31},
		{"zero clamps to start", types.Record{"Page_no": 0}, 31},
		{"beyond chunk clamps to end", types.Record{"Page_no": 45}, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.correctPage(tt.rec, ch)
			if got["Page_no"] != tt.want {
				t.Errorf("Page_no = %v, want %d", got["Page_no"], tt.want)
			}
			for _, alias := range c.Category.PageFieldAliases {
				if _, ok := got[alias]; ok {
					t.Errorf("alias %q not removed", alias)
				}
			}
		})
	}

	t.Run("input record untouched", func(t *testing.T) {
		rec := types.Record{"Page_no": 3}
		c.correctPage(rec, ch)
		if rec["Page_no"] != 3 {
			t.Errorf("input mutated: %v", rec)
		}
	})
}

func TestConsolidate_Dedup(t *testing.T) {
	c := eob(t)

	results := []types.ChunkResult{
		{
			Chunk: chunk(0, 1, 15),
			Records: []types.Record{
				{"Page_no": 2, "Patient_acct": "ACCT-1", "service_date": "01/02/2024", "paid_amount": 10.5, "check_number": ""},
				{"Page_no": 4, "Patient_acct": "ACCT-2", "service_date": "01/03/2024", "paid_amount": 20.0},
			},
			InputTokens: 100, OutputTokens: 10, Model: "pixtral",
		},
		{
			Chunk: chunk(1, 16, 30),
			Records: []types.Record{
				{"Page_no": 1, "Patient_acct": " acct-1 ", "service_date": "01/02/2024", "paid_amount": 10.5, "check_number": "CHK9"},
				{"Page_no": 3},
				{"Page_no": 5},
			},
			InputTokens: 200, OutputTokens: 20, Model: "pixtral",
		},
	}

	res, err := c.Consolidate(results, nil)
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}

	if len(res.Records) != 4 {
		t.Fatalf("got %d records, want 4: %v", len(res.Records), res.Records)
	}
	first := res.Records[0]
	if first["Patient_acct"] != "ACCT-1" || first["Page_no"] != 2 {
		t.Errorf("first record = %v", first)
	}
	if first["check_number"] != "CHK9" {
		t.Errorf("empty field not filled from duplicate: %v", first)
	}
	if res.TotalInputTokens != 300 || res.TotalOutputTokens != 30 {
		t.Errorf("tokens = %d/%d", res.TotalInputTokens, res.TotalOutputTokens)
	}
	if res.ChunksTotal != 2 || res.ChunksSucceeded != 2 || res.Model != "pixtral" {
		t.Errorf("result = %+v", res)
	}

	var pages []int
	for _, r := range res.Records {
		pages = append(pages, r["Page_no"].(int))
	}
	if !sort.IntsAreSorted(pages) {
		t.Errorf("pages not ascending: %v", pages)
	}
	if !reflect.DeepEqual(pages, []int{2, 4, 18, 20}) {
		t.Errorf("pages = %v", pages)
	}
}

func TestConsolidate_OrderIndependent(t *testing.T) {
	c := eob(t)
	a := types.ChunkResult{Chunk: chunk(0, 1, 5), Records: []types.Record{
		{"Page_no": 1, "Patient_acct": "X", "service_date": "d", "paid_amount": 1.0},
	}}
	b := types.ChunkResult{Chunk: chunk(1, 6, 10), Records: []types.Record{
		{"Page_no": 2, "Patient_acct": "X", "service_date": "d", "paid_amount": 1.0},
		{"Page_no": 3, "Patient_acct": "Y", "service_date": "d", "paid_amount": 2.0},
	}}

	forward, err := c.Consolidate([]types.ChunkResult{a, b}, nil)
	if err != nil {
		t.Fatal(err)
	}
	backward, err := c.Consolidate([]types.ChunkResult{b, a}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(forward.Records, backward.Records) {
		t.Errorf("results differ:\n%v\n%v", forward.Records, backward.Records)
	}
	if len(forward.Records) != 2 {
		t.Errorf("got %d records, want 2", len(forward.Records))
	}
}

func TestConsolidate_Idempotent(t *testing.T) {
	c := eob(t)
	single := []types.ChunkResult{{
		Chunk: chunk(0, 1, 10),
		Records: []types.Record{
			{"Page_no": 3, "Patient_acct": "A", "service_date": "d", "paid_amount": 1.0},
			{"Page_no": 7, "Patient_acct": "B", "service_date": "d", "paid_amount": 2.0},
		},
	}}

	once, err := c.Consolidate(single, nil)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := c.Consolidate([]types.ChunkResult{{Chunk: chunk(0, 1, 10), Records: once.Records}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(once.Records, twice.Records) {
		t.Errorf("not idempotent:\n%v\n%v", once.Records, twice.Records)
	}
}

func TestConsolidate_Failures(t *testing.T) {
	c := eob(t)

	t.Run("partial failure warns", func(t *testing.T) {
		results := []types.ChunkResult{{Chunk: chunk(0, 1, 15), Records: []types.Record{{"Page_no": 1}}}}
		failures := []types.ChunkFailure{{Chunk: chunk(1, 16, 30), Err: errors.New("timeout")}}

		res, err := c.Consolidate(results, failures)
		if err != nil {
			t.Fatalf("Consolidate() error = %v", err)
		}
		if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "chunk 1 (pages 16-30) failed: timeout") {
			t.Errorf("warnings = %v", res.Warnings)
		}
		if res.ChunksTotal != 2 || res.ChunksSucceeded != 1 {
			t.Errorf("chunks = %d/%d", res.ChunksSucceeded, res.ChunksTotal)
		}
	})

	t.Run("billed failures count toward totals", func(t *testing.T) {
		results := []types.ChunkResult{{Chunk: chunk(0, 1, 15), Records: []types.Record{{"Page_no": 1}}, InputTokens: 100, OutputTokens: 50}}
		failures := []types.ChunkFailure{
			{Chunk: chunk(1, 16, 30), Err: errors.New("parse response: no JSON found"), InputTokens: 120, OutputTokens: 40},
			{Chunk: chunk(2, 31, 45), Err: errors.New("timeout")},
		}

		res, err := c.Consolidate(results, failures)
		if err != nil {
			t.Fatalf("Consolidate() error = %v", err)
		}
		if res.TotalInputTokens != 220 || res.TotalOutputTokens != 90 {
			t.Errorf("tokens = %d/%d, want 220/90", res.TotalInputTokens, res.TotalOutputTokens)
		}
		if len(res.Warnings) != 2 {
			t.Errorf("warnings = %v", res.Warnings)
		}
	})

	t.Run("all failed", func(t *testing.T) {
		cause := errors.New("bad gateway")
		_, err := c.Consolidate(nil, []types.ChunkFailure{
			{Chunk: chunk(0, 1, 15), Err: errors.New("first")},
			{Chunk: chunk(1, 16, 30), Err: cause},
		})
		var all *types.AllChunksFailedError
		if !errors.As(err, &all) {
			t.Fatalf("error = %v, want AllChunksFailedError", err)
		}
		if all.Chunks != 2 || !errors.Is(err, cause) {
			t.Errorf("error = %+v", all)
		}
	})

	t.Run("successful chunk with no records", func(t *testing.T) {
		res, err := c.Consolidate([]types.ChunkResult{{Chunk: chunk(0, 1, 2)}}, nil)
		if err != nil {
			t.Fatalf("Consolidate() error = %v", err)
		}
		if res.Records == nil || len(res.Records) != 0 {
			t.Errorf("records = %v", res.Records)
		}
	})
}

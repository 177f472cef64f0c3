package pagesource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/chunk"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/testutil"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

func TestPDFSource_PageCount(t *testing.T) {
	src := NewPDFSource(testutil.Logger(t))
	dir := t.TempDir()
	ctx := context.Background()

	t.Run("counts pages", func(t *testing.T) {
		path := testutil.WritePDF(t, dir, "doc.pdf", 7)
		n, err := src.PageCount(ctx, path)
		if err != nil {
			t.Fatalf("PageCount() error = %v", err)
		}
		if n != 7 {
			t.Errorf("PageCount() = %d, want 7", n)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := src.PageCount(ctx, filepath.Join(dir, "nope.pdf")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("not a pdf", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.pdf")
		os.WriteFile(path, []byte("this is not a pdf"), 0o644)
		if _, err := src.PageCount(ctx, path); err == nil {
			t.Error("expected error for corrupt file")
		}
	})

	t.Run("wrong extension", func(t *testing.T) {
		path := filepath.Join(dir, "doc.txt")
		os.WriteFile(path, testutil.PDF(1), 0o644)
		if _, err := src.PageCount(ctx, path); err == nil {
			t.Error("expected error for non-pdf extension")
		}
	})
}

func TestPDFSource_Materialize(t *testing.T) {
	src := NewPDFSource(testutil.Logger(t))
	dir := t.TempDir()
	scratch := filepath.Join(dir, "scratch", "run-1")
	ctx := context.Background()

	path := testutil.WritePDF(t, dir, "claims.pdf", 12)
	chunks, err := chunk.Plan(12, 5)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	total := 0
	for _, c := range chunks {
		out, err := src.Materialize(ctx, path, scratch, c, 12)
		if err != nil {
			t.Fatalf("Materialize(%s) error = %v", c, err)
		}
		if filepath.Dir(out) != scratch {
			t.Errorf("chunk written to %s, want under %s", out, scratch)
		}
		n, err := src.PageCount(ctx, out)
		if err != nil {
			t.Fatalf("PageCount(%s) error = %v", out, err)
		}
		if n != c.PageCount {
			t.Errorf("%s has %d pages, want %d", c, n, c.PageCount)
		}
		total += n

		b, err := src.ReadChunk(out)
		if err != nil || len(b) == 0 {
			t.Errorf("ReadChunk() = %d bytes, %v", len(b), err)
		}
	}
	if total != 12 {
		t.Errorf("materialized %d pages, want 12", total)
	}

	if err := src.Cleanup(ctx, scratch); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Errorf("scratch dir still exists: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("original file removed: %v", err)
	}
}

func TestPDFSource_MaterializeWholeDocument(t *testing.T) {
	src := NewPDFSource(testutil.Logger(t))
	dir := t.TempDir()
	path := testutil.WritePDF(t, dir, "short.pdf", 3)

	out, err := src.Materialize(context.Background(), path, filepath.Join(dir, "scratch"), types.Chunk{StartPage: 1, EndPage: 3, PageCount: 3}, 3)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if out != path {
		t.Errorf("Materialize() = %s, want original %s", out, path)
	}
	if _, err := os.Stat(filepath.Join(dir, "scratch")); !os.IsNotExist(err) {
		t.Error("scratch dir created for single-chunk document")
	}
}

func TestPDFSource_Remove(t *testing.T) {
	src := NewPDFSource(testutil.Logger(t))
	src.delay = 0
	dir := t.TempDir()
	ctx := context.Background()

	path := filepath.Join(dir, "part.pdf")
	os.WriteFile(path, []byte("x"), 0o644)

	if err := src.Remove(ctx, path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file not removed")
	}
	if err := src.Remove(ctx, path); err != nil {
		t.Errorf("Remove() on missing file = %v, want nil", err)
	}
	if err := src.Cleanup(ctx, filepath.Join(dir, "missing-dir")); err != nil {
		t.Errorf("Cleanup() on missing dir = %v, want nil", err)
	}
}

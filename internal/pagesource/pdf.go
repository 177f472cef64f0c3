// Package pagesource reads page counts from PDFs and materializes page ranges
// into scratch files for upload.
package pagesource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

// Source is the page-level view of a document used by the pipeline.
type Source interface {
	PageCount(ctx context.Context, handle string) (int, error)
	Materialize(ctx context.Context, handle, dir string, chunk types.Chunk, totalPages int) (string, error)
	ReadChunk(path string) ([]byte, error)
	Remove(ctx context.Context, path string) error
	Cleanup(ctx context.Context, dir string) error
}

// Cleanup retry settings. Windows and some network filesystems briefly hold
// locks after a file is closed.
const (
	cleanupAttempts = 3
	cleanupDelay    = 500 * time.Millisecond
)

// PDFSource implements Source over local PDF files using pdfcpu.
type PDFSource struct {
	conf   *model.Configuration
	delay  time.Duration
	logger *slog.Logger
}

// NewPDFSource creates a PDF source with relaxed validation.
func NewPDFSource(logger *slog.Logger) *PDFSource {
	if logger == nil {
		logger = slog.Default()
	}
	// Keep pdfcpu from creating a config directory under $HOME.
	api.DisableConfigDir()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFSource{conf: conf, delay: cleanupDelay, logger: logger}
}

// PageCount validates the PDF and returns its number of pages.
func (s *PDFSource) PageCount(ctx context.Context, handle string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !strings.EqualFold(filepath.Ext(handle), ".pdf") {
		return 0, fmt.Errorf("unsupported file type %q: only PDF is supported", filepath.Ext(handle))
	}
	if _, err := os.Stat(handle); err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", handle, err)
	}
	if err := api.ValidateFile(handle, s.conf); err != nil {
		return 0, fmt.Errorf("invalid PDF %s: %w", filepath.Base(handle), err)
	}

	f, err := os.Open(handle)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", handle, err)
	}
	defer f.Close()

	n, err := api.PageCount(f, s.conf)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count for %s: %w", filepath.Base(handle), err)
	}
	if n == 0 {
		return 0, fmt.Errorf("PDF %s has no pages", filepath.Base(handle))
	}
	return n, nil
}

// Materialize writes the chunk's pages to a new PDF under dir and returns its
// path. A chunk covering the whole document returns handle unchanged.
func (s *PDFSource) Materialize(ctx context.Context, handle, dir string, chunk types.Chunk, totalPages int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if chunk.StartPage == 1 && chunk.EndPage >= totalPages {
		return handle, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(handle), filepath.Ext(handle))
	out := filepath.Join(dir, fmt.Sprintf("%s_part%d_pages%d-%d.pdf", base, chunk.Index+1, chunk.StartPage, chunk.EndPage))

	if err := api.TrimFile(handle, out, []string{chunk.PageRange()}, s.conf); err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", chunk, err)
	}
	s.logger.Debug("materialized chunk", "chunk", chunk.Index, "pages", chunk.PageRange(), "path", out)
	return out, nil
}

// ReadChunk returns the bytes of a materialized chunk.
func (s *PDFSource) ReadChunk(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %s: %w", filepath.Base(path), err)
	}
	return b, nil
}

// Remove deletes a scratch file. A missing file counts as removed.
func (s *PDFSource) Remove(ctx context.Context, path string) error {
	return s.retryRemove(ctx, path, os.Remove)
}

// Cleanup deletes a scratch directory and everything in it.
func (s *PDFSource) Cleanup(ctx context.Context, dir string) error {
	return s.retryRemove(ctx, dir, os.RemoveAll)
}

func (s *PDFSource) retryRemove(ctx context.Context, path string, remove func(string) error) error {
	return retry.Do(
		func() error {
			err := remove(path)
			if err == nil || errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(cleanupAttempts),
		retry.Delay(s.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("scratch cleanup failed, retrying", "path", path, "attempt", n+1, "error", err)
		}),
	)
}

var _ Source = (*PDFSource)(nil)

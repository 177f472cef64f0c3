// Package chunk splits a document's page range into provider-bounded chunks.
package chunk

import (
	"fmt"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

// Plan partitions pages [1, totalPages] into contiguous chunks of at most
// maxPagesPerChunk pages each. Chunks are returned in ascending page order
// with indexes 0..n-1.
func Plan(totalPages, maxPagesPerChunk int) ([]types.Chunk, error) {
	if maxPagesPerChunk <= 0 {
		return nil, &types.ConfigurationError{
			Field: "max_pages_per_chunk",
			Msg:   fmt.Sprintf("must be positive, got %d", maxPagesPerChunk),
		}
	}
	if totalPages <= 0 {
		return nil, &types.ConfigurationError{
			Field: "total_pages",
			Msg:   fmt.Sprintf("document has no pages (%d)", totalPages),
		}
	}

	n := Count(totalPages, maxPagesPerChunk)
	chunks := make([]types.Chunk, 0, n)
	for i := 0; i < n; i++ {
		start := i*maxPagesPerChunk + 1
		end := min(start+maxPagesPerChunk-1, totalPages)
		chunks = append(chunks, types.Chunk{
			Index:     i,
			StartPage: start,
			EndPage:   end,
			PageCount: end - start + 1,
		})
	}
	return chunks, nil
}

// Count returns ceil(totalPages / maxPagesPerChunk).
func Count(totalPages, maxPagesPerChunk int) int {
	if maxPagesPerChunk <= 0 || totalPages <= 0 {
		return 0
	}
	return (totalPages + maxPagesPerChunk - 1) / maxPagesPerChunk
}

package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

const MockProviderName = "mock"

// MockProvider is a CombinedProvider, OCRProvider and TextExtractor for testing.
type MockProvider struct {
	// Configurable behavior
	ProviderName string
	Latency      time.Duration
	ShouldFail   bool
	FailChunks   map[int]bool // chunk indexes that always fail
	Unavailable  bool
	Model        string
	InputTokens  int
	OutputTokens int

	// Respond returns the raw model output for a unit. The default returns
	// one claims record on local page 1.
	Respond func(unit *types.ExtractionUnit) string

	// State
	extractCalls atomic.Int64
	ocrCalls     atomic.Int64
	textCalls    atomic.Int64
}

// NewMockProvider creates a new mock provider with sensible defaults.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		ProviderName: MockProviderName,
		Model:        "mock-model",
		InputTokens:  100,
		OutputTokens: 50,
	}
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return MockProviderName
	}
	return m.ProviderName
}

// IsAvailable returns false when Unavailable is set.
func (m *MockProvider) IsAvailable() bool {
	return !m.Unavailable
}

// ExtractDocument returns a canned response for the unit.
func (m *MockProvider) ExtractDocument(ctx context.Context, unit *types.ExtractionUnit) (*types.RawResponse, error) {
	m.extractCalls.Add(1)
	return m.respond(ctx, unit)
}

// ExtractText returns a canned response for the unit.
func (m *MockProvider) ExtractText(ctx context.Context, unit *types.ExtractionUnit) (*types.RawResponse, error) {
	m.textCalls.Add(1)
	return m.respond(ctx, unit)
}

// OCRDocument returns page-marked placeholder text for the chunk.
func (m *MockProvider) OCRDocument(ctx context.Context, pdf []byte, chunk types.Chunk) (*OCRResult, error) {
	m.ocrCalls.Add(1)
	if err := m.wait(ctx, chunk); err != nil {
		return nil, err
	}
	pages := make([]string, chunk.PageCount)
	for i := range pages {
		pages[i] = fmt.Sprintf("mock text for page %d of %s", i+1, chunk)
	}
	return &OCRResult{
		Text:     joinPages(pages),
		Pages:    chunk.PageCount,
		Metadata: map[string]any{"bytes": len(pdf)},
	}, nil
}

func (m *MockProvider) respond(ctx context.Context, unit *types.ExtractionUnit) (*types.RawResponse, error) {
	if err := m.wait(ctx, unit.Chunk); err != nil {
		return nil, err
	}
	return m.rawFor(unit), nil
}

func (m *MockProvider) rawFor(unit *types.ExtractionUnit) *types.RawResponse {
	content := fmt.Sprintf(`{"claims":[{"Page_no":1,"Patient_acct":"ACCT-%d"}]}`, unit.Chunk.Index)
	if m.Respond != nil {
		content = m.Respond(unit)
	}
	return &types.RawResponse{
		Content: content,
		Usage:   types.Usage{InputTokens: m.InputTokens, OutputTokens: m.OutputTokens},
		Model:   m.Model,
	}
}

func (m *MockProvider) wait(ctx context.Context, chunk types.Chunk) error {
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.ShouldFail {
		return fmt.Errorf("mock provider configured to fail")
	}
	if m.FailChunks[chunk.Index] {
		return fmt.Errorf("mock provider configured to fail %s", chunk)
	}
	return ctx.Err()
}

// ExtractCalls returns the number of ExtractDocument calls.
func (m *MockProvider) ExtractCalls() int64 { return m.extractCalls.Load() }

// OCRCalls returns the number of OCRDocument calls.
func (m *MockProvider) OCRCalls() int64 { return m.ocrCalls.Load() }

// TextCalls returns the number of ExtractText calls.
func (m *MockProvider) TextCalls() int64 { return m.textCalls.Load() }

// MockBatchProvider adds an in-memory batch API to MockProvider.
type MockBatchProvider struct {
	*MockProvider

	SubmitErr          error
	StatusErr          error
	FinalStatus        types.BatchStatus // default succeeded
	StatusesBeforeDone int               // polls reporting running before FinalStatus
	NeverFinish        bool
	DropChunks         map[int]bool // chunk indexes omitted from results

	mu        sync.Mutex
	jobs      map[string][]*types.ExtractionUnit
	polls     map[string]int
	submitted atomic.Int64
	cancelled atomic.Int64
}

// NewMockBatchProvider creates a batch-capable mock.
func NewMockBatchProvider() *MockBatchProvider {
	return &MockBatchProvider{
		MockProvider: NewMockProvider(),
		jobs:         make(map[string][]*types.ExtractionUnit),
		polls:        make(map[string]int),
	}
}

// SubmitBatch records the units under a new job id.
func (m *MockBatchProvider) SubmitBatch(ctx context.Context, units []*types.ExtractionUnit) (*types.BatchJob, error) {
	n := m.submitted.Add(1)
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}
	id := fmt.Sprintf("mock-batch-%d", n)

	m.mu.Lock()
	m.jobs[id] = units
	m.mu.Unlock()

	return &types.BatchJob{ID: id, UnitCount: len(units), Status: types.BatchQueued, SubmittedAt: time.Now()}, nil
}

// BatchStatus reports running until StatusesBeforeDone polls have happened.
func (m *MockBatchProvider) BatchStatus(ctx context.Context, jobID string) (*types.BatchJob, error) {
	if m.StatusErr != nil {
		return nil, m.StatusErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	units, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("unknown batch job %s", jobID)
	}
	m.polls[jobID]++

	job := &types.BatchJob{ID: jobID, UnitCount: len(units), Status: types.BatchRunning}
	if m.NeverFinish || m.polls[jobID] <= m.StatusesBeforeDone {
		return job, nil
	}
	job.Status = m.FinalStatus
	if job.Status == "" {
		job.Status = types.BatchSucceeded
	}
	if job.Status == types.BatchSucceeded {
		job.ResultsHandle = jobID + "-output"
	}
	return job, nil
}

// BatchResults answers every submitted unit not listed in DropChunks or FailChunks.
func (m *MockBatchProvider) BatchResults(ctx context.Context, job *types.BatchJob) (map[string]*types.RawResponse, error) {
	m.mu.Lock()
	units := m.jobs[job.ID]
	m.mu.Unlock()

	out := make(map[string]*types.RawResponse, len(units))
	for _, u := range units {
		if m.DropChunks[u.Chunk.Index] || m.FailChunks[u.Chunk.Index] {
			continue
		}
		out[u.CustomID] = m.rawFor(u)
	}
	return out, nil
}

// CancelBatch counts cancellation requests.
func (m *MockBatchProvider) CancelBatch(ctx context.Context, jobID string) error {
	m.cancelled.Add(1)
	return nil
}

// Submitted returns the number of SubmitBatch calls.
func (m *MockBatchProvider) Submitted() int64 { return m.submitted.Load() }

// Cancelled returns the number of CancelBatch calls.
func (m *MockBatchProvider) Cancelled() int64 { return m.cancelled.Load() }

// Verify interfaces
var (
	_ CombinedProvider = (*MockProvider)(nil)
	_ OCRProvider      = (*MockProvider)(nil)
	_ TextExtractor    = (*MockProvider)(nil)
	_ BatchProvider    = (*MockBatchProvider)(nil)
)

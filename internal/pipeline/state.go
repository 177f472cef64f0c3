package pipeline

// State is a step of document processing.
type State string

const (
	StateValidating    State = "validating"
	StateChunking      State = "chunking"
	StateExtracting    State = "extracting"
	StateConsolidating State = "consolidating"
	StateCosting       State = "costing"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

func (s State) String() string { return string(s) }

// Dispatch strategies recorded on ExtractionResult.Strategy.
const (
	StrategyParallel      = "parallel"
	StrategyBatch         = "batch"
	StrategyBatchFallback = "batch-fallback-sequential"
)

package extract

import (
	"time"

	"github.com/Sternrassler/fudo-extractor/pkg/dataset"
)

// Outcome is how one dataset run ended.
type Outcome string

const (
	// OutcomeAdvanced means records were merged and the marker moved to the window end.
	OutcomeAdvanced Outcome = "advanced"

	// OutcomeAdvancedWithFailures means the marker moved although some partitions failed to persist.
	OutcomeAdvancedWithFailures Outcome = "advanced_with_failures"

	// OutcomeMergeFailed means some partitions failed and the marker was held back.
	OutcomeMergeFailed Outcome = "merge_failed"

	// OutcomeStalled means the window held no records; the marker is unchanged.
	OutcomeStalled Outcome = "stalled"

	// OutcomeAuthFailed means no token could be obtained; nothing was fetched.
	OutcomeAuthFailed Outcome = "auth_failed"

	// OutcomeFetchFailed means a page request failed; the marker is unchanged.
	OutcomeFetchFailed Outcome = "fetch_failed"

	// OutcomePartitionFailed means a record had a bad timestamp; nothing was merged.
	OutcomePartitionFailed Outcome = "partition_failed"

	// OutcomeInvalidDataset means the descriptor failed validation.
	OutcomeInvalidDataset Outcome = "invalid_dataset"

	// OutcomePanicked means the run crashed and was recovered.
	OutcomePanicked Outcome = "panicked"
)

// OK reports whether the run ended cleanly.
func (o Outcome) OK() bool {
	return o == OutcomeAdvanced || o == OutcomeStalled
}

// Result describes one dataset run.
type Result struct {
	Dataset dataset.Descriptor
	RunID   string
	Outcome Outcome
	Err     error

	// LastPage is the marker read at start; MarkerPage the marker after the run.
	LastPage   int
	StartPage  int
	EndPage    int
	MarkerPage int

	Records          int
	Partitions       int
	PartitionsFailed int

	// MarkerErr is a failed marker write. It does not change Outcome.
	MarkerErr error
	Duration  time.Duration
}

package model

import "time"

// QueueEntry is one selected identifier waiting to be resolved
type QueueEntry struct {
	ID      string    `json:"id"`
	Label   string    `json:"label"`
	AddedAt time.Time `json:"added_at"`
}

// Outcome describes how processing of a single queue entry ended
type Outcome string

const (
	// OutcomeDispatched means the backend accepted the item
	OutcomeDispatched Outcome = "dispatched"

	// OutcomeAborted means a dispatch guard rejected the item
	OutcomeAborted Outcome = "aborted"

	// OutcomeResolutionFailed means metadata or manifest could not be resolved
	OutcomeResolutionFailed Outcome = "resolution_failed"

	// OutcomeBackendFailed means the backend request failed
	OutcomeBackendFailed Outcome = "backend_failed"
)

// EntryResult records the outcome of one processed entry
type EntryResult struct {
	ID      string  `json:"id"`
	Label   string  `json:"label"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// DrainReport summarises one drain of the queue in processing order
type DrainReport struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Results    []EntryResult `json:"results"`
}

// Count returns how many results ended with the given outcome
func (r *DrainReport) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

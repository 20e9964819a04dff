package db

import "time"

// Run statuses stored in collection_runs.status
const (
	RunStatusRunning          = "running"
	RunStatusPersisted        = "persisted"
	RunStatusEmpty            = "empty"
	RunStatusRejected         = "rejected"
	RunStatusTransportFailure = "transport_failure"
	RunStatusStorageFailure   = "storage_failure"
)

// IsSuccessStatus reports whether a run with this status advanced the cursor
func IsSuccessStatus(status string) bool {
	return status == RunStatusPersisted || status == RunStatusEmpty
}

// CollectionRun is one collection cycle as recorded in the history table
type CollectionRun struct {
	RunID       string
	WindowStart time.Time
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string
	RecordCount int
	Location    *string // persisted file, when one was written
	Error       *string
}

// RunSummary aggregates the run history
type RunSummary struct {
	TotalRuns        int
	SucceededRuns    int
	FailedRuns       int
	RecordsCollected int
	LastSuccessAt    *time.Time
}

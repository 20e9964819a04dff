package history

import (
	"context"
	"time"

	"github.com/livinlefevreloca/collector/internal/db"
)

// UpdateKind says which part of a run an update describes
type UpdateKind int

const (
	RunStarted UpdateKind = iota
	RunCompleted
)

func (k UpdateKind) String() string {
	switch k {
	case RunStarted:
		return "started"
	case RunCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// RunUpdate is one change to a collection run row
type RunUpdate struct {
	UpdateID    string // UUID, for log correlation
	Kind        UpdateKind
	RunID       string
	WindowStart time.Time
	At          time.Time // started or completed time, by Kind
	Status      string
	RecordCount int
	Location    string
	Error       string
}

// Stats provides current writer statistics
type Stats struct {
	Pending int
	Written int64
	Failed  int64
	Dropped int64
}

// Store is the subset of *db.DB the writer needs
type Store interface {
	CreateCollectionRun(ctx context.Context, run *db.CollectionRun) error
	CompleteCollectionRun(ctx context.Context, runID string, completedAt time.Time, status string, recordCount int, location, errMsg *string) error
}

package api

import (
	"github.com/livinlefevreloca/collector/internal/cycle"
	"github.com/livinlefevreloca/collector/internal/db"
	"github.com/livinlefevreloca/collector/internal/timefmt"
)

type errorBody struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Scheduler       string      `json:"scheduler"`
	Cycle           string      `json:"cycle"`
	NextWindowStart string      `json:"next_window_start"`
	LastRunTime     string      `json:"last_run_time,omitempty"`
	Summary         summaryBody `json:"summary"`
	LastRun         *resultBody `json:"last_run,omitempty"`
}

type summaryBody struct {
	TotalRuns        int    `json:"total_runs"`
	SucceededRuns    int    `json:"succeeded_runs"`
	FailedRuns       int    `json:"failed_runs"`
	RecordsCollected int    `json:"records_collected"`
	LastSuccessAt    string `json:"last_success_at,omitempty"`
}

type resultBody struct {
	RunID          string `json:"run_id,omitempty"`
	WindowStart    string `json:"window_start,omitempty"`
	Outcome        string `json:"outcome,omitempty"`
	RecordCount    int    `json:"record_count"`
	Location       string `json:"location,omitempty"`
	CollectionTime string `json:"collection_time,omitempty"`
	DurationMillis int64  `json:"duration_ms"`
	Error          string `json:"error,omitempty"`
}

type runBody struct {
	RunID       string `json:"run_id"`
	WindowStart string `json:"window_start"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
	Status      string `json:"status"`
	RecordCount int    `json:"record_count"`
	Location    string `json:"location,omitempty"`
	Error       string `json:"error,omitempty"`
}

func toSummaryBody(summary *db.RunSummary) summaryBody {
	body := summaryBody{
		TotalRuns:        summary.TotalRuns,
		SucceededRuns:    summary.SucceededRuns,
		FailedRuns:       summary.FailedRuns,
		RecordsCollected: summary.RecordsCollected,
	}
	if summary.LastSuccessAt != nil {
		body.LastSuccessAt = timefmt.Format(summary.LastSuccessAt.Local())
	}
	return body
}

// toResultBody describes a cycle result; result is nil when the cycle panicked
func toResultBody(result *cycle.Result, err error) resultBody {
	var body resultBody
	if result != nil {
		body = resultBody{
			RunID:          result.RunID,
			WindowStart:    result.Window.StartString(),
			Outcome:        string(result.Outcome),
			RecordCount:    result.RecordCount,
			Location:       result.Location,
			DurationMillis: result.Duration.Milliseconds(),
		}
		if !result.CollectionTime.IsZero() {
			body.CollectionTime = timefmt.Format(result.CollectionTime)
		}
	}
	if err != nil {
		body.Error = err.Error()
	}
	return body
}

func toRunBody(run db.CollectionRun) runBody {
	body := runBody{
		RunID:       run.RunID,
		WindowStart: timefmt.Format(run.WindowStart.Local()),
		StartedAt:   timefmt.Format(run.StartedAt.Local()),
		Status:      run.Status,
		RecordCount: run.RecordCount,
	}
	if run.CompletedAt != nil {
		body.CompletedAt = timefmt.Format(run.CompletedAt.Local())
	}
	if run.Location != nil {
		body.Location = *run.Location
	}
	if run.Error != nil {
		body.Error = *run.Error
	}
	return body
}

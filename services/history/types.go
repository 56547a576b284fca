package history

import (
	"time"

	"github.com/google/uuid"

	"fleettag/pkg/bus"
)

// Run statuses stored in the runs table.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Run is one tagger invocation as served by the API.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	Stamp      string     `json:"stamp"`
	Engines    []string   `json:"engines"`
	Status     string     `json:"status"`
	Files      int        `json:"files"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// FileResult is the stored outcome of one tag file.
type FileResult struct {
	ID            uuid.UUID           `json:"id"`
	RunID         uuid.UUID           `json:"run_id"`
	Path          string              `json:"path"`
	ObjectType    string              `json:"object_type"`
	Category      string              `json:"category"`
	Rows          int                 `json:"rows"`
	Success       bool                `json:"success"`
	Error         string              `json:"error,omitempty"`
	TotalUpdates  int                 `json:"total_updates"`
	TotalFailures int                 `json:"total_failures"`
	MissingIDs    []string            `json:"missing_ids"`
	Unreachable   []string            `json:"unreachable,omitempty"`
	Engines       []bus.EngineSummary `json:"engines"`
	ArchiveKeys   []string            `json:"archive_keys,omitempty"`
	StartedAt     time.Time           `json:"started_at"`
	FinishedAt    time.Time           `json:"finished_at"`
}

func runStatus(failed int) string {
	if failed > 0 {
		return RunStatusFailed
	}
	return RunStatusSucceeded
}

// Stats totals every stored run.
type Stats struct {
	Runs          int64      `json:"runs" db:"runs"`
	Files         int64      `json:"files" db:"files"`
	FailedFiles   int64      `json:"failed_files" db:"failed_files"`
	TotalUpdates  int64      `json:"total_updates" db:"total_updates"`
	TotalFailures int64      `json:"total_failures" db:"total_failures"`
	MissingIDs    int64      `json:"missing_ids" db:"missing_ids"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`
}

// CategoryStats groups file results by object type and category.
type CategoryStats struct {
	ObjectType     string     `json:"object_type" db:"object_type"`
	Category       string     `json:"category" db:"category"`
	Files          int64      `json:"files" db:"files"`
	FailedFiles    int64      `json:"failed_files" db:"failed_files"`
	TotalUpdates   int64      `json:"total_updates" db:"total_updates"`
	LastFinishedAt *time.Time `json:"last_finished_at,omitempty" db:"last_finished_at"`
}

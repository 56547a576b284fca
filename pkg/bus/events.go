package bus

import (
	"time"

	"github.com/google/uuid"
)

const (
	StreamName    = "FLEETTAG"
	SubjectPrefix = "fleettag."

	RunStartedSubject   = "fleettag.runs.started"
	FileFinishedSubject = "fleettag.files.finished"
	RunFinishedSubject  = "fleettag.runs.finished"
)

// RunStarted is published once engines have been discovered.
type RunStarted struct {
	RunID     uuid.UUID `json:"run_id"`
	Stamp     string    `json:"stamp"`
	Engines   []string  `json:"engines"`
	StartedAt time.Time `json:"started_at"`
}

// FileFinished carries the outcome of one tag file.
type FileFinished struct {
	RunID         uuid.UUID       `json:"run_id"`
	FileID        uuid.UUID       `json:"file_id"`
	Path          string          `json:"path"`
	ObjectType    string          `json:"object_type"`
	Category      string          `json:"category"`
	Rows          int             `json:"rows"`
	Success       bool            `json:"success"`
	Error         string          `json:"error,omitempty"`
	TotalUpdates  int             `json:"total_updates"`
	TotalFailures int             `json:"total_failures"`
	MissingIDs    []string        `json:"missing_ids"`
	Unreachable   []string        `json:"unreachable,omitempty"`
	Engines       []EngineSummary `json:"engines"`
	ArchiveKeys   []string        `json:"archive_keys,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// EngineSummary is one engine's share of a FileFinished event.
type EngineSummary struct {
	Engine   string `json:"engine"`
	Success  int    `json:"success"`
	Failures int    `json:"failures"`
	Error    string `json:"error,omitempty"`
}

// RunFinished closes a run.
type RunFinished struct {
	RunID      uuid.UUID `json:"run_id"`
	Files      int       `json:"files"`
	Failed     int       `json:"failed"`
	FinishedAt time.Time `json:"finished_at"`
}

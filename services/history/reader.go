package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"fleettag/pkg/bus"
)

// ErrNotFound is returned by a Reader when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Reader serves the history API's queries.
type Reader interface {
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	RunFiles(ctx context.Context, runID uuid.UUID) ([]FileResult, error)
	GetFile(ctx context.Context, id uuid.UUID) (FileResult, error)
}

type runModel struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Stamp      string         `gorm:"type:text"`
	Engines    datatypes.JSON `gorm:"type:jsonb"`
	Status     string         `gorm:"type:text"`
	Files      int
	Failed     int
	StartedAt  time.Time  `gorm:"type:timestamptz"`
	FinishedAt *time.Time `gorm:"type:timestamptz"`
}

func (runModel) TableName() string { return "runs" }

func (m runModel) toAPI() Run {
	return Run{
		ID:         m.ID,
		Stamp:      m.Stamp,
		Engines:    decodeList[string](m.Engines),
		Status:     m.Status,
		Files:      m.Files,
		Failed:     m.Failed,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
	}
}

type fileModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID         uuid.UUID `gorm:"type:uuid"`
	Path          string
	ObjectType    string
	Category      string
	Rows          int
	Success       bool
	Error         string
	TotalUpdates  int
	TotalFailures int
	MissingIDs    datatypes.JSON `gorm:"column:missing_ids"`
	Unreachable   datatypes.JSON
	Engines       datatypes.JSON
	ArchiveKeys   datatypes.JSON
	StartedAt     time.Time
	FinishedAt    time.Time
}

func (fileModel) TableName() string { return "file_results" }

func (m fileModel) toAPI() FileResult {
	return FileResult{
		ID:            m.ID,
		RunID:         m.RunID,
		Path:          m.Path,
		ObjectType:    m.ObjectType,
		Category:      m.Category,
		Rows:          m.Rows,
		Success:       m.Success,
		Error:         m.Error,
		TotalUpdates:  m.TotalUpdates,
		TotalFailures: m.TotalFailures,
		MissingIDs:    decodeList[string](m.MissingIDs),
		Unreachable:   decodeList[string](m.Unreachable),
		Engines:       decodeList[bus.EngineSummary](m.Engines),
		ArchiveKeys:   decodeList[string](m.ArchiveKeys),
		StartedAt:     m.StartedAt,
		FinishedAt:    m.FinishedAt,
	}
}

// decodeList never returns nil so the API always renders [].
func decodeList[T any](raw datatypes.JSON) []T {
	out := []T{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return []T{}
	}
	return out
}

// GormReader implements Reader on the migrated schema.
type GormReader struct {
	orm *gorm.DB
}

// NewGormReader wraps orm.
func NewGormReader(orm *gorm.DB) (*GormReader, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &GormReader{orm: orm}, nil
}

func (r *GormReader) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	var models []runModel
	if err := r.orm.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	runs := make([]Run, 0, len(models))
	for _, m := range models {
		runs = append(runs, m.toAPI())
	}
	return runs, nil
}

func (r *GormReader) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	var m runModel
	if err := r.orm.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	return m.toAPI(), nil
}

func (r *GormReader) RunFiles(ctx context.Context, runID uuid.UUID) ([]FileResult, error) {
	var models []fileModel
	if err := r.orm.WithContext(ctx).Where("run_id = ?", runID).Order("path ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	files := make([]FileResult, 0, len(models))
	for _, m := range models {
		files = append(files, m.toAPI())
	}
	return files, nil
}

func (r *GormReader) GetFile(ctx context.Context, id uuid.UUID) (FileResult, error) {
	var m fileModel
	if err := r.orm.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return FileResult{}, ErrNotFound
		}
		return FileResult{}, err
	}
	return m.toAPI(), nil
}

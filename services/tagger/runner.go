package tagger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleettag/pkg/bus"
	"fleettag/pkg/metrics"
)

// ErrNoTagFiles is returned when the tags directory holds no *.csv files.
var ErrNoTagFiles = errors.New("no tag files to process")

// Discoverer lists the engines a run targets. *portal.Client implements it.
type Discoverer interface {
	ConnectedEngines(ctx context.Context) ([]string, error)
}

// Publisher emits run events. *bus.Bus implements it. msgID lets the stream
// drop a republished event.
type Publisher interface {
	PublishWithID(ctx context.Context, subj, msgID string, v any) error
}

// FileSummary pairs a file's report with what happened to the file afterwards.
type FileSummary struct {
	Report      *FileReport
	Disposition Disposition
	ArchiveKeys []string
}

// RunSummary describes one invocation over the tags directory.
type RunSummary struct {
	RunID      uuid.UUID
	Stamp      string
	Engines    []string
	Files      []FileSummary
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded counts files renamed .success.
func (s *RunSummary) Succeeded() int {
	n := 0
	for _, f := range s.Files {
		if f.Report.Success {
			n++
		}
	}
	return n
}

// Failed counts files renamed .failed.
func (s *RunSummary) Failed() int { return len(s.Files) - s.Succeeded() }

// RunnerConfig holds the Runner's dependencies. Publisher, Archiver and
// Metrics are optional.
type RunnerConfig struct {
	Discoverer   Discoverer
	Orchestrator *Orchestrator
	Publisher    Publisher
	Archiver     *Archiver
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
	TagsDir      string
	Stamp        string
	RunID        uuid.UUID
}

// Runner processes every tag file in a directory against the discovered fleet.
type Runner struct {
	cfg RunnerConfig
	now func() time.Time
}

// NewRunner validates cfg and returns a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Discoverer == nil {
		return nil, errors.New("discoverer is required")
	}
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.TagsDir == "" {
		return nil, errors.New("tags directory is required")
	}
	if cfg.RunID == uuid.Nil {
		cfg.RunID = uuid.New()
	}
	r := &Runner{cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
	if cfg.Stamp == "" {
		r.cfg.Stamp = r.now().Local().Format(StampLayout)
	}
	return r, nil
}

// Run discovers engines once and processes every *.csv file in name order.
// The error is reserved for conditions that stop the whole run; file failures
// are recorded in the summary.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	if r == nil {
		return nil, errors.New("nil runner")
	}
	log := r.cfg.Logger.With().Str("run_id", r.cfg.RunID.String()).Logger()

	summary := &RunSummary{RunID: r.cfg.RunID, Stamp: r.cfg.Stamp, StartedAt: r.now()}
	log.Info().Msg("starting multi engine tagging")

	engines, err := r.cfg.Discoverer.ConnectedEngines(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover engines: %w", err)
	}
	summary.Engines = engines
	log.Info().Int("engines", len(engines)).Strs("addresses", engines).Msg("engines discovered")

	files, err := filepath.Glob(filepath.Join(r.cfg.TagsDir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("list tag files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoTagFiles, r.cfg.TagsDir)
	}
	sort.Strings(files)

	r.publish(ctx, log, bus.RunStartedSubject, summary.RunID.String()+".started", bus.RunStarted{
		RunID:     summary.RunID,
		Stamp:     summary.Stamp,
		Engines:   engines,
		StartedAt: summary.StartedAt,
	})

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("run cancelled, leaving remaining files in place")
			break
		}
		summary.Files = append(summary.Files, r.processFile(ctx, log, engines, path))
	}

	summary.FinishedAt = r.now()
	r.publish(ctx, log, bus.RunFinishedSubject, summary.RunID.String()+".finished", bus.RunFinished{
		RunID:      summary.RunID,
		Files:      len(summary.Files),
		Failed:     summary.Failed(),
		FinishedAt: summary.FinishedAt,
	})
	log.Info().Int("succeeded", summary.Succeeded()).Int("failed", summary.Failed()).Msg("multi engine tagging finished")
	return summary, nil
}

func (r *Runner) processFile(ctx context.Context, log zerolog.Logger, engines []string, path string) FileSummary {
	log = log.With().Str("file", path).Logger()
	log.Info().Msg("tagging file")

	var report *FileReport
	rows, err := LoadTagFile(path)
	if err != nil {
		now := r.now()
		report = &FileReport{ID: uuid.New(), Path: path, State: StateDone, FailedIn: StateStart, Err: err, StartedAt: now, FinishedAt: now}
		log.Error().Err(err).Msg("cannot read tag file")
	} else {
		report = r.cfg.Orchestrator.ProcessFile(ctx, path, engines, rows)
	}

	fs := FileSummary{Report: report}
	d, err := Dispose(path, r.cfg.Stamp, report.Success, report.MissingIDs)
	fs.Disposition = d
	if err != nil {
		log.Error().Err(err).Msg("file disposition failed")
	}
	if d.RenamedPath != "" {
		ev := log.Info()
		if !report.Success {
			ev = log.Error()
		}
		ev.Str("renamed", d.RenamedPath).Str("missing_file", d.MissingPath).Msg("tag file renamed")
	}

	if r.cfg.Archiver != nil && d.RenamedPath != "" {
		keys, err := r.cfg.Archiver.Archive(ctx, r.cfg.Stamp, d.RenamedPath, d.MissingPath)
		fs.ArchiveKeys = keys
		if err != nil {
			log.Warn().Err(err).Msg("archive upload failed")
		}
	}

	r.cfg.Metrics.FileFinished(report.Success, len(report.MissingIDs))
	evt := fileFinishedEvent(r.cfg.RunID, report)
	evt.ArchiveKeys = fs.ArchiveKeys
	r.publish(ctx, log, bus.FileFinishedSubject, report.ID.String(), evt)
	return fs
}

func (r *Runner) publish(ctx context.Context, log zerolog.Logger, subject, msgID string, v any) {
	if r.cfg.Publisher == nil {
		return
	}
	if err := r.cfg.Publisher.PublishWithID(ctx, subject, msgID, v); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("publish event failed")
	}
}

func fileFinishedEvent(runID uuid.UUID, report *FileReport) bus.FileFinished {
	evt := bus.FileFinished{
		RunID:         runID,
		FileID:        report.ID,
		Path:          report.Path,
		ObjectType:    report.ObjectType,
		Category:      report.Category,
		Rows:          report.Rows,
		Success:       report.Success,
		TotalUpdates:  report.Fleet.TotalUpdates,
		TotalFailures: report.Fleet.TotalFailures,
		MissingIDs:    report.MissingIDs,
		Unreachable:   report.Fleet.Unreachable,
		StartedAt:     report.StartedAt,
		FinishedAt:    report.FinishedAt,
	}
	if report.Err != nil {
		evt.Error = report.Err.Error()
	}
	if evt.MissingIDs == nil {
		evt.MissingIDs = []string{}
	}
	for _, out := range report.Outcomes {
		es := bus.EngineSummary{Engine: out.Engine, Success: out.SuccessCount, Failures: out.FailureCount}
		if out.Err != nil {
			es.Error = out.Err.Error()
		}
		evt.Engines = append(evt.Engines, es)
	}
	return evt
}

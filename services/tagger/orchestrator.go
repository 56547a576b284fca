package tagger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fleettag/pkg/fanout"
	"fleettag/pkg/query"
	"fleettag/services/tagger/internal/config"
)

// State is a step of the per-file state machine.
type State string

const (
	StateStart       State = "start"
	StateClearing    State = "clearing"
	StateSettling    State = "settling"
	StateTagging     State = "tagging"
	StateAggregating State = "aggregating"
	StateDone        State = "done"
)

// Fanout runs statements across the engine fleet. *fanout.Executor implements it.
type Fanout interface {
	RunClear(ctx context.Context, engines []string, stmt query.Statement) ([]fanout.ClearResult, error)
	RunTagPass(ctx context.Context, engines []string, selectStmt query.Statement, idColumn string, rows []fanout.TagRow) ([]fanout.EngineOutcome, error)
}

// Templates resolves the id-lookup template for a file. *config.Config implements it.
type Templates interface {
	Template(objectType, category string) (config.QueryTemplate, error)
}

// FileReport is the result of processing one tag file. FailedIn names the state
// a failed file stopped in; Err is set whenever Success is false for a reason
// other than update failures.
type FileReport struct {
	ID           uuid.UUID
	Path         string
	ObjectType   string
	Category     string
	Rows         int
	State        State
	FailedIn     State
	Success      bool
	Err          error
	Fleet        fanout.FleetResult
	MissingIDs   []string
	ClearResults []fanout.ClearResult
	Outcomes     []fanout.EngineOutcome
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Orchestrator drives one tag file through clear, settle, tag and aggregate.
type Orchestrator struct {
	fanout            Fanout
	templates         Templates
	settle            time.Duration
	failOnUnreachable bool
	logger            zerolog.Logger
	tracer            trace.Tracer
	now               func() time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithSettle sets the wait between the clear and tag phases.
func WithSettle(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.settle = d }
}

// WithFailOnUnreachable fails a file when any engine's lookup was aborted.
func WithFailOnUnreachable(v bool) OrchestratorOption {
	return func(o *Orchestrator) { o.failOnUnreachable = v }
}

// WithOrchestratorLogger sets the orchestrator logger.
func WithOrchestratorLogger(logger zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// NewOrchestrator creates an orchestrator bound to the provided dependencies.
func NewOrchestrator(f Fanout, templates Templates, opts ...OrchestratorOption) (*Orchestrator, error) {
	if f == nil {
		return nil, errors.New("fanout is required")
	}
	if templates == nil {
		return nil, errors.New("templates are required")
	}
	o := &Orchestrator{
		fanout:    f,
		templates: templates,
		logger:    zerolog.Nop(),
		tracer:    otel.Tracer("fleettag/services/tagger"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ProcessFile runs the state machine for rows against engines. The rows of a
// file share the object type and category of the first row.
func (o *Orchestrator) ProcessFile(ctx context.Context, path string, engines []string, rows []fanout.TagRow) *FileReport {
	if o == nil {
		return &FileReport{ID: uuid.New(), Path: path, State: StateDone, FailedIn: StateStart, Err: errors.New("nil orchestrator")}
	}
	report := &FileReport{
		ID:        uuid.New(),
		Path:      path,
		Rows:      len(rows),
		State:     StateStart,
		StartedAt: o.now(),
	}

	ctx, span := o.tracer.Start(ctx, "tagger.file", trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	o.run(ctx, report, engines, rows)
	if !report.Success {
		report.FailedIn = report.State
	}
	report.State = StateDone

	report.FinishedAt = o.now()
	if report.Err != nil {
		span.SetStatus(codes.Error, report.Err.Error())
	}
	span.SetAttributes(attribute.String("state", string(report.State)), attribute.Bool("success", report.Success))
	return report
}

func (o *Orchestrator) run(ctx context.Context, report *FileReport, engines []string, rows []fanout.TagRow) {
	if len(rows) == 0 {
		report.Err = ErrEmptyTagFile
		return
	}
	report.ObjectType = rows[0].ObjectType
	report.Category = rows[0].Category
	log := o.logger.With().
		Str("file", report.Path).
		Str("object_type", report.ObjectType).
		Str("category", report.Category).
		Logger()

	tmpl, err := o.templates.Template(report.ObjectType, report.Category)
	if err != nil {
		report.Err = err
		log.Error().Err(err).Msg("no id query for file")
		return
	}
	selectStmt, err := query.BuildIdentifierSelectStatement(tmpl.Query)
	if err != nil {
		report.Err = fmt.Errorf("id query: %w", err)
		log.Error().Err(report.Err).Msg("invalid id query")
		return
	}
	clearStmt, err := query.BuildClearStatement(report.Category, report.ObjectType)
	if err != nil {
		report.Err = fmt.Errorf("clear statement: %w", err)
		log.Error().Err(report.Err).Msg("cannot build clear statement")
		return
	}

	report.State = StateClearing
	clears, err := o.fanout.RunClear(ctx, engines, clearStmt)
	if err != nil {
		report.Err = fmt.Errorf("clear: %w", err)
		return
	}
	report.ClearResults = clears
	if rejected := rejectedClears(clears); len(rejected) > 0 {
		report.Err = fmt.Errorf("clear failed on %d of %d engines: %v", len(rejected), len(clears), rejected)
		log.Error().Strs("engines", rejected).Msg("category clear failed, skipping tagging")
		return
	}
	log.Info().Int("engines", len(clears)).Msg("category cleared")

	report.State = StateSettling
	if err := o.wait(ctx); err != nil {
		report.Err = fmt.Errorf("settle: %w", err)
		return
	}

	report.State = StateTagging
	outcomes, err := o.fanout.RunTagPass(ctx, engines, selectStmt, tmpl.IDColumn, rows)
	if err != nil {
		report.Err = fmt.Errorf("tag pass: %w", err)
		return
	}
	report.Outcomes = outcomes
	if err := ctx.Err(); err != nil {
		report.Err = fmt.Errorf("tag pass: %w", err)
		log.Error().Err(err).Msg("tag pass cancelled after category clear")
		return
	}
	for _, out := range outcomes {
		ev := log.Info()
		if out.FailureCount > 0 || out.Aborted() {
			ev = log.Error().AnErr("lookup_error", out.Err)
		}
		ev.Str("engine", out.Engine).
			Int("updates", out.SuccessCount).
			Int("failures", out.FailureCount).
			Msg("engine results")
	}

	report.State = StateAggregating
	report.Fleet = fanout.Aggregate(outcomes)
	report.MissingIDs = fanout.MissingIDs(rows, report.Fleet.UpdatedIDs)
	report.Success = report.Fleet.TotalFailures == 0
	if o.failOnUnreachable && len(report.Fleet.Unreachable) > 0 {
		report.Success = false
		report.Err = fmt.Errorf("id lookup failed on %v", report.Fleet.Unreachable)
	}

	ev := log.Info()
	if !report.Success {
		ev = log.Error()
	}
	ev.Int("updates", report.Fleet.TotalUpdates).
		Int("failures", report.Fleet.TotalFailures).
		Int("missing", len(report.MissingIDs)).
		Int("engines", len(engines)).
		Msg("file tagged")
}

func (o *Orchestrator) wait(ctx context.Context) error {
	if o.settle <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(o.settle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func rejectedClears(results []fanout.ClearResult) []string {
	var rejected []string
	for _, r := range results {
		if !r.OK() {
			rejected = append(rejected, r.Engine)
		}
	}
	return rejected
}

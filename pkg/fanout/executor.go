package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"fleettag/pkg/engine"
	"fleettag/pkg/metrics"
	"fleettag/pkg/query"
)

// DefaultWorkers bounds how many engines are worked on at once.
const DefaultWorkers = 40

const tracerName = "fleettag/pkg/fanout"

// Querier runs one statement on one engine. *engine.Client implements it.
type Querier interface {
	Query(ctx context.Context, engine string, stmt query.Statement, format engine.Format) (*engine.Response, error)
}

// Executor fans statements out to every engine with bounded concurrency. One
// engine's failure never cancels or alters the work on another.
type Executor struct {
	client  Querier
	workers int
	logger  zerolog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkers sets the pool width. Values below one keep the default.
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets the logger used for per-engine diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics records request latencies and update counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor creates an Executor that sends statements through client.
func NewExecutor(client Querier, opts ...Option) (*Executor, error) {
	if client == nil {
		return nil, errors.New("fanout: querier is required")
	}
	e := &Executor{
		client:  client,
		workers: DefaultWorkers,
		logger:  zerolog.Nop(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Workers reports the pool width.
func (e *Executor) Workers() int { return e.workers }

// RunClear runs stmt on every engine and reports each engine's answer. The error
// is reserved for invalid arguments; engine failures are recorded per result.
func (e *Executor) RunClear(ctx context.Context, engines []string, stmt query.Statement) ([]ClearResult, error) {
	if e == nil {
		return nil, errors.New("nil executor")
	}
	if err := validateEngines(engines); err != nil {
		return nil, err
	}
	if stmt.IsZero() {
		return nil, errors.New("fanout: clear statement is required")
	}

	results := make([]ClearResult, len(engines))
	e.each(engines, func(i int, addr string) {
		results[i] = e.clearEngine(ctx, addr, stmt)
	})
	return results, nil
}

func (e *Executor) clearEngine(ctx context.Context, addr string, stmt query.Statement) ClearResult {
	ctx, span := e.tracer.Start(ctx, "fanout.clear", trace.WithAttributes(attribute.String("engine", addr)))
	defer span.End()

	res := ClearResult{Engine: addr}
	resp, err := e.client.Query(ctx, addr, stmt, engine.FormatJSON)
	if err != nil {
		res.Err = err
		e.metrics.EngineUnreachable(addr, "clear")
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error().Err(err).Str("engine", addr).Msg("clear request failed")
		return res
	}

	res.Status = resp.StatusCode
	e.metrics.ObserveRequest("clear", resp.OK(), resp.Duration)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err := resp.Err(); err != nil {
		res.Err = err
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error().Err(err).Str("engine", addr).Msg("clear rejected")
		return res
	}

	e.logger.Debug().Str("engine", addr).Int("status", resp.StatusCode).Msg("clear accepted")
	return res
}

// RunTagPass looks up the ids each engine holds with selectStmt and updates the
// matching rows on that engine. idColumn names both the column read from the
// select response and the update condition field.
func (e *Executor) RunTagPass(ctx context.Context, engines []string, selectStmt query.Statement, idColumn string, rows []TagRow) ([]EngineOutcome, error) {
	if e == nil {
		return nil, errors.New("nil executor")
	}
	if err := validateEngines(engines); err != nil {
		return nil, err
	}
	if selectStmt.IsZero() || selectStmt.Kind() != query.Select {
		return nil, errors.New("fanout: select statement is required")
	}
	if !query.SupportedCondition(idColumn) {
		return nil, fmt.Errorf("fanout: %w: id column %q", query.ErrUnsupportedCondition, idColumn)
	}

	outcomes := make([]EngineOutcome, len(engines))
	e.each(engines, func(i int, addr string) {
		outcomes[i] = e.tagEngine(ctx, addr, selectStmt, idColumn, rows)
	})
	return outcomes, nil
}

func (e *Executor) tagEngine(ctx context.Context, addr string, selectStmt query.Statement, idColumn string, rows []TagRow) EngineOutcome {
	ctx, span := e.tracer.Start(ctx, "fanout.tag", trace.WithAttributes(attribute.String("engine", addr)))
	defer span.End()

	log := e.logger.With().Str("engine", addr).Logger()
	out := EngineOutcome{Engine: addr}

	ids, err := e.selectIDs(ctx, addr, selectStmt, idColumn)
	if err != nil {
		out.Err = err
		e.metrics.EngineUnreachable(addr, "select")
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Msg("id lookup failed, skipping engine")
		return out
	}
	log.Debug().Int("ids", len(ids)).Msg("engine returned ids")

	for _, row := range rows {
		if _, ok := ids[normalizeID(row.ObjectID)]; !ok {
			continue
		}

		stmt, err := query.BuildUpdateStatement(row.Keyword, row.Category, row.ObjectType, idColumn, row.ObjectID)
		if err != nil {
			out.FailureCount++
			log.Error().Err(err).Str("object_id", row.ObjectID).Msg("cannot build update")
			continue
		}

		resp, err := e.client.Query(ctx, addr, stmt, engine.FormatJSON)
		if err == nil {
			e.metrics.ObserveRequest("update", resp.OK(), resp.Duration)
			err = resp.Err()
		}
		if err != nil {
			out.FailureCount++
			log.Error().Err(err).Str("object_id", row.ObjectID).Str("statement", stmt.String()).Msg("update failed")
			continue
		}

		out.SuccessCount++
		out.UpdatedIDs = append(out.UpdatedIDs, row.ObjectID)
		log.Debug().Str("object_id", row.ObjectID).Msg("updated")
	}

	e.metrics.AddUpdates(addr, out.SuccessCount, out.FailureCount)
	span.SetAttributes(
		attribute.Int("fleettag.updates", out.SuccessCount),
		attribute.Int("fleettag.failures", out.FailureCount),
	)
	if out.FailureCount > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d failed updates", out.FailureCount))
	}
	return out
}

// selectIDs returns the upper-cased values of idColumn held by engine.
func (e *Executor) selectIDs(ctx context.Context, addr string, stmt query.Statement, idColumn string) (map[string]struct{}, error) {
	resp, err := e.client.Query(ctx, addr, stmt, engine.FormatJSON)
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveRequest("select", resp.OK(), resp.Duration)
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return decodeIDs(resp.Body, idColumn)
}

func decodeIDs(body []byte, idColumn string) (map[string]struct{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var objects []map[string]any
	if err := dec.Decode(&objects); err != nil {
		return nil, fmt.Errorf("decode id list: %w", err)
	}

	ids := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		switch v := obj[idColumn].(type) {
		case string:
			ids[normalizeID(v)] = struct{}{}
		case json.Number:
			ids[normalizeID(v.String())] = struct{}{}
		case nil:
			continue
		default:
			ids[normalizeID(fmt.Sprint(v))] = struct{}{}
		}
	}
	return ids, nil
}

// each runs fn once per engine on the bounded pool and waits for all of them.
func (e *Executor) each(engines []string, fn func(i int, addr string)) {
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, addr := range engines {
		g.Go(func() error {
			fn(i, addr)
			return nil
		})
	}
	_ = g.Wait()
}

func validateEngines(engines []string) error {
	if len(engines) == 0 {
		return errors.New("fanout: engine list is empty")
	}
	for i, addr := range engines {
		if strings.TrimSpace(addr) == "" {
			return fmt.Errorf("fanout: engine %d has no address", i)
		}
	}
	return nil
}

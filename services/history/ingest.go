package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleettag/pkg/bus"
	"fleettag/pkg/metrics"
)

// Subscriber is the consuming side of the bus. *bus.Bus implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

// Ingestor copies tagger run events from NATS into the history store.
type Ingestor struct {
	sub     Subscriber
	store   Recorder
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	subMu sync.Mutex
	subs  []io.Closer
}

// NewIngestor constructs an Ingestor. m may be nil.
func NewIngestor(sub Subscriber, store Recorder, m *metrics.Metrics, logger zerolog.Logger) (*Ingestor, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Ingestor{
		sub:     sub,
		store:   store,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start subscribes to every run event subject until ctx is cancelled.
func (i *Ingestor) Start(ctx context.Context) error {
	if i == nil {
		return errors.New("nil ingestor")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	consumers := []struct {
		subject string
		durable string
		handle  func(context.Context, []byte) error
	}{
		{bus.RunStartedSubject, "history-runs-started", i.handleRunStarted},
		{bus.FileFinishedSubject, "history-files-finished", i.handleFileFinished},
		{bus.RunFinishedSubject, "history-runs-finished", i.handleRunFinished},
	}

	for _, c := range consumers {
		sub, err := i.sub.Subscribe(ctx, c.subject, c.durable, i.observe(c.subject, c.handle))
		if err != nil {
			_ = i.Close()
			return fmt.Errorf("subscribe %s: %w", c.subject, err)
		}
		i.subMu.Lock()
		i.subs = append(i.subs, sub)
		i.subMu.Unlock()
	}
	return nil
}

// Close stops every subscription created by Start.
func (i *Ingestor) Close() error {
	if i == nil {
		return nil
	}

	i.subMu.Lock()
	defer i.subMu.Unlock()

	var errs []error
	for _, s := range i.subs {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	i.subs = nil
	return errors.Join(errs...)
}

func (i *Ingestor) observe(subject string, fn func(context.Context, []byte) error) func(context.Context, []byte) error {
	return func(ctx context.Context, data []byte) error {
		err := fn(ctx, data)
		i.metrics.EventConsumed(subject, err)
		if err != nil {
			i.logger.Error().Err(err).Str("subject", subject).Msg("event ingest failed")
		}
		return err
	}
}

func (i *Ingestor) handleRunStarted(ctx context.Context, data []byte) error {
	var evt bus.RunStarted
	if err := json.Unmarshal(data, &evt); err != nil {
		return bus.Permanent(err)
	}
	if evt.RunID == uuid.Nil {
		return bus.Permanent(errors.New("run_id missing from event"))
	}
	if evt.StartedAt.IsZero() {
		evt.StartedAt = i.now()
	}
	return i.store.RecordRunStarted(ctx, evt)
}

func (i *Ingestor) handleFileFinished(ctx context.Context, data []byte) error {
	var evt bus.FileFinished
	if err := json.Unmarshal(data, &evt); err != nil {
		return bus.Permanent(err)
	}
	if evt.RunID == uuid.Nil {
		return bus.Permanent(errors.New("run_id missing from event"))
	}
	if evt.FileID == uuid.Nil {
		return bus.Permanent(errors.New("file_id missing from event"))
	}
	if evt.Path == "" {
		return bus.Permanent(errors.New("path missing from event"))
	}
	if evt.FinishedAt.IsZero() {
		evt.FinishedAt = i.now()
	}
	if evt.StartedAt.IsZero() {
		evt.StartedAt = evt.FinishedAt
	}
	return i.store.RecordFile(ctx, evt)
}

func (i *Ingestor) handleRunFinished(ctx context.Context, data []byte) error {
	var evt bus.RunFinished
	if err := json.Unmarshal(data, &evt); err != nil {
		return bus.Permanent(err)
	}
	if evt.RunID == uuid.Nil {
		return bus.Permanent(errors.New("run_id missing from event"))
	}
	if evt.Failed < 0 || evt.Failed > evt.Files {
		return bus.Permanent(fmt.Errorf("failed count %d out of range for %d files", evt.Failed, evt.Files))
	}
	if evt.FinishedAt.IsZero() {
		evt.FinishedAt = i.now()
	}
	return i.store.RecordRunFinished(ctx, evt)
}

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultMaxDeliver bounds redelivery of a message whose handler keeps failing.
const DefaultMaxDeliver = 10

// Bus wraps a NATS JetStream connection for publishing and consuming run events.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  zerolog.Logger
}

// New connects to url. Connection state changes are logged on logger.
func New(url string, logger zerolog.Logger, opts ...nats.Option) (*Bus, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}

	opts = append([]nats.Option{
		nats.Name("fleettag"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}, opts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: jetstream: %w", err)
	}

	return &Bus{conn: nc, js: js, log: logger}, nil
}

// EnsureStream creates the fleettag stream covering every event subject, or
// leaves an existing one untouched.
func (b *Bus) EnsureStream() error {
	if b == nil {
		return errors.New("nil bus")
	}
	if _, err := b.js.StreamInfo(StreamName); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("bus: stream info: %w", err)
	}
	_, err := b.js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{SubjectPrefix + ">"},
		Storage:    nats.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("bus: add stream: %w", err)
	}
	return nil
}

// Close drains the connection so in-flight acks are delivered.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it to subj. A non-empty msgID lets
// the stream drop duplicates inside its dedup window.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	return b.PublishWithID(ctx, subj, "", v)
}

// PublishWithID is Publish with an explicit deduplication id.
func (b *Bus) PublishWithID(ctx context.Context, subj, msgID string, v any) error {
	if b == nil {
		return errors.New("nil bus")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: encode %s: %w", subj, err)
	}

	opts := []nats.PubOpt{nats.Context(ctx)}
	if msgID != "" {
		opts = append(opts, nats.MsgId(msgID))
	}
	if _, err := b.js.Publish(subj, data, opts...); err != nil {
		return fmt.Errorf("bus: publish %s: %w", subj, err)
	}
	return nil
}

// permanentError marks a handler failure that redelivery cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Subscribe terminates the message instead of
// scheduling a redelivery.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type subscription struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	closed bool
}

func (s *subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sub.Drain()
}

// Subscribe creates a durable consumer on subj and invokes fn for each
// message. A nil error acks, a Permanent error terminates, any other error
// naks for redelivery up to DefaultMaxDeliver attempts.
func (b *Bus) Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error) {
	if b == nil {
		return nil, errors.New("nil bus")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}
	if durable == "" {
		return nil, errors.New("durable name is required")
	}

	handler := func(msg *nats.Msg) {
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		err := fn(handlerCtx, msg.Data)
		switch {
		case err == nil:
			_ = msg.Ack()
		case IsPermanent(err):
			b.log.Warn().Err(err).Str("subject", subj).Str("durable", durable).Msg("dropping undeliverable message")
			_ = msg.Term()
		default:
			_ = msg.NakWithDelay(time.Second)
		}
	}

	sub, err := b.js.Subscribe(subj, handler,
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverAll(),
		nats.MaxDeliver(DefaultMaxDeliver),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", subj, err)
	}

	s := &subscription{sub: sub}

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	return s, nil
}

package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/reliabus/errors"
)

// Sender publishes frames on a single subject
type Sender struct {
	conn    Conn
	subject string
	opts    options
}

// NewSender creates a Sender for subject. Call Setup before the first Send
// when a stream is configured.
func NewSender(conn Conn, subject string, opts ...Option) (*Sender, error) {
	if conn == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "Sender", "NewSender", "check connection")
	}
	if subject == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Sender", "NewSender", "check subject")
	}
	return &Sender{
		conn:    conn,
		subject: subject,
		opts:    buildOptions("bus.sender", opts),
	}, nil
}

// Subject returns the subject frames are published on
func (s *Sender) Subject() string {
	return s.subject
}

// Setup creates or updates the router stream when one is configured
func (s *Sender) Setup(ctx context.Context) error {
	if s.opts.stream == "" {
		return nil
	}

	_, err := s.conn.EnsureStream(ctx, jetstream.StreamConfig{
		Name:      s.opts.stream,
		Subjects:  []string{s.subject},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.MemoryStorage,
		Discard:   jetstream.DiscardOld,
		MaxAge:    time.Hour,
	})
	if err != nil {
		return errors.Wrap(err, "Sender", "Setup", fmt.Sprintf("ensure stream %s", s.opts.stream))
	}
	s.opts.logger.Info("router stream ready", "stream", s.opts.stream, "subject", s.subject)
	return nil
}

// Send publishes frame. With a stream configured it waits for the stream ack.
// With a rate limit it first waits for a token, bounded by ctx.
func (s *Sender) Send(ctx context.Context, frame []byte) error {
	if s.opts.limiter != nil {
		if err := s.opts.limiter.Wait(ctx); err != nil {
			return errors.WrapTransient(err, "Sender", "Send", "wait for send rate")
		}
	}

	var err error
	if s.opts.stream != "" {
		err = s.conn.PublishToStream(ctx, s.subject, frame)
	} else {
		err = s.conn.Publish(ctx, s.subject, frame)
	}
	if err != nil {
		if s.opts.metrics != nil {
			s.opts.metrics.RecordError("bus.sender", errors.Classify(err).String())
		}
		return errors.WrapTransient(err, "Sender", "Send", "publish to "+s.subject)
	}

	if s.opts.metrics != nil {
		s.opts.metrics.RecordPublished(s.subject)
	}
	return nil
}

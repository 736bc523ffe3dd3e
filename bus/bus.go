// Package bus adapts a NATS connection to the two directions the relay
// loops need: a Sender that publishes frames point-to-point on the router
// subject, and a Receiver that aggregates every publisher subject into one
// stream of frames.
//
// Neither side adds reliability. A nil error from Send means the frame was
// handed to the transport, not that anyone received it.
package bus

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/time/rate"

	"github.com/c360/reliabus/metric"
)

// Conn is the subset of natsclient.Client the adapters use
type Conn interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishToStream(ctx context.Context, subject string, data []byte) error
	EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	ChanSubscribe(subject string, ch chan *nats.Msg) error
}

// DefaultBufferSize is the receive channel capacity shared by all publisher
// subscriptions.
const DefaultBufferSize = 4096

type options struct {
	logger     *slog.Logger
	metrics    *metric.Metrics
	stream     string
	bufferSize int
	limiter    *rate.Limiter
}

// Option configures a Sender or Receiver
type Option func(*options)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records traffic in the core metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithStream makes the Sender publish through a JetStream stream of the
// given name bound to its subject. Ignored by Receiver.
func WithStream(name string) Option {
	return func(o *options) {
		o.stream = name
	}
}

// WithBufferSize sets the Receiver channel capacity. Ignored by Sender.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithRateLimit caps Sender publishes at perSecond with the given burst.
// A non-positive rate leaves sends unlimited. Ignored by Receiver.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		if perSecond <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{
		logger:     slog.Default(),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", component)
	return o
}

// Package echo is a multiply service that answers requests from the router
// subject on one of the publisher subjects. It stands in for the system
// under test and can inject the faults the relay is meant to survive:
// dropped, duplicated and corrupted responses.
package echo

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/reliabus/codec"
	"github.com/c360/reliabus/errors"
	"github.com/c360/reliabus/metric"
)

// Receiver yields request frames
type Receiver interface {
	Receive(ctx context.Context) ([]byte, error)
}

// Sender publishes a response frame
type Sender interface {
	Send(ctx context.Context, frame []byte) error
}

// Faults are independent per-request probabilities in [0, 1]
type Faults struct {
	Drop      float64
	Duplicate float64
	Corrupt   float64
}

// Validate checks every probability is within [0, 1]
func (f Faults) Validate() error {
	for name, p := range map[string]float64{"drop": f.Drop, "duplicate": f.Duplicate, "corrupt": f.Corrupt} {
		if p < 0 || p > 1 {
			return errors.WrapFatal(
				fmt.Errorf("%w: %s probability %v outside [0, 1]", errors.ErrInvalidConfig, name, p),
				"Faults", "Validate", "check fault probabilities")
		}
	}
	return nil
}

// Outcomes counted per request
const (
	OutcomeAnswered   = "answered"
	OutcomeDropped    = "dropped"
	OutcomeDuplicated = "duplicated"
	OutcomeCorrupted  = "corrupted"
	OutcomeIgnored    = "ignored"
	OutcomeFailed     = "failed"
)

// Service answers multiply requests
type Service struct {
	receiver Receiver
	senders  []Sender
	faults   Faults
	rng      *rand.Rand
	logger   *slog.Logger
	requests *prometheus.CounterVec
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRand sets the random source for faults and publisher choice
func WithRand(rng *rand.Rand) Option {
	return func(s *Service) {
		s.rng = rng
	}
}

// New creates a Service reading requests from receiver and answering on a
// randomly chosen sender.
func New(receiver Receiver, senders []Sender, faults Faults, opts ...Option) (*Service, error) {
	if receiver == nil || len(senders) == 0 {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Service", "New", "check receiver and senders")
	}
	if err := faults.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		receiver: receiver,
		senders:  senders,
		faults:   faults,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "echo")
	return s, nil
}

// RegisterMetrics registers the per-outcome request counter
func (s *Service) RegisterMetrics(registrar metric.MetricsRegistrar) error {
	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metric.Namespace,
		Subsystem: "echo",
		Name:      "requests_total",
		Help:      "Requests handled by the echo service, by outcome",
	}, []string{"outcome"})
	return registrar.RegisterCounterVec("echo", "requests_total", s.requests)
}

// Run answers requests until ctx is cancelled
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("echo service started",
		"publishers", len(s.senders),
		"drop", s.faults.Drop,
		"duplicate", s.faults.Duplicate,
		"corrupt", s.faults.Corrupt)

	for {
		frame, err := s.receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("failed to receive request", "error", err)
			continue
		}
		s.Handle(ctx, frame)
	}
}

// Handle answers one request frame
func (s *Service) Handle(ctx context.Context, frame []byte) {
	kind, rest, err := codec.DecodeKind(frame)
	if err != nil || kind != codec.KindMultiplyRequest {
		s.count(OutcomeIgnored)
		return
	}
	id, rest, err := codec.DecodeID(rest)
	if err != nil {
		s.logger.Warn("dropping request without id", "error", err)
		s.count(OutcomeIgnored)
		return
	}
	req, err := codec.DecodePayload[codec.MultiplyRequest](rest)
	if err != nil {
		s.logger.Warn("dropping undecodable request", "id", id, "error", err)
		s.count(OutcomeIgnored)
		return
	}

	if s.hit(s.faults.Drop) {
		s.logger.Debug("dropping request", "id", id)
		s.count(OutcomeDropped)
		return
	}

	result := req.Value * req.Multiplier
	outcome := OutcomeAnswered
	if s.hit(s.faults.Corrupt) {
		result++
		outcome = OutcomeCorrupted
	}

	out, err := codec.EncodeResponse(id, codec.MultiplyResponse{Result: result})
	if err != nil {
		s.logger.Error("failed to encode response", "id", id, "error", err)
		s.count(OutcomeFailed)
		return
	}

	copies := 1
	if s.hit(s.faults.Duplicate) {
		copies = 2
		if outcome == OutcomeAnswered {
			outcome = OutcomeDuplicated
		}
	}
	for i := 0; i < copies; i++ {
		sender := s.senders[s.rng.IntN(len(s.senders))]
		if err := sender.Send(ctx, out); err != nil {
			s.logger.Error("failed to send response", "id", id, "error", err)
			s.count(OutcomeFailed)
			return
		}
	}
	s.count(outcome)
}

func (s *Service) hit(p float64) bool {
	return p > 0 && s.rng.Float64() < p
}

func (s *Service) count(outcome string) {
	if s.requests != nil {
		s.requests.WithLabelValues(outcome).Inc()
	}
}

package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/c360/reliabus/codec"
	"github.com/c360/reliabus/errors"
)

// Receiver yields frames read from the publisher subjects
type Receiver interface {
	Receive(ctx context.Context) ([]byte, error)
}

// Responder matches responses to pending requests and resolves them
type Responder struct {
	store    *Store
	receiver Receiver
	settings Settings
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *Metrics

	confirmed *Counter
	resolved  *lru.Cache[uuid.UUID, struct{}]
}

// ResponderOption configures a Responder
type ResponderOption func(*Responder)

// WithResponderLogger sets the logger
func WithResponderLogger(logger *slog.Logger) ResponderOption {
	return func(r *Responder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResponderMetrics records response outcomes
func WithResponderMetrics(m *Metrics) ResponderOption {
	return func(r *Responder) {
		r.metrics = m
	}
}

// WithResponderClock replaces the wall clock used in progress lines
func WithResponderClock(c clock.Clock) ResponderOption {
	return func(r *Responder) {
		if c != nil {
			r.clock = c
		}
	}
}

// NewResponder creates a Responder resolving requests in store
func NewResponder(store *Store, receiver Receiver, settings Settings, opts ...ResponderOption) (*Responder, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if store == nil || receiver == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Responder", "NewResponder", "check store and receiver")
	}

	r := &Responder{
		store:     store,
		receiver:  receiver,
		settings:  settings,
		clock:     clock.New(),
		logger:    slog.Default(),
		confirmed: NewCounter(settings.GroupSize),
	}
	if settings.Tombstones > 0 {
		cache, err := lru.New[uuid.UUID, struct{}](settings.Tombstones)
		if err != nil {
			return nil, errors.WrapFatal(err, "Responder", "NewResponder", "create tombstone cache")
		}
		r.resolved = cache
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "responder")
	return r, nil
}

// Confirmed returns how many responses matched their expected result
func (r *Responder) Confirmed() uint64 {
	return r.confirmed.Load()
}

// Run handles frames until ctx is cancelled. Receive errors other than
// cancellation are logged and the loop continues.
func (r *Responder) Run(ctx context.Context) error {
	r.logger.Info("response loop started")
	for {
		frame, err := r.receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("failed to receive message", "error", err)
			continue
		}
		r.Handle(frame)
	}
}

// Handle processes one frame. Frames that are not multiply responses, or
// that name an id which is not pending, leave the store untouched.
func (r *Responder) Handle(frame []byte) {
	kind, rest, err := codec.DecodeKind(frame)
	if err != nil {
		r.logger.Error("failed to decode message kind", "error", err)
		r.metrics.response(OutcomeDecodeError)
		return
	}
	if kind != codec.KindMultiplyResponse {
		r.logger.Log(context.Background(), LevelTrace, "ignored message", "kind", kind.String())
		r.metrics.response(OutcomeIgnored)
		return
	}

	id, payload, err := codec.DecodeID(rest)
	if err != nil {
		r.logger.Error("failed to decode correlation id", "error", err)
		r.metrics.response(OutcomeDecodeError)
		return
	}

	req, ok := r.store.Lookup(id)
	if !ok {
		r.logger.Error("unexpected correlation id", "id", id, "reason", r.absentReason(id))
		r.metrics.response(OutcomeUnexpected)
		return
	}

	resp, err := codec.DecodePayload[codec.MultiplyResponse](payload)
	if err != nil {
		// Left pending; the resend will ask again
		r.logger.Error("failed to decode response payload", "id", id, "error", err)
		r.metrics.response(OutcomeDecodeError)
		return
	}

	if resp.Result != req.ExpectedResult {
		r.logger.Error("response result mismatch",
			"id", id,
			"value", req.Value,
			"multiplier", req.Multiplier,
			"expected", req.ExpectedResult,
			"received", resp.Result)
		r.resolve(id)
		r.metrics.response(OutcomeMismatch)
		return
	}

	r.resolve(id)
	r.metrics.response(OutcomeConfirmed)
	n, boundary := r.confirmed.Inc()
	r.logger.Log(context.Background(), LevelTrace, "request confirmed", "id", id)
	if boundary {
		r.logger.Info("response progress", "time", r.clock.Now().Format(time.RFC3339Nano), "confirmed", n)
	}
}

func (r *Responder) resolve(id uuid.UUID) {
	r.store.Remove(id)
	if r.resolved != nil {
		r.resolved.Add(id, struct{}{})
	}
	r.metrics.pending(r.store.Len())
}

func (r *Responder) absentReason(id uuid.UUID) string {
	if r.resolved != nil && r.resolved.Contains(id) {
		return "resolved"
	}
	return "unknown"
}

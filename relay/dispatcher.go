package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/c360/reliabus/codec"
	"github.com/c360/reliabus/errors"
)

// Sender hands an encoded frame to the bus
type Sender interface {
	Send(ctx context.Context, frame []byte) error
}

// Encoder turns a request into a bus frame
type Encoder func(id uuid.UUID, req codec.MultiplyRequest) ([]byte, error)

// Dispatcher generates requests, sends them and resends stale ones
type Dispatcher struct {
	store     *Store
	sender    Sender
	generator Generator
	encode    Encoder
	settings  Settings
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *Metrics

	sent     *Counter
	lastScan time.Time
	backlog  []Staged
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherMetrics records sends and send errors
func WithDispatcherMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithClock replaces the wall clock, for tests
func WithClock(c clock.Clock) DispatcherOption {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithGenerator replaces the random request generator
func WithGenerator(g Generator) DispatcherOption {
	return func(d *Dispatcher) {
		if g != nil {
			d.generator = g
		}
	}
}

// WithEncoder replaces the request frame encoder
func WithEncoder(enc Encoder) DispatcherOption {
	return func(d *Dispatcher) {
		if enc != nil {
			d.encode = enc
		}
	}
}

// NewDispatcher creates a Dispatcher writing to store and sending through sender
func NewDispatcher(store *Store, sender Sender, settings Settings, opts ...DispatcherOption) (*Dispatcher, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if store == nil || sender == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Dispatcher", "NewDispatcher", "check store and sender")
	}

	d := &Dispatcher{
		store:     store,
		sender:    sender,
		generator: NewRandomGenerator(settings.MaxOperand, nil),
		encode:    codec.EncodeRequest,
		settings:  settings,
		clock:     clock.New(),
		logger:    slog.Default(),
		sent:      NewCounter(settings.GroupSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")
	return d, nil
}

// Sent returns how many sends have succeeded, resends included
func (d *Dispatcher) Sent() uint64 {
	return d.sent.Load()
}

// Run sends batches until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	d.lastScan = d.clock.Now()
	d.logger.Info("dispatch loop started",
		"group_size", d.settings.GroupSize,
		"resend_interval", d.settings.ResendInterval)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.runBatch(ctx); err != nil {
			return err
		}
	}
}

type batchItem struct {
	id     uuid.UUID
	req    Request
	resend bool
}

// runBatch scans for stale requests when a resend interval has passed, then
// sends one group: backlog first, topped up with new requests.
func (d *Dispatcher) runBatch(ctx context.Context) error {
	now := d.clock.Now()
	if now.Sub(d.lastScan) > d.settings.ResendInterval {
		d.lastScan = now
		d.claimStale(now)
	}

	for sent := 0; sent < d.settings.GroupSize; {
		item, ok := d.next()
		if !ok {
			continue
		}
		if err := d.dispatch(ctx, item); err != nil {
			return err
		}
		sent++
	}
	return nil
}

func (d *Dispatcher) claimStale(now time.Time) {
	claimed := d.store.ClaimStale(now, d.settings.ResendInterval)
	d.logger.Debug("resending stale requests", "count", len(claimed), "backlog", len(d.backlog))

	if len(d.backlog) == 0 {
		d.backlog = claimed
		return
	}
	queued := make(map[uuid.UUID]struct{}, len(d.backlog))
	for _, s := range d.backlog {
		queued[s.ID] = struct{}{}
	}
	for _, s := range claimed {
		if _, dup := queued[s.ID]; !dup {
			d.backlog = append(d.backlog, s)
		}
	}
}

// next pops the backlog or generates a new request. A backlog entry that
// was resolved after it was claimed is skipped.
func (d *Dispatcher) next() (batchItem, bool) {
	if len(d.backlog) == 0 {
		id, req := d.generator.Generate()
		return batchItem{id: id, req: req}, true
	}

	s := d.backlog[0]
	d.backlog[0] = Staged{}
	d.backlog = d.backlog[1:]
	if !d.store.Contains(s.ID) {
		d.logger.Log(context.Background(), LevelTrace, "skipping resolved resend", "id", s.ID)
		return batchItem{}, false
	}
	return batchItem{id: s.ID, req: s.Request, resend: true}, true
}

// dispatch encodes and sends item, retrying the same item until it goes out.
// Only a new request is inserted, and only after it was sent.
func (d *Dispatcher) dispatch(ctx context.Context, item batchItem) error {
	for {
		frame, err := d.encode(item.id, codec.MultiplyRequest{
			Value:      item.req.Value,
			Multiplier: item.req.Multiplier,
		})
		if err != nil {
			d.logger.Error("failed to encode request", "id", item.id, "error", err)
			d.metrics.sendError("encode")
			if err := d.pause(ctx); err != nil {
				return err
			}
			continue
		}

		if err := d.sender.Send(ctx, frame); err != nil {
			d.logger.Error("failed to send request", "id", item.id, "resend", item.resend, "error", err)
			d.metrics.sendError("transmit")
			if err := d.pause(ctx); err != nil {
				return err
			}
			continue
		}

		d.logger.Log(ctx, LevelTrace, "sent request", "id", item.id, "resend", item.resend)
		break
	}

	if !item.resend {
		item.req.LastSendAttempt = d.clock.Now()
		if !d.store.Insert(item.id, item.req) {
			d.logger.Error("correlation id already pending", "id", item.id)
		}
	}
	d.metrics.sent(item.resend)
	d.metrics.pending(d.store.Len())

	if n, boundary := d.sent.Inc(); boundary {
		d.logger.Info("dispatch progress", "time", d.clock.Now().Format(time.RFC3339Nano), "sent", n)
	}
	return nil
}

func (d *Dispatcher) pause(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if d.settings.RetryDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.clock.After(d.settings.RetryDelay):
		return nil
	}
}

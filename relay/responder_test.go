package relay

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/multiformats/go-varint"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/reliabus/codec"
	"github.com/c360/reliabus/metric"
)

type responderFixture struct {
	r        *Responder
	store    *Store
	receiver *chanReceiver
	metrics  *Metrics
	logs     *logBuffer
}

func newResponderFixture(t *testing.T, settings Settings) *responderFixture {
	t.Helper()
	logger, logs := newTestLogger()
	registry := metric.NewMetricsRegistry()
	metrics, err := NewMetrics(registry)
	require.NoError(t, err)

	f := &responderFixture{
		store:    NewStore(),
		receiver: newChanReceiver(),
		metrics:  metrics,
		logs:     logs,
	}
	f.r, err = NewResponder(f.store, f.receiver, settings,
		WithResponderLogger(logger), WithResponderMetrics(metrics))
	require.NoError(t, err)
	return f
}

func (f *responderFixture) outcome(name string) float64 {
	return testutil.ToFloat64(f.metrics.Responses.WithLabelValues(name))
}

func TestResponder_ConfirmsMatchingResponse(t *testing.T) {
	f := newResponderFixture(t, testSettings(100))
	id := uuid.New()
	require.True(t, f.store.Insert(id, NewRequest(3, 4)))

	f.r.Handle(responseFrame(t, id, 12))

	assert.False(t, f.store.Contains(id))
	assert.Equal(t, uint64(1), f.r.Confirmed())
	assert.Equal(t, 1.0, f.outcome(OutcomeConfirmed))
}

func TestResponder_UnknownIDLeavesStateUnchanged(t *testing.T) {
	f := newResponderFixture(t, testSettings(100))
	pending := uuid.New()
	require.True(t, f.store.Insert(pending, NewRequest(2, 2)))

	f.r.Handle(responseFrame(t, uuid.New(), 4))

	assert.Equal(t, 1, f.store.Len())
	assert.True(t, f.store.Contains(pending))
	assert.Equal(t, uint64(0), f.r.Confirmed())
	assert.Equal(t, 1, f.logs.count("unexpected correlation id"))
	assert.Contains(t, f.logs.String(), `"reason":"unknown"`)
	assert.Equal(t, 1.0, f.outcome(OutcomeUnexpected))
}

func TestResponder_MismatchResolvesWithoutConfirming(t *testing.T) {
	f := newResponderFixture(t, testSettings(100))
	id := uuid.New()
	require.True(t, f.store.Insert(id, NewRequest(3, 4)))

	f.r.Handle(responseFrame(t, id, 13))

	assert.False(t, f.store.Contains(id))
	assert.Equal(t, uint64(0), f.r.Confirmed())
	assert.Equal(t, 1, f.logs.count("response result mismatch"))
	assert.Equal(t, 1.0, f.outcome(OutcomeMismatch))
}

func TestResponder_LateDuplicateIsReportedAsResolved(t *testing.T) {
	f := newResponderFixture(t, testSettings(100))
	id := uuid.New()
	require.True(t, f.store.Insert(id, NewRequest(5, 5)))

	f.r.Handle(responseFrame(t, id, 25))
	f.r.Handle(responseFrame(t, id, 25))

	assert.Equal(t, uint64(1), f.r.Confirmed())
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, 1, f.logs.count("unexpected correlation id"))
	assert.Contains(t, f.logs.String(), `"reason":"resolved"`)
}

func TestResponder_WithoutTombstones(t *testing.T) {
	settings := testSettings(100)
	settings.Tombstones = 0
	f := newResponderFixture(t, settings)
	id := uuid.New()
	require.True(t, f.store.Insert(id, NewRequest(5, 5)))

	f.r.Handle(responseFrame(t, id, 25))
	f.r.Handle(responseFrame(t, id, 25))

	assert.Contains(t, f.logs.String(), `"reason":"unknown"`)
}

func TestResponder_IgnoresOtherKinds(t *testing.T) {
	f := newResponderFixture(t, testSettings(100))
	id := uuid.New()
	require.True(t, f.store.Insert(id, NewRequest(3, 4)))

	// A request frame carrying a pending id must not resolve it
	req, err := codec.EncodeRequest(id, codec.MultiplyRequest{Value: 3, Multiplier: 4})
	require.NoError(t, err)
	f.r.Handle(req)

	unknown := append(varint.ToUvarint(99), id[:]...)
	unknown = append(unknown, []byte(`{"result":12}`)...)
	f.r.Handle(unknown)

	assert.True(t, f.store.Contains(id))
	assert.Equal(t, uint64(0), f.r.Confirmed())
	assert.Equal(t, 2, f.logs.count("ignored message"))
	assert.Equal(t, 0, f.logs.count("unexpected correlation id"))
	assert.Equal(t, 2.0, f.outcome(OutcomeIgnored))
}

func TestResponder_BadPayloadKeepsRequestPending(t *testing.T) {
	f := newResponderFixture(t, testSettings(100))
	id := uuid.New()
	require.True(t, f.store.Insert(id, NewRequest(3, 4)))

	frame := append(varint.ToUvarint(uint64(codec.KindMultiplyResponse)), id[:]...)
	frame = append(frame, []byte(`{"result":`)...)
	f.r.Handle(frame)

	assert.True(t, f.store.Contains(id))
	assert.Equal(t, 1, f.logs.count("failed to decode response payload"))
	assert.Equal(t, 1.0, f.outcome(OutcomeDecodeError))

	// The resent request's response still resolves it
	f.r.Handle(responseFrame(t, id, 12))
	assert.False(t, f.store.Contains(id))
	assert.Equal(t, uint64(1), f.r.Confirmed())
}

func TestResponder_EmptyPayloadKeepsRequestPending(t *testing.T) {
	f := newResponderFixture(t, testSettings(100))
	zero := uuid.New()
	other := uuid.New()
	require.True(t, f.store.Insert(zero, NewRequest(0, 7)))
	require.True(t, f.store.Insert(other, NewRequest(3, 4)))

	for _, id := range []uuid.UUID{zero, other} {
		for _, payload := range []string{`{}`, `null`, `{"result":null}`} {
			frame := append(varint.ToUvarint(uint64(codec.KindMultiplyResponse)), id[:]...)
			f.r.Handle(append(frame, payload...))
		}
	}

	assert.True(t, f.store.Contains(zero), "an empty payload must not confirm a zero product")
	assert.True(t, f.store.Contains(other), "an empty payload must not resolve as a mismatch")
	assert.Equal(t, uint64(0), f.r.Confirmed())
	assert.Equal(t, 0, f.logs.count("response result mismatch"))
	assert.Equal(t, 6, f.logs.count("failed to decode response payload"))
	assert.Equal(t, 6.0, f.outcome(OutcomeDecodeError))
}

func TestResponder_TruncatedFrames(t *testing.T) {
	f := newResponderFixture(t, testSettings(100))
	id := uuid.New()
	require.True(t, f.store.Insert(id, NewRequest(3, 4)))

	f.r.Handle(nil)
	f.r.Handle([]byte{0x80})
	f.r.Handle(append(varint.ToUvarint(uint64(codec.KindMultiplyResponse)), id[:8]...))

	assert.Equal(t, 2, f.logs.count("failed to decode message kind"))
	assert.Equal(t, 1, f.logs.count("failed to decode correlation id"))
	assert.True(t, f.store.Contains(id))
	assert.Equal(t, 3.0, f.outcome(OutcomeDecodeError))
}

func TestResponder_ProgressLogEveryGroup(t *testing.T) {
	f := newResponderFixture(t, testSettings(2))

	for i := 0; i < 5; i++ {
		id := uuid.New()
		require.True(t, f.store.Insert(id, NewRequest(int64(i), 2)))
		f.r.Handle(responseFrame(t, id, int64(i)*2))
	}

	assert.Equal(t, uint64(5), f.r.Confirmed())
	assert.Equal(t, 2, f.logs.count("response progress"))
}

func TestResponder_Run(t *testing.T) {
	f := newResponderFixture(t, testSettings(100))
	id := uuid.New()
	require.True(t, f.store.Insert(id, NewRequest(6, 7)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.r.Run(ctx) }()

	f.receiver.ch <- responseFrame(t, id, 42)
	require.Eventually(t, func() bool { return f.r.Confirmed() == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

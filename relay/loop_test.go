package relay

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lossyLoopback answers requests in memory, dropping the first
// transmission of every id and answering each later one twice.
type lossyLoopback struct {
	t        *testing.T
	seen     map[uuid.UUID]int
	received *chanReceiver
}

func (l *lossyLoopback) onSend(frame []byte) {
	id, req := decodeRequest(l.t, frame)
	l.seen[id]++
	if l.seen[id] == 1 {
		return
	}
	resp := responseFrame(l.t, id, req.Value*req.Multiplier)
	l.received.ch <- resp
	l.received.ch <- resp
}

func drain(r *Responder, rc *chanReceiver) {
	for {
		select {
		case frame := <-rc.ch:
			r.Handle(frame)
		default:
			return
		}
	}
}

func TestLoops_RecoverLostRequests(t *testing.T) {
	settings := testSettings(4)
	df := newDispatcherFixture(t, settings)

	loop := &lossyLoopback{t: t, seen: make(map[uuid.UUID]int), received: newChanReceiver()}
	df.sender.onSend = loop.onSend

	responder, err := NewResponder(df.store, loop.received, settings)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, df.d.runBatch(ctx))
	drain(responder, loop.received)

	lost := df.sentIDs(t)
	assert.Equal(t, 4, df.store.Len(), "every first transmission was lost")
	assert.Equal(t, uint64(0), responder.Confirmed())

	df.clock.Add(settings.ResendInterval + time.Millisecond)
	require.NoError(t, df.d.runBatch(ctx))
	drain(responder, loop.received)

	for _, id := range lost {
		assert.False(t, df.store.Contains(id), "resent request %s should be resolved", id)
		assert.Equal(t, 2, loop.seen[id])
	}
	assert.Equal(t, uint64(4), responder.Confirmed(), "duplicates do not count twice")

	// Nothing resolved comes back, however long we run
	for i := 0; i < 3; i++ {
		df.clock.Add(settings.ResendInterval + time.Millisecond)
		require.NoError(t, df.d.runBatch(ctx))
		drain(responder, loop.received)
	}
	for _, id := range lost {
		assert.False(t, df.store.Contains(id))
		assert.Equal(t, 2, loop.seen[id], "resolved id was sent again")
	}
}

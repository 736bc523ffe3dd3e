package relay

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/c360/reliabus/codec"
)

// logBuffer collects JSON log lines
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) count(msg string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Count(b.buf.String(), `"msg":"`+msg+`"`)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *logBuffer) {
	buf := &logBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: LevelTrace})), buf
}

// recordingSender keeps every frame it is given. The first failures calls
// return errSend.
type recordingSender struct {
	mu       sync.Mutex
	frames   [][]byte
	failures int
	onSend   func(frame []byte)
}

var errSend = errors.New("bus unavailable")

func (s *recordingSender) Send(_ context.Context, frame []byte) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errSend
	}
	s.frames = append(s.frames, frame)
	onSend := s.onSend
	s.mu.Unlock()

	if onSend != nil {
		onSend(frame)
	}
	return nil
}

func (s *recordingSender) sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

// chanReceiver serves frames pushed into ch
type chanReceiver struct {
	ch chan []byte
}

func newChanReceiver() *chanReceiver {
	return &chanReceiver{ch: make(chan []byte, 64)}
}

func (r *chanReceiver) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case b := <-r.ch:
		return b, nil
	}
}

// fixedGenerator hands out the given requests in order, then random ones
type fixedGenerator struct {
	ids  []uuid.UUID
	reqs []Request
}

func (g *fixedGenerator) Generate() (uuid.UUID, Request) {
	if len(g.ids) == 0 {
		return uuid.New(), NewRequest(1, 1)
	}
	id, req := g.ids[0], g.reqs[0]
	g.ids, g.reqs = g.ids[1:], g.reqs[1:]
	return id, req
}

func decodeRequest(t *testing.T, frame []byte) (uuid.UUID, codec.MultiplyRequest) {
	t.Helper()
	kind, rest, err := codec.DecodeKind(frame)
	require.NoError(t, err)
	require.Equal(t, codec.KindMultiplyRequest, kind)
	id, rest, err := codec.DecodeID(rest)
	require.NoError(t, err)
	req, err := codec.DecodePayload[codec.MultiplyRequest](rest)
	require.NoError(t, err)
	return id, req
}

func responseFrame(t *testing.T, id uuid.UUID, result int64) []byte {
	t.Helper()
	b, err := codec.EncodeResponse(id, codec.MultiplyResponse{Result: result})
	require.NoError(t, err)
	return b
}

func testSettings(group int) Settings {
	s := DefaultSettings()
	s.GroupSize = group
	s.RetryDelay = 0
	return s
}

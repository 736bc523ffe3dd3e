package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/reliabus/config"
	"github.com/c360/reliabus/internal/cli"
	"github.com/c360/reliabus/metric"
)

// loopConn delivers every publish to the channel subscribed on its subject
type loopConn struct {
	mu      sync.Mutex
	subs    map[string]chan *nats.Msg
	streams []jetstream.StreamConfig
	sent    map[string]int
}

func newLoopConn() *loopConn {
	return &loopConn{subs: make(map[string]chan *nats.Msg), sent: make(map[string]int)}
}

func (c *loopConn) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.Lock()
	c.sent[subject]++
	ch := c.subs[subject]
	c.mu.Unlock()
	if ch != nil {
		ch <- &nats.Msg{Subject: subject, Data: data}
	}
	return nil
}

func (c *loopConn) PublishToStream(ctx context.Context, subject string, data []byte) error {
	return c.Publish(ctx, subject, data)
}

func (c *loopConn) EnsureStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams = append(c.streams, cfg)
	return nil, nil
}

func (c *loopConn) ChanSubscribe(subject string, ch chan *nats.Msg) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[subject] = ch
	return nil
}

func (c *loopConn) sentTo(subject string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[subject]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reliabus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\nrelay:\n  group_size: 10\n"), 0o600))

	flags, err := cli.Parse(appName, []string{"-config", path, "-log-level", "warn"}, io.Discard)
	require.NoError(t, err)

	cfg, err := loadConfig(flags)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Relay.GroupSize)
}

func TestLoadConfig_InvalidFlagValue(t *testing.T) {
	flags, err := cli.Parse(appName, []string{"-log-level", "loud"}, io.Discard)
	require.NoError(t, err)

	_, err = loadConfig(flags)
	assert.Error(t, err)
}

func TestRelaySettings(t *testing.T) {
	cfg := config.Default().Relay
	settings := relaySettings(cfg)

	assert.Equal(t, cfg.GroupSize, settings.GroupSize)
	assert.Equal(t, cfg.ResendInterval, settings.ResendInterval)
	assert.Equal(t, cfg.RetryDelay, settings.RetryDelay)
	assert.Equal(t, cfg.MaxOperand, settings.MaxOperand)
	assert.Equal(t, cfg.Tombstones, settings.Tombstones)
	assert.NoError(t, settings.Validate())
}

func TestBuildRelay_SubscribesAndSends(t *testing.T) {
	cfg := config.Default()
	cfg.Relay.GroupSize = 5
	conn := newLoopConn()
	registry := metric.NewMetricsRegistry()

	dispatcher, responder, err := buildRelay(context.Background(), cfg, conn, registry, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, responder)

	conn.mu.Lock()
	for _, subject := range cfg.Bus.PublisherSubjects {
		assert.Contains(t, conn.subs, subject)
	}
	assert.Empty(t, conn.streams)
	conn.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dispatcher.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return conn.sentTo(cfg.Bus.RouterSubject) >= cfg.Relay.GroupSize
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestBuildRelay_RouterStream(t *testing.T) {
	cfg := config.Default()
	cfg.Bus.RouterStream = "BUS_ROUTER"
	conn := newLoopConn()

	_, _, err := buildRelay(context.Background(), cfg, conn, metric.NewMetricsRegistry(), discardLogger())
	require.NoError(t, err)

	require.Len(t, conn.streams, 1)
	assert.Equal(t, "BUS_ROUTER", conn.streams[0].Name)
	assert.Equal(t, []string{cfg.Bus.RouterSubject}, conn.streams[0].Subjects)
}

func TestBuildRelay_MetricsRegisteredOnce(t *testing.T) {
	cfg := config.Default()
	registry := metric.NewMetricsRegistry()

	_, _, err := buildRelay(context.Background(), cfg, newLoopConn(), registry, discardLogger())
	require.NoError(t, err)

	_, _, err = buildRelay(context.Background(), cfg, newLoopConn(), registry, discardLogger())
	assert.Error(t, err)
}

func TestRunLoops_FailureStopsTheOthers(t *testing.T) {
	boom := errors.New("receiver closed")
	stopped := make(chan struct{})

	err := runLoops(context.Background(),
		func(context.Context) error { return boom },
		func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return ctx.Err()
		},
	)
	assert.ErrorIs(t, err, boom)

	select {
	case <-stopped:
	default:
		t.Fatal("surviving loop was not cancelled")
	}
}

func TestRunLoops_BothRelayLoops(t *testing.T) {
	cfg := config.Default()
	cfg.Relay.GroupSize = 5
	conn := newLoopConn()

	dispatcher, responder, err := buildRelay(context.Background(), cfg, conn, metric.NewMetricsRegistry(), discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runLoops(ctx, responder.Run, dispatcher.Run) }()

	assert.Eventually(t, func() bool {
		return conn.sentTo(cfg.Bus.RouterSubject) >= cfg.Relay.GroupSize
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("loops did not stop")
	}
}

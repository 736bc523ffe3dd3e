package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/reliabus/config"
	"github.com/c360/reliabus/errors"
	"github.com/c360/reliabus/metric"
	"github.com/c360/reliabus/natsclient"
	"github.com/c360/reliabus/pkg/retry"
)

// connectTimeout bounds a single connection attempt
const connectTimeout = 10 * time.Second

// ClientOptions translates the NATS section of cfg into client options
func ClientOptions(cfg config.NATSConfig, logger *slog.Logger, registry *metric.MetricsRegistry) []natsclient.ClientOption {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectBufSize(cfg.ReconnectBuffer),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.ReconnectWait))
	}
	if cfg.ConnectTimeout > 0 {
		opts = append(opts, natsclient.WithTimeout(cfg.ConnectTimeout))
	}
	if cfg.PingInterval > 0 {
		opts = append(opts, natsclient.WithPingInterval(cfg.PingInterval))
	}
	if cfg.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(cfg.DrainTimeout))
	}
	if cfg.CircuitThreshold > 0 {
		opts = append(opts, natsclient.WithCircuitBreakerThreshold(cfg.CircuitThreshold))
	}
	if cfg.MaxBackoff > 0 {
		opts = append(opts, natsclient.WithMaxBackoff(cfg.MaxBackoff))
	}
	if cfg.Name != "" {
		opts = append(opts, natsclient.WithName(cfg.Name))
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	return opts
}

// Connect creates a NATS client and connects it, retrying transient
// failures. Any error returned is fatal for the process.
func Connect(
	ctx context.Context,
	cfg config.NATSConfig,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*natsclient.Client, error) {
	client, err := natsclient.NewClient(cfg.URL, ClientOptions(cfg, logger, registry)...)
	if err != nil {
		return nil, errors.WrapFatal(err, "cli", "Connect", "create NATS client")
	}

	err = retry.Do(ctx, retry.Quick(), errors.RetryUnlessPermanent(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := client.Connect(attemptCtx); err != nil {
			logger.Warn("NATS connection attempt failed",
				"url", cfg.URL,
				"failures", client.Failures(),
				"backoff", client.Backoff(),
				"status", client.Status().String(),
				"error", err)
			return err
		}
		return nil
	}))
	if err != nil {
		return nil, errors.WrapFatal(err, "cli", "Connect", "connect to NATS")
	}

	waitCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.WaitForConnection(waitCtx); err != nil {
		return nil, errors.WrapFatal(err, "cli", "Connect", "wait for NATS connection")
	}

	return client, nil
}

// StartMetrics serves registry in the background when the port is set.
// It returns nil when metrics are disabled.
func StartMetrics(
	cfg config.MetricsConfig,
	registry *metric.MetricsRegistry,
	healthy metric.HealthFunc,
	logger *slog.Logger,
) *metric.Server {
	if cfg.Port == 0 {
		logger.Debug("metrics server disabled")
		return nil
	}

	server := metric.NewServer(cfg.Port, cfg.Path, registry, healthy)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("metrics server started", "address", server.Address())
	return server
}

// RTTSource reports the current round trip to the server
type RTTSource interface {
	RTT() (time.Duration, error)
}

// WatchRTT samples the round trip of source every interval into the core
// NATS RTT gauge until ctx is done. Failed samples leave the gauge as is.
func WatchRTT(
	ctx context.Context,
	source RTTSource,
	registry *metric.MetricsRegistry,
	interval time.Duration,
	logger *slog.Logger,
) {
	if registry == nil || interval <= 0 {
		return
	}
	core := registry.CoreMetrics()

	sample := func() {
		rtt, err := source.RTT()
		if err != nil {
			logger.Debug("NATS RTT sample failed", "error", err)
			return
		}
		core.RecordNATSRTT(rtt)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}

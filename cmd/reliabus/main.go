// Package main runs the reliability layer: a dispatch loop publishing
// multiply requests on the router subject and a response loop confirming
// the answers arriving on the publisher subjects.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/c360/reliabus/bus"
	"github.com/c360/reliabus/config"
	"github.com/c360/reliabus/internal/cli"
	"github.com/c360/reliabus/metric"
	"github.com/c360/reliabus/relay"
)

const appName = "reliabus"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := cli.Parse(appName, args, os.Stderr)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if flags.ShowHelp {
		return nil
	}
	if flags.ShowVersion {
		fmt.Printf("%s version %s (%s)\n", appName, cli.Version, cli.BuildTime)
		return nil
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logger := cli.SetupLogger(os.Stdout, appName, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if flags.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	logger.Info("Starting reliabus",
		"version", cli.Version,
		"build_time", cli.BuildTime,
		"nats_url", cfg.NATS.URL,
		"router", cfg.Bus.RouterSubject,
		"publishers", cfg.Bus.PublisherSubjects)

	// Runs until the process is terminated.
	ctx := context.Background()

	registry := metric.NewMetricsRegistry()
	client, err := cli.Connect(ctx, cfg.NATS, logger, registry)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close(context.Background()) }()

	server := cli.StartMetrics(cfg.Metrics, registry, client.IsHealthy, logger)

	dispatcher, responder, err := buildRelay(ctx, cfg, client, registry, logger)
	if err != nil {
		return err
	}

	loops := []func(context.Context) error{responder.Run, dispatcher.Run}
	if server != nil {
		loops = append(loops, func(ctx context.Context) error {
			cli.WatchRTT(ctx, client, registry, cfg.Metrics.RTTInterval, logger)
			return nil
		})
	}
	return runLoops(ctx, loops...)
}

// runLoops runs every loop until one of them fails, then cancels the rest
// and returns the first error.
func runLoops(ctx context.Context, loops ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, loop := range loops {
		g.Go(func() error {
			return loop(gctx)
		})
	}
	return g.Wait()
}

func loadConfig(flags *cli.Flags) (*config.Config, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func relaySettings(cfg config.RelayConfig) relay.Settings {
	return relay.Settings{
		GroupSize:      cfg.GroupSize,
		ResendInterval: cfg.ResendInterval,
		RetryDelay:     cfg.RetryDelay,
		MaxOperand:     cfg.MaxOperand,
		Tombstones:     cfg.Tombstones,
	}
}

// buildRelay wires the bus adapters, the shared store and both loops
func buildRelay(
	ctx context.Context,
	cfg *config.Config,
	conn bus.Conn,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*relay.Dispatcher, *relay.Responder, error) {
	busOpts := []bus.Option{
		bus.WithLogger(logger),
		bus.WithMetrics(registry.CoreMetrics()),
		bus.WithBufferSize(cfg.Bus.ReceiveBuffer),
	}

	sender, err := bus.NewSender(conn, cfg.Bus.RouterSubject,
		append(busOpts,
			bus.WithStream(cfg.Bus.RouterStream),
			bus.WithRateLimit(cfg.Bus.SendRate, cfg.Bus.SendBurst))...)
	if err != nil {
		return nil, nil, fmt.Errorf("create sender: %w", err)
	}
	if err := sender.Setup(ctx); err != nil {
		return nil, nil, fmt.Errorf("set up sender: %w", err)
	}

	receiver, err := bus.NewReceiver(conn, cfg.Bus.PublisherSubjects, busOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create receiver: %w", err)
	}

	relayMetrics, err := relay.NewMetrics(registry)
	if err != nil {
		return nil, nil, fmt.Errorf("register relay metrics: %w", err)
	}

	settings := relaySettings(cfg.Relay)
	store := relay.NewStore()

	dispatcher, err := relay.NewDispatcher(store, sender, settings,
		relay.WithDispatcherLogger(logger),
		relay.WithDispatcherMetrics(relayMetrics))
	if err != nil {
		return nil, nil, fmt.Errorf("create dispatcher: %w", err)
	}

	responder, err := relay.NewResponder(store, receiver, settings,
		relay.WithResponderLogger(logger),
		relay.WithResponderMetrics(relayMetrics))
	if err != nil {
		return nil, nil, fmt.Errorf("create responder: %w", err)
	}

	return dispatcher, responder, nil
}

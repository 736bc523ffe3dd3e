// Package main runs the echo multiply service: it answers requests from the
// router subject on the publisher subjects, optionally dropping, duplicating
// or corrupting responses.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/reliabus/bus"
	"github.com/c360/reliabus/config"
	"github.com/c360/reliabus/echo"
	"github.com/c360/reliabus/internal/cli"
	"github.com/c360/reliabus/metric"
)

const appName = "reliabus-echo"

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

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cli.SetupLogger(os.Stdout, appName, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if flags.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	client, err := cli.Connect(ctx, cfg.NATS, logger, registry)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close(context.Background()) }()

	server := cli.StartMetrics(cfg.Metrics, registry, client.IsHealthy, logger)
	if server != nil {
		defer func() { _ = server.Stop() }()
		go cli.WatchRTT(ctx, client, registry, cfg.Metrics.RTTInterval, logger)
	}

	svc, err := buildService(cfg, client, registry, logger)
	if err != nil {
		return err
	}

	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("echo service stopped")
	return nil
}

// buildService subscribes to the router subject and creates one sender per
// publisher subject
func buildService(
	cfg *config.Config,
	conn bus.Conn,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*echo.Service, error) {
	busOpts := []bus.Option{
		bus.WithLogger(logger),
		bus.WithMetrics(registry.CoreMetrics()),
		bus.WithBufferSize(cfg.Bus.ReceiveBuffer),
	}

	receiver, err := bus.NewReceiver(conn, []string{cfg.Bus.RouterSubject}, busOpts...)
	if err != nil {
		return nil, fmt.Errorf("create receiver: %w", err)
	}

	senders := make([]echo.Sender, 0, len(cfg.Bus.PublisherSubjects))
	for _, subject := range cfg.Bus.PublisherSubjects {
		sender, err := bus.NewSender(conn, subject,
			append(busOpts, bus.WithRateLimit(cfg.Bus.SendRate, cfg.Bus.SendBurst))...)
		if err != nil {
			return nil, fmt.Errorf("create sender for %s: %w", subject, err)
		}
		senders = append(senders, sender)
	}

	faults := echo.Faults{
		Drop:      cfg.Echo.Drop,
		Duplicate: cfg.Echo.Duplicate,
		Corrupt:   cfg.Echo.Corrupt,
	}
	svc, err := echo.New(receiver, senders, faults, echo.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create echo service: %w", err)
	}
	if err := svc.RegisterMetrics(registry); err != nil {
		return nil, fmt.Errorf("register echo metrics: %w", err)
	}
	return svc, nil
}

// Package metric owns the Prometheus registry for a reliabus process.
//
// The registry is created with the core transport metrics (bus traffic,
// errors and NATS connection state) plus the Go runtime and process
// collectors. Components register their own metrics through
// MetricsRegistrar, keyed by component and metric name so a component
// cannot register the same metric twice.
//
// Server exposes the registry on /metrics and a /health endpoint that
// reports 503 while the bus connection is down:
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, client.IsHealthy)
//	go func() {
//	    if err := server.Start(); err != nil {
//	        logger.Error("metrics server failed", "error", err)
//	    }
//	}()
package metric

// Package natsclient wraps a NATS connection with a circuit breaker,
// connection status tracking and the publish/subscribe primitives the bus
// adapters need.
//
// Connection attempts and JetStream calls count toward the circuit breaker.
// After the threshold of consecutive failures (default 5) the circuit opens
// and calls fail fast with ErrCircuitOpen until the backoff elapses. Each
// reopening doubles the backoff up to the configured maximum.
//
// Core publishes are fire and forget. The client disables the reconnect
// buffer by default so a publish during an outage fails immediately instead
// of being replayed later; the relay loops treat that as a retryable send
// failure.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	ch := make(chan *nats.Msg, 1024)
//	_ = client.ChanSubscribe("bus.publisher.0", ch)
//	_ = client.Publish(ctx, "bus.router", frame)
//
// Streams are optional. EnsureStream and PublishToStream give an acked
// publish path when the router subject is backed by JetStream.
//
// # Testing
//
// Integration tests build with the integration tag and use NewTestClient,
// which starts a NATS container through testcontainers.
package natsclient

// Package errors provides standardized error handling for reliabus components.
//
// # Classification
//
// Every error surfaced by the transport, codec or configuration layers falls
// into one of three classes:
//
//   - Transient: the bus is disconnected, a publish timed out, the circuit
//     breaker is open. The dispatch loop logs these and retries the same work
//     item in place.
//   - Invalid: a message on the bus is truncated or carries a kind we do not
//     know. The response loop logs and drops the message.
//   - Fatal: the process cannot be configured. Setup aborts with a diagnostic.
//
// # Wrapping
//
// Wrapping follows the format
//
//	"component.method: action failed: %w"
//
// through Wrap, WrapTransient, WrapInvalid and WrapFatal:
//
//	if err := conn.Publish(subject, data); err != nil {
//	    return errors.WrapTransient(err, "Sender", "Send", "publish to router")
//	}
//
// Classification survives errors.Is / errors.As chains, so a caller can ask
//
//	if errors.IsTransient(err) {
//	    // retry in place
//	}
//
// # Setup retries
//
// RetryUnlessPermanent adapts a setup step for the retry package: transient
// failures are retried with backoff, invalid and fatal failures stop at once.
//
//	err := retry.Do(ctx, retry.Quick(), errors.RetryUnlessPermanent(func() error {
//	    return client.Connect(ctx)
//	}))
package errors

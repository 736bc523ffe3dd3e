// Package retry provides exponential backoff retry logic for transient failures.
//
// reliabus only uses it at setup time: the initial NATS connection and the
// JetStream router stream are retried with backoff before the process gives
// up with a diagnostic. The running loops never use it; they retry the same
// work item in place on their own cadence.
//
// # Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Quick(): 10 attempts, 50ms-1s delay (startup)
//
// # Usage
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return client.Connect(ctx)
//	})
//
// Errors wrapped with NonRetryable stop the loop at once:
//
//	if errors.IsFatal(err) {
//	    return retry.NonRetryable(err)
//	}
package retry

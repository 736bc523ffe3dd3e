// Package reliabus adds at-least-once request/response delivery on top of a
// NATS bus that may drop, duplicate or reorder messages.
//
// # Layout
//
//   - codec: the wire frame, a uvarint kind tag, a 16-byte correlation id
//     and a JSON payload
//   - natsclient: the NATS connection with a circuit breaker and optional
//     JetStream publishing
//   - bus: a Sender for the router subject and a Receiver merging every
//     publisher subject into one stream
//   - relay: the correlation Store and the dispatch and response loops
//   - echo: a multiply service with fault injection, used as the far side
//     in local runs and integration tests
//   - config, metric, errors: configuration layering, Prometheus metrics and
//     classified errors shared by all of the above
//
// # Binaries
//
//	# Relay: dispatch and response loops, runs until killed
//	./bin/reliabus --config reliabus.yaml
//
//	# Far side: answers on bus.publisher.N, dropping half the requests
//	RELIABUS_ECHO_DROP=0.5 ./bin/reliabus-echo
//
// Both read the same configuration file and RELIABUS_* environment
// variables.
package reliabus

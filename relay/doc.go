// Package relay turns a lossy broadcast bus into at-least-once
// request/response delivery.
//
// A Dispatcher sends multiply requests on the router subject and records
// each one in a Store under its correlation id. A Responder reads every
// publisher subject, matches responses to stored requests and resolves them.
// Requests that stay unresolved for longer than the resend interval are
// claimed by the Dispatcher and sent again, indefinitely, until a response
// for their id arrives.
//
// The two loops run on their own goroutines and share nothing but the
// Store. A resolved id is removed from the Store and never inserted again,
// so late duplicate responses are reported as unexpected and otherwise
// ignored.
//
// A response whose result differs from the expected product still
// resolves its request. The mismatch is logged; the id is not retried.
package relay

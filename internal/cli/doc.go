// Package cli holds the startup plumbing shared by the reliabus binaries:
// flag parsing over the config layers, logger setup and the initial NATS
// connection.
package cli

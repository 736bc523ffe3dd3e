// Package config loads the reliabus process configuration.
//
// Values come from four layers, each overriding the previous one field by
// field:
//
//  1. Built-in defaults (Default)
//  2. YAML files added with Loader.AddLayer, with ${VAR} expansion
//  3. RELIABUS_* environment variables
//  4. Command line flags, applied by the binaries
//
// Example file:
//
//	nats:
//	  url: nats://bus:4222
//	bus:
//	  router_subject: bus.router
//	  publisher_subjects: [bus.publisher.0, bus.publisher.1]
//	  router_stream: BUS_ROUTER
//	relay:
//	  group_size: 100
//	  resend_interval: 5s
//	metrics:
//	  port: 9090
//	log:
//	  level: info
//
// The matching environment variables are RELIABUS_NATS_URL,
// RELIABUS_BUS_PUBLISHER_SUBJECTS (comma separated),
// RELIABUS_RELAY_RESEND_INTERVAL, RELIABUS_LOG_LEVEL and so on.
//
// A loaded Config is validated and then treated as immutable.
package config

// Package log provides a machine-readable sync event trace.
//
// This package defines the Logger interface and Event types for capturing
// sync events at every layer (connection, subscription, collection,
// breaker, optimistic). It is separate from operational logging (slog):
// the event trace is a complete CBOR record for debugging and analysis.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	deps.EventLog = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	deps.EventLog, _ = log.NewFileLogger("/var/log/gigsync/sync.glog")
//
//	// Both: use MultiLogger
//	deps.EventLog = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Every event carries a Layer and a Category and one payload:
//   - StateChangeEvent: connection, channel, circuit, quality and override transitions
//   - NotificationEvent: change notifications fanned out to subscribers
//   - FetchEvent: deliveries from the network or the cache
//   - ErrorEventData: failures at any layer
//
// # File Format
//
// Log files are a stream of CBOR-encoded events (.glog). The gigsync CLI
// "log" commands view and summarize them.
package log

// Package syncerr defines the error taxonomy shared by the synchronization
// layer.
//
// # Error Kinds
//
//   - TransportError: the push channel could not be established
//   - FetchError: a bulk read failed, including read timeouts
//   - CircuitOpenError: a read was rejected by an open circuit breaker
//   - ErrAborted: local cancellation (never surfaced, never counted)
//   - DataShapeError: a single row was malformed and has been dropped
//   - RetriesExhaustedError: the retry schedule gave up (terminal)
//   - MutationError: an optimistic mutation was rejected by the server
//
// # Propagation
//
// Transport and fetch errors feed the local retry schedule. Only retry
// exhaustion and an open circuit become user-visible; while a cached
// collection exists, transient failures keep serving the cache silently.
// Aborts are swallowed at their cancellation boundary.
package syncerr

// Package breaker implements a per-service circuit breaker.
//
// A degraded remote service should not be hammered by every controller at
// once. The breaker tracks consecutive failures per service name and,
// once a threshold is reached, rejects calls immediately with a
// syncerr.CircuitOpenError instead of invoking them.
//
// # States
//
//	CLOSED    --N consecutive failures-->  OPEN
//	OPEN      --cool-down elapsed------->  HALF_OPEN
//	HALF_OPEN --trial succeeds---------->  CLOSED (counter reset)
//	HALF_OPEN --trial fails------------->  OPEN (cool-down restarted)
//
// HALF_OPEN admits exactly one trial; concurrent callers fail fast until
// it resolves. Aborted operations (local cancellation) are never counted.
//
// Services are addressed by name, so a single process-wide Registry can be
// shared by all controllers as long as they namespace their names.
package breaker

// Package collection keeps one remote collection synchronized.
//
// A Controller owns the read path for a single collection: it reads rows
// through the circuit breaker, decodes them, stores the result in the
// cache, and delivers it to observers. Change notifications, connection
// recovery, visibility changes and the health watchdog all funnel into the
// same guarded fetch.
//
// # Fetch Guards
//
//   - In-flight: a fetch requested while a read is outstanding is dropped.
//     A notification dropped this way is remembered and replayed once the
//     read completes.
//   - Debounce: a fetch requested within Debounce of the previous
//     completion is deferred to fire once after the window. Deferred
//     requests coalesce and OR their bypass flags.
//   - Cache: Refetch(false) with a cache entry delivers it synchronously
//     without touching the network.
//
// # Stale-While-Revalidate
//
// When a network read starts before anything has been delivered, the
// cached collection (if any) is painted immediately. Every read is stamped
// with a sequence number; an older result never replaces a newer one,
// neither in the cache nor in the delivered view.
//
// # Errors
//
// Transient read failures are retried on a retry.Schedule and are not
// surfaced while retries remain. A circuit-open rejection is surfaced as
// LastError at once (service degraded) and still follows the schedule.
// Once the schedule is exhausted a *syncerr.RetriesExhaustedError is
// surfaced while the cached collection keeps being served. Cancellations
// are swallowed.
//
// # Callbacks
//
// Data and status callbacks run synchronously and in order. They must not
// call back into the controller.
package collection

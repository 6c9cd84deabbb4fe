package metrics

import "time"

// FetchResult enumerates read outcomes for counters.
type FetchResult string

const (
	FetchSuccess     FetchResult = "success"
	FetchFailed      FetchResult = "failed"
	FetchTimeout     FetchResult = "timeout"
	FetchCircuitOpen FetchResult = "circuit_open"
	FetchAborted     FetchResult = "aborted"
)

// Recorder defines the sync observability hooks.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// SetConnectionState records the current push connection state.
	SetConnectionState(state string)
	// IncReconnect counts a reconnect attempt, labeled by its trigger.
	IncReconnect(reason string)
	// SetActiveChannels records the number of live subscription channels.
	SetActiveChannels(n int)
	// IncNotification counts a delivered change notification.
	IncNotification(entityType, op string)
	// ObserveFetch records a bulk read.
	ObserveFetch(collection string, d time.Duration, result FetchResult)
	// IncCacheDelivery counts a delivery served from the cache.
	IncCacheDelivery(collection string)
	// IncDroppedRows counts malformed rows skipped during decode.
	IncDroppedRows(collection string, n int)
	// IncRetry counts a scheduled retry.
	IncRetry(collection string)
	// IncRetryExhausted counts a retry schedule giving up.
	IncRetryExhausted(collection string)
	// SetCircuitState records a circuit breaker state.
	SetCircuitState(service, state string)
	// SetQuality records a collection's connection quality.
	SetQuality(collection, quality string)
	// IncMutation counts an optimistic mutation outcome.
	IncMutation(collection string, success bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) SetConnectionState(string)                       {}
func (NoopRecorder) IncReconnect(string)                             {}
func (NoopRecorder) SetActiveChannels(int)                           {}
func (NoopRecorder) IncNotification(string, string)                  {}
func (NoopRecorder) ObserveFetch(string, time.Duration, FetchResult) {}
func (NoopRecorder) IncCacheDelivery(string)                         {}
func (NoopRecorder) IncDroppedRows(string, int)                      {}
func (NoopRecorder) IncRetry(string)                                 {}
func (NoopRecorder) IncRetryExhausted(string)                        {}
func (NoopRecorder) SetCircuitState(string, string)                  {}
func (NoopRecorder) SetQuality(string, string)                       {}
func (NoopRecorder) IncMutation(string, bool)                        {}

// OrNoop returns r, or NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}

// Compile-time interface satisfaction check.
var _ Recorder = NoopRecorder{}

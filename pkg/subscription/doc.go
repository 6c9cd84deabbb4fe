// Package subscription multiplexes change subscriptions over the push
// connection.
//
// Callers register interest in an entity type (optionally filtered) and
// receive every insert/update/delete notification for it. Subscribers with
// the same (entityType, filter) pair share one transport channel.
//
// # Channel Lifecycle
//
// A channel is opened lazily for the first subscriber of a pair and closed
// when the last subscriber is removed. Notifications are delivered to the
// pair's subscribers in transport order, without reordering or batching.
//
// # Reconnection
//
// Channels do NOT survive connection loss. The registry listens to the
// connection manager: every transition to CONNECTED (including after a
// reconnect) re-opens all registered pairs, and any other transition marks
// them inactive. A channel that errors or is closed remotely is only marked
// inactive; the registry never retries on its own and waits for the next
// CONNECTED transition.
package subscription

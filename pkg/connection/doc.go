// Package connection owns the lifecycle of the single push connection.
//
// A Manager dials one transport.Conn and broadcasts every state transition
// to its listeners. It never subscribes anything itself; the subscription
// registry listens for StateConnected and opens channels on Conn().
//
// # State Machine
//
//	DISCONNECTED --Init--> CONNECTING --success--> CONNECTED
//	CONNECTING --failure--> ERROR
//	CONNECTED --transport drop--> DISCONNECTED
//	any --Reconnect--> CONNECTING
//
// Going offline (SetOnline(false)) forces DISCONNECTED immediately and
// aborts any outstanding dial instead of waiting for a transport timeout.
//
// # Reconnection Strategy
//
// With AutoReconnect enabled, a drop or failed dial schedules another
// attempt using a retry.Schedule:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s
//  3. Maximum delay: 30 seconds plus jitter
//  4. Reset on successful connection
//
// A manual Reconnect supersedes any scheduled attempt.
//
// # Listeners
//
// Listeners run synchronously, in registration order, from a snapshot of
// the listener list. Broadcasts are serialized so every listener observes
// transitions in the order they happened. Listeners must not block and
// must not call Init or Reconnect from the callback.
package connection

// Package transport defines the push-transport abstraction used by the
// synchronization layer.
//
// A push transport carries row-level change notifications from the remote
// change-feed service. The layer is protocol-agnostic: anything that can
// establish a connection (Dialer), open filtered per-entity channels on it
// (Conn.Subscribe), and report connection loss (Conn.Done) can back it.
//
// # Adapters
//
//   - wsfeed: WebSocket client with CBOR frames and ping/pong keep-alive
//   - natsfeed: NATS subjects carrying CBOR-encoded events
//   - memfeed: in-process hub for tests and demos
//
// # Frame Protocol
//
// Frame-based adapters exchange one CBOR-encoded Frame per message:
//
//	client -> server  subscribe      {channel, entity_type, filter}
//	client -> server  unsubscribe    {channel}
//	server -> client  event          {channel, event}
//	server -> client  channel_error  {channel, error}
//
// Channel IDs are allocated by the client and are only meaningful within
// one connection. Events are delivered in transport order; there is no
// reordering or batching guarantee.
package transport

// Package query defines the bulk-read and mutation API of the remote
// change-feed service.
//
// A Reader returns every row of an entity type, optionally narrowed by a
// transport.Filter. A Mutator performs the "claim exclusivity" writes used by
// optimistic toggles: ClaimExclusive sets a boolean field on one row and
// clears it on every other row atomically; ReleaseExclusive clears it on one
// row.
//
// # Implementations
//
// HTTPClient talks to a REST endpoint with JSON bodies:
//
//	GET  {base}/{entity}?{field}=eq.{value}   -> [ {row}, ... ]
//	POST {base}/rpc/claim_exclusive           {"entity","field","id"}
//	POST {base}/rpc/release_exclusive         {"entity","field","id"}
//
// MemoryBackend keeps rows in process and can publish change events to a
// memfeed.Hub, which makes it a complete stand-in for the remote service.
package query

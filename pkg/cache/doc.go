// Package cache stores the latest known value of each synchronized
// collection.
//
// The cache is a latest-value store, not a timed-expiry cache: an entry is
// overwritten wholesale on every successful fetch and never expires. It
// serves two purposes:
//
//   - fallback source when a fetch fails
//   - immediate-paint source while a fetch is in flight
//
// Entries carry the sequence stamp of the read that produced them. A write
// with a lower sequence than the stored entry is rejected, so a stale
// response arriving after a fresher one cannot overwrite it.
//
// A missing, unreadable, or undecodable entry is a cache miss. Reads never
// return errors.
package cache

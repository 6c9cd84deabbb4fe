// Package catalog wires the live-gig collections.
//
// It defines the three synchronized entity types (songs, audience requests
// and set lists), decodes them from query rows, and builds one
// collection.Controller per type on a shared set of dependencies. The
// requests collection carries the exclusive "locked" flag (the request
// currently being played), managed by an optimistic.Coordinator.
package catalog

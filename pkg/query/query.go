package query

import (
	"context"

	"github.com/gigsync/gigsync-go/pkg/transport"
)

// Record is one row as returned by the query API.
type Record map[string]any

// Reader performs bulk reads.
type Reader interface {
	// Read returns all rows of entityType that pass filter.
	Read(ctx context.Context, entityType string, filter transport.Filter) ([]Record, error)
}

// Mutator performs exclusivity mutations.
type Mutator interface {
	// ClaimExclusive sets field=true on row id and false on every other row.
	ClaimExclusive(ctx context.Context, entityType, field, id string) error

	// ReleaseExclusive sets field=false on row id.
	ReleaseExclusive(ctx context.Context, entityType, field, id string) error
}

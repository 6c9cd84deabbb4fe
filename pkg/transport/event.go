package transport

import (
	"fmt"
	"time"
)

// Op is the kind of row-level change.
type Op uint8

const (
	// OpInsert indicates a new row.
	OpInsert Op = iota + 1

	// OpUpdate indicates a modified row.
	OpUpdate

	// OpDelete indicates a removed row.
	OpDelete
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// ParseOp parses an operation name (case-sensitive, upper case).
func ParseOp(s string) (Op, error) {
	switch s {
	case "INSERT":
		return OpInsert, nil
	case "UPDATE":
		return OpUpdate, nil
	case "DELETE":
		return OpDelete, nil
	default:
		return 0, fmt.Errorf("unknown op %q", s)
	}
}

// Event is a row-level change notification.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Op is the kind of change.
	Op Op `cbor:"1,keyasint"`

	// EntityType is the changed table/entity (e.g. "requests").
	EntityType string `cbor:"2,keyasint"`

	// Key identifies the changed row.
	Key string `cbor:"3,keyasint"`

	// Payload is the new row (insert/update) or old row (delete), if sent.
	Payload map[string]any `cbor:"4,keyasint,omitempty"`

	// CommitTime is the server commit timestamp, if known.
	CommitTime time.Time `cbor:"5,keyasint,omitempty"`
}

// Filter narrows a subscription to rows whose Field equals Value.
// The zero Filter matches every row.
type Filter struct {
	Field string `yaml:"field"`
	Value string `yaml:"value"`
}

// IsZero reports whether the filter is empty.
func (f Filter) IsZero() bool {
	return f.Field == ""
}

// String returns the filter in "field=eq.value" form, or "" when empty.
func (f Filter) String() string {
	if f.IsZero() {
		return ""
	}
	return f.Field + "=eq." + f.Value
}

// Matches reports whether ev passes the filter.
// Events without the filtered field in their payload do not match.
func (f Filter) Matches(ev Event) bool {
	if f.IsZero() {
		return true
	}
	v, ok := ev.Payload[f.Field]
	if !ok {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

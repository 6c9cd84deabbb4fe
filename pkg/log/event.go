package log

import (
	"time"
)

// Event represents a sync event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the push connection (UUID), if any.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Layer where the event was captured.
	Layer Layer `cbor:"3,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"4,keyasint"`

	// Collection is the synchronized collection (e.g. "songs"), if any.
	Collection string `cbor:"5,keyasint,omitempty"`

	// EntityType is the entity the event concerns, if any.
	EntityType string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	StateChange  *StateChangeEvent  `cbor:"10,keyasint,omitempty"`
	Notification *NotificationEvent `cbor:"11,keyasint,omitempty"`
	Fetch        *FetchEvent        `cbor:"12,keyasint,omitempty"`
	Error        *ErrorEventData    `cbor:"13,keyasint,omitempty"`
}

// Layer indicates which component captured the event.
type Layer uint8

const (
	// LayerConnection is the push connection manager.
	LayerConnection Layer = 0
	// LayerSubscription is the subscription registry.
	LayerSubscription Layer = 1
	// LayerCollection is a collection sync controller.
	LayerCollection Layer = 2
	// LayerBreaker is the circuit breaker registry.
	LayerBreaker Layer = 3
	// LayerOptimistic is the optimistic mutation coordinator.
	LayerOptimistic Layer = 4
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerConnection:
		return "CONNECTION"
	case LayerSubscription:
		return "SUBSCRIPTION"
	case LayerCollection:
		return "COLLECTION"
	case LayerBreaker:
		return "BREAKER"
	case LayerOptimistic:
		return "OPTIMISTIC"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryState indicates a state change.
	CategoryState Category = 0
	// CategoryNotification indicates a delivered change notification.
	CategoryNotification Category = 1
	// CategoryFetch indicates a completed bulk read or cache delivery.
	CategoryFetch Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryState:
		return "STATE"
	case CategoryNotification:
		return "NOTIFICATION"
	case CategoryFetch:
		return "FETCH"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures lifecycle transitions.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a push connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityChannel indicates a subscription channel became active or inactive.
	StateEntityChannel StateEntity = 1
	// StateEntityCircuit indicates a circuit breaker state change.
	StateEntityCircuit StateEntity = 2
	// StateEntityQuality indicates a connection quality change.
	StateEntityQuality StateEntity = 3
	// StateEntityOverride indicates an optimistic override was applied or cleared.
	StateEntityOverride StateEntity = 4
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityChannel:
		return "CHANNEL"
	case StateEntityCircuit:
		return "CIRCUIT"
	case StateEntityQuality:
		return "QUALITY"
	case StateEntityOverride:
		return "OVERRIDE"
	default:
		return "UNKNOWN"
	}
}

// NotificationEvent captures one delivered change notification.
type NotificationEvent struct {
	// Op is the change kind (INSERT, UPDATE, DELETE).
	Op string `cbor:"1,keyasint"`

	// Key identifies the changed row.
	Key string `cbor:"2,keyasint,omitempty"`

	// Subscribers is how many subscribers received it.
	Subscribers int `cbor:"3,keyasint"`
}

// FetchSource indicates where delivered data came from.
type FetchSource uint8

const (
	// FetchSourceNetwork indicates a bulk read.
	FetchSourceNetwork FetchSource = 0
	// FetchSourceCache indicates a cache delivery.
	FetchSourceCache FetchSource = 1
)

// String returns the source name.
func (s FetchSource) String() string {
	switch s {
	case FetchSourceNetwork:
		return "NETWORK"
	case FetchSourceCache:
		return "CACHE"
	default:
		return "UNKNOWN"
	}
}

// FetchEvent captures a delivery to collection consumers.
type FetchEvent struct {
	// Source of the delivered items.
	Source FetchSource `cbor:"1,keyasint"`

	// Seq is the read sequence stamp.
	Seq uint64 `cbor:"2,keyasint,omitempty"`

	// Rows is the number of items delivered.
	Rows int `cbor:"3,keyasint"`

	// Dropped is the number of malformed rows skipped.
	Dropped int `cbor:"4,keyasint,omitempty"`

	// Duration of the read. Stored as nanoseconds.
	Duration time.Duration `cbor:"5,keyasint,omitempty"`

	// Bypass reports whether the cache was bypassed.
	Bypass bool `cbor:"6,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the remote status code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`

	// Attempt is the retry attempt the error belongs to.
	Attempt int `cbor:"5,keyasint,omitempty"`
}

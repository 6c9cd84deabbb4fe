package transport

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Frame types exchanged by frame-based transports.
const (
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FrameEvent        = "event"
	FrameChannelError = "channel_error"
)

// Frame is the envelope of frame-based transports (one CBOR message per
// frame). Channel IDs are allocated by the client per connection.
type Frame struct {
	Type       string `cbor:"1,keyasint"`
	Channel    uint32 `cbor:"2,keyasint,omitempty"`
	EntityType string `cbor:"3,keyasint,omitempty"`
	Filter     string `cbor:"4,keyasint,omitempty"`
	Event      *Event `cbor:"5,keyasint,omitempty"`
	Error      string `cbor:"6,keyasint,omitempty"`
}

var (
	frameEncMode cbor.EncMode
	frameDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	frameEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create frame CBOR encoder mode: %v", err))
	}

	// Nested payload maps decode with string keys, matching JSON rows.
	decOpts := cbor.DecOptions{
		DupMapKey:      cbor.DupMapKeyQuiet,
		IndefLength:    cbor.IndefLengthAllowed,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}
	frameDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create frame CBOR decoder mode: %v", err))
	}
}

// EncodeFrame encodes a frame to CBOR.
func EncodeFrame(f Frame) ([]byte, error) {
	return frameEncMode.Marshal(f)
}

// DecodeFrame decodes a CBOR frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := frameDecMode.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// EncodeEvent encodes a bare event to CBOR.
func EncodeEvent(ev Event) ([]byte, error) {
	return frameEncMode.Marshal(ev)
}

// DecodeEvent decodes a bare CBOR event.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := frameDecMode.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

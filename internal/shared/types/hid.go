package types

import (
	"encoding/binary"
	"fmt"
)

// HIDSubtype is byte 0 of a HID_EVENT payload
type HIDSubtype uint8

const (
	HIDKeyDown    HIDSubtype = 1
	HIDKeyUp      HIDSubtype = 2
	HIDMouseMove  HIDSubtype = 3
	HIDButtonDown HIDSubtype = 4
	HIDButtonUp   HIDSubtype = 5
)

// HIDFrameSize is the minimum valid HID_EVENT payload length
const HIDFrameSize = 6

func (s HIDSubtype) String() string {
	switch s {
	case HIDKeyDown:
		return "key_down"
	case HIDKeyUp:
		return "key_up"
	case HIDMouseMove:
		return "move"
	case HIDButtonDown:
		return "down"
	case HIDButtonUp:
		return "up"
	default:
		return fmt.Sprintf("hid(%d)", uint8(s))
	}
}

// Pointer reports whether the subtype is a pointer event
func (s HIDSubtype) Pointer() bool {
	return s == HIDMouseMove || s == HIDButtonDown || s == HIDButtonUp
}

// HIDEvent is a decoded HID frame.
//
// Pointer layout: subtype, button, x (u16 LE), y (u16 LE).
// Key layout: subtype, keycode, scancode, modifier, two reserved bytes.
// Key fields share storage with the pointer fields so Raw round-trips.
type HIDEvent struct {
	Subtype HIDSubtype
	Button  uint8
	X       uint16
	Y       uint16
	// Raw is the original frame, forwarded unmodified to applications
	Raw []byte
}

// Keycode returns byte 1 of a key frame
func (e HIDEvent) Keycode() uint8 { return e.Button }

// Scancode returns byte 2 of a key frame
func (e HIDEvent) Scancode() uint8 { return uint8(e.X) }

// Modifier returns byte 3 of a key frame
func (e HIDEvent) Modifier() uint8 { return uint8(e.X >> 8) }

// DecodeHID parses a HID frame. Payloads shorter than HIDFrameSize fail
// with ErrMalformedPayload.
func DecodeHID(b []byte) (HIDEvent, error) {
	if len(b) < HIDFrameSize {
		return HIDEvent{}, fmt.Errorf("%w: hid frame of %d bytes", ErrMalformedPayload, len(b))
	}
	return HIDEvent{
		Subtype: HIDSubtype(b[0]),
		Button:  b[1],
		X:       binary.LittleEndian.Uint16(b[2:4]),
		Y:       binary.LittleEndian.Uint16(b[4:6]),
		Raw:     b,
	}, nil
}

// Bytes returns the frame to forward. The original bytes are preferred so
// trailing data survives routing.
func (e HIDEvent) Bytes() []byte {
	if len(e.Raw) >= HIDFrameSize {
		return e.Raw
	}
	return e.Encode()
}

// Encode builds a fresh 6-byte frame from the decoded fields
func (e HIDEvent) Encode() []byte {
	b := make([]byte, HIDFrameSize)
	b[0] = byte(e.Subtype)
	b[1] = e.Button
	binary.LittleEndian.PutUint16(b[2:4], e.X)
	binary.LittleEndian.PutUint16(b[4:6], e.Y)
	return b
}

// PointerEvent builds a pointer frame
func PointerEvent(sub HIDSubtype, button uint8, x, y int) HIDEvent {
	e := HIDEvent{Subtype: sub, Button: button, X: uint16(x), Y: uint16(y)}
	e.Raw = e.Encode()
	return e
}

// KeyEvent builds a key frame
func KeyEvent(sub HIDSubtype, keycode, scancode, modifier uint8) HIDEvent {
	e := HIDEvent{Subtype: sub, Button: keycode, X: uint16(scancode) | uint16(modifier)<<8}
	e.Raw = e.Encode()
	return e
}

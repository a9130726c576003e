package types

import "fmt"

// MsgType tags an envelope with the interpretation of its payload
type MsgType uint8

const (
	MsgAppControl MsgType = 1
	MsgAppGFX     MsgType = 2
	MsgAppAudio   MsgType = 3
	MsgHIDEvent   MsgType = 4
)

func (t MsgType) String() string {
	switch t {
	case MsgAppControl:
		return "app_control"
	case MsgAppGFX:
		return "app_gfx"
	case MsgAppAudio:
		return "app_audio"
	case MsgHIDEvent:
		return "hid_event"
	default:
		return fmt.Sprintf("msg_type(%d)", uint8(t))
	}
}

// Message is an addressed, typed envelope. It is not kept after dispatch.
type Message struct {
	Type    MsgType
	Src     ProcessID
	Dst     ProcessID
	Payload []byte
}

// Payload is a decoded message body. The concrete variant is keyed by MsgType.
type Payload interface {
	payloadType() MsgType
}

// ControlPayload carries an APP_CONTROL command object
type ControlPayload struct {
	Command Command
}

// HIDPayload carries a decoded HID_EVENT frame
type HIDPayload struct {
	Event HIDEvent
}

// OpaquePayload carries bytes the kernel does not interpret (GFX, AUDIO)
type OpaquePayload struct {
	Kind MsgType
	Data []byte
}

func (ControlPayload) payloadType() MsgType  { return MsgAppControl }
func (HIDPayload) payloadType() MsgType      { return MsgHIDEvent }
func (p OpaquePayload) payloadType() MsgType { return p.Kind }

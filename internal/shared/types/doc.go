// Package types provides shared data structures for the kernel.
//
// Core Types:
//   - ProcessID: Small reusable application identifier
//   - Window: Geometry and stacking order of an application surface
//   - Message: Typed, source-tagged envelope
//   - Payload: Decoded envelope body (ControlPayload, HIDPayload, OpaquePayload)
//   - Command: APP_CONTROL object
//   - HIDEvent: Pointer and key frames
//
// Reserved IDs:
//   - KernelPID (0): the kernel
//   - HostPID (1): the process host, source of raw input
//   - FirstAppPID (2): lowest application slot
//
// Example Usage:
//
//	ev, err := types.DecodeHID(msg.Payload)
//	if err != nil {
//	    return // dropped
//	}
//	if ev.Subtype == types.HIDButtonDown {
//	    ...
//	}
package types

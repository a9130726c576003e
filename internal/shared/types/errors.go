package types

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPid is returned when an operation names a pid with no entry
	ErrUnknownPid = errors.New("unknown pid")
	// ErrDuplicatePid is returned when a pid already owns a window
	ErrDuplicatePid = errors.New("duplicate pid")
	// ErrMalformedPayload marks a control or HID body that failed to decode
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrHostFailure is returned when the process host cannot spawn or deliver
	ErrHostFailure = errors.New("host failure")
	// ErrProtocolMismatch is returned when the startup handshake fails
	ErrProtocolMismatch = errors.New("protocol mismatch")

	// ErrTableFull means every application slot is in use
	ErrTableFull = fmt.Errorf("%w: process table full", ErrHostFailure)
	// ErrMailboxFull means the destination mailbox cannot take another message
	ErrMailboxFull = fmt.Errorf("%w: mailbox full", ErrHostFailure)
	// ErrAppNotFound means the host could not resolve an application path
	ErrAppNotFound = fmt.Errorf("%w: app not found", ErrHostFailure)
)

// ProtocolVersion is the handshake version the kernel speaks
const ProtocolVersion uint32 = 1

package changer

import (
	"errors"
	"fmt"

	"discbot/scmc"
)

var (
	// ErrConnectionFailed means neither transport backend could claim
	// the device.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNotConnected means a command was issued without an open
	// session.
	ErrNotConnected = errors.New("not connected")

	// ErrDeviceNotFound means no changer-class device was found on the
	// host.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDriveNotEmpty means a move into the drive was rejected
	// because the drive already holds a disc.
	ErrDriveNotEmpty = errors.New("drive not empty")

	// ErrDriveEmpty means a move out of the drive was rejected because
	// the drive holds nothing.
	ErrDriveEmpty = errors.New("drive empty")
)

// CommandFailedError wraps a low-level failure of a named command so
// callers can show which step died without decoding transport errors.
type CommandFailedError struct {
	Op  string
	Err error
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *CommandFailedError) Unwrap() error { return e.Err }

// SlotEmptyError means a move named a storage slot as source but the
// slot holds nothing.
type SlotEmptyError struct {
	Slot int
}

func (e *SlotEmptyError) Error() string {
	return fmt.Sprintf("slot %d is empty", e.Slot)
}

// SlotOccupiedError means a move named a storage slot as destination
// but the slot already holds a disc.
type SlotOccupiedError struct {
	Slot int
}

func (e *SlotOccupiedError) Error() string {
	return fmt.Sprintf("slot %d is occupied", e.Slot)
}

// MoveFailedError is a move rejection that maps to no more specific
// condition. The message is derived from the sense record and is
// suitable for direct display.
type MoveFailedError struct {
	Source      uint16
	Destination uint16
	Reason      string
	Sense       scmc.Sense
}

func (e *MoveFailedError) Error() string {
	return fmt.Sprintf("move 0x%04X -> 0x%04X failed: %s", e.Source, e.Destination, e.Reason)
}

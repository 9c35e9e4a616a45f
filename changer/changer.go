// Package changer drives a SCSI media changer through an exclusive
// device session. It owns the element address map, the chunked bulk
// status reader, and the move executor with its firmware-quirk retry.
//
// Device access goes through the Channel interface. Two backends exist:
// the kernel pass-through in package sgio and the raw bus login in
// package sbp. Connect tries them in that order; callers never see
// which one is active.
package changer

import (
	"time"

	"discbot/scmc"
)

// Channel is one exclusive transport session to the changer. Exactly
// one command executes at a time; the Connection serializes callers.
type Channel interface {
	// Open claims the device. It is an error to call Execute before
	// Open or after Close.
	Open() error

	// Close releases the device, including any exclusive access or
	// login held. Closing a closed channel is a no-op.
	Close() error

	// Name identifies the backend for logs ("sgio", "sbp", "sim").
	Name() string

	// Execute runs one command and returns the number of data bytes
	// transferred. A command the device completed with check condition
	// fails with *scmc.CommandError carrying the captured sense record.
	Execute(cdb []byte, data []byte, dir scmc.Direction, timeout time.Duration) (int, error)
}

// Timeouts carries the per-command deadlines. Mechanism commands run
// for minutes on a full magazine; status queries are bounded tight so a
// wedged device is noticed quickly.
type Timeouts struct {
	Status time.Duration // status, identify, mode sense, test unit ready
	Move   time.Duration // MOVE MEDIUM
	Rescan time.Duration // INITIALIZE ELEMENT STATUS
	Settle time.Duration // wait after a quirk rescan before retrying
}

// DefaultTimeouts returns the deadlines used against real hardware.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Status: 10 * time.Second,
		Move:   3 * time.Minute,
		Rescan: 5 * time.Minute,
		Settle: 5 * time.Second,
	}
}

// DefaultChunk is the number of storage elements requested per READ
// ELEMENT STATUS. The changer truncates larger reports, so bulk reads
// are split into ranges of this size and merged.
const DefaultChunk = 8

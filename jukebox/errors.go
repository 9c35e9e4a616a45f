package jukebox

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when an operation is requested while another
	// operation or a batch session is in flight.
	ErrBusy = errors.New("another operation is in progress")

	// ErrRecoveryPending is returned when a load or batch is requested
	// before a startup recovery prompt has been resolved.
	ErrRecoveryPending = errors.New("crash recovery pending")

	// ErrNoEmptySlot is returned when an eject cannot find any slot to
	// return the disc to.
	ErrNoEmptySlot = errors.New("no empty slot available")

	// ErrNoImportExport is returned when an import/export operation is
	// requested on a changer without an I/E port.
	ErrNoImportExport = errors.New("changer has no import/export port")

	// ErrCancelled is returned when an operation was aborted by the
	// caller's cancel request.
	ErrCancelled = errors.New("operation cancelled")

	// ErrNoUnload is returned by ContinueUnload and CancelUnload when
	// no unload-all session is active.
	ErrNoUnload = errors.New("no unload session active")

	// ErrNoBatch is returned by batch control calls when no batch
	// session is active.
	ErrNoBatch = errors.New("no batch session active")

	// ErrRemovalPending is returned by ContinueUnload when the disc in
	// the import/export port has not been taken out yet.
	ErrRemovalPending = errors.New("import/export port still occupied")
)

// MountFailedError reports a mount failure after a disc was loaded into
// the drive. The disc stays in the drive; state remains consistent.
type MountFailedError struct {
	Slot int
	Err  error
}

func (e *MountFailedError) Error() string {
	return fmt.Sprintf("mount failed for disc from slot %d: %v", e.Slot, e.Err)
}

func (e *MountFailedError) Unwrap() error { return e.Err }

// UnmountFailedError reports an unmount or tray-release failure during
// an eject.
type UnmountFailedError struct {
	Err error
}

func (e *UnmountFailedError) Error() string {
	return fmt.Sprintf("unmount failed: %v", e.Err)
}

func (e *UnmountFailedError) Unwrap() error { return e.Err }

//go:build !linux

package sgio

import (
	"time"

	"discbot/scmc"
)

// Open always fails on platforms without the SCSI generic pass-through,
// pushing the connection manager to the raw bus backend.
func (d *Device) Open() error { return ErrUnsupported }

// Close is a no-op on unsupported platforms.
func (d *Device) Close() error { return nil }

// Execute never runs on unsupported platforms.
func (d *Device) Execute(cdb []byte, data []byte, dir scmc.Direction, timeout time.Duration) (int, error) {
	return 0, ErrUnsupported
}

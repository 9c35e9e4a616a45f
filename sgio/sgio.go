// Package sgio is the kernel pass-through backend for the changer: it
// locates the changer-class device in the host's SCSI generic registry,
// opens it with best-effort exclusive access, and executes commands
// synchronously through the SG_IO ioctl.
//
// Failed commands return *scmc.CommandError carrying the sense bytes
// the kernel captured for that command.
package sgio

import (
	"errors"
	"sync"
)

// ErrUnsupported is returned by Open on platforms without the SCSI
// generic pass-through.
var ErrUnsupported = errors.New("sgio: pass-through not supported on this platform")

// ErrNoChanger is returned by Open when no medium-changer device is
// registered on the host.
var ErrNoChanger = errors.New("sgio: no medium changer device found")

// Device is one pass-through session. It implements changer.Channel.
type Device struct {
	mu        sync.Mutex
	path      string // explicit device node, empty = scan the registry
	fd        int
	open      bool
	exclusive bool
}

// New prepares a session for the given device node. An empty path means
// Open scans the registry for the first changer-class device.
func New(path string) *Device {
	return &Device{path: path, fd: -1}
}

// Name implements changer.Channel.
func (d *Device) Name() string { return "sgio" }

// Path returns the device node in use, once opened.
func (d *Device) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

// Exclusive reports whether the open holds exclusive access. Losing the
// race for exclusivity is not fatal; the session degrades to shared.
func (d *Device) Exclusive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exclusive
}

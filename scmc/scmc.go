// Package scmc encodes and decodes the SCSI media-changer command set
// used by multi-slot optical jukeboxes: MOVE MEDIUM, READ ELEMENT STATUS,
// MODE SENSE for the element address assignment page, INQUIRY, and the
// fixed-format sense data returned on failure.
//
// The package is pure codec: every function takes or returns byte slices
// and performs no I/O. Transports hand the CDBs to the device and hand
// the raw response bytes back here for decoding.
package scmc

import "errors"

// SCSI operation codes used by the changer.
const (
	OpTestUnitReady     = 0x00
	OpRequestSense      = 0x03
	OpInitElementStatus = 0x07
	OpInquiry           = 0x12
	OpModeSense6        = 0x1A
	OpMoveMedium        = 0xA5
	OpReadElementStatus = 0xB8
)

// ModePageElementAddress is the mode page carrying the element address
// assignment (transport, storage, import/export, data transfer ranges).
const ModePageElementAddress = 0x1D

// ElementType selects which element class a READ ELEMENT STATUS reports.
type ElementType byte

const (
	ElementAll       ElementType = 0
	ElementTransport ElementType = 1
	ElementStorage   ElementType = 2
	ElementImpExp    ElementType = 3
	ElementDrive     ElementType = 4
)

func (t ElementType) String() string {
	switch t {
	case ElementAll:
		return "all"
	case ElementTransport:
		return "transport"
	case ElementStorage:
		return "storage"
	case ElementImpExp:
		return "import/export"
	case ElementDrive:
		return "drive"
	default:
		return "unknown"
	}
}

// Direction is the data transfer direction of one command.
type Direction int

const (
	DirNone Direction = iota // no data phase
	DirIn                    // device to host
	DirOut                   // host to device
)

// ErrMalformed is returned by the decoders when a response buffer is too
// short or its internal length fields are inconsistent with the data.
var ErrMalformed = errors.New("malformed response")

// ErrTimeout is wrapped by the transports when a command's deadline
// fires before the device completes it.
var ErrTimeout = errors.New("command timed out")

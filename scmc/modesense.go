package scmc

import (
	"encoding/binary"
	"fmt"
)

// elementAddressPageLen is the fixed body of the element address
// assignment page after the two header bytes.
const elementAddressPageLen = 16

// ElementAssignment is the decoded element address assignment page: the
// device's mapping from element classes to address ranges.
type ElementAssignment struct {
	TransportAddr  uint16
	TransportCount uint16
	StorageAddr    uint16
	StorageCount   uint16
	ImpExpAddr     uint16
	ImpExpCount    uint16
	DriveAddr      uint16
	DriveCount     uint16
}

// ParseElementAssignment decodes a MODE SENSE(6) response and extracts
// the element address assignment page. The page offset is computed from
// the block descriptor length in the mode parameter header; a descriptor
// length that would run past the buffer, a page code other than 0x1D, or
// a declared page length shorter than the fixed body all fail with
// ErrMalformed.
func ParseElementAssignment(raw []byte) (*ElementAssignment, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: mode data %d bytes, need at least 4", ErrMalformed, len(raw))
	}
	bdLen := int(raw[3])
	off := 4 + bdLen
	if off+2 > len(raw) {
		return nil, fmt.Errorf("%w: block descriptor length %d overflows %d-byte buffer", ErrMalformed, bdLen, len(raw))
	}
	pageCode := raw[off] & 0x3F
	if pageCode != ModePageElementAddress {
		return nil, fmt.Errorf("%w: page code 0x%02X, want 0x%02X", ErrMalformed, pageCode, ModePageElementAddress)
	}
	pageLen := int(raw[off+1])
	if pageLen < elementAddressPageLen {
		return nil, fmt.Errorf("%w: page length %d, need %d", ErrMalformed, pageLen, elementAddressPageLen)
	}
	body := raw[off+2:]
	if len(body) < elementAddressPageLen {
		return nil, fmt.Errorf("%w: page body truncated at %d bytes", ErrMalformed, len(body))
	}
	return &ElementAssignment{
		TransportAddr:  binary.BigEndian.Uint16(body[0:2]),
		TransportCount: binary.BigEndian.Uint16(body[2:4]),
		StorageAddr:    binary.BigEndian.Uint16(body[4:6]),
		StorageCount:   binary.BigEndian.Uint16(body[6:8]),
		ImpExpAddr:     binary.BigEndian.Uint16(body[8:10]),
		ImpExpCount:    binary.BigEndian.Uint16(body[10:12]),
		DriveAddr:      binary.BigEndian.Uint16(body[12:14]),
		DriveCount:     binary.BigEndian.Uint16(body[14:16]),
	}, nil
}

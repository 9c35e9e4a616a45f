package scmc

import (
	"encoding/binary"
	"fmt"
)

const (
	statusHeaderLen = 8
	pageHeaderLen   = 8
	descMinLen      = 12
)

// ElementStatus is the decoded state of one element. Source is only
// meaningful when SourceValid is set; in practice only drive elements
// report where their disc came from.
type ElementStatus struct {
	Address     uint16
	Type        ElementType
	Occupied    bool
	Exception   bool
	SourceValid bool
	Source      uint16
}

// ParseElementStatus decodes a READ ELEMENT STATUS response into the
// per-element states it reports. Pages and descriptors are walked with
// explicit bounds checks; any declared length running past the buffer
// fails with ErrMalformed. All-zero storage descriptors are padding and
// are dropped.
func ParseElementStatus(raw []byte) ([]ElementStatus, error) {
	if len(raw) < statusHeaderLen {
		return nil, fmt.Errorf("%w: element status data %d bytes, need %d", ErrMalformed, len(raw), statusHeaderLen)
	}
	avail := uint24(raw[5:8])
	body := raw[statusHeaderLen:]
	if avail < len(body) {
		body = body[:avail]
	}

	var out []ElementStatus
	for len(body) > 0 {
		if len(body) < pageHeaderLen {
			return nil, fmt.Errorf("%w: truncated element status page header (%d bytes)", ErrMalformed, len(body))
		}
		etype := ElementType(body[0] & 0x0F)
		descLen := int(binary.BigEndian.Uint16(body[2:4]))
		byteCount := uint24(body[5:8])
		body = body[pageHeaderLen:]
		if descLen < descMinLen {
			return nil, fmt.Errorf("%w: descriptor length %d below minimum %d", ErrMalformed, descLen, descMinLen)
		}
		if byteCount > len(body) {
			return nil, fmt.Errorf("%w: page byte count %d overflows %d remaining bytes", ErrMalformed, byteCount, len(body))
		}
		descs := body[:byteCount]
		body = body[byteCount:]

		for len(descs) >= descLen {
			d := descs[:descLen]
			descs = descs[descLen:]
			if etype == ElementStorage && allZero(d) {
				continue
			}
			out = append(out, ElementStatus{
				Address:     binary.BigEndian.Uint16(d[0:2]),
				Type:        etype,
				Occupied:    d[2]&0x01 != 0,
				Exception:   d[2]&0x04 != 0,
				SourceValid: d[9]&0x80 != 0,
				Source:      binary.BigEndian.Uint16(d[10:12]),
			})
		}
	}
	return out, nil
}

func uint24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

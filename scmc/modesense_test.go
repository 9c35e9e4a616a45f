package scmc

import (
	"encoding/binary"
	"testing"
)

// buildModeResponse assembles a MODE SENSE(6) response holding the
// element address assignment page behind bdLen bytes of block
// descriptors.
func buildModeResponse(bdLen int, pageCode byte, pageLen int, a ElementAssignment) []byte {
	body := make([]byte, 16)
	binary.BigEndian.PutUint16(body[0:2], a.TransportAddr)
	binary.BigEndian.PutUint16(body[2:4], a.TransportCount)
	binary.BigEndian.PutUint16(body[4:6], a.StorageAddr)
	binary.BigEndian.PutUint16(body[6:8], a.StorageCount)
	binary.BigEndian.PutUint16(body[8:10], a.ImpExpAddr)
	binary.BigEndian.PutUint16(body[10:12], a.ImpExpCount)
	binary.BigEndian.PutUint16(body[12:14], a.DriveAddr)
	binary.BigEndian.PutUint16(body[14:16], a.DriveCount)

	raw := make([]byte, 4+bdLen)
	raw[3] = byte(bdLen)
	raw = append(raw, pageCode, byte(pageLen))
	return append(raw, body...)
}

func TestParseElementAssignment(t *testing.T) {
	want := ElementAssignment{
		TransportAddr: 0x0000, TransportCount: 1,
		StorageAddr: 0x0020, StorageCount: 200,
		ImpExpAddr: 0x00F0, ImpExpCount: 1,
		DriveAddr: 0x0100, DriveCount: 1,
	}

	tests := []struct {
		name  string
		bdLen int
	}{
		{"no block descriptors", 0},
		{"8-byte block descriptor", 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := buildModeResponse(tt.bdLen, ModePageElementAddress, 16, want)
			got, err := ParseElementAssignment(raw)
			if err != nil {
				t.Fatalf("ParseElementAssignment: %v", err)
			}
			if *got != want {
				t.Errorf("got %+v, want %+v", *got, want)
			}
		})
	}
}

func TestParseElementAssignmentMalformed(t *testing.T) {
	ok := ElementAssignment{StorageAddr: 0x20, StorageCount: 4}

	tests := []struct {
		name string
		raw  []byte
	}{
		{"too short", []byte{0, 0, 0}},
		{"block descriptor overflow", func() []byte {
			raw := buildModeResponse(0, ModePageElementAddress, 16, ok)
			raw[3] = 0xF0
			return raw
		}()},
		{"wrong page code", buildModeResponse(0, 0x3F, 16, ok)},
		{"page length too short", buildModeResponse(0, ModePageElementAddress, 8, ok)},
		{"page body truncated", buildModeResponse(0, ModePageElementAddress, 16, ok)[:10]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseElementAssignment(tt.raw); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

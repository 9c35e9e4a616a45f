package scmc

import "testing"

func senseBytes(key, asc, ascq byte) []byte {
	raw := make([]byte, 18)
	raw[0] = 0xF0 // valid, current error
	raw[2] = key
	raw[12] = asc
	raw[13] = ascq
	return raw
}

func TestParseSenseClassification(t *testing.T) {
	tests := []struct {
		name            string
		raw             []byte
		destFull, empty bool
		invalid, zero   bool
	}{
		{"destination full", senseBytes(0x05, ASCMediumDest, ASCQDestFull), true, false, false, false},
		{"source empty", senseBytes(0x05, ASCMediumDest, ASCQSourceEmpty), false, true, false, false},
		{"invalid element", senseBytes(0x05, ASCInvalidElem, ASCQInvalidElem), false, false, true, false},
		{"all zero", make([]byte, 18), false, false, false, true},
		{"hardware error", senseBytes(0x04, 0x15, 0x01), false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSense(tt.raw)
			if err != nil {
				t.Fatalf("ParseSense: %v", err)
			}
			if s.DestinationFull() != tt.destFull {
				t.Errorf("DestinationFull = %v, want %v", s.DestinationFull(), tt.destFull)
			}
			if s.SourceEmpty() != tt.empty {
				t.Errorf("SourceEmpty = %v, want %v", s.SourceEmpty(), tt.empty)
			}
			if s.InvalidElement() != tt.invalid {
				t.Errorf("InvalidElement = %v, want %v", s.InvalidElement(), tt.invalid)
			}
			if s.Zero() != tt.zero {
				t.Errorf("Zero = %v, want %v", s.Zero(), tt.zero)
			}
		})
	}
}

func TestParseSenseShortBuffer(t *testing.T) {
	// 3..13 bytes: key decodes, additional codes default to zero.
	s, err := ParseSense([]byte{0x70, 0, 0x04})
	if err != nil {
		t.Fatalf("ParseSense: %v", err)
	}
	if s.Key != 0x04 || s.ASC != 0 || s.ASCQ != 0 {
		t.Errorf("got %+v", s)
	}
	if _, err := ParseSense([]byte{0x70}); err == nil {
		t.Error("expected error for 1-byte sense")
	}
}

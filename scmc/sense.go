package scmc

import "fmt"

// Additional sense code / qualifier pairs the changer reports on failed
// moves.
const (
	ASCMediumDest   = 0x3B // with ASCQ 0x0D: destination element full
	ASCQDestFull    = 0x0D
	ASCQSourceEmpty = 0x0E // with ASC 0x3B: source element empty
	ASCInvalidElem  = 0x21 // with ASCQ 0x01: invalid element address
	ASCQInvalidElem = 0x01
)

// Sense is one decoded fixed-format sense record: the key plus the two
// additional qualifier codes. Valid reflects the sense data valid bit;
// a record can still carry usable codes with Valid clear.
type Sense struct {
	Key   byte
	ASC   byte
	ASCQ  byte
	Valid bool
}

// Zero reports whether the record carries no information at all. The
// changer firmware is known to fail eject moves with an entirely empty
// sense record when its internal element state has gone stale.
func (s Sense) Zero() bool {
	return s.Key == 0 && s.ASC == 0 && s.ASCQ == 0
}

// DestinationFull reports a move rejected because the target element
// already holds a unit.
func (s Sense) DestinationFull() bool {
	return s.ASC == ASCMediumDest && s.ASCQ == ASCQDestFull
}

// SourceEmpty reports a move rejected because the source element holds
// nothing.
func (s Sense) SourceEmpty() bool {
	return s.ASC == ASCMediumDest && s.ASCQ == ASCQSourceEmpty
}

// InvalidElement reports a command rejected for addressing an element
// the device does not have.
func (s Sense) InvalidElement() bool {
	return s.ASC == ASCInvalidElem && s.ASCQ == ASCQInvalidElem
}

func (s Sense) String() string {
	return fmt.Sprintf("sense key 0x%02X asc 0x%02X ascq 0x%02X", s.Key, s.ASC, s.ASCQ)
}

// CommandError is returned by a transport when the device completed a
// command with check condition status. It carries the decoded sense
// record captured for that command; the next failure supersedes it.
type CommandError struct {
	Op     string
	Status byte
	Sense  Sense
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: status 0x%02X, %s", e.Op, e.Status, e.Sense)
}

// ParseSense decodes fixed-format sense data (response codes 0x70/0x71).
// Buffers shorter than the 14 bytes needed for the additional sense
// codes decode to a record with whatever fields were present.
func ParseSense(raw []byte) (Sense, error) {
	if len(raw) < 3 {
		return Sense{}, fmt.Errorf("%w: sense data %d bytes", ErrMalformed, len(raw))
	}
	s := Sense{
		Key:   raw[2] & 0x0F,
		Valid: raw[0]&0x80 != 0,
	}
	if len(raw) >= 14 {
		s.ASC = raw[12]
		s.ASCQ = raw[13]
	}
	return s, nil
}

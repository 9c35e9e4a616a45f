package scmc

import "encoding/binary"

// TestUnitReadyCDB builds a 6-byte TEST UNIT READY command.
func TestUnitReadyCDB() []byte {
	return []byte{OpTestUnitReady, 0, 0, 0, 0, 0}
}

// RequestSenseCDB builds a 6-byte REQUEST SENSE command asking for
// allocLen bytes of sense data.
func RequestSenseCDB(allocLen byte) []byte {
	return []byte{OpRequestSense, 0, 0, 0, allocLen, 0}
}

// InquiryCDB builds a 6-byte INQUIRY command asking for allocLen bytes
// of standard inquiry data.
func InquiryCDB(allocLen byte) []byte {
	return []byte{OpInquiry, 0, 0, 0, allocLen, 0}
}

// InitElementStatusCDB builds the INITIALIZE ELEMENT STATUS command that
// makes the changer rescan its whole inventory. The mechanism touches
// every slot, so this runs for minutes on a full magazine.
func InitElementStatusCDB() []byte {
	return []byte{OpInitElementStatus, 0, 0, 0, 0, 0}
}

// ModeSenseCDB builds a 6-byte MODE SENSE requesting one page with the
// current values.
func ModeSenseCDB(page byte, allocLen byte) []byte {
	// DBD set so no block descriptors precede the page.
	return []byte{OpModeSense6, 0x08, page & 0x3F, 0, allocLen, 0}
}

// MoveMediumCDB describes one MOVE MEDIUM command: the transport picks
// the unit at Source and places it at Destination. Addresses are the
// raw element addresses from the element address assignment page.
type MoveMediumCDB struct {
	Transport   uint16
	Source      uint16
	Destination uint16
}

// Bytes encodes the 12-byte MOVE MEDIUM CDB. Element addresses are
// big-endian per SMC.
func (c MoveMediumCDB) Bytes() []byte {
	b := make([]byte, 12)
	b[0] = OpMoveMedium
	binary.BigEndian.PutUint16(b[2:4], c.Transport)
	binary.BigEndian.PutUint16(b[4:6], c.Source)
	binary.BigEndian.PutUint16(b[6:8], c.Destination)
	return b
}

// ReadElementStatusCDB describes one READ ELEMENT STATUS query for Count
// elements of the given type starting at element address Start.
type ReadElementStatusCDB struct {
	Type     ElementType
	Start    uint16
	Count    uint16
	AllocLen uint32
}

// Bytes encodes the 12-byte READ ELEMENT STATUS CDB.
func (c ReadElementStatusCDB) Bytes() []byte {
	b := make([]byte, 12)
	b[0] = OpReadElementStatus
	b[1] = byte(c.Type) & 0x0F
	binary.BigEndian.PutUint16(b[2:4], c.Start)
	binary.BigEndian.PutUint16(b[4:6], c.Count)
	b[7] = byte(c.AllocLen >> 16)
	b[8] = byte(c.AllocLen >> 8)
	b[9] = byte(c.AllocLen)
	return b
}

// Package sim provides an in-memory media changer and collaborator
// fakes. The Changer speaks the same command set as the hardware
// through the changer.Channel interface, so everything above the
// transport runs unmodified against it: tests, the --simulate flag, and
// UI development without a jukebox on the desk.
package sim

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"discbot/scmc"
)

// Fixed element addresses of the simulated device.
const (
	TransportAddr uint16 = 0x0000
	StorageBase   uint16 = 0x0020
	ImpExpAddr    uint16 = 0x00F0
	DriveAddr     uint16 = 0x0100
)

// Config shapes the simulated changer.
type Config struct {
	Slots    int
	Occupied []int // 1-based slots holding a disc at start
	ImpExp   bool  // device has an import/export port

	// DriveStatusUnsupported makes drive element queries return an
	// empty report, as some firmware does.
	DriveStatusUnsupported bool

	// Attentions is how many TEST UNIT READY probes fail with unit
	// attention before the device settles.
	Attentions int

	// MoveDelay is slept per move to exercise long-command paths.
	MoveDelay time.Duration

	// AutoRemoveExports empties the import/export port right after a
	// disc lands in it, as if the operator took it out immediately.
	AutoRemoveExports bool
}

// Changer is the in-memory device. It implements changer.Channel.
type Changer struct {
	mu  sync.Mutex
	cfg Config

	occupied   map[uint16]bool
	driveFrom  uint16 // source address of the disc in the drive, 0 if empty
	attentions int
	stale      bool // next eject move fails with zero sense
	open       bool

	// Moves records every successful move for assertions.
	Moves [][2]uint16

	// Rescans counts INITIALIZE ELEMENT STATUS commands.
	Rescans int

	// StickyStale keeps the stale quirk armed across rescans, for
	// exercising the terminal-failure path.
	StickyStale bool
}

// New builds a simulated changer.
func New(cfg Config) *Changer {
	if cfg.Slots <= 0 {
		cfg.Slots = 8
	}
	c := &Changer{
		cfg:        cfg,
		occupied:   make(map[uint16]bool),
		attentions: cfg.Attentions,
	}
	for _, slot := range cfg.Occupied {
		if slot >= 1 && slot <= cfg.Slots {
			c.occupied[StorageBase+uint16(slot-1)] = true
		}
	}
	return c
}

// MarkStale arms the stale-element-state quirk: the next eject-type
// move fails with an entirely zero sense record until a full rescan
// clears it.
func (c *Changer) MarkStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = true
}

// DriveSource reports which 1-based slot the disc in the drive came
// from, when the drive is occupied and the source was a storage slot.
func (c *Changer) DriveSource() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.driveFrom >= StorageBase && c.driveFrom < StorageBase+uint16(c.cfg.Slots) {
		return int(c.driveFrom-StorageBase) + 1, true
	}
	return 0, false
}

// SlotOccupied reports whether 1-based slot n holds a disc.
func (c *Changer) SlotOccupied(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.occupied[StorageBase+uint16(n-1)]
}

// ExportOccupied reports whether the import/export port holds a disc.
func (c *Changer) ExportOccupied() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.occupied[ImpExpAddr]
}

// RemoveExport takes the disc out of the import/export port, as the
// operator would. It reports whether a disc was there.
func (c *Changer) RemoveExport() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	had := c.occupied[ImpExpAddr]
	delete(c.occupied, ImpExpAddr)
	return had
}

// PlaceExport puts a disc into the import/export port from outside.
func (c *Changer) PlaceExport() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.occupied[ImpExpAddr] = true
}

// DriveOccupied reports whether the drive holds a disc.
func (c *Changer) DriveOccupied() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.occupied[DriveAddr]
}

// Name implements changer.Channel.
func (c *Changer) Name() string { return "sim" }

// Open implements changer.Channel.
func (c *Changer) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	return nil
}

// Close implements changer.Channel.
func (c *Changer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

// Execute implements changer.Channel by interpreting the CDB against
// the in-memory element state.
func (c *Changer) Execute(cdb []byte, data []byte, dir scmc.Direction, timeout time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return 0, fmt.Errorf("sim: channel not open")
	}
	if len(cdb) == 0 {
		return 0, fmt.Errorf("sim: empty CDB")
	}

	switch cdb[0] {
	case scmc.OpTestUnitReady:
		if c.attentions > 0 {
			c.attentions--
			return 0, c.checkCondition("test unit ready", 0x06, 0x29, 0x00)
		}
		return 0, nil

	case scmc.OpInquiry:
		return c.inquiry(data)

	case scmc.OpModeSense6:
		return c.modeSense(cdb, data)

	case scmc.OpReadElementStatus:
		return c.readElementStatus(cdb, data)

	case scmc.OpMoveMedium:
		return 0, c.moveMedium(cdb)

	case scmc.OpInitElementStatus:
		c.Rescans++
		if !c.StickyStale {
			c.stale = false
		}
		return 0, nil

	default:
		return 0, c.checkCondition(fmt.Sprintf("opcode 0x%02X", cdb[0]), 0x05, 0x20, 0x00)
	}
}

// checkCondition builds the typed error a transport returns for a
// failed command.
func (c *Changer) checkCondition(op string, key, asc, ascq byte) error {
	return &scmc.CommandError{
		Op:     op,
		Status: 0x02,
		Sense:  scmc.Sense{Key: key, ASC: asc, ASCQ: ascq, Valid: true},
	}
}

func (c *Changer) moveMedium(cdb []byte) error {
	if len(cdb) < 12 {
		return fmt.Errorf("sim: short MOVE MEDIUM CDB")
	}
	src := binary.BigEndian.Uint16(cdb[4:6])
	dst := binary.BigEndian.Uint16(cdb[6:8])

	if c.stale && src == DriveAddr {
		// Stale internal state: the firmware rejects the eject with no
		// sense information at all.
		return &scmc.CommandError{Op: "move medium", Status: 0x02, Sense: scmc.Sense{}}
	}

	if !c.validAddr(src) || !c.validAddr(dst) {
		return c.checkCondition("move medium", 0x05, scmc.ASCInvalidElem, scmc.ASCQInvalidElem)
	}
	if !c.occupied[src] {
		return c.checkCondition("move medium", 0x05, scmc.ASCMediumDest, scmc.ASCQSourceEmpty)
	}
	if c.occupied[dst] {
		return c.checkCondition("move medium", 0x05, scmc.ASCMediumDest, scmc.ASCQDestFull)
	}

	if c.cfg.MoveDelay > 0 {
		c.mu.Unlock()
		time.Sleep(c.cfg.MoveDelay)
		c.mu.Lock()
	}

	delete(c.occupied, src)
	c.occupied[dst] = true
	if dst == DriveAddr {
		c.driveFrom = src
	}
	if src == DriveAddr {
		c.driveFrom = 0
	}
	c.Moves = append(c.Moves, [2]uint16{src, dst})
	if dst == ImpExpAddr && c.cfg.AutoRemoveExports {
		delete(c.occupied, dst)
	}
	return nil
}

func (c *Changer) validAddr(addr uint16) bool {
	switch {
	case addr == TransportAddr || addr == DriveAddr:
		return true
	case addr == ImpExpAddr:
		return c.cfg.ImpExp
	case addr >= StorageBase && addr < StorageBase+uint16(c.cfg.Slots):
		return true
	}
	return false
}

func (c *Changer) inquiry(data []byte) (int, error) {
	buf := make([]byte, scmc.InquiryDataLen)
	buf[0] = scmc.DeviceTypeChanger
	buf[1] = 0x80 // removable
	copy(buf[8:16], []byte("DISCBOT "))
	copy(buf[16:32], []byte("VIRTUAL CHANGER "))
	copy(buf[32:36], []byte("1.0 "))
	n := copy(data, buf)
	return n, nil
}

func (c *Changer) modeSense(cdb, data []byte) (int, error) {
	page := cdb[2] & 0x3F
	if page != scmc.ModePageElementAddress {
		return 0, c.checkCondition("mode sense", 0x05, 0x24, 0x00)
	}

	body := make([]byte, 16)
	binary.BigEndian.PutUint16(body[0:2], TransportAddr)
	binary.BigEndian.PutUint16(body[2:4], 1)
	binary.BigEndian.PutUint16(body[4:6], StorageBase)
	binary.BigEndian.PutUint16(body[6:8], uint16(c.cfg.Slots))
	if c.cfg.ImpExp {
		binary.BigEndian.PutUint16(body[8:10], ImpExpAddr)
		binary.BigEndian.PutUint16(body[10:12], 1)
	}
	binary.BigEndian.PutUint16(body[12:14], DriveAddr)
	binary.BigEndian.PutUint16(body[14:16], 1)

	resp := []byte{0, 0, 0, 0, scmc.ModePageElementAddress, 16}
	resp = append(resp, body...)
	resp[0] = byte(len(resp) - 1)
	n := copy(data, resp)
	return n, nil
}

func (c *Changer) readElementStatus(cdb, data []byte) (int, error) {
	etype := scmc.ElementType(cdb[1] & 0x0F)
	start := binary.BigEndian.Uint16(cdb[2:4])
	count := binary.BigEndian.Uint16(cdb[4:6])

	if etype == scmc.ElementDrive && c.cfg.DriveStatusUnsupported {
		resp := make([]byte, 8)
		n := copy(data, resp)
		return n, nil
	}

	var descs []byte
	matched := 0
	for addr := start; matched < int(count); addr++ {
		if !c.validAddr(addr) {
			break
		}
		if c.typeOf(addr) != etype && etype != scmc.ElementAll {
			break
		}
		matched++

		d := make([]byte, 12)
		binary.BigEndian.PutUint16(d[0:2], addr)
		if c.occupied[addr] {
			d[2] |= 0x01
		}
		if addr == DriveAddr && c.driveFrom != 0 {
			d[9] |= 0x80
			binary.BigEndian.PutUint16(d[10:12], c.driveFrom)
		}
		descs = append(descs, d...)
	}

	page := make([]byte, 8)
	page[0] = byte(etype)
	binary.BigEndian.PutUint16(page[2:4], 12)
	putUint24(page[5:8], len(descs))

	resp := make([]byte, 8)
	binary.BigEndian.PutUint16(resp[0:2], start)
	binary.BigEndian.PutUint16(resp[2:4], uint16(matched))
	putUint24(resp[5:8], len(page)+len(descs))
	resp = append(resp, page...)
	resp = append(resp, descs...)

	n := copy(data, resp)
	return n, nil
}

func (c *Changer) typeOf(addr uint16) scmc.ElementType {
	switch {
	case addr == TransportAddr:
		return scmc.ElementTransport
	case addr == DriveAddr:
		return scmc.ElementDrive
	case addr == ImpExpAddr:
		return scmc.ElementImpExp
	default:
		return scmc.ElementStorage
	}
}

func putUint24(b []byte, v int) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

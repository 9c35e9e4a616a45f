package changer

import (
	"fmt"
	"time"

	"discbot/logging"
	"discbot/scmc"
)

// turAttempts is how many TEST UNIT READY probes clear a pending unit
// attention before the mode page is read.
const (
	turAttempts = 3
	turBackoff  = 250 * time.Millisecond
)

// Element is one addressable location in the changer. Slot is the
// 1-based slot number for storage elements and zero otherwise.
type Element struct {
	Addr uint16
	Type scmc.ElementType
	Slot int
}

func (e Element) String() string {
	if e.Type == scmc.ElementStorage {
		return fmt.Sprintf("slot %d (0x%04X)", e.Slot, e.Addr)
	}
	return fmt.Sprintf("%s (0x%04X)", e.Type, e.Addr)
}

// ElementMap is the device's address assignment, immutable once built.
// The order of the storage list fixes the slot-number-to-address
// mapping for the life of this map instance; it is rebuilt wholesale
// after connect or a full rescan.
type ElementMap struct {
	transport Element
	storage   []Element
	drive     Element
	impexp    *Element
}

// Transport returns the robot arm element.
func (m *ElementMap) Transport() Element { return m.transport }

// Drive returns the drive element.
func (m *ElementMap) Drive() Element { return m.drive }

// Slots returns the number of storage slots.
func (m *ElementMap) Slots() int { return len(m.storage) }

// Slot returns the element for 1-based slot n.
func (m *ElementMap) Slot(n int) (Element, error) {
	if n < 1 || n > len(m.storage) {
		return Element{}, fmt.Errorf("slot %d out of range 1..%d", n, len(m.storage))
	}
	return m.storage[n-1], nil
}

// ImportExport returns the import/export port element, if the device
// has one.
func (m *ElementMap) ImportExport() (Element, bool) {
	if m.impexp == nil {
		return Element{}, false
	}
	return *m.impexp, true
}

// SlotForAddr translates a raw storage element address back to its
// 1-based slot number.
func (m *ElementMap) SlotForAddr(addr uint16) (int, bool) {
	for i, e := range m.storage {
		if e.Addr == addr {
			return i + 1, true
		}
	}
	return 0, false
}

// storageElements returns the storage list for the bulk status reader.
func (m *ElementMap) storageElements() []Element { return m.storage }

// newElementMap builds the map from a decoded assignment page.
func newElementMap(a *scmc.ElementAssignment) *ElementMap {
	m := &ElementMap{
		transport: Element{Addr: a.TransportAddr, Type: scmc.ElementTransport},
		drive:     Element{Addr: a.DriveAddr, Type: scmc.ElementDrive},
	}
	m.storage = make([]Element, a.StorageCount)
	for i := range m.storage {
		m.storage[i] = Element{
			Addr: a.StorageAddr + uint16(i),
			Type: scmc.ElementStorage,
			Slot: i + 1,
		}
	}
	if a.ImpExpCount > 0 {
		m.impexp = &Element{Addr: a.ImpExpAddr, Type: scmc.ElementImpExp}
	}
	return m
}

// LoadElementMap reads the element address assignment page and installs
// a fresh map on the connection. A pending unit attention (power-on,
// media change) makes the first commands after connect fail, so TEST
// UNIT READY is probed a few times first and its errors ignored.
func (c *Connection) LoadElementMap() (*ElementMap, error) {
	for i := 0; i < turAttempts; i++ {
		if err := c.TestUnitReady(); err == nil {
			break
		}
		if i == turAttempts-1 {
			break
		}
		time.Sleep(turBackoff)
	}

	buf := make([]byte, 72)
	n, err := c.execute("mode sense", scmc.ModeSenseCDB(scmc.ModePageElementAddress, byte(len(buf))), buf, scmc.DirIn, c.timeouts.Status)
	if err != nil {
		return nil, &CommandFailedError{Op: "mode sense", Err: err}
	}
	assign, err := scmc.ParseElementAssignment(buf[:n])
	if err != nil {
		return nil, &CommandFailedError{Op: "mode sense", Err: err}
	}

	m := newElementMap(assign)
	logging.DebugLog("changer", "element map: transport 0x%04X, %d slots from 0x%04X, drive 0x%04X, ie=%v",
		assign.TransportAddr, assign.StorageCount, assign.StorageAddr, assign.DriveAddr, m.impexp != nil)

	c.mu.Lock()
	c.emap = m
	c.mu.Unlock()
	return m, nil
}

package jukebox

import (
	"fmt"

	"discbot/changer"
)

// SlotInfo is one storage slot in a Status snapshot.
type SlotInfo struct {
	Slot     int  `json:"slot"`
	Occupied bool `json:"occupied"`
	InDrive  bool `json:"in_drive"`
}

// Status is a point-in-time snapshot of the jukebox.
type Status struct {
	Connected     bool         `json:"connected"`
	Backend       string       `json:"backend,omitempty"`
	Vendor        string       `json:"vendor,omitempty"`
	Product       string       `json:"product,omitempty"`
	Operation     string       `json:"operation"`
	Slots         []SlotInfo   `json:"slots,omitempty"`
	DriveOccupied bool         `json:"drive_occupied"`
	DriveSlot     int          `json:"drive_slot,omitempty"`
	ImportExport  bool         `json:"import_export"`
	RecoverySlot  int          `json:"recovery_slot,omitempty"`
	Batch         *BatchReport `json:"batch,omitempty"`
}

// Status returns a consistent snapshot of the jukebox state.
func (j *Jukebox) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := Status{Operation: j.op.String()}
	if j.opSlot > 0 {
		st.Operation = fmt.Sprintf("%s slot %d", j.op, j.opSlot)
	}
	st.RecoverySlot = j.recovery
	if j.batch != nil {
		r := j.batch.report
		st.Batch = &r
	}
	if j.conn == nil {
		return st
	}

	st.Connected = true
	st.Backend = j.conn.Backend()
	if inq := j.conn.Identity(); inq != nil {
		st.Vendor = inq.Vendor
		st.Product = inq.Product
	}
	if m := j.conn.Map(); m != nil {
		_, st.ImportExport = m.ImportExport()
		st.Slots = make([]SlotInfo, 0, m.Slots())
		for n := 1; n <= m.Slots(); n++ {
			info := SlotInfo{Slot: n}
			if s := j.slots[n]; s != nil {
				info.Occupied = s.occupied
				info.InDrive = s.inDrive
			}
			st.Slots = append(st.Slots, info)
		}
	}
	st.DriveOccupied = j.driveOcc
	st.DriveSlot = j.driveSlot
	return st
}

// ElementInfo is one changer address in an Elements report.
type ElementInfo struct {
	Address uint16 `json:"address"`
	Type    string `json:"type"`
	Slot    int    `json:"slot,omitempty"`
}

// Elements is the device's address assignment.
type Elements struct {
	Transport    ElementInfo   `json:"transport"`
	Drive        ElementInfo   `json:"drive"`
	Storage      []ElementInfo `json:"storage"`
	ImportExport *ElementInfo  `json:"import_export,omitempty"`
}

func elementInfo(e changer.Element) ElementInfo {
	return ElementInfo{Address: e.Addr, Type: e.Type.String(), Slot: e.Slot}
}

// ElementAddresses reports the raw element map, or false before a
// connection has loaded one.
func (j *Jukebox) ElementAddresses() (Elements, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.conn == nil {
		return Elements{}, false
	}
	m := j.conn.Map()
	if m == nil {
		return Elements{}, false
	}

	out := Elements{
		Transport: elementInfo(m.Transport()),
		Drive:     elementInfo(m.Drive()),
		Storage:   make([]ElementInfo, 0, m.Slots()),
	}
	for n := 1; n <= m.Slots(); n++ {
		e, err := m.Slot(n)
		if err != nil {
			continue
		}
		out.Storage = append(out.Storage, elementInfo(e))
	}
	if ie, ok := m.ImportExport(); ok {
		info := elementInfo(ie)
		out.ImportExport = &info
	}
	return out, true
}

// Refresh re-reads slot and drive occupancy from the device and
// reconciles local state with it.
func (j *Jukebox) Refresh() error {
	if err := j.begin(OpRefreshing, 0); err != nil {
		return err
	}
	defer j.setOp(OpIdle)

	if err := j.refresh(); err != nil {
		return j.fail("refresh", 0, err)
	}
	j.Events.Emit(Event{Type: EventRefreshed})
	return nil
}

// Rescan commands a full physical inventory, rebuilds the element map,
// and refreshes occupancy. The mechanism visits every slot, so this
// blocks for minutes.
func (j *Jukebox) Rescan() error {
	if err := j.begin(OpRescanning, 0); err != nil {
		return err
	}
	defer j.setOp(OpIdle)

	j.mu.Lock()
	conn := j.conn
	j.mu.Unlock()

	if err := conn.Rescan(); err != nil {
		return j.fail("rescan", 0, err)
	}
	if _, err := conn.LoadElementMap(); err != nil {
		return j.fail("rescan", 0, err)
	}
	if err := j.refresh(); err != nil {
		return j.fail("rescan", 0, err)
	}
	j.Events.Emit(Event{Type: EventRescanned})
	return nil
}

// refresh pulls fresh element status and updates the slot table, drive
// occupancy, and the remembered drive source. Per-query status results
// are never cached beyond this reconciliation.
func (j *Jukebox) refresh() error {
	j.mu.Lock()
	conn := j.conn
	j.mu.Unlock()
	if conn == nil {
		return changer.ErrNotConnected
	}

	storage, err := conn.StorageStatus()
	if err != nil {
		return err
	}
	ds, supported, err := conn.DriveStatus()
	if err != nil {
		return err
	}
	m := conn.Map()

	j.mu.Lock()
	defer j.mu.Unlock()
	prevOcc, prevSlot := j.driveOcc, j.driveSlot
	for _, es := range storage {
		slot, ok := m.SlotForAddr(es.Address)
		if !ok {
			continue
		}
		s := j.slots[slot]
		if s == nil {
			s = &slotState{}
			j.slots[slot] = s
		}
		s.occupied = es.Occupied
	}

	if supported {
		j.driveOcc = ds.Occupied
		if ds.Occupied && ds.SourceValid {
			if slot, ok := m.SlotForAddr(ds.Source); ok {
				j.driveSlot = slot
				for n, s := range j.slots {
					s.inDrive = n == slot
				}
			}
		}
	} else if j.drive != nil {
		// Firmware that omits drive elements from status reports:
		// fall back to the drive's own presence signal and keep the
		// remembered source slot.
		j.driveOcc = j.drive.IsPresent()
	}
	if !j.driveOcc {
		j.driveSlot = 0
		j.hasHandle = false
		for _, s := range j.slots {
			s.inDrive = false
		}
	}

	// The marker follows every occupancy transition, not just the ones
	// this process performed: an externally returned disc must not
	// leave a stale recovery prompt behind, and an externally loaded
	// one must survive a crash with its origin intact.
	switch {
	case prevOcc && !j.driveOcc:
		j.clearDirty()
	case j.driveOcc && j.driveSlot > 0 && (!prevOcc || j.driveSlot != prevSlot):
		j.setDirty(j.driveSlot)
	}
	return nil
}

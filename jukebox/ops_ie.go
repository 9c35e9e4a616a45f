package jukebox

import (
	"time"

	"discbot/changer"
)

// ExportToIE moves the disc in slot n to the import/export port so the
// operator can take it out without disturbing the other slots.
func (j *Jukebox) ExportToIE(slot int) error {
	if err := j.begin(OpUnloading, slot); err != nil {
		return err
	}
	defer j.setOp(OpIdle)

	start := time.Now()
	err := j.exportSlot(slot)
	j.record("export", slot, err == nil, detail(err), time.Since(start))
	if err != nil {
		return j.fail("export", slot, err)
	}
	j.Events.Emit(Event{Type: EventExported, Payload: SlotEvent{Slot: slot}})
	return nil
}

// ImportFromIE moves the disc waiting in the import/export port into
// slot n.
func (j *Jukebox) ImportFromIE(slot int) error {
	if err := j.begin(OpImporting, slot); err != nil {
		return err
	}
	defer j.setOp(OpIdle)

	start := time.Now()
	err := j.importSlot(slot)
	j.record("import", slot, err == nil, detail(err), time.Since(start))
	if err != nil {
		return j.fail("import", slot, err)
	}
	j.Events.Emit(Event{Type: EventImported, Payload: SlotEvent{Slot: slot}})
	return nil
}

func (j *Jukebox) exportSlot(slot int) error {
	j.mu.Lock()
	conn := j.conn
	occupied := j.slots[slot] != nil && j.slots[slot].occupied
	j.mu.Unlock()
	if conn == nil {
		return changer.ErrNotConnected
	}

	m := conn.Map()
	ie, ok := m.ImportExport()
	if !ok {
		return ErrNoImportExport
	}
	if !occupied {
		return &changer.SlotEmptyError{Slot: slot}
	}
	elem, err := m.Slot(slot)
	if err != nil {
		return err
	}

	j.logFn("Exporting slot %d to the import/export port", slot)
	if err := conn.Move(elem, ie); err != nil {
		return err
	}

	j.mu.Lock()
	if s := j.slots[slot]; s != nil {
		s.occupied = false
	}
	j.mu.Unlock()
	return nil
}

func (j *Jukebox) importSlot(slot int) error {
	j.mu.Lock()
	conn := j.conn
	occupied := j.slots[slot] != nil && j.slots[slot].occupied
	j.mu.Unlock()
	if conn == nil {
		return changer.ErrNotConnected
	}

	m := conn.Map()
	ie, ok := m.ImportExport()
	if !ok {
		return ErrNoImportExport
	}
	if occupied {
		return &changer.SlotOccupiedError{Slot: slot}
	}
	elem, err := m.Slot(slot)
	if err != nil {
		return err
	}

	j.logFn("Importing disc from the import/export port into slot %d", slot)
	if err := conn.Move(ie, elem); err != nil {
		return err
	}

	j.mu.Lock()
	if s := j.slots[slot]; s != nil {
		s.occupied = true
	}
	j.mu.Unlock()
	return nil
}

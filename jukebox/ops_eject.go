package jukebox

import (
	"time"

	"discbot/changer"
)

// Eject returns the disc in the drive to a storage slot. A zero target
// picks automatically: the last known source slot, then any slot
// flagged in-drive, then the first empty slot as a logged degraded
// path (the disc may land away from its home slot).
func (j *Jukebox) Eject(target int) error {
	if err := j.begin(OpEjecting, target); err != nil {
		return err
	}
	defer j.setOp(OpIdle)

	start := time.Now()
	slot, err := j.ejectTo(target)
	j.record("eject", slot, err == nil, detail(err), time.Since(start))
	if err != nil {
		return j.fail("eject", slot, err)
	}
	j.Events.Emit(Event{Type: EventEjected, Payload: SlotEvent{Slot: slot}})
	return nil
}

// ejectTo runs the eject flow with the operation gate already held and
// returns the slot the disc went to.
func (j *Jukebox) ejectTo(target int) (int, error) {
	j.mu.Lock()
	conn := j.conn
	driveOcc := j.driveOcc
	j.mu.Unlock()
	if conn == nil {
		return target, changer.ErrNotConnected
	}
	if !driveOcc && (j.drive == nil || !j.drive.IsPresent()) {
		return target, changer.ErrDriveEmpty
	}

	slot, degraded, err := j.ejectTarget(target)
	if err != nil {
		return target, err
	}
	if degraded {
		j.logFn("Eject source unknown; falling back to first empty slot %d", slot)
	}

	m := conn.Map()
	elem, err := m.Slot(slot)
	if err != nil {
		return slot, err
	}

	j.unmountLoaded()

	j.setOpSlot(OpEjecting, slot)
	j.logFn("Ejecting to slot %d", slot)
	j.Events.Emit(Event{Type: EventEjecting, Payload: SlotEvent{Slot: slot}})
	if err := conn.Move(m.Drive(), elem); err != nil {
		return slot, err
	}

	j.mu.Lock()
	j.driveOcc = false
	j.driveSlot = 0
	j.hasHandle = false
	for n, s := range j.slots {
		s.inDrive = false
		if n == slot {
			s.occupied = true
		}
	}
	j.mu.Unlock()
	j.clearDirty()
	return slot, nil
}

// ejectTarget picks the slot to return the disc to. degraded marks the
// first-empty-slot fallback.
func (j *Jukebox) ejectTarget(override int) (slot int, degraded bool, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if override > 0 {
		return override, false, nil
	}
	if j.driveSlot > 0 {
		return j.driveSlot, false, nil
	}
	for n := 1; n <= len(j.slots); n++ {
		if s := j.slots[n]; s != nil && s.inDrive {
			return n, false, nil
		}
	}
	for n := 1; n <= len(j.slots); n++ {
		if s := j.slots[n]; s != nil && !s.occupied {
			return n, true, nil
		}
	}
	return 0, false, ErrNoEmptySlot
}

// unmountLoaded unmounts and releases the disc ahead of the physical
// move. Failures here are logged and swallowed: the move itself
// decides whether the eject succeeded.
func (j *Jukebox) unmountLoaded() {
	if j.drive == nil {
		return
	}
	j.mu.Lock()
	h := j.handle
	has := j.hasHandle
	j.mu.Unlock()
	if !has {
		// Nothing known to unmount (e.g. a recovery eject after a
		// restart); the changer pulls the disc regardless.
		return
	}

	j.setOp(OpUnmounting)
	if err := j.drive.Unmount(h, true); err != nil {
		j.logFn("Unmount failed (continuing): %v", err)
	}
	if err := j.drive.Release(h, true); err != nil {
		j.logFn("Tray release failed (continuing): %v", err)
	}
}

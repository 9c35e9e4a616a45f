package jukebox

import (
	"errors"
	"time"

	"discbot/changer"
	"discbot/media"
)

// Load moves the disc in slot n into the drive, waits for the drive to
// report it, and mounts its file system. Audio discs have no file
// system; their missing mount is not an error.
func (j *Jukebox) Load(slot int) error {
	j.mu.Lock()
	pending := j.recovery
	j.mu.Unlock()
	if pending != 0 {
		return ErrRecoveryPending
	}

	if err := j.begin(OpLoading, slot); err != nil {
		return err
	}
	defer j.setOp(OpIdle)

	start := time.Now()
	err := j.loadSlot(slot)
	j.record("load", slot, err == nil, detail(err), time.Since(start))
	if err != nil {
		return j.fail("load", slot, err)
	}
	j.Events.Emit(Event{Type: EventLoaded, Payload: SlotEvent{Slot: slot}})
	return nil
}

// LoadFromIE moves a disc from the import/export port into the drive.
// The disc has no home slot, so no dirty marker is written and a later
// eject needs an explicit target.
func (j *Jukebox) LoadFromIE() error {
	if err := j.begin(OpLoading, 0); err != nil {
		return err
	}
	defer j.setOp(OpIdle)

	start := time.Now()
	err := j.loadFromIE()
	j.record("load-ie", 0, err == nil, detail(err), time.Since(start))
	if err != nil {
		return j.fail("load-ie", 0, err)
	}
	j.Events.Emit(Event{Type: EventLoaded, Payload: SlotEvent{}})
	return nil
}

// loadSlot runs the load flow with the operation gate already held.
// Batch items reuse it directly.
func (j *Jukebox) loadSlot(slot int) error {
	j.mu.Lock()
	conn := j.conn
	occupied := j.slots[slot] != nil && j.slots[slot].occupied
	driveOcc := j.driveOcc
	j.mu.Unlock()
	if conn == nil {
		return changer.ErrNotConnected
	}

	m := conn.Map()
	elem, err := m.Slot(slot)
	if err != nil {
		return err
	}

	// The drive must look empty from both sides: remembered state and
	// the drive's own presence signal.
	if driveOcc || (j.drive != nil && j.drive.IsPresent()) {
		return changer.ErrDriveNotEmpty
	}
	if !occupied {
		return &changer.SlotEmptyError{Slot: slot}
	}

	j.logFn("Loading slot %d", slot)
	j.Events.Emit(Event{Type: EventLoading, Payload: SlotEvent{Slot: slot}})
	if err := conn.Move(elem, m.Drive()); err != nil {
		if errors.Is(err, changer.ErrDriveNotEmpty) {
			// The device disagrees with local state; resynchronize.
			if rerr := j.refresh(); rerr != nil {
				j.logFn("Resync refresh failed: %v", rerr)
			}
		}
		return err
	}

	j.mu.Lock()
	j.driveOcc = true
	j.driveSlot = slot
	if s := j.slots[slot]; s != nil {
		s.occupied = false
		s.inDrive = true
	}
	j.mu.Unlock()
	j.setDirty(slot)

	return j.mountLoaded(slot)
}

func (j *Jukebox) loadFromIE() error {
	j.mu.Lock()
	conn := j.conn
	driveOcc := j.driveOcc
	j.mu.Unlock()
	if conn == nil {
		return changer.ErrNotConnected
	}

	m := conn.Map()
	ie, ok := m.ImportExport()
	if !ok {
		return ErrNoImportExport
	}
	if driveOcc || (j.drive != nil && j.drive.IsPresent()) {
		return changer.ErrDriveNotEmpty
	}

	j.logFn("Loading disc from import/export port")
	if err := conn.Move(ie, m.Drive()); err != nil {
		return err
	}

	j.mu.Lock()
	j.driveOcc = true
	j.driveSlot = 0
	j.mu.Unlock()

	return j.mountLoaded(0)
}

// mountLoaded waits for the media-present signal and mounts the disc.
// The disc stays in the drive on failure; local state remains correct.
func (j *Jukebox) mountLoaded(slot int) error {
	if j.drive == nil {
		return nil
	}
	j.setOpSlot(OpMounting, slot)

	h, err := j.drive.WaitForMedia(j.opts.MediaWait)
	if err != nil {
		return &MountFailedError{Slot: slot, Err: err}
	}
	j.mu.Lock()
	j.handle = h
	j.hasHandle = true
	j.mu.Unlock()

	if _, err := j.drive.Mount(h); err != nil {
		if errors.Is(err, media.ErrNoMedia) {
			// Present but unmountable, e.g. an audio disc.
			return nil
		}
		return &MountFailedError{Slot: slot, Err: err}
	}
	return nil
}

func detail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

package jukebox

import (
	"discbot/changer"
)

// unloadSession tracks a bulk unload through the import/export port.
type unloadSession struct {
	queue []int // slots still to export
}

// StartUnloadAll exports every occupied, not-in-drive slot through the
// import/export port, one disc at a time. After each export the
// session waits in the waiting-for-removal state until ContinueUnload
// confirms the operator took the disc out; this gate is deliberate.
// With AutoConfirmRemoval set (simulated mode only) the whole queue
// runs without waiting. Returns how many slots were queued.
func (j *Jukebox) StartUnloadAll() (int, error) {
	if err := j.begin(OpUnloading, 0); err != nil {
		return 0, err
	}

	j.mu.Lock()
	conn := j.conn
	var queue []int
	for n := 1; n <= len(j.slots); n++ {
		if s := j.slots[n]; s != nil && s.occupied && !s.inDrive {
			queue = append(queue, n)
		}
	}
	j.mu.Unlock()

	if _, ok := conn.Map().ImportExport(); !ok {
		j.setOp(OpIdle)
		return 0, ErrNoImportExport
	}
	if len(queue) == 0 {
		j.setOp(OpIdle)
		return 0, nil
	}

	total := len(queue)
	j.mu.Lock()
	j.unload = &unloadSession{queue: queue}
	j.mu.Unlock()
	j.logFn("Unloading %d discs through the import/export port", total)
	j.Events.Emit(Event{Type: EventUnloadStarted, Payload: UnloadEvent{Remaining: total}})

	if j.opts.AutoConfirmRemoval {
		for {
			slot, _, ok := j.nextUnload()
			if !ok {
				break
			}
			j.setOpSlot(OpUnloading, slot)
			if err := j.exportSlot(slot); err != nil {
				j.endUnload()
				return total, j.fail("unload", slot, err)
			}
			j.Events.Emit(Event{Type: EventExported, Payload: SlotEvent{Slot: slot}})
		}
		j.endUnload()
		j.Events.Emit(Event{Type: EventUnloadFinished})
		return total, nil
	}

	if err := j.advanceUnload(); err != nil {
		j.endUnload()
		return total, j.fail("unload", 0, err)
	}
	return total, nil
}

// ContinueUnload confirms the operator removed the exported disc and
// moves on. It refuses to proceed while the port still holds a disc.
func (j *Jukebox) ContinueUnload() error {
	j.mu.Lock()
	u := j.unload
	conn := j.conn
	remaining := 0
	if u != nil {
		remaining = len(u.queue)
	}
	j.mu.Unlock()
	if u == nil {
		return ErrNoUnload
	}
	if conn == nil {
		return changer.ErrNotConnected
	}

	es, ok, err := conn.ImportExportStatus()
	if err != nil {
		return j.fail("unload", 0, err)
	}
	if ok && es.Occupied {
		return ErrRemovalPending
	}

	if remaining == 0 {
		j.endUnload()
		j.Events.Emit(Event{Type: EventUnloadFinished})
		return nil
	}
	if err := j.advanceUnload(); err != nil {
		j.endUnload()
		return j.fail("unload", 0, err)
	}
	return nil
}

// CancelUnload abandons the remaining queue. A disc already in the
// port stays with the operator.
func (j *Jukebox) CancelUnload() error {
	j.mu.Lock()
	u := j.unload
	j.mu.Unlock()
	if u == nil {
		return ErrNoUnload
	}
	j.endUnload()
	j.logFn("Unload cancelled")
	j.Events.Emit(Event{Type: EventUnloadCancelled})
	return nil
}

// advanceUnload exports the next queued slot and parks the session in
// the waiting-for-removal state.
func (j *Jukebox) advanceUnload() error {
	slot, remaining, ok := j.nextUnload()
	if !ok {
		return nil
	}
	j.setOpSlot(OpUnloading, slot)
	if err := j.exportSlot(slot); err != nil {
		return err
	}
	j.record("unload", slot, true, "", 0)
	j.Events.Emit(Event{Type: EventExported, Payload: SlotEvent{Slot: slot}})

	j.setOpSlot(OpWaitingRemoval, slot)
	j.Events.Emit(Event{Type: EventAwaitingRemoval, Payload: UnloadEvent{Slot: slot, Remaining: remaining}})
	return nil
}

// nextUnload pops the next queued slot.
func (j *Jukebox) nextUnload() (slot int, remaining int, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	u := j.unload
	if u == nil || len(u.queue) == 0 {
		return 0, 0, false
	}
	slot = u.queue[0]
	u.queue = u.queue[1:]
	return slot, len(u.queue), true
}

func (j *Jukebox) endUnload() {
	j.mu.Lock()
	j.unload = nil
	j.mu.Unlock()
	j.setOp(OpIdle)
}

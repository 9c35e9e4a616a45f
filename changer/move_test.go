package changer

import (
	"errors"
	"testing"

	"discbot/sim"
)

func TestMoveClassification(t *testing.T) {
	t.Run("drive not empty", func(t *testing.T) {
		conn, _ := simConn(t, sim.Config{Slots: 8, Occupied: []int{1, 2}})
		m := mustMap(t, conn)
		slot1, _ := m.Slot(1)
		slot2, _ := m.Slot(2)
		if err := conn.Move(slot1, m.Drive()); err != nil {
			t.Fatalf("first load: %v", err)
		}
		err := conn.Move(slot2, m.Drive())
		if !errors.Is(err, ErrDriveNotEmpty) {
			t.Errorf("err = %v, want ErrDriveNotEmpty", err)
		}
	})

	t.Run("slot occupied", func(t *testing.T) {
		conn, _ := simConn(t, sim.Config{Slots: 8, Occupied: []int{1, 7}})
		m := mustMap(t, conn)
		slot1, _ := m.Slot(1)
		slot7, _ := m.Slot(7)
		err := conn.Move(slot1, slot7)
		var occ *SlotOccupiedError
		if !errors.As(err, &occ) || occ.Slot != 7 {
			t.Errorf("err = %v, want SlotOccupiedError{7}", err)
		}
	})

	t.Run("slot empty", func(t *testing.T) {
		conn, _ := simConn(t, sim.Config{Slots: 8})
		m := mustMap(t, conn)
		slot5, _ := m.Slot(5)
		err := conn.Move(slot5, m.Drive())
		var empty *SlotEmptyError
		if !errors.As(err, &empty) || empty.Slot != 5 {
			t.Errorf("err = %v, want SlotEmptyError{5}", err)
		}
	})

	t.Run("drive empty", func(t *testing.T) {
		conn, _ := simConn(t, sim.Config{Slots: 8})
		m := mustMap(t, conn)
		slot1, _ := m.Slot(1)
		err := conn.Move(m.Drive(), slot1)
		if !errors.Is(err, ErrDriveEmpty) {
			t.Errorf("err = %v, want ErrDriveEmpty", err)
		}
	})
}

func TestMoveSuccessUpdatesNothingButDevice(t *testing.T) {
	conn, dev := simConn(t, sim.Config{Slots: 4, Occupied: []int{2}})
	m := mustMap(t, conn)
	slot2, _ := m.Slot(2)

	if err := conn.Move(slot2, m.Drive()); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if dev.SlotOccupied(2) {
		t.Error("slot 2 should be empty after load")
	}
	if !dev.DriveOccupied() {
		t.Error("drive should be occupied after load")
	}
}

// A zero/zero/zero sense record on an eject move means stale element
// state: the executor must rescan, settle, and retry exactly once.
func TestMoveZeroSenseQuirkRetry(t *testing.T) {
	conn, dev := simConn(t, sim.Config{Slots: 4, Occupied: []int{1}})
	m := mustMap(t, conn)
	slot1, _ := m.Slot(1)
	if err := conn.Move(slot1, m.Drive()); err != nil {
		t.Fatalf("load: %v", err)
	}

	dev.MarkStale()
	if err := conn.Move(m.Drive(), slot1); err != nil {
		t.Fatalf("eject with quirk: %v", err)
	}
	if dev.Rescans != 1 {
		t.Errorf("rescans = %d, want exactly 1", dev.Rescans)
	}
	if !dev.SlotOccupied(1) {
		t.Error("disc did not return to slot 1")
	}
}

func TestMoveZeroSenseQuirkTerminal(t *testing.T) {
	conn, dev := simConn(t, sim.Config{Slots: 4, Occupied: []int{1}})
	dev.StickyStale = true
	m := mustMap(t, conn)
	slot1, _ := m.Slot(1)
	if err := conn.Move(slot1, m.Drive()); err != nil {
		t.Fatalf("load: %v", err)
	}

	dev.MarkStale()
	err := conn.Move(m.Drive(), slot1)
	var mf *MoveFailedError
	if !errors.As(err, &mf) {
		t.Fatalf("err = %v, want MoveFailedError after exhausted retry", err)
	}
	if dev.Rescans != 1 {
		t.Errorf("rescans = %d, want exactly 1 (retry must not recurse)", dev.Rescans)
	}
}

// Non-zero sense must never trigger the rescan workaround.
func TestMoveRealFailureNoRescan(t *testing.T) {
	conn, dev := simConn(t, sim.Config{Slots: 4, Occupied: []int{1, 2}})
	m := mustMap(t, conn)
	slot1, _ := m.Slot(1)
	slot2, _ := m.Slot(2)

	if err := conn.Move(slot1, slot2); err == nil {
		t.Fatal("expected failure moving onto occupied slot")
	}
	if dev.Rescans != 0 {
		t.Errorf("rescans = %d, want 0", dev.Rescans)
	}
}

func mustMap(t *testing.T, conn *Connection) *ElementMap {
	t.Helper()
	m, err := conn.LoadElementMap()
	if err != nil {
		t.Fatalf("LoadElementMap: %v", err)
	}
	return m
}

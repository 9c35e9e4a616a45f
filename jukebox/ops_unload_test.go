package jukebox

import (
	"errors"
	"testing"

	"discbot/sim"
)

func TestUnloadAllManualGate(t *testing.T) {
	f := newFixture(t, sim.Config{Slots: 8, Occupied: []int{1, 2}, ImpExp: true}, nil)

	n, err := f.j.StartUnloadAll()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if n != 2 {
		t.Fatalf("queued = %d, want 2", n)
	}
	if !f.ch.ExportOccupied() {
		t.Fatal("first disc should be in the import/export port")
	}
	if got := f.j.Status().Operation; got != "waiting for removal slot 1" {
		t.Errorf("operation = %q", got)
	}

	// The gate holds while the operator hasn't taken the disc.
	if err := f.j.ContinueUnload(); !errors.Is(err, ErrRemovalPending) {
		t.Fatalf("continue = %v, want ErrRemovalPending", err)
	}

	f.ch.RemoveExport()
	if err := f.j.ContinueUnload(); err != nil {
		t.Fatalf("continue: %v", err)
	}
	if !f.ch.ExportOccupied() {
		t.Fatal("second disc should be in the port")
	}

	f.ch.RemoveExport()
	if err := f.j.ContinueUnload(); err != nil {
		t.Fatalf("final continue: %v", err)
	}
	if got := f.j.Status().Operation; got != "idle" {
		t.Errorf("operation = %q, want idle", got)
	}
	if f.ch.SlotOccupied(1) || f.ch.SlotOccupied(2) {
		t.Error("all discs should be unloaded")
	}
	if err := f.j.ContinueUnload(); !errors.Is(err, ErrNoUnload) {
		t.Errorf("continue after finish = %v, want ErrNoUnload", err)
	}
}

func TestUnloadAllAutoConfirm(t *testing.T) {
	f := newFixture(t,
		sim.Config{Slots: 8, Occupied: []int{1, 2, 3}, ImpExp: true, AutoRemoveExports: true},
		func(o *Options, d *Deps) { o.AutoConfirmRemoval = true })

	n, err := f.j.StartUnloadAll()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if n != 3 {
		t.Fatalf("queued = %d, want 3", n)
	}
	for slot := 1; slot <= 3; slot++ {
		if f.ch.SlotOccupied(slot) {
			t.Errorf("slot %d should be empty", slot)
		}
	}
	if got := f.j.Status().Operation; got != "idle" {
		t.Errorf("operation = %q, want idle", got)
	}
}

func TestUnloadAllCancel(t *testing.T) {
	f := newFixture(t, sim.Config{Slots: 8, Occupied: []int{1, 2}, ImpExp: true}, nil)

	if _, err := f.j.StartUnloadAll(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.j.CancelUnload(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.j.Status().Operation; got != "idle" {
		t.Errorf("operation = %q, want idle", got)
	}
	// Slot 2 stays put; slot 1's disc is with the operator.
	if !f.ch.SlotOccupied(2) {
		t.Error("slot 2 should still hold its disc")
	}
}

func TestUnloadWithoutPort(t *testing.T) {
	f := newFixture(t, sim.Config{Slots: 8, Occupied: []int{1}}, nil)

	if _, err := f.j.StartUnloadAll(); !errors.Is(err, ErrNoImportExport) {
		t.Fatalf("start = %v, want ErrNoImportExport", err)
	}
	if got := f.j.Status().Operation; got != "idle" {
		t.Errorf("operation = %q, want idle", got)
	}
}

func TestExportAndImport(t *testing.T) {
	f := newFixture(t, sim.Config{Slots: 8, Occupied: []int{1}, ImpExp: true}, nil)

	if err := f.j.ExportToIE(1); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !f.ch.ExportOccupied() || f.ch.SlotOccupied(1) {
		t.Fatal("disc should be in the port")
	}

	if err := f.j.ImportFromIE(5); err != nil {
		t.Fatalf("import: %v", err)
	}
	if !f.ch.SlotOccupied(5) || f.ch.ExportOccupied() {
		t.Fatal("disc should be in slot 5")
	}
	if st := f.j.Status(); !st.Slots[4].Occupied {
		t.Error("status should show slot 5 occupied")
	}
}

func TestLoadFromImportExport(t *testing.T) {
	f := newFixture(t, sim.Config{Slots: 8, ImpExp: true}, nil)

	f.ch.PlaceExport()
	if err := f.j.LoadFromIE(); err != nil {
		t.Fatalf("load: %v", err)
	}
	st := f.j.Status()
	if !st.DriveOccupied {
		t.Fatal("drive should hold the imported disc")
	}
	if st.DriveSlot != 0 {
		t.Errorf("drive slot = %d, want 0 (no home slot)", st.DriveSlot)
	}
	if _, set, _ := f.rec.Dirty(); set {
		t.Error("no dirty marker for a disc without a home slot")
	}

	// An eject needs an explicit target for a disc with no home.
	if err := f.j.Eject(4); err != nil {
		t.Fatalf("eject: %v", err)
	}
	if !f.ch.SlotOccupied(4) {
		t.Error("disc should be in slot 4")
	}
}

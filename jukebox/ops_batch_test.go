package jukebox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"discbot/media"
	"discbot/sim"
)

func TestBatchImagePartialFailure(t *testing.T) {
	f := newFixture(t, sim.Config{Slots: 8, Occupied: []int{1, 2, 3, 4, 5}}, nil)

	// Disc 3 refuses to mount; the queue must keep going.
	f.drv.MountHook = func(h media.Handle) error {
		if h == "sim-disc-3" {
			return errors.New("unreadable disc")
		}
		return nil
	}

	dir := t.TempDir()
	id, err := f.j.StartBatchImage(dir, []int{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id == "" {
		t.Fatal("expected a session id")
	}

	rep, ok := f.j.WaitBatch()
	if !ok {
		t.Fatal("expected a final report")
	}
	if rep.Succeeded != 4 || rep.Failed != 1 {
		t.Fatalf("report = %d ok / %d failed, want 4/1", rep.Succeeded, rep.Failed)
	}
	if len(rep.Items) != 5 {
		t.Fatalf("items = %d, want 5", len(rep.Items))
	}
	for _, item := range rep.Items {
		if item.Slot == 3 {
			if item.OK {
				t.Error("item 3 should have failed")
			}
		} else if !item.OK {
			t.Errorf("item %d failed: %s", item.Slot, item.Detail)
		}
	}

	// Every disc is back home and the drive is empty.
	for slot := 1; slot <= 5; slot++ {
		if !f.ch.SlotOccupied(slot) {
			t.Errorf("slot %d should hold its disc again", slot)
		}
	}
	if f.ch.DriveOccupied() {
		t.Error("drive should be empty")
	}

	// Four images on disk, none for slot 3.
	for slot := 1; slot <= 5; slot++ {
		path := filepath.Join(dir, imageName(slot))
		_, err := os.Stat(path)
		if slot == 3 {
			if err == nil {
				t.Errorf("unexpected image for slot 3")
			}
		} else if err != nil {
			t.Errorf("missing image for slot %d: %v", slot, err)
		}
	}

	// Catalog carries one backup verdict per imaged slot.
	okBackups := 0
	for _, b := range f.cat.Backups {
		if b.OK {
			okBackups++
		}
	}
	if okBackups != 4 {
		t.Errorf("catalog backups ok = %d, want 4", okBackups)
	}
}

func imageName(slot int) string {
	return fmt.Sprintf("slot-%03d.iso", slot)
}

func TestBatchProgressEvents(t *testing.T) {
	f := newFixture(t, sim.Config{Slots: 8, Occupied: []int{1}}, nil)

	var progress []ProgressEvent
	f.j.Events.SubscribeTypes(func(ev Event) {
		progress = append(progress, ev.Payload.(ProgressEvent))
	}, EventBatchProgress)

	if _, err := f.j.StartBatchImage(t.TempDir(), []int{1}); err != nil {
		t.Fatalf("start: %v", err)
	}
	rep, _ := f.j.WaitBatch()
	if rep.Failed != 0 {
		t.Fatalf("batch failed: %+v", rep.Items)
	}

	if len(progress) == 0 {
		t.Fatal("expected progress events")
	}
	last := progress[len(progress)-1]
	if last.Percent != 100 {
		t.Errorf("final percent = %v, want 100", last.Percent)
	}
	if last.Transferred == "" || last.Total == "" {
		t.Errorf("expected human-readable sizes, got %q / %q", last.Transferred, last.Total)
	}
}

func TestBatchCancelStopsQueue(t *testing.T) {
	f := newFixture(t, sim.Config{Slots: 8, Occupied: []int{1, 2, 3, 4, 5}}, nil)

	// Cancel right after the first item completes; the subscriber runs
	// on the worker goroutine, so the flag is set before the next
	// checkpoint.
	f.j.Events.SubscribeTypes(func(ev Event) {
		f.j.CancelBatch()
	}, EventBatchItemDone)

	if _, err := f.j.StartBatchLoad(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	rep, _ := f.j.WaitBatch()
	if !rep.Cancelled || !rep.Done {
		t.Fatalf("report cancelled=%v done=%v, want true/true", rep.Cancelled, rep.Done)
	}
	if len(rep.Items) != 1 || !rep.Items[0].OK {
		t.Fatalf("items = %+v, want one successful item", rep.Items)
	}
	// The completed item kept its outcome and its disc went home.
	if !f.ch.SlotOccupied(1) {
		t.Error("slot 1 disc should be back")
	}
	if f.j.Status().Operation != "idle" {
		t.Errorf("operation = %q, want idle", f.j.Status().Operation)
	}
}

func TestBatchPauseResume(t *testing.T) {
	f := newFixture(t, sim.Config{Slots: 8, Occupied: []int{1, 2}}, nil)

	paused := false
	f.j.Events.SubscribeTypes(func(ev Event) {
		if !paused {
			paused = true
			f.j.PauseBatch()
		}
	}, EventBatchItemDone)

	if _, err := f.j.StartBatchLoad(nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The worker parks after item 1; resume lets it finish.
	for {
		rep, ok := f.j.BatchStatus()
		if !ok {
			t.Fatal("no batch report")
		}
		if rep.Paused {
			break
		}
		if rep.Done {
			t.Fatal("batch finished while it should be paused")
		}
		time.Sleep(time.Millisecond)
	}
	if err := f.j.ResumeBatch(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	rep, _ := f.j.WaitBatch()
	if rep.Succeeded != 2 || rep.Failed != 0 {
		t.Fatalf("report = %d/%d, want 2/0", rep.Succeeded, rep.Failed)
	}
}

func TestScanUnknownSkipsCatalogued(t *testing.T) {
	f := newFixture(t, sim.Config{Slots: 8, Occupied: []int{1, 2, 3}}, nil)

	// Slot 2 already has a successful backup on record.
	f.cat.RecordBackupResult(2, "disc2.iso", true, 1<<20, nil)

	if _, err := f.j.StartScanUnknown(); err != nil {
		t.Fatalf("start: %v", err)
	}
	rep, _ := f.j.WaitBatch()
	if len(rep.Queue) != 2 {
		t.Fatalf("queue = %v, want slots 1 and 3", rep.Queue)
	}
	for _, slot := range rep.Queue {
		if slot == 2 {
			t.Error("slot 2 should have been skipped")
		}
	}
	if rep.Succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", rep.Succeeded)
	}

	// The scan catalogued what it saw.
	seen := map[int]bool{}
	for _, d := range f.cat.Discs {
		seen[d.Slot] = true
	}
	if !seen[1] || !seen[3] {
		t.Errorf("catalog discs = %+v, want slots 1 and 3", f.cat.Discs)
	}
}

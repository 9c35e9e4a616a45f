package jukebox

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"discbot/changer"
	"discbot/media"
)

// BatchKind selects what a batch session does per slot.
type BatchKind int

const (
	BatchLoad BatchKind = iota + 1
	BatchImage
	BatchScan
)

func (k BatchKind) String() string {
	switch k {
	case BatchLoad:
		return "load"
	case BatchImage:
		return "image"
	case BatchScan:
		return "scan"
	}
	return "unknown"
}

// BatchItem is the recorded outcome of one slot in a batch.
type BatchItem struct {
	Slot    int           `json:"slot"`
	OK      bool          `json:"ok"`
	Detail  string        `json:"detail,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// BatchReport is a snapshot of a batch session's progress.
type BatchReport struct {
	ID        string      `json:"id"`
	Kind      string      `json:"kind"`
	Queue     []int       `json:"queue"`
	Cursor    int         `json:"cursor"`
	Done      bool        `json:"done"`
	Cancelled bool        `json:"cancelled"`
	Paused    bool        `json:"paused"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Items     []BatchItem `json:"items"`
}

type batchSession struct {
	kind      BatchKind
	outputDir string
	ctl       *media.Control
	done      chan struct{}
	report    BatchReport
}

// StartBatchLoad runs load → inspect → eject over the given slots, or
// over every occupied slot when the list is empty. It returns the
// session ID; the work runs in the background and reports through the
// event bus.
func (j *Jukebox) StartBatchLoad(slots []int) (string, error) {
	return j.startBatch(BatchLoad, slots, "")
}

// StartBatchImage images each slot to outputDir (the configured
// default when empty).
func (j *Jukebox) StartBatchImage(outputDir string, slots []int) (string, error) {
	if outputDir == "" {
		outputDir = j.opts.OutputDir
	}
	return j.startBatch(BatchImage, slots, outputDir)
}

// StartScanUnknown inspects every occupied slot the catalog has no
// record for.
func (j *Jukebox) StartScanUnknown() (string, error) {
	return j.startBatch(BatchScan, nil, "")
}

func (j *Jukebox) startBatch(kind BatchKind, slots []int, outputDir string) (string, error) {
	j.mu.Lock()
	if j.conn == nil {
		j.mu.Unlock()
		return "", changer.ErrNotConnected
	}
	if j.recovery != 0 {
		j.mu.Unlock()
		return "", ErrRecoveryPending
	}
	if j.op != OpIdle || j.batch != nil || j.unload != nil {
		j.mu.Unlock()
		return "", ErrBusy
	}
	if len(slots) == 0 {
		for n := 1; n <= len(j.slots); n++ {
			if s := j.slots[n]; s != nil && s.occupied {
				slots = append(slots, n)
			}
		}
	}
	if kind == BatchScan && j.cat != nil {
		known := slots[:0]
		for _, n := range slots {
			if st, _ := j.cat.BackupStatus(n); st == media.BackupNever {
				known = append(known, n)
			}
		}
		slots = known
	}

	b := &batchSession{
		kind:      kind,
		outputDir: outputDir,
		ctl:       media.NewControl(),
		done:      make(chan struct{}),
		report: BatchReport{
			ID:    uuid.NewString(),
			Kind:  kind.String(),
			Queue: slots,
		},
	}
	j.batch = b
	j.mu.Unlock()

	j.logFn("Starting %s batch over %d slots", kind, len(slots))
	j.Events.Emit(Event{Type: EventBatchStarted, Payload: BatchEvent{ID: b.report.ID, Kind: kind.String()}})
	go j.runBatch(b)
	return b.report.ID, nil
}

// runBatch is the worker loop. Per-item failures are recorded and the
// queue continues; cancellation is checked between items and aborts
// the remainder without failing completed ones.
func (j *Jukebox) runBatch(b *batchSession) {
	defer close(b.done)

	for i, slot := range b.report.Queue {
		for b.ctl.Paused() && !b.ctl.Cancelled() {
			time.Sleep(20 * time.Millisecond)
		}
		if b.ctl.Cancelled() {
			break
		}

		j.mu.Lock()
		b.report.Cursor = i
		j.mu.Unlock()

		start := time.Now()
		itemDetail, err := j.batchItem(b, slot)
		item := BatchItem{Slot: slot, OK: err == nil, Detail: itemDetail, Elapsed: time.Since(start)}
		if err != nil {
			item.Detail = err.Error()
			j.logFn("Batch item for slot %d failed: %v", slot, err)
		}

		j.mu.Lock()
		b.report.Items = append(b.report.Items, item)
		if err == nil {
			b.report.Succeeded++
		} else {
			b.report.Failed++
		}
		j.mu.Unlock()
		j.record("batch-"+b.kind.String(), slot, err == nil, item.Detail, item.Elapsed)
		j.Events.Emit(Event{Type: EventBatchItemDone, Payload: BatchItemEvent{
			ID: b.report.ID, Slot: slot, OK: err == nil, Detail: item.Detail,
		}})
	}

	cancelled := b.ctl.Cancelled()
	j.mu.Lock()
	b.report.Done = true
	b.report.Cancelled = cancelled
	rep := b.report
	j.lastBatch = &rep
	j.batch = nil
	j.op = OpIdle
	j.opSlot = 0
	j.mu.Unlock()

	j.logFn("Batch %s finished: %d succeeded, %d failed", rep.Kind, rep.Succeeded, rep.Failed)
	j.Events.Emit(Event{Type: EventBatchFinished, Payload: BatchEvent{ID: rep.ID, Kind: rep.Kind}})
	j.emitOp()
}

// batchItem runs one slot through load → inspect → (image) → eject.
// The eject back to the source slot is cleanup: its error never masks
// the item's primary failure.
func (j *Jukebox) batchItem(b *batchSession, slot int) (string, error) {
	j.setOpSlot(OpLoading, slot)
	if err := j.loadSlot(slot); err != nil {
		// A mount failure leaves the disc in the drive; put it back.
		j.mu.Lock()
		occ := j.driveOcc
		j.mu.Unlock()
		if occ {
			if _, eerr := j.ejectTo(slot); eerr != nil {
				j.logFn("Cleanup eject for slot %d failed: %v", slot, eerr)
			}
		}
		return "", err
	}

	j.mu.Lock()
	h := j.handle
	has := j.hasHandle
	j.mu.Unlock()

	var itemErr error
	itemDetail := ""
	if has && j.imgr != nil {
		if b.kind == BatchImage {
			j.setOpSlot(OpImaging, slot)
		} else {
			j.setOpSlot(OpScanning, slot)
		}
		t, err := j.imgr.DetectType(h)
		if err != nil {
			itemErr = err
		} else {
			size, _ := j.imgr.EstimateSize(h)
			if j.cat != nil {
				if _, err := j.cat.RecordDisc(slot, h, t, size); err != nil {
					j.logFn("Catalog write for slot %d failed: %v", slot, err)
				}
			}
			if b.kind == BatchImage {
				path, err := j.imageDisc(b, slot, h, t)
				if err != nil {
					itemErr = err
					if j.cat != nil {
						j.cat.RecordBackupResult(slot, "", false, 0, err)
					}
				} else {
					itemDetail = path
					if j.cat != nil {
						j.cat.RecordBackupResult(slot, path, true, size, nil)
					}
				}
			} else {
				itemDetail = t.String()
			}
		}
	}

	if _, err := j.ejectTo(slot); err != nil {
		if itemErr == nil {
			itemErr = err
		} else {
			j.logFn("Cleanup eject for slot %d failed: %v", slot, err)
		}
	}
	return itemDetail, itemErr
}

// imageDisc names the output after the volume label when the disc has
// one, slot-%03d otherwise, and relays progress with human-readable
// sizes.
func (j *Jukebox) imageDisc(b *batchSession, slot int, h media.Handle, t media.Type) (string, error) {
	name := fmt.Sprintf("slot-%03d.iso", slot)
	if j.drive != nil {
		if label, ok := j.drive.VolumeLabel(h); ok && label != "" {
			name = label + ".iso"
		}
	}
	out := filepath.Join(b.outputDir, name)

	progress := func(p media.Progress) {
		ev := ProgressEvent{ID: b.report.ID, Slot: slot, Percent: p.Fraction * 100, ETA: p.ETA}
		if p.Transferred > 0 {
			ev.Transferred = humanize.IBytes(p.Transferred)
		}
		if p.TotalBytes > 0 {
			ev.Total = humanize.IBytes(p.TotalBytes)
		}
		if p.Speed > 0 {
			ev.Speed = humanize.IBytes(p.Speed) + "/s"
		}
		j.Events.Emit(Event{Type: EventBatchProgress, Payload: ev})
	}
	return j.imgr.CreateImage(h, t, out, b.ctl, progress)
}

// PauseBatch holds the active batch at its next checkpoint. A running
// imaging job is signalled to stop and continue in place.
func (j *Jukebox) PauseBatch() error {
	b := j.activeBatch()
	if b == nil {
		return ErrNoBatch
	}
	b.ctl.Pause()
	j.mu.Lock()
	b.report.Paused = true
	j.mu.Unlock()
	j.Events.Emit(Event{Type: EventBatchPaused, Payload: BatchEvent{ID: b.report.ID, Kind: b.report.Kind}})
	return nil
}

// ResumeBatch lets a paused batch continue.
func (j *Jukebox) ResumeBatch() error {
	b := j.activeBatch()
	if b == nil {
		return ErrNoBatch
	}
	b.ctl.Resume()
	j.mu.Lock()
	b.report.Paused = false
	j.mu.Unlock()
	j.Events.Emit(Event{Type: EventBatchResumed, Payload: BatchEvent{ID: b.report.ID, Kind: b.report.Kind}})
	return nil
}

// CancelBatch aborts the remaining queue at the next checkpoint.
// Completed items keep their outcomes; cleanup for the in-flight item
// still runs.
func (j *Jukebox) CancelBatch() error {
	b := j.activeBatch()
	if b == nil {
		return ErrNoBatch
	}
	b.ctl.Cancel()
	j.Events.Emit(Event{Type: EventBatchCancelled, Payload: BatchEvent{ID: b.report.ID, Kind: b.report.Kind}})
	return nil
}

func (j *Jukebox) activeBatch() *batchSession {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.batch
}

// BatchStatus returns the active batch report, or the last finished
// one.
func (j *Jukebox) BatchStatus() (BatchReport, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.batch != nil {
		return j.batch.report, true
	}
	if j.lastBatch != nil {
		return *j.lastBatch, true
	}
	return BatchReport{}, false
}

// WaitBatch blocks until the active batch finishes and returns its
// final report. With no batch running it returns the last report, if
// any.
func (j *Jukebox) WaitBatch() (BatchReport, bool) {
	j.mu.Lock()
	b := j.batch
	last := j.lastBatch
	j.mu.Unlock()
	if b == nil {
		if last != nil {
			return *last, true
		}
		return BatchReport{}, false
	}
	<-b.done
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.lastBatch != nil {
		return *j.lastBatch, true
	}
	return BatchReport{}, false
}

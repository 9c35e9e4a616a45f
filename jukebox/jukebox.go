// Package jukebox is the session orchestrator: it sequences the
// changer's primitive moves and the external mount/imaging
// collaborators into user-level operations (load, eject, import/export,
// batch imaging, library scans, bulk unload) with cancellation, pause,
// and crash recovery.
package jukebox

import (
	"fmt"
	"sync"
	"time"

	"discbot/changer"
	"discbot/logging"
	"discbot/media"
)

// LogFunc is the logging callback signature. The jukebox never imports
// a presentation package.
type LogFunc func(format string, args ...interface{})

// Operation is the one in-flight high-level activity. A new operation
// may start only from OpIdle; batches additionally require no
// single-slot operation in flight, and vice versa.
type Operation int

const (
	OpIdle Operation = iota
	OpConnecting
	OpRefreshing
	OpRescanning
	OpLoading
	OpMounting
	OpEjecting
	OpUnmounting
	OpImaging
	OpScanning
	OpImporting
	OpUnloading
	OpWaitingRemoval
)

func (o Operation) String() string {
	switch o {
	case OpIdle:
		return "idle"
	case OpConnecting:
		return "connecting"
	case OpRefreshing:
		return "refreshing"
	case OpRescanning:
		return "rescanning"
	case OpLoading:
		return "loading"
	case OpMounting:
		return "mounting"
	case OpEjecting:
		return "ejecting"
	case OpUnmounting:
		return "unmounting"
	case OpImaging:
		return "imaging"
	case OpScanning:
		return "scanning"
	case OpImporting:
		return "importing"
	case OpUnloading:
		return "unloading"
	case OpWaitingRemoval:
		return "waiting for removal"
	}
	return "unknown"
}

// Recorder persists the dirty marker and the operation history. The
// jukebox writes the marker synchronously on every drive-occupancy
// transition and reads it once at connect to detect an unclean
// shutdown.
type Recorder interface {
	// SetDirty records the source slot of the disc currently in the
	// drive.
	SetDirty(slot int) error

	// ClearDirty removes the marker.
	ClearDirty() error

	// Dirty returns the marked slot, if any.
	Dirty() (int, bool, error)

	// RecordEvent appends one operation outcome to the history.
	RecordEvent(kind string, slot int, ok bool, detail string, elapsed time.Duration) error
}

// Options tunes the jukebox and its connection.
type Options struct {
	// Device is the pass-through device node; empty scans the host.
	Device string

	// Node is the raw bus node for the fallback backend.
	Node string

	// Chunk overrides the storage elements requested per status query.
	Chunk int

	// Timeouts overrides the changer command deadlines.
	Timeouts changer.Timeouts

	// MediaWait bounds the wait for the drive to report a readable
	// disc after a load. Zero means 30 seconds.
	MediaWait time.Duration

	// OutputDir is the default directory for disc images.
	OutputDir string

	// AutoConfirmRemoval skips the operator gate between unload-all
	// exports. Only the simulated changer sets this.
	AutoConfirmRemoval bool
}

// Deps are the external collaborators the jukebox drives.
type Deps struct {
	Drive    media.Drive
	Imager   media.Imager
	Catalog  media.Catalog
	Recorder Recorder
	LogFunc  LogFunc
}

type slotState struct {
	occupied bool
	inDrive  bool
}

// Jukebox owns the single changer connection and all orchestrator
// state. The mutex guards the state; device I/O serializes inside the
// Connection. Public methods are safe to call from any goroutine.
type Jukebox struct {
	mu    sync.Mutex
	opts  Options
	drive media.Drive
	imgr  media.Imager
	cat   media.Catalog
	rec   Recorder
	logFn LogFunc

	Events *EventBus

	conn      *changer.Connection
	op        Operation
	opSlot    int
	slots     map[int]*slotState
	driveOcc  bool
	driveSlot int // source slot of the disc in the drive, 0 unknown
	handle    media.Handle
	hasHandle bool
	recovery  int // slot awaiting crash-recovery resolution, 0 none

	batch     *batchSession
	lastBatch *BatchReport
	unload    *unloadSession
}

// New creates a Jukebox. Call Connect or ConnectChannel before issuing
// operations.
func New(opts Options, deps Deps) *Jukebox {
	if opts.MediaWait == 0 {
		opts.MediaWait = 30 * time.Second
	}
	logFn := deps.LogFunc
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	return &Jukebox{
		opts:   opts,
		drive:  deps.Drive,
		imgr:   deps.Imager,
		cat:    deps.Catalog,
		rec:    deps.Recorder,
		logFn:  logFn,
		Events: NewEventBus(),
	}
}

// Connect opens the changer through the first backend that will take
// it, loads the element map, identifies the device, and takes the
// first inventory. If the dirty marker is set from an unclean
// shutdown, a recovery prompt is raised and loads stay blocked until
// ResolveRecovery is called.
func (j *Jukebox) Connect() error {
	return j.connect(func() (*changer.Connection, error) {
		return changer.Connect(changer.Options{
			Device:   j.opts.Device,
			Node:     j.opts.Node,
			Chunk:    j.opts.Chunk,
			Timeouts: j.opts.Timeouts,
		})
	})
}

// ConnectChannel connects through a caller-supplied channel. Used for
// the simulated changer and by tests.
func (j *Jukebox) ConnectChannel(ch changer.Channel) error {
	return j.connect(func() (*changer.Connection, error) {
		if err := ch.Open(); err != nil {
			return nil, fmt.Errorf("%w: %v", changer.ErrConnectionFailed, err)
		}
		return changer.NewConnection(ch, changer.Options{
			Chunk:    j.opts.Chunk,
			Timeouts: j.opts.Timeouts,
		}), nil
	})
}

func (j *Jukebox) connect(dial func() (*changer.Connection, error)) error {
	j.mu.Lock()
	if j.conn != nil {
		j.mu.Unlock()
		return ErrBusy
	}
	if j.op != OpIdle {
		j.mu.Unlock()
		return ErrBusy
	}
	j.op = OpConnecting
	j.mu.Unlock()
	j.emitOp()

	conn, err := dial()
	if err != nil {
		j.reset()
		return err
	}
	if _, err := conn.LoadElementMap(); err != nil {
		conn.Close()
		j.reset()
		return err
	}
	inq, err := conn.Identify()
	if err != nil {
		conn.Close()
		j.reset()
		return err
	}

	j.mu.Lock()
	j.conn = conn
	j.slots = make(map[int]*slotState, conn.Map().Slots())
	for n := 1; n <= conn.Map().Slots(); n++ {
		j.slots[n] = &slotState{}
	}
	j.mu.Unlock()

	if err := j.refresh(); err != nil {
		conn.Close()
		j.reset()
		return err
	}

	j.logFn("Connected to %s %s via %s (%d slots)",
		inq.Vendor, inq.Product, conn.Backend(), conn.Map().Slots())
	j.setOp(OpIdle)
	j.Events.Emit(Event{Type: EventConnected, Payload: ChangerEvent{
		Backend: conn.Backend(),
		Vendor:  inq.Vendor,
		Product: inq.Product,
		Slots:   conn.Map().Slots(),
	}})

	j.checkRecovery()
	return nil
}

// checkRecovery reads the dirty marker once after connect and raises
// the recovery prompt if it is set.
func (j *Jukebox) checkRecovery() {
	if j.rec == nil {
		return
	}
	slot, set, err := j.rec.Dirty()
	if err != nil {
		j.logFn("Dirty marker read failed: %v", err)
		return
	}
	if !set {
		return
	}
	j.mu.Lock()
	j.recovery = slot
	j.mu.Unlock()
	j.logFn("Unclean shutdown detected: disc from slot %d may still be in the drive", slot)
	j.Events.Emit(Event{Type: EventRecoveryPending, Payload: RecoveryEvent{Slot: slot}})
}

// ResolveRecovery settles a pending recovery prompt. With eject set,
// the disc in the drive is returned to the marked slot; otherwise the
// marker is dropped and the current inventory is trusted as-is.
func (j *Jukebox) ResolveRecovery(eject bool) error {
	j.mu.Lock()
	slot := j.recovery
	j.mu.Unlock()
	if slot == 0 {
		return nil
	}

	if eject {
		if err := j.Eject(slot); err != nil {
			return err
		}
	} else if j.rec != nil {
		if err := j.rec.ClearDirty(); err != nil {
			return err
		}
	}

	j.mu.Lock()
	j.recovery = 0
	j.mu.Unlock()
	j.Events.Emit(Event{Type: EventRecoveryResolved, Payload: RecoveryEvent{Slot: slot}})
	return nil
}

// Disconnect releases the changer. Idempotent; a running batch or
// unload session must be cancelled first.
func (j *Jukebox) Disconnect() error {
	j.mu.Lock()
	if j.conn == nil {
		j.mu.Unlock()
		return nil
	}
	if j.op != OpIdle && j.op != OpWaitingRemoval {
		j.mu.Unlock()
		return ErrBusy
	}
	if j.batch != nil {
		j.mu.Unlock()
		return ErrBusy
	}
	conn := j.conn
	j.conn = nil
	j.slots = nil
	j.driveOcc = false
	j.driveSlot = 0
	j.hasHandle = false
	j.unload = nil
	j.op = OpIdle
	j.mu.Unlock()

	err := conn.Close()
	j.logFn("Disconnected")
	j.Events.Emit(Event{Type: EventDisconnected, Payload: ChangerEvent{Backend: conn.Backend()}})
	return err
}

// Connected reports whether a changer session is open.
func (j *Jukebox) Connected() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.conn != nil
}

// reset clears the connecting state after a failed dial.
func (j *Jukebox) reset() {
	j.mu.Lock()
	j.conn = nil
	j.op = OpIdle
	j.mu.Unlock()
	j.emitOp()
}

// begin gates a new single-slot operation: the jukebox must be
// connected and idle with no batch or unload session active.
func (j *Jukebox) begin(op Operation, slot int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.conn == nil {
		return changer.ErrNotConnected
	}
	if j.op != OpIdle || j.batch != nil || j.unload != nil {
		return ErrBusy
	}
	j.op = op
	j.opSlot = slot
	return nil
}

// setOp records an operation transition and announces it.
func (j *Jukebox) setOp(op Operation) {
	j.mu.Lock()
	j.op = op
	if op == OpIdle {
		j.opSlot = 0
	}
	j.mu.Unlock()
	j.emitOp()
}

func (j *Jukebox) setOpSlot(op Operation, slot int) {
	j.mu.Lock()
	j.op = op
	j.opSlot = slot
	j.mu.Unlock()
	j.emitOp()
}

func (j *Jukebox) emitOp() {
	j.mu.Lock()
	label := j.op.String()
	if j.opSlot > 0 {
		label = fmt.Sprintf("%s slot %d", j.op, j.opSlot)
	}
	j.mu.Unlock()
	j.Events.Emit(Event{Type: EventOperationChanged, Payload: OperationEvent{Operation: label}})
}

// fail surfaces an operation error through the bus and the recorder.
func (j *Jukebox) fail(op string, slot int, err error) error {
	logging.DebugError("jukebox", op, err)
	j.Events.Emit(Event{Type: EventError, Payload: ErrorEvent{Op: op, Slot: slot, Detail: err.Error()}})
	return err
}

// record appends an operation outcome to the persistent history.
func (j *Jukebox) record(kind string, slot int, ok bool, detail string, elapsed time.Duration) {
	if j.rec == nil {
		return
	}
	if err := j.rec.RecordEvent(kind, slot, ok, detail, elapsed); err != nil {
		logging.DebugLog("jukebox", "history write failed: %v", err)
	}
}

func (j *Jukebox) setDirty(slot int) {
	if j.rec == nil {
		return
	}
	if err := j.rec.SetDirty(slot); err != nil {
		j.logFn("Dirty marker write failed: %v", err)
	}
}

func (j *Jukebox) clearDirty() {
	if j.rec == nil {
		return
	}
	if err := j.rec.ClearDirty(); err != nil {
		j.logFn("Dirty marker clear failed: %v", err)
	}
}

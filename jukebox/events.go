package jukebox

import "time"

// EventType identifies the kind of event emitted by the Jukebox.
type EventType int

const (
	// Changer lifecycle events
	EventConnected EventType = iota + 1
	EventDisconnected
	EventRefreshed
	EventRescanned

	// Single-slot operation events
	EventLoading
	EventLoaded
	EventEjecting
	EventEjected
	EventExported
	EventImported

	// Unload-all events
	EventUnloadStarted
	EventAwaitingRemoval
	EventUnloadFinished
	EventUnloadCancelled

	// Batch events
	EventBatchStarted
	EventBatchItemDone
	EventBatchProgress
	EventBatchPaused
	EventBatchResumed
	EventBatchCancelled
	EventBatchFinished

	// Recovery events
	EventRecoveryPending
	EventRecoveryResolved

	// System events
	EventOperationChanged
	EventError
)

var eventNames = map[EventType]string{
	EventConnected:        "connected",
	EventDisconnected:     "disconnected",
	EventRefreshed:        "refreshed",
	EventRescanned:        "rescanned",
	EventLoading:          "loading",
	EventLoaded:           "loaded",
	EventEjecting:         "ejecting",
	EventEjected:          "ejected",
	EventExported:         "exported",
	EventImported:         "imported",
	EventUnloadStarted:    "unload_started",
	EventAwaitingRemoval:  "awaiting_removal",
	EventUnloadFinished:   "unload_finished",
	EventUnloadCancelled:  "unload_cancelled",
	EventBatchStarted:     "batch_started",
	EventBatchItemDone:    "batch_item_done",
	EventBatchProgress:    "batch_progress",
	EventBatchPaused:      "batch_paused",
	EventBatchResumed:     "batch_resumed",
	EventBatchCancelled:   "batch_cancelled",
	EventBatchFinished:    "batch_finished",
	EventRecoveryPending:  "recovery_pending",
	EventRecoveryResolved: "recovery_resolved",
	EventOperationChanged: "operation_changed",
	EventError:            "error",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event is the envelope emitted by the Jukebox's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// ChangerEvent is the payload for changer lifecycle events.
type ChangerEvent struct {
	Backend string `json:"backend"`
	Vendor  string `json:"vendor"`
	Product string `json:"product"`
	Slots   int    `json:"slots"`
}

// SlotEvent is the payload for single-slot operation events.
type SlotEvent struct {
	Slot int `json:"slot"`
}

// UnloadEvent is the payload for unload-all progress events.
type UnloadEvent struct {
	Slot      int `json:"slot"`
	Remaining int `json:"remaining"`
}

// BatchEvent is the payload for batch lifecycle events.
type BatchEvent struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// BatchItemEvent is the payload for per-item batch outcomes.
type BatchItemEvent struct {
	ID     string `json:"id"`
	Slot   int    `json:"slot"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// ProgressEvent is the payload for imaging progress. Transferred,
// Total, and Speed are human-readable ("1.2 GiB", "4.4 MiB/s") and
// empty when the imaging tool cannot estimate them.
type ProgressEvent struct {
	ID          string        `json:"id"`
	Slot        int           `json:"slot"`
	Percent     float64       `json:"percent"`
	Transferred string        `json:"transferred,omitempty"`
	Total       string        `json:"total,omitempty"`
	Speed       string        `json:"speed,omitempty"`
	ETA         time.Duration `json:"eta,omitempty"`
}

// RecoveryEvent is the payload for crash-recovery events.
type RecoveryEvent struct {
	Slot int `json:"slot"`
}

// OperationEvent is the payload for operation state transitions.
type OperationEvent struct {
	Operation string `json:"operation"`
}

// ErrorEvent is the payload for surfaced operation failures.
type ErrorEvent struct {
	Op     string `json:"op"`
	Slot   int    `json:"slot,omitempty"`
	Detail string `json:"detail"`
}

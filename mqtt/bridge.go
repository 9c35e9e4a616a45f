package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"discbot/jukebox"
)

// Bridge relays jukebox events to the MQTT publishers and maps the
// command topic onto jukebox operations.
type Bridge struct {
	j   *jukebox.Jukebox
	mgr *Manager
	sub jukebox.SubscriberID
}

// eventEnvelope is the JSON structure published per event.
type eventEnvelope struct {
	Event     string      `json:"event"`
	Timestamp string      `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// NewBridge wires a jukebox to the manager's publishers. Every event
// is published under its own topic, and each one triggers a retained
// status refresh so late subscribers see the current picture.
func NewBridge(j *jukebox.Jukebox, mgr *Manager) *Bridge {
	b := &Bridge{j: j, mgr: mgr}
	b.sub = j.Events.Subscribe(b.relay)
	mgr.SetCommandHandler(b.handleCommand)
	return b
}

// Close detaches the bridge from the jukebox.
func (b *Bridge) Close() {
	b.j.Events.Unsubscribe(b.sub)
	b.mgr.SetCommandHandler(nil)
}

func (b *Bridge) relay(ev jukebox.Event) {
	env := eventEnvelope{
		Event:     ev.Type.String(),
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
		Payload:   ev.Payload,
	}
	if payload, err := json.Marshal(env); err == nil {
		b.mgr.PublishEvent(env.Event, payload)
	}

	// Progress events are frequent and never change the status document
	if ev.Type == jukebox.EventBatchProgress {
		return
	}

	if status, err := json.Marshal(b.j.Status()); err == nil {
		b.mgr.PublishStatus(status)
	}
}

func (b *Bridge) handleCommand(action string, slot int) error {
	switch action {
	case "load":
		return b.j.Load(slot)
	case "load_ie":
		return b.j.LoadFromIE()
	case "eject":
		return b.j.Eject(slot)
	case "export":
		return b.j.ExportToIE(slot)
	case "import":
		return b.j.ImportFromIE(slot)
	case "refresh":
		return b.j.Refresh()
	case "rescan":
		return b.j.Rescan()
	case "unload_all":
		_, err := b.j.StartUnloadAll()
		return err
	case "unload_continue":
		return b.j.ContinueUnload()
	case "unload_cancel":
		return b.j.CancelUnload()
	case "batch_pause":
		return b.j.PauseBatch()
	case "batch_resume":
		return b.j.ResumeBatch()
	case "batch_cancel":
		return b.j.CancelBatch()
	default:
		return fmt.Errorf("unknown action: %s", action)
	}
}

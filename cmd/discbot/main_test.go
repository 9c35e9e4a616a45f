package main

import (
	"testing"
	"time"

	"discbot/changer"
	"discbot/config"
	"discbot/jukebox"
	"discbot/sim"
)

func TestSimChangerConfig(t *testing.T) {
	cfg := simChangerConfig(config.SimConfig{})
	if cfg.Slots != 16 {
		t.Errorf("slots = %d, want 16", cfg.Slots)
	}
	if len(cfg.Occupied) != 8 {
		t.Errorf("occupied = %d, want 8", len(cfg.Occupied))
	}
	if !cfg.ImpExp {
		t.Error("simulator needs an import/export port")
	}
	if !cfg.AutoRemoveExports {
		t.Error("port must self-empty when the gate auto-confirms")
	}

	cfg = simChangerConfig(config.SimConfig{Slots: 3, Occupied: 9})
	if len(cfg.Occupied) != 3 {
		t.Errorf("occupied capped at %d, want 3", len(cfg.Occupied))
	}
}

// The daemon's simulate wiring must carry a full unload-all to the end:
// with the operator gate auto-confirmed, each exported disc has to
// leave the port before the next arrives.
func TestSimulateUnloadAll(t *testing.T) {
	simCfg := simChangerConfig(config.SimConfig{Slots: 4, Occupied: 2})
	ch := sim.New(simCfg)
	j := jukebox.New(
		jukebox.Options{
			Timeouts:           changer.Timeouts{Settle: time.Millisecond},
			MediaWait:          time.Second,
			AutoConfirmRemoval: true,
		},
		jukebox.Deps{
			Drive:   sim.NewDrive(ch),
			Imager:  sim.NewImager(),
			Catalog: sim.NewCatalog(),
		},
	)
	if err := j.ConnectChannel(ch); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer j.Disconnect()

	n, err := j.StartUnloadAll()
	if err != nil {
		t.Fatalf("unload-all: %v", err)
	}
	if n != 2 {
		t.Fatalf("queued = %d, want 2", n)
	}
	for slot := 1; slot <= 2; slot++ {
		if ch.SlotOccupied(slot) {
			t.Errorf("slot %d should be empty", slot)
		}
	}
	if ch.ExportOccupied() {
		t.Error("port should be empty after the last export")
	}
	if got := j.Status().Operation; got != "idle" {
		t.Errorf("operation = %q, want idle", got)
	}
}

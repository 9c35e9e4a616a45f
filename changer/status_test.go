package changer

import (
	"reflect"
	"testing"
	"time"

	"discbot/sim"
)

func connWithChunk(t *testing.T, cfg sim.Config, chunk int) *Connection {
	t.Helper()
	dev := sim.New(cfg)
	if err := dev.Open(); err != nil {
		t.Fatalf("sim open: %v", err)
	}
	conn := NewConnection(dev, Options{
		Chunk: chunk,
		Timeouts: Timeouts{
			Status: time.Second, Move: time.Second, Rescan: time.Second, Settle: time.Millisecond,
		},
	})
	if _, err := conn.LoadElementMap(); err != nil {
		t.Fatalf("LoadElementMap: %v", err)
	}
	return conn
}

// The merged result of a chunked storage query must be identical for
// every chunk size, with exactly one entry per slot.
func TestStorageStatusChunkInvariance(t *testing.T) {
	cfg := sim.Config{Slots: 11, Occupied: []int{1, 4, 5, 9, 11}}

	whole := connWithChunk(t, cfg, 11)
	want, err := whole.StorageStatus()
	if err != nil {
		t.Fatalf("unchunked StorageStatus: %v", err)
	}
	if len(want) != 11 {
		t.Fatalf("got %d entries, want 11", len(want))
	}

	for _, chunk := range []int{1, 2, 3, 5, 8, 16} {
		conn := connWithChunk(t, cfg, chunk)
		got, err := conn.StorageStatus()
		if err != nil {
			t.Fatalf("chunk %d: %v", chunk, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("chunk %d result differs from single-chunk result", chunk)
		}
	}
}

func TestStorageStatusOccupancy(t *testing.T) {
	conn := connWithChunk(t, sim.Config{Slots: 5, Occupied: []int{2, 3}}, 2)
	got, err := conn.StorageStatus()
	if err != nil {
		t.Fatalf("StorageStatus: %v", err)
	}
	for i, es := range got {
		slot := i + 1
		want := slot == 2 || slot == 3
		if es.Occupied != want {
			t.Errorf("slot %d occupied = %v, want %v", slot, es.Occupied, want)
		}
	}
}

func TestDriveStatus(t *testing.T) {
	t.Run("reports source slot", func(t *testing.T) {
		conn := connWithChunk(t, sim.Config{Slots: 4, Occupied: []int{3}}, 8)
		m := conn.Map()
		slot3, _ := m.Slot(3)
		if err := conn.Move(slot3, m.Drive()); err != nil {
			t.Fatalf("Move: %v", err)
		}

		es, supported, err := conn.DriveStatus()
		if err != nil {
			t.Fatalf("DriveStatus: %v", err)
		}
		if !supported {
			t.Fatal("drive status unexpectedly unsupported")
		}
		if !es.Occupied {
			t.Error("drive should be occupied")
		}
		if !es.SourceValid || es.Source != slot3.Addr {
			t.Errorf("source = 0x%04X valid=%v, want 0x%04X", es.Source, es.SourceValid, slot3.Addr)
		}
	})

	t.Run("firmware without drive status", func(t *testing.T) {
		conn := connWithChunk(t, sim.Config{Slots: 4, DriveStatusUnsupported: true}, 8)
		es, supported, err := conn.DriveStatus()
		if err != nil {
			t.Fatalf("DriveStatus: %v", err)
		}
		if supported || es != nil {
			t.Errorf("got %+v supported=%v, want unsupported", es, supported)
		}
	})
}

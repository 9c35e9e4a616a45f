package scmc

import (
	"bytes"
	"testing"
)

func TestMoveMediumCDB(t *testing.T) {
	cdb := MoveMediumCDB{Transport: 0x0001, Source: 0x0102, Destination: 0x0304}.Bytes()
	want := []byte{0xA5, 0, 0x00, 0x01, 0x01, 0x02, 0x03, 0x04, 0, 0, 0, 0}
	if !bytes.Equal(cdb, want) {
		t.Errorf("MoveMediumCDB = % X, want % X", cdb, want)
	}
}

func TestReadElementStatusCDB(t *testing.T) {
	tests := []struct {
		name string
		cdb  ReadElementStatusCDB
		want []byte
	}{
		{
			"storage range",
			ReadElementStatusCDB{Type: ElementStorage, Start: 0x20, Count: 8, AllocLen: 0x0200},
			[]byte{0xB8, 0x02, 0x00, 0x20, 0x00, 0x08, 0, 0x00, 0x02, 0x00, 0, 0},
		},
		{
			"single drive",
			ReadElementStatusCDB{Type: ElementDrive, Start: 0x0100, Count: 1, AllocLen: 0x40},
			[]byte{0xB8, 0x04, 0x01, 0x00, 0x00, 0x01, 0, 0x00, 0x00, 0x40, 0, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cdb.Bytes()
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Bytes() = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestModeSenseCDB(t *testing.T) {
	cdb := ModeSenseCDB(ModePageElementAddress, 0x48)
	if cdb[0] != OpModeSense6 || cdb[2] != ModePageElementAddress || cdb[4] != 0x48 {
		t.Errorf("ModeSenseCDB = % X", cdb)
	}
	if cdb[1]&0x08 == 0 {
		t.Error("ModeSenseCDB should set DBD")
	}
}

func TestFixedCDBs(t *testing.T) {
	if got := TestUnitReadyCDB(); len(got) != 6 || got[0] != OpTestUnitReady {
		t.Errorf("TestUnitReadyCDB = % X", got)
	}
	if got := InitElementStatusCDB(); len(got) != 6 || got[0] != OpInitElementStatus {
		t.Errorf("InitElementStatusCDB = % X", got)
	}
	if got := InquiryCDB(36); got[4] != 36 {
		t.Errorf("InquiryCDB alloc = %d, want 36", got[4])
	}
}

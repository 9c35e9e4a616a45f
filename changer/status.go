package changer

import (
	"discbot/logging"
	"discbot/scmc"
)

// statusAllocLen sizes the response buffer for count elements: data
// header, one page header, and room for descriptors with volume tags.
func statusAllocLen(count int) uint32 {
	return uint32(8 + 8 + count*52)
}

// StorageStatus reads the occupancy of every storage slot. The request
// is split into address-contiguous chunks the device tolerates and the
// results merged by element address. The returned slice has exactly one
// entry per slot in slot order: elements the device left out of every
// chunk are synthesized as empty with no exception.
func (c *Connection) StorageStatus() ([]scmc.ElementStatus, error) {
	m := c.Map()
	if m == nil {
		return nil, ErrNotConnected
	}
	storage := m.storageElements()

	byAddr := make(map[uint16]scmc.ElementStatus, len(storage))
	for start := 0; start < len(storage); start += c.chunk {
		end := start + c.chunk
		if end > len(storage) {
			end = len(storage)
		}
		chunk := storage[start:end]

		got, err := c.readStatus(scmc.ElementStorage, chunk[0].Addr, uint16(len(chunk)))
		if err != nil {
			return nil, err
		}
		for _, es := range got {
			byAddr[es.Address] = es
		}
	}

	out := make([]scmc.ElementStatus, len(storage))
	for i, e := range storage {
		if es, ok := byAddr[e.Addr]; ok {
			out[i] = es
		} else {
			out[i] = scmc.ElementStatus{Address: e.Addr, Type: scmc.ElementStorage}
		}
	}
	return out, nil
}

// DriveStatus reads the drive element. Some firmware revisions return
// an empty report for drive queries; that is not an error, and the
// second return value is false so callers fall back to the external
// media-presence signal and remembered state.
func (c *Connection) DriveStatus() (*scmc.ElementStatus, bool, error) {
	m := c.Map()
	if m == nil {
		return nil, false, ErrNotConnected
	}
	got, err := c.readStatus(scmc.ElementDrive, m.Drive().Addr, 1)
	if err != nil {
		return nil, false, err
	}
	if len(got) == 0 {
		logging.DebugLog("changer", "drive element status unsupported by firmware")
		return nil, false, nil
	}
	es := got[0]
	return &es, true, nil
}

// ImportExportStatus reads the import/export port element. The second
// return value is false when the device has no port or its firmware
// omits the element from status reports.
func (c *Connection) ImportExportStatus() (*scmc.ElementStatus, bool, error) {
	m := c.Map()
	if m == nil {
		return nil, false, ErrNotConnected
	}
	ie, ok := m.ImportExport()
	if !ok {
		return nil, false, nil
	}
	got, err := c.readStatus(scmc.ElementImpExp, ie.Addr, 1)
	if err != nil {
		return nil, false, err
	}
	if len(got) == 0 {
		return nil, false, nil
	}
	es := got[0]
	return &es, true, nil
}

// readStatus issues one READ ELEMENT STATUS and decodes the report.
func (c *Connection) readStatus(t scmc.ElementType, start uint16, count uint16) ([]scmc.ElementStatus, error) {
	alloc := statusAllocLen(int(count))
	buf := make([]byte, alloc)
	cdb := scmc.ReadElementStatusCDB{Type: t, Start: start, Count: count, AllocLen: alloc}
	n, err := c.execute("read element status", cdb.Bytes(), buf, scmc.DirIn, c.timeouts.Status)
	if err != nil {
		return nil, &CommandFailedError{Op: "read element status", Err: err}
	}
	got, err := scmc.ParseElementStatus(buf[:n])
	if err != nil {
		return nil, err
	}
	return got, nil
}

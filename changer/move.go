package changer

import (
	"errors"
	"time"

	"discbot/logging"
	"discbot/scmc"
)

// Move commands the transport to carry a unit from src to dst and
// blocks until the mechanism finishes. Failures are translated into the
// domain errors the orchestrator acts on; this is the only place raw
// sense records become typed errors.
//
// One firmware quirk is handled here: after certain aborted operations
// the changer's internal element state goes stale and an eject-type
// move fails with an entirely zero sense record. The workaround is a
// full rescan, a settle wait, and exactly one retry of the move. Any
// non-zero sense never triggers the rescan, and the retry never
// recurses.
func (c *Connection) Move(src, dst Element) error {
	m := c.Map()
	if m == nil {
		return ErrNotConnected
	}
	transport := m.Transport()

	for attempt := 0; ; attempt++ {
		logging.DebugLog("changer", "move %s -> %s (attempt %d)", src, dst, attempt+1)
		err := c.moveOnce(transport, src, dst)
		if err == nil {
			return nil
		}

		var cmdErr *scmc.CommandError
		if !errors.As(err, &cmdErr) {
			return &CommandFailedError{Op: "move medium", Err: err}
		}
		sense := cmdErr.Sense

		switch {
		case sense.DestinationFull():
			if dst.Type == scmc.ElementDrive {
				return ErrDriveNotEmpty
			}
			if dst.Type == scmc.ElementStorage {
				return &SlotOccupiedError{Slot: dst.Slot}
			}
			return c.moveFailed(src, dst, "destination element full", sense)

		case sense.SourceEmpty():
			if src.Type == scmc.ElementStorage {
				return &SlotEmptyError{Slot: src.Slot}
			}
			if src.Type == scmc.ElementDrive {
				return ErrDriveEmpty
			}
			return c.moveFailed(src, dst, "source element empty", sense)

		case sense.InvalidElement():
			return c.moveFailed(src, dst, "invalid element address", sense)

		case sense.Zero() && src.Type == scmc.ElementDrive && attempt == 0:
			// Stale element state. Rescan, settle, retry once.
			logging.DebugLog("changer", "zero sense on eject move, rescanning element state")
			if rerr := c.Rescan(); rerr != nil {
				return rerr
			}
			time.Sleep(c.timeouts.Settle)
			continue

		default:
			return c.moveFailed(src, dst, sense.String(), sense)
		}
	}
}

func (c *Connection) moveOnce(transport, src, dst Element) error {
	cdb := scmc.MoveMediumCDB{
		Transport:   transport.Addr,
		Source:      src.Addr,
		Destination: dst.Addr,
	}
	_, err := c.execute("move medium", cdb.Bytes(), nil, scmc.DirNone, c.timeouts.Move)
	return err
}

func (c *Connection) moveFailed(src, dst Element, reason string, sense scmc.Sense) error {
	return &MoveFailedError{
		Source:      src.Addr,
		Destination: dst.Addr,
		Reason:      reason,
		Sense:       sense,
	}
}

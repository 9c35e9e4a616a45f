package changer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"discbot/logging"
	"discbot/scmc"
	"discbot/sbp"
	"discbot/sgio"
)

// Options selects the device and tunes the session.
type Options struct {
	// Device is the pass-through device node. Empty means scan the
	// host registry for the first changer-class device.
	Device string

	// Node is the raw bus node for the fallback backend. Empty means
	// probe the bus.
	Node string

	// Chunk overrides the storage elements requested per status query.
	Chunk int

	// Timeouts overrides the per-command deadlines; zero fields keep
	// the defaults.
	Timeouts Timeouts
}

// Connection is one exclusive session to the changer. All device I/O
// goes through it serially: the internal mutex is held for the duration
// of each command, so a Connection is safe to share across goroutines
// but never executes two commands at once.
type Connection struct {
	mu       sync.Mutex
	ch       Channel
	closed   bool
	emap     *ElementMap
	identity *scmc.Inquiry
	chunk    int
	timeouts Timeouts
}

// Connect opens a session to the changer. The kernel pass-through
// backend is tried first; any failure there (no device, busy client,
// failed probe) falls through to the raw bus login. Both failing yields
// ErrConnectionFailed carrying both causes.
func Connect(opts Options) (*Connection, error) {
	return connectFirst([]Channel{sgio.New(opts.Device), sbp.New(opts.Node)}, opts)
}

// connectFirst opens the first backend that will take the device.
func connectFirst(backends []Channel, opts Options) (*Connection, error) {
	var causes []string
	for _, ch := range backends {
		if err := ch.Open(); err != nil {
			logging.DebugLog("changer", "%s backend unavailable: %v", ch.Name(), err)
			causes = append(causes, fmt.Sprintf("%s: %v", ch.Name(), err))
			continue
		}
		logging.DebugLog("changer", "connected via %s", ch.Name())
		return NewConnection(ch, opts), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrConnectionFailed, strings.Join(causes, "; "))
}

// NewConnection wraps an already-open channel. Used by Connect and by
// tests running against the in-memory changer.
func NewConnection(ch Channel, opts Options) *Connection {
	t := opts.Timeouts
	def := DefaultTimeouts()
	if t.Status == 0 {
		t.Status = def.Status
	}
	if t.Move == 0 {
		t.Move = def.Move
	}
	if t.Rescan == 0 {
		t.Rescan = def.Rescan
	}
	if t.Settle == 0 {
		t.Settle = def.Settle
	}
	chunk := opts.Chunk
	if chunk <= 0 {
		chunk = DefaultChunk
	}
	return &Connection{ch: ch, chunk: chunk, timeouts: t}
}

// Close releases the session and whichever backend holds the device.
// Close is idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	logging.DebugLog("changer", "closing %s session", c.ch.Name())
	return c.ch.Close()
}

// Backend reports which transport carries the session.
func (c *Connection) Backend() string {
	return c.ch.Name()
}

// Map returns the element map loaded by LoadElementMap, or nil before
// the first load.
func (c *Connection) Map() *ElementMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emap
}

// Identity returns the device identity from the last Identify call.
func (c *Connection) Identity() *scmc.Inquiry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// execute runs one command under the session mutex.
func (c *Connection) execute(op string, cdb, data []byte, dir scmc.Direction, timeout time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executeLocked(op, cdb, data, dir, timeout)
}

func (c *Connection) executeLocked(op string, cdb, data []byte, dir scmc.Direction, timeout time.Duration) (int, error) {
	if c.closed {
		return 0, ErrNotConnected
	}
	logging.DebugCDB("changer", cdb)
	n, err := c.ch.Execute(cdb, data, dir, timeout)
	if err != nil {
		logging.DebugError("changer", op, err)
		return n, err
	}
	if dir == scmc.DirIn && n > 0 && n <= len(data) {
		logging.DebugData("changer", data[:n])
	}
	return n, nil
}

// TestUnitReady issues one TEST UNIT READY and returns the device's
// verdict unmodified.
func (c *Connection) TestUnitReady() error {
	_, err := c.execute("test unit ready", scmc.TestUnitReadyCDB(), nil, scmc.DirNone, c.timeouts.Status)
	return err
}

// Identify queries and caches the device identity.
func (c *Connection) Identify() (*scmc.Inquiry, error) {
	buf := make([]byte, scmc.InquiryDataLen)
	n, err := c.execute("inquiry", scmc.InquiryCDB(byte(len(buf))), buf, scmc.DirIn, c.timeouts.Status)
	if err != nil {
		return nil, &CommandFailedError{Op: "inquiry", Err: err}
	}
	inq, err := scmc.ParseInquiry(buf[:n])
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.identity = inq
	c.mu.Unlock()
	return inq, nil
}

// Rescan makes the changer re-inventory every element. The mechanism
// visits each slot, so this blocks for minutes. Callers should reload
// the element map afterwards.
func (c *Connection) Rescan() error {
	logging.DebugLog("changer", "full inventory rescan")
	_, err := c.execute("initialize element status", scmc.InitElementStatusCDB(), nil, scmc.DirNone, c.timeouts.Rescan)
	if err != nil {
		return &CommandFailedError{Op: "initialize element status", Err: err}
	}
	return nil
}

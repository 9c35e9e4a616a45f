// Package sbp is the raw bus backend for the changer, used when the
// kernel pass-through cannot claim the device. It logs in to the
// point-to-point bus target directly, holds the login for the life of
// the session, and executes commands by submitting operation request
// blocks (ORBs) to the target.
//
// Completion on the bus is event-driven: a dedicated reader goroutine
// demultiplexes completion events to the waiting submitter by ORB tag,
// so Execute stays a plain blocking call. Each wait is bounded by the
// command timeout plus a fixed margin to cover bus turnaround.
package sbp

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"discbot/logging"
	"discbot/scmc"
)

// loginTimeout bounds the exclusive login handshake.
const loginTimeout = 5 * time.Second

// completionMargin is added to every command timeout when waiting for
// the completion event.
const completionMargin = 2 * time.Second

// ErrNoTarget is returned by Open when no changer target answers a
// login on the bus.
var ErrNoTarget = errors.New("sbp: no changer target on bus")

// ErrLoginRejected is returned when the target refused the exclusive
// login (typically because another initiator holds it).
var ErrLoginRejected = errors.New("sbp: exclusive login rejected")

// Session is one exclusive login to the bus target. It implements
// changer.Channel.
type Session struct {
	mu      sync.Mutex
	node    string // bus device node, empty = probe
	dev     io.ReadWriteCloser
	loginID uint16
	open    bool

	nextTag uint32
	pending map[uint32]chan completion
	loginCh chan loginResponse
	readErr error
	done    chan struct{}
}

// completion is one decoded completion event.
type completion struct {
	status byte
	sense  []byte
	data   []byte
}

// New prepares a session for the given bus node. An empty node means
// Open probes the bus for a target that accepts a changer login.
func New(node string) *Session {
	return &Session{node: node}
}

// Name implements changer.Channel.
func (s *Session) Name() string { return "sbp" }

// Open locates the target and performs the exclusive login handshake.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return nil
	}

	nodes := []string{s.node}
	if s.node == "" {
		var err error
		nodes, err = busNodes()
		if err != nil {
			return err
		}
	}

	var lastErr error = ErrNoTarget
	for _, node := range nodes {
		if err := s.loginLocked(node); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// busNodes lists candidate bus device nodes, lowest unit first.
func busNodes() ([]string, error) {
	matches, err := filepath.Glob("/dev/fw[0-9]*")
	if err != nil || len(matches) == 0 {
		return nil, ErrNoTarget
	}
	sort.Strings(matches)
	return matches, nil
}

// loginLocked opens one node and runs the login handshake against it.
func (s *Session) loginLocked(node string) error {
	dev, err := os.OpenFile(node, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("sbp: open %s: %w", node, err)
	}

	s.dev = dev
	s.pending = make(map[uint32]chan completion)
	s.loginCh = make(chan loginResponse, 1)
	s.done = make(chan struct{})
	go s.readLoop()

	if err := writeFrame(dev, frameLogin, loginRequest{exclusive: true}.bytes()); err != nil {
		s.teardownLocked()
		return fmt.Errorf("sbp: login send: %w", err)
	}

	select {
	case resp := <-s.loginCh:
		if !resp.granted {
			s.teardownLocked()
			return ErrLoginRejected
		}
		s.loginID = resp.loginID
	case <-s.done:
		err := s.readErr
		s.teardownLocked()
		return fmt.Errorf("sbp: login on %s: %w", node, err)
	case <-time.After(loginTimeout):
		s.teardownLocked()
		return fmt.Errorf("sbp: login on %s: %w", node, scmc.ErrTimeout)
	}

	s.node = node
	s.open = true
	logging.DebugLog("sbp", "logged in to %s (login id 0x%04X)", node, s.loginID)
	return nil
}

// Close releases the login and the bus node. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}
	s.open = false

	// Best-effort logout so the target frees the login slot.
	if err := writeFrame(s.dev, frameLogout, logoutRequest{loginID: s.loginID}.bytes()); err != nil {
		logging.DebugLog("sbp", "logout send failed: %v", err)
	}
	s.teardownLocked()
	return nil
}

func (s *Session) teardownLocked() {
	if s.dev != nil {
		s.dev.Close()
		s.dev = nil
	}
	// readLoop exits on the closed file and closes done.
}

// Execute implements changer.Channel: build the ORB, submit it, block
// on the completion event.
func (s *Session) Execute(cdb []byte, data []byte, dir scmc.Direction, timeout time.Duration) (int, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return 0, fmt.Errorf("sbp: session not open")
	}
	s.nextTag++
	tag := s.nextTag
	ch := make(chan completion, 1)
	s.pending[tag] = ch
	dev := s.dev

	orb := commandORB{
		tag:     tag,
		loginID: s.loginID,
		dir:     dir,
		timeout: timeout,
		cdb:     cdb,
		dataLen: uint32(len(data)),
	}
	var payload []byte
	if dir == scmc.DirOut {
		payload = data
	}
	err := writeFrame(dev, frameORB, orb.bytes(payload))
	s.mu.Unlock()

	if err != nil {
		s.dropPending(tag)
		return 0, fmt.Errorf("sbp: submit ORB: %w", err)
	}
	logging.DebugCDB("sbp", cdb)

	select {
	case c := <-ch:
		return s.finish(c, data, dir, cdb)
	case <-s.done:
		s.dropPending(tag)
		return 0, fmt.Errorf("sbp: bus session lost: %v", s.readErr)
	case <-time.After(timeout + completionMargin):
		s.dropPending(tag)
		return 0, fmt.Errorf("sbp: %w after %v", scmc.ErrTimeout, timeout)
	}
}

func (s *Session) finish(c completion, data []byte, dir scmc.Direction, cdb []byte) (int, error) {
	if c.status != 0 {
		rec, err := scmc.ParseSense(c.sense)
		if err != nil {
			rec = scmc.Sense{}
		}
		return 0, &scmc.CommandError{
			Op:     fmt.Sprintf("opcode 0x%02X", cdb[0]),
			Status: c.status,
			Sense:  rec,
		}
	}
	if dir == scmc.DirIn {
		n := copy(data, c.data)
		return n, nil
	}
	return len(data), nil
}

func (s *Session) dropPending(tag uint32) {
	s.mu.Lock()
	delete(s.pending, tag)
	s.mu.Unlock()
}

// readLoop demultiplexes frames from the bus: login responses to the
// handshake, completion events to the submitter waiting on that tag.
func (s *Session) readLoop() {
	dev := s.dev
	defer close(s.done)
	for {
		ftype, payload, err := readFrame(dev)
		if err != nil {
			if err != io.EOF {
				logging.DebugError("sbp", "bus read", err)
			}
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			return
		}

		switch ftype {
		case frameLoginResponse:
			resp, err := parseLoginResponse(payload)
			if err != nil {
				logging.DebugError("sbp", "login response", err)
				continue
			}
			select {
			case s.loginCh <- resp:
			default:
			}

		case frameCompletion:
			tag, c, err := parseCompletion(payload)
			if err != nil {
				logging.DebugError("sbp", "completion event", err)
				continue
			}
			s.mu.Lock()
			ch := s.pending[tag]
			delete(s.pending, tag)
			s.mu.Unlock()
			if ch != nil {
				ch <- c
			} else {
				logging.DebugLog("sbp", "orphan completion for tag %d", tag)
			}

		default:
			logging.DebugLog("sbp", "ignoring frame type 0x%02X (%d bytes)", ftype, len(payload))
		}
	}
}

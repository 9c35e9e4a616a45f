package sbp

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"discbot/scmc"
)

// Frame types on the bus channel.
const (
	frameLogin         = 0x01
	frameLoginResponse = 0x02
	frameLogout        = 0x03
	frameORB           = 0x04
	frameCompletion    = 0x05
)

const (
	frameHeaderLen = 8
	maxFrameLen    = 64 << 10

	orbHeaderLen = 32
	maxCDBLen    = 16
)

// writeFrame sends one framed message: type, length, payload.
func writeFrame(w io.Writer, ftype byte, payload []byte) error {
	hdr := make([]byte, frameHeaderLen)
	hdr[0] = ftype
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// readFrame reads one framed message.
func readFrame(r io.Reader) (byte, []byte, error) {
	hdr := make([]byte, frameHeaderLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[4:8])
	if n > maxFrameLen {
		return 0, nil, fmt.Errorf("sbp: frame length %d exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return hdr[0], payload, nil
}

// loginRequest asks the target for a login. The exclusive flag demands
// sole access; the target rejects it while another initiator is logged
// in.
type loginRequest struct {
	exclusive bool
}

func (l loginRequest) bytes() []byte {
	b := make([]byte, 4)
	if l.exclusive {
		b[0] = 0x80
	}
	return b
}

// loginResponse carries the target's verdict and the login ID used on
// every subsequent ORB.
type loginResponse struct {
	granted bool
	loginID uint16
}

func parseLoginResponse(payload []byte) (loginResponse, error) {
	if len(payload) < 4 {
		return loginResponse{}, fmt.Errorf("sbp: login response %d bytes", len(payload))
	}
	return loginResponse{
		granted: payload[0]&0x80 != 0,
		loginID: binary.BigEndian.Uint16(payload[2:4]),
	}, nil
}

// logoutRequest releases a held login.
type logoutRequest struct {
	loginID uint16
}

func (l logoutRequest) bytes() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[2:4], l.loginID)
	return b
}

// commandORB is one operation request block: tag, login, transfer
// direction and size, command timeout, and the CDB padded to its fixed
// field. Write data follows the header.
type commandORB struct {
	tag     uint32
	loginID uint16
	dir     scmc.Direction
	timeout time.Duration
	cdb     []byte
	dataLen uint32
}

func (o commandORB) bytes(writeData []byte) []byte {
	b := make([]byte, orbHeaderLen, orbHeaderLen+len(writeData))
	binary.BigEndian.PutUint32(b[0:4], o.tag)
	binary.BigEndian.PutUint16(b[4:6], o.loginID)
	switch o.dir {
	case scmc.DirIn:
		b[6] = 0x01
	case scmc.DirOut:
		b[6] = 0x02
	}
	b[7] = byte(len(o.cdb))
	binary.BigEndian.PutUint32(b[8:12], uint32(o.timeout/time.Millisecond))
	binary.BigEndian.PutUint32(b[12:16], o.dataLen)
	copy(b[16:16+maxCDBLen], o.cdb)
	return append(b, writeData...)
}

// parseCompletion decodes one completion event: tag, status, captured
// sense, and any read data.
func parseCompletion(payload []byte) (uint32, completion, error) {
	if len(payload) < 8 {
		return 0, completion{}, fmt.Errorf("sbp: completion event %d bytes", len(payload))
	}
	tag := binary.BigEndian.Uint32(payload[0:4])
	status := payload[4]
	senseLen := int(payload[5])
	rest := payload[8:]
	if senseLen > len(rest) {
		return 0, completion{}, fmt.Errorf("sbp: sense length %d overflows event", senseLen)
	}
	c := completion{
		status: status,
		sense:  append([]byte(nil), rest[:senseLen]...),
		data:   append([]byte(nil), rest[senseLen:]...),
	}
	return tag, c, nil
}

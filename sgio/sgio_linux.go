//go:build linux

package sgio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"discbot/logging"
	"discbot/scmc"
)

// SG_IO ioctl and header constants, from <scsi/sg.h>.
const (
	sgIO = 0x2285

	sgDxferNone    = -1
	sgDxferToDev   = -2
	sgDxferFromDev = -3

	sgInfoOKMask = 0x1
	sgInfoOK     = 0x0

	statusCheckCondition = 0x02
	hostDidTimeout       = 0x03

	senseBufLen = 32
)

// sgIoHdr mirrors struct sg_io_hdr. Field order and widths must match
// the kernel ABI.
type sgIoHdr struct {
	interfaceID    int32
	dxferDirection int32
	cmdLen         uint8
	mxSbLen        uint8
	iovecCount     uint16
	dxferLen       uint32
	dxferp         uintptr
	cmdp           uintptr
	sbp            uintptr
	timeout        uint32 // milliseconds
	flags          uint32
	packID         int32
	usrPtr         uintptr
	status         uint8
	maskedStatus   uint8
	msgStatus      uint8
	sbLenWr        uint8
	hostStatus     uint16
	driverStatus   uint16
	resid          int32
	duration       uint32
	info           uint32
}

const scsiGenericClass = "/sys/class/scsi_generic"

// findChanger scans the SCSI generic registry for the first device
// whose peripheral type is medium changer.
func findChanger() (string, error) {
	entries, err := os.ReadDir(scsiGenericClass)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoChanger, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		typePath := filepath.Join(scsiGenericClass, name, "device", "type")
		raw, err := os.ReadFile(typePath)
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(raw)) == fmt.Sprint(scmc.DeviceTypeChanger) {
			return "/dev/" + name, nil
		}
	}
	return "", ErrNoChanger
}

// Open claims the device. Exclusive access is requested first; a busy
// device degrades to a shared open with a logged warning rather than
// failing, since exclusivity is best-effort.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return nil
	}

	path := d.path
	if path == "" {
		found, err := findChanger()
		if err != nil {
			return err
		}
		path = found
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_EXCL|unix.O_NONBLOCK, 0)
	if err == unix.EBUSY {
		logging.DebugLog("sgio", "exclusive open of %s busy, degrading to shared", path)
		fd, err = unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	} else if err == nil {
		d.exclusive = true
	}
	if err != nil {
		return fmt.Errorf("sgio: open %s: %w", path, err)
	}

	d.path = path
	d.fd = fd
	d.open = true
	logging.DebugLog("sgio", "opened %s (exclusive=%v)", path, d.exclusive)
	return nil
}

// Close releases the device. Idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil
	}
	d.open = false
	d.exclusive = false
	fd := d.fd
	d.fd = -1
	return unix.Close(fd)
}

// Execute implements changer.Channel over the SG_IO ioctl. The call
// blocks in the kernel until the device completes the command or the
// timeout fires.
func (d *Device) Execute(cdb []byte, data []byte, dir scmc.Direction, timeout time.Duration) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return 0, fmt.Errorf("sgio: device not open")
	}

	var sense [senseBufLen]byte
	hdr := sgIoHdr{
		interfaceID: 'S',
		cmdLen:      uint8(len(cdb)),
		mxSbLen:     senseBufLen,
		timeout:     uint32(timeout / time.Millisecond),
		cmdp:        uintptr(unsafe.Pointer(&cdb[0])),
		sbp:         uintptr(unsafe.Pointer(&sense[0])),
	}

	switch dir {
	case scmc.DirIn:
		hdr.dxferDirection = sgDxferFromDev
	case scmc.DirOut:
		hdr.dxferDirection = sgDxferToDev
	default:
		hdr.dxferDirection = sgDxferNone
	}
	if len(data) > 0 && dir != scmc.DirNone {
		hdr.dxferLen = uint32(len(data))
		hdr.dxferp = uintptr(unsafe.Pointer(&data[0]))
	}

	logging.DebugCDB("sgio", cdb)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), sgIO, uintptr(unsafe.Pointer(&hdr)))
	if errno != 0 {
		return 0, fmt.Errorf("sgio: SG_IO ioctl: %w", errno)
	}

	if hdr.hostStatus == hostDidTimeout {
		return 0, fmt.Errorf("sgio: %w after %v", scmc.ErrTimeout, timeout)
	}

	if hdr.info&sgInfoOKMask != sgInfoOK {
		rec, perr := scmc.ParseSense(sense[:])
		if perr != nil {
			rec = scmc.Sense{}
		}
		return 0, &scmc.CommandError{
			Op:     fmt.Sprintf("opcode 0x%02X", cdb[0]),
			Status: hdr.status,
			Sense:  rec,
		}
	}

	n := len(data) - int(hdr.resid)
	if n < 0 || n > len(data) {
		n = len(data)
	}
	return n, nil
}

// Package media declares the boundary to the collaborators the jukebox
// core drives but does not contain: the drive's media presence and
// mount service, the disc imaging tool, and the catalog. The core calls
// these interfaces at well-defined points and never reaches around
// them; anything satisfying them (real services or the sim package)
// plugs in.
package media

import (
	"errors"
	"sync/atomic"
	"time"
)

// Handle identifies the optical drive's media device to the
// collaborators (a device node path on this platform).
type Handle string

// ErrNoMedia is returned by Mount and the metadata queries when the
// drive holds no disc.
var ErrNoMedia = errors.New("no media present")

// ErrTimeout is returned by WaitForMedia when no disc shows up within
// the deadline.
var ErrTimeout = errors.New("timed out waiting for media")

// Drive is the presence and mount service for the optical drive.
// "Media absent" and "no mount point" are distinct conditions: audio
// discs are present but legitimately have no file-system mount.
type Drive interface {
	// WaitForMedia blocks until the drive reports a readable disc or
	// the timeout elapses (ErrTimeout).
	WaitForMedia(timeout time.Duration) (Handle, error)

	// IsPresent reports whether the drive currently holds a disc.
	IsPresent() bool

	// Mount attaches the disc's file system and returns the mount
	// point.
	Mount(h Handle) (string, error)

	// Unmount detaches the disc's file system. With force set, open
	// handles are revoked first.
	Unmount(h Handle, force bool) error

	// Release spins down and unlocks the disc so the changer can pull
	// it from the drive.
	Release(h Handle, force bool) error

	// MountPoint returns the current mount point, if mounted.
	MountPoint(h Handle) (string, bool)

	// VolumeLabel returns the disc's volume label, if it has one.
	VolumeLabel(h Handle) (string, bool)
}

// Type classifies a disc for imaging.
type Type int

const (
	TypeUnknown Type = iota
	TypeAudio
	TypeData
	TypeMixed
	TypeVideo
)

func (t Type) String() string {
	switch t {
	case TypeAudio:
		return "audio"
	case TypeData:
		return "data"
	case TypeMixed:
		return "mixed"
	case TypeVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Progress is one imaging progress report. Fraction is 0..1 and is
// delivered at least once per percent and exactly once at completion
// with Fraction == 1.0. TotalBytes, Speed, and ETA are zero when the
// tool cannot estimate them.
type Progress struct {
	Fraction    float64
	Transferred uint64
	TotalBytes  uint64
	Speed       uint64 // bytes per second
	ETA         time.Duration
}

// Control carries pause/resume/cancel signals into a running imaging
// job. The imager polls it and forwards pause as a stop/continue signal
// to the external tool's process; cancel stops the job and discards
// partial output.
type Control struct {
	paused    atomic.Bool
	cancelled atomic.Bool
}

// NewControl returns a Control in the running state.
func NewControl() *Control { return &Control{} }

// Pause asks the job to hold.
func (c *Control) Pause() { c.paused.Store(true) }

// Resume lets a paused job continue.
func (c *Control) Resume() { c.paused.Store(false) }

// Cancel stops the job.
func (c *Control) Cancel() { c.cancelled.Store(true) }

// Paused reports whether a pause is requested.
func (c *Control) Paused() bool { return c.paused.Load() }

// Cancelled reports whether the job was cancelled.
func (c *Control) Cancelled() bool { return c.cancelled.Load() }

// ErrImagingCancelled is returned by CreateImage when the job's Control
// was cancelled.
var ErrImagingCancelled = errors.New("imaging cancelled")

// Imager creates disc images by driving the external imaging tool.
type Imager interface {
	// DetectType probes the disc in the drive.
	DetectType(h Handle) (Type, error)

	// EstimateSize returns the expected image size in bytes, if the
	// disc format allows an estimate.
	EstimateSize(h Handle) (uint64, bool)

	// CreateImage images the disc to outputPath under ctl, reporting
	// through progress, and returns the final image path.
	CreateImage(h Handle, t Type, outputPath string, ctl *Control, progress func(Progress)) (string, error)
}

// BackupState is the catalog's record of a slot's imaging history.
type BackupState int

const (
	BackupNever BackupState = iota
	BackupSucceeded
	BackupFailed
)

// Catalog records what the jukebox learns about discs. The core calls
// it synchronously but never depends on its answers for control flow.
type Catalog interface {
	// RecordDisc notes a disc seen in a slot and returns the catalog's
	// id for it.
	RecordDisc(slot int, h Handle, t Type, sizeBytes uint64) (int64, error)

	// RecordBackupResult notes the outcome of imaging a slot.
	RecordBackupResult(slot int, imagePath string, ok bool, sizeBytes uint64, cause error)

	// BackupStatus reports a slot's imaging history.
	BackupStatus(slot int) (BackupState, time.Time)
}

package sim

import (
	"fmt"
	"os"
	"sync"
	"time"

	"discbot/media"
)

// Drive is the collaborator fake for media presence and mounting. It
// watches the simulated changer: a disc is "present" whenever the
// drive element is occupied.
type Drive struct {
	Changer *Changer

	// Label, when set, is reported as every disc's volume label.
	Label string

	// MountHook, when set, is consulted before a mount succeeds. Used
	// to force per-disc failures.
	MountHook func(h media.Handle) error

	mu      sync.Mutex
	mounted map[media.Handle]string
}

// NewDrive builds the fake drive service over a simulated changer.
func NewDrive(c *Changer) *Drive {
	return &Drive{Changer: c, mounted: make(map[media.Handle]string)}
}

// WaitForMedia implements media.Drive by polling the drive element.
func (d *Drive) WaitForMedia(timeout time.Duration) (media.Handle, error) {
	deadline := time.Now().Add(timeout)
	for {
		if d.Changer.DriveOccupied() {
			return d.handle(), nil
		}
		if time.Now().After(deadline) {
			return "", media.ErrTimeout
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// IsPresent implements media.Drive.
func (d *Drive) IsPresent() bool {
	return d.Changer.DriveOccupied()
}

// Mount implements media.Drive.
func (d *Drive) Mount(h media.Handle) (string, error) {
	if !d.Changer.DriveOccupied() {
		return "", media.ErrNoMedia
	}
	if d.MountHook != nil {
		if err := d.MountHook(h); err != nil {
			return "", err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	mp := "/media/sim"
	d.mounted[h] = mp
	return mp, nil
}

// Unmount implements media.Drive.
func (d *Drive) Unmount(h media.Handle, force bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.mounted, h)
	return nil
}

// Release implements media.Drive.
func (d *Drive) Release(h media.Handle, force bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.mounted, h)
	return nil
}

// MountPoint implements media.Drive.
func (d *Drive) MountPoint(h media.Handle) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mp, ok := d.mounted[h]
	return mp, ok
}

// VolumeLabel implements media.Drive.
func (d *Drive) VolumeLabel(h media.Handle) (string, bool) {
	if d.Label == "" {
		return "", false
	}
	return d.Label, true
}

func (d *Drive) handle() media.Handle {
	if slot, ok := d.Changer.DriveSource(); ok {
		return media.Handle(fmt.Sprintf("sim-disc-%d", slot))
	}
	return "sim-disc"
}

// Imager is the collaborator fake for the external imaging tool.
type Imager struct {
	// Type is reported for every disc.
	Type media.Type

	// Size is the estimated image size.
	Size uint64

	// Steps is how many progress reports precede completion.
	Steps int

	// Err, when set, fails every CreateImage call.
	Err error
}

// NewImager builds an imager fake reporting data discs of 650 MB.
func NewImager() *Imager {
	return &Imager{Type: media.TypeData, Size: 650 << 20, Steps: 4}
}

// DetectType implements media.Imager.
func (im *Imager) DetectType(h media.Handle) (media.Type, error) {
	if im.Type == media.TypeUnknown {
		return media.TypeUnknown, media.ErrNoMedia
	}
	return im.Type, nil
}

// EstimateSize implements media.Imager.
func (im *Imager) EstimateSize(h media.Handle) (uint64, bool) {
	return im.Size, im.Size > 0
}

// CreateImage implements media.Imager. It emits Steps intermediate
// progress reports and one final report with Fraction 1.0, honoring
// pause and cancel between steps.
func (im *Imager) CreateImage(h media.Handle, t media.Type, outputPath string, ctl *media.Control, progress func(media.Progress)) (string, error) {
	if im.Err != nil {
		return "", im.Err
	}
	steps := im.Steps
	if steps < 1 {
		steps = 1
	}
	for i := 1; i <= steps; i++ {
		for ctl != nil && ctl.Paused() && !ctl.Cancelled() {
			time.Sleep(time.Millisecond)
		}
		if ctl != nil && ctl.Cancelled() {
			return "", media.ErrImagingCancelled
		}
		if progress != nil && i < steps {
			frac := float64(i) / float64(steps)
			progress(media.Progress{
				Fraction:    frac,
				Transferred: uint64(frac * float64(im.Size)),
				TotalBytes:  im.Size,
			})
		}
	}
	if err := os.WriteFile(outputPath, nil, 0644); err != nil {
		return "", err
	}
	if progress != nil {
		progress(media.Progress{Fraction: 1.0, Transferred: im.Size, TotalBytes: im.Size})
	}
	return outputPath, nil
}

// CatalogEntry is one recorded disc observation.
type CatalogEntry struct {
	Slot int
	Type media.Type
	Size uint64
}

// BackupRecord is one recorded imaging outcome.
type BackupRecord struct {
	Slot  int
	Path  string
	OK    bool
	Size  uint64
	Cause error
	When  time.Time
}

// Catalog is the collaborator fake for the disc catalog.
type Catalog struct {
	mu      sync.Mutex
	nextID  int64
	Discs   []CatalogEntry
	Backups []BackupRecord
}

// NewCatalog builds an empty catalog fake.
func NewCatalog() *Catalog { return &Catalog{} }

// RecordDisc implements media.Catalog.
func (c *Catalog) RecordDisc(slot int, h media.Handle, t media.Type, sizeBytes uint64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.Discs = append(c.Discs, CatalogEntry{Slot: slot, Type: t, Size: sizeBytes})
	return c.nextID, nil
}

// RecordBackupResult implements media.Catalog.
func (c *Catalog) RecordBackupResult(slot int, imagePath string, ok bool, sizeBytes uint64, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Backups = append(c.Backups, BackupRecord{
		Slot: slot, Path: imagePath, OK: ok, Size: sizeBytes, Cause: cause, When: time.Now(),
	})
}

// BackupStatus implements media.Catalog.
func (c *Catalog) BackupStatus(slot int) (media.BackupState, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.Backups) - 1; i >= 0; i-- {
		if c.Backups[i].Slot == slot {
			if c.Backups[i].OK {
				return media.BackupSucceeded, c.Backups[i].When
			}
			return media.BackupFailed, c.Backups[i].When
		}
	}
	return media.BackupNever, time.Time{}
}

// Package hid implements the register-level control channel to the
// integrated capture chip over a USB HID feature-report transport, plus
// the status-polling loop and EEPROM chunked I/O built on top of it.
package hid

import (
	"strings"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/openterface-sdk/openterface-core/errs"
)

// ChipType distinguishes the two supported register-map families.
type ChipType int

const (
	ChipUnknown ChipType = iota
	ChipMS2109
	ChipMS2130S
)

func (c ChipType) String() string {
	switch c {
	case ChipMS2109:
		return "MS2109"
	case ChipMS2130S:
		return "MS2130S"
	default:
		return "Unknown"
	}
}

// device is the subset of github.com/karalabe/hid's Device interface this
// package drives; satisfied by *hid.device and by fakeDevice in tests.
type device interface {
	Close() error
	GetFeatureReport(b []byte) (int, error)
	SendFeatureReport(b []byte) (int, error)
}

// opener abstracts hid.DeviceInfo.Open so transport open/close can be
// exercised without a real HID backend.
type opener func(path string) (device, error)

func defaultOpener(path string) (device, error) {
	infos, err := hid.Enumerate(0, 0)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Path == path {
			return info.Open()
		}
	}
	return nil, errs.ErrHIDOpenFailed
}

// settleDelay is how long begin_transaction sleeps after a fresh open to
// let the device settle, mirroring the ~100 ms pause the transport takes
// before issuing its first register access.
const settleDelay = 100 * time.Millisecond

// hidOpenAttempts is how many times beginLocked tries to open the OS handle,
// sleeping hidOpenBackoff between attempts, before giving up with
// errs.ErrHIDOpenFailed.
const (
	hidOpenAttempts = 3
	hidOpenBackoff  = 100 * time.Millisecond
)

// Transport serializes register and EEPROM access to one HID device path
// behind a single mutex, tracks transaction state, and re-runs chip
// detection on every fresh open.
type Transport struct {
	open opener

	mu            sync.Mutex
	path          string
	dev           device
	inTransaction bool
	chip          ChipType
	sleep         func(time.Duration)
}

// New builds a Transport with no device path bound yet; call
// SwitchToPath to bind one.
func New() *Transport {
	return &Transport{open: defaultOpener, sleep: time.Sleep}
}

// Path returns the currently bound device path, or "" if none.
func (t *Transport) Path() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path
}

// Chip returns the detected chip type for the currently bound path.
func (t *Transport) Chip() ChipType {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chip
}

// DetectChip classifies path by VID/PID substring. 345F+2132 (or
// vid_345f+pid_2132) is MS2130S; 534D+2109 (or vid_534d+pid_2109) is
// MS2109. If neither matches, fallback is returned unchanged — detection
// never downgrades a previously known chip type to unknown.
func DetectChip(path string, fallback ChipType) ChipType {
	p := strings.ToLower(path)
	switch {
	case (strings.Contains(p, "345f") && strings.Contains(p, "2132")) ||
		(strings.Contains(p, "vid_345f") && strings.Contains(p, "pid_2132")):
		return ChipMS2130S
	case (strings.Contains(p, "534d") && strings.Contains(p, "2109")) ||
		(strings.Contains(p, "vid_534d") && strings.Contains(p, "pid_2109")):
		return ChipMS2109
	default:
		return fallback
	}
}

// BeginTransaction opens the OS handle if not already open (up to
// hidOpenAttempts tries, then sleeping settleDelay after a fresh open) and
// marks a transaction in progress.
// Safe to call when a transaction is already open — it is then a no-op.
func (t *Transport) BeginTransaction() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.beginLocked()
}

func (t *Transport) beginLocked() error {
	if t.inTransaction {
		return nil
	}
	if t.path == "" {
		return errs.ErrTransportClosed
	}
	if t.dev == nil {
		d, err := t.open(t.path)
		for attempt := 1; err != nil && attempt < hidOpenAttempts; attempt++ {
			t.sleep(hidOpenBackoff)
			d, err = t.open(t.path)
		}
		if err != nil {
			return errs.ErrHIDOpenFailed
		}
		t.dev = d
		t.chip = DetectChip(t.path, t.chip)
		t.sleep(settleDelay)
	}
	t.inTransaction = true
	return nil
}

// EndTransaction closes the OS handle and clears the in-transaction flag.
func (t *Transport) EndTransaction() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endLocked()
}

func (t *Transport) endLocked() error {
	if t.dev != nil {
		if err := t.dev.Close(); err != nil {
			t.dev = nil
			t.inTransaction = false
			return err
		}
		t.dev = nil
	}
	t.inTransaction = false
	return nil
}

// InTransaction reports whether a transaction is currently open.
func (t *Transport) InTransaction() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inTransaction
}

// SwitchToPath rebinds the transport to a new device path. If newPath
// equals the current path, this is a no-op. Otherwise any open transaction
// is ended, the path is replaced, the transaction is re-opened if one was
// open, and chip detection is re-run. Returns whether the path actually
// changed, the previous path, and any error from re-opening.
func (t *Transport) SwitchToPath(newPath string) (changed bool, oldPath string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	oldPath = t.path
	if newPath == oldPath {
		return false, oldPath, nil
	}

	wasOpen := t.inTransaction
	if err := t.endLocked(); err != nil {
		return false, oldPath, err
	}

	t.path = newPath
	if newPath == "" {
		return true, oldPath, nil
	}

	if wasOpen {
		if err := t.beginLocked(); err != nil {
			return true, oldPath, err
		}
	}
	return true, oldPath, nil
}

// readRegister performs one feature-report round trip and returns the
// register byte at the response's fixed offset, or a default of 0 and a
// logged-by-caller failure if the round trip itself errors.
func (t *Transport) readRegister(report []byte, responseOffset int) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.inTransaction {
		return 0, errs.ErrTransportClosed
	}
	buf := make([]byte, len(report))
	copy(buf, report)
	if _, err := t.dev.SendFeatureReport(buf); err != nil {
		return 0, err
	}
	resp := make([]byte, len(report))
	if _, err := t.dev.GetFeatureReport(resp); err != nil {
		return 0, err
	}
	if responseOffset >= len(resp) {
		return 0, nil
	}
	return resp[responseOffset], nil
}

// writeRegister sends one feature report and discards the response.
func (t *Transport) writeRegister(report []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.inTransaction {
		return errs.ErrTransportClosed
	}
	buf := make([]byte, len(report))
	copy(buf, report)
	_, err := t.dev.SendFeatureReport(buf)
	return err
}

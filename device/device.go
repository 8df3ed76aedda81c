// Package device holds the logical USB device record that the correlator
// produces and the hotplug monitor diffs: the composite "Openterface" unit
// assembled from up to four interfaces (serial, HID, camera, audio) living
// on one or two USB bus addresses.
package device

import (
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

// lastSeenPattern is the strftime pattern FormattedLastSeen renders
// LastSeen with.
const lastSeenPattern = "%Y-%m-%d %H:%M:%S"

var lastSeenFormatter = strftime.MustNew(lastSeenPattern)

// Info is the logical device record produced by correlation: a composite
// view over up to four OS-level interfaces identified by a common port
// chain.
type Info struct {
	PortChain          string
	CompanionPortChain string
	DeviceInstanceID   string

	VID string // 16-bit hex, e.g. "1A86"
	PID string

	SerialPortPath string
	SerialPortID   string

	HIDDevicePath string
	HIDDeviceID   string

	CameraDevicePath string
	CameraDeviceID   string

	AudioDevicePath string
	AudioDeviceID   string

	LastSeen time.Time

	// PlatformSpecific is a string-keyed attribute bag populated only by the
	// platform enumerator; consumers outside that package must not read it.
	PlatformSpecific map[string]string

	// DiscoveryGeneration is stamped by the manager with the same value for
	// every record produced by one discover() pass, so callers can tell
	// which scan a given snapshot of records came from.
	DiscoveryGeneration uint64
}

// HasSerial reports whether the record has a serial control interface.
func (d *Info) HasSerial() bool { return d.SerialPortPath != "" }

// HasHID reports whether the record has an HID register-control interface.
func (d *Info) HasHID() bool { return d.HIDDevicePath != "" }

// HasCamera reports whether the record has a UVC camera interface.
func (d *Info) HasCamera() bool { return d.CameraDevicePath != "" }

// HasAudio reports whether the record has a USB audio interface.
func (d *Info) HasAudio() bool { return d.AudioDevicePath != "" }

// HasCompanionDevice reports whether this record was correlated across two
// USB bus addresses (Gen2/Gen3 split configurations).
func (d *Info) HasCompanionDevice() bool { return d.CompanionPortChain != "" }

// InterfaceCount counts how many of the four interface slots are populated.
func (d *Info) InterfaceCount() int {
	n := 0
	for _, has := range []bool{d.HasSerial(), d.HasHID(), d.HasCamera(), d.HasAudio()} {
		if has {
			n++
		}
	}
	return n
}

// ActiveCompanionPortChain returns CompanionPortChain if set, else PortChain.
func (d *Info) ActiveCompanionPortChain() string {
	if d.CompanionPortChain != "" {
		return d.CompanionPortChain
	}
	return d.PortChain
}

// IsValid reports whether the record has enough identity to be usable: any
// of port chain, device instance id, serial path, or HID path.
func (d *Info) IsValid() bool {
	return d.PortChain != "" || d.DeviceInstanceID != "" || d.SerialPortPath != "" || d.HIDDevicePath != ""
}

// IsComplete reports whether both the serial and HID interfaces were found.
func (d *Info) IsComplete() bool {
	return d.HasSerial() && d.HasHID()
}

// IsCompleteUSB3 reports whether this is a fully correlated USB 3.0 split
// device: serial present, and a non-empty companion port chain.
func (d *Info) IsCompleteUSB3() bool {
	return d.HasSerial() && d.HasCompanionDevice()
}

// UniqueKey is the identity used for diffing and cache de-duplication: the
// port chain if non-empty, else the OS instance id, else the serial/HID path
// pair.
func (d *Info) UniqueKey() string {
	if d.PortChain != "" {
		return d.PortChain
	}
	if d.DeviceInstanceID != "" {
		return d.DeviceInstanceID
	}
	return d.SerialPortPath + "|" + d.HIDDevicePath
}

// Equal compares every identity-bearing path/id/VID/PID field; PlatformSpecific
// and LastSeen are deliberately excluded, so two scans of an otherwise
// unchanged device compare equal.
func (d *Info) Equal(o *Info) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.PortChain == o.PortChain &&
		d.CompanionPortChain == o.CompanionPortChain &&
		d.DeviceInstanceID == o.DeviceInstanceID &&
		d.VID == o.VID &&
		d.PID == o.PID &&
		d.SerialPortPath == o.SerialPortPath &&
		d.SerialPortID == o.SerialPortID &&
		d.HIDDevicePath == o.HIDDevicePath &&
		d.HIDDeviceID == o.HIDDeviceID &&
		d.CameraDevicePath == o.CameraDevicePath &&
		d.CameraDeviceID == o.CameraDeviceID &&
		d.AudioDevicePath == o.AudioDevicePath &&
		d.AudioDeviceID == o.AudioDeviceID
}

// DisplayName is the UI label for this device.
func (d *Info) DisplayName() string {
	return fmt.Sprintf("Openterface Device — Port %s", d.PortChain)
}

// InterfaceSummary is a pipe-joined human-readable list of populated
// interfaces, with an appended companion-port annotation when applicable.
func (d *Info) InterfaceSummary() string {
	var parts []string
	if d.HasSerial() {
		parts = append(parts, fmt.Sprintf("Serial(%s)", d.SerialPortPath))
	}
	if d.HasHID() {
		parts = append(parts, "HID")
	}
	if d.HasCamera() {
		parts = append(parts, "Camera")
	}
	if d.HasAudio() {
		parts = append(parts, "Audio")
	}
	summary := strings.Join(parts, "|")
	if d.HasCompanionDevice() {
		summary += fmt.Sprintf(" [Companion: %s]", d.CompanionPortChain)
	}
	return summary
}

// FormattedLastSeen renders LastSeen using the package's strftime pattern,
// for log lines and InterfaceSummary-adjacent diagnostics.
func (d *Info) FormattedLastSeen() string {
	if d.LastSeen.IsZero() {
		return ""
	}
	s, err := lastSeenFormatter.FormatString(d.LastSeen)
	if err != nil {
		return d.LastSeen.UTC().Format(time.RFC3339)
	}
	return s
}

// Clone returns a deep copy safe to mutate independently of d.
func (d *Info) Clone() *Info {
	c := *d
	if d.PlatformSpecific != nil {
		c.PlatformSpecific = make(map[string]string, len(d.PlatformSpecific))
		for k, v := range d.PlatformSpecific {
			c.PlatformSpecific[k] = v
		}
	}
	return &c
}

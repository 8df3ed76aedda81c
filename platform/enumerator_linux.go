//go:build linux

package platform

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jochenvg/go-udev"
)

// sysPathPortChain matches the "…/usb<n>/<portchain>" segment of a udev
// sys-path.
var sysPathPortChain = regexp.MustCompile(`/usb\d+/(\d+-\d+(?:\.\d+)*)`)

// EnumeratorLinux discovers Openterface interfaces by scanning udev
// subsystems, grounded on src/cm108.go's cm108_inventory (same "scan a
// subsystem, walk to the usb_device ancestor, match VID/PID" shape,
// generalized from sound+hidraw to five subsystems: usb, hidraw, tty,
// video4linux, sound).
type EnumeratorLinux struct {
	logger *log.Logger
}

// NewEnumeratorLinux builds the Linux platform enumerator.
func NewEnumeratorLinux() *EnumeratorLinux {
	return &EnumeratorLinux{logger: log.WithPrefix("platform/linux")}
}

// Enumerate implements platform.Enumerator.
func (e *EnumeratorLinux) Enumerate() ([]RawInterface, error) {
	var u udev.Udev

	usbNodes, err := e.scanUSB(&u)
	if err != nil {
		return nil, fmt.Errorf("platform: scan usb subsystem: %w", err)
	}
	out := usbNodes

	for _, sub := range []Subsystem{SubsystemHIDRaw, SubsystemTTY, SubsystemVideo4Linux, SubsystemSound} {
		nodes, err := e.scanChildSubsystem(&u, sub)
		if err != nil {
			e.logger.Warn("subsystem scan failed", "subsystem", sub, "err", err)
			continue
		}
		out = append(out, nodes...)
	}

	out = preferLowestCameraIndex(out)
	out = append(out, e.serialFallback(out)...)
	out = attachAudioHostName(out, func(msg string, kv ...interface{}) { e.logger.Warn(msg, kv...) })

	return out, nil
}

// scanUSB enumerates the usb subsystem directly, filtering to known
// VID/PID pairs and extracting the port chain from each matched device's
// sys-path.
func (e *EnumeratorLinux) scanUSB(u *udev.Udev) ([]RawInterface, error) {
	enum := u.NewEnumerate()
	if err := enum.AddMatchSubsystem("usb"); err != nil {
		return nil, err
	}
	devices, err := enum.Devices()
	if err != nil {
		return nil, err
	}

	var out []RawInterface
	for _, d := range devices {
		vid := d.PropertyValue("ID_VENDOR_ID")
		pid := d.PropertyValue("ID_MODEL_ID")
		if vid == "" {
			vid = d.SysattrValue("idVendor")
		}
		if pid == "" {
			pid = d.SysattrValue("idProduct")
		}
		if vid == "" || pid == "" {
			continue
		}
		if _, ok := Match(vid, pid); !ok {
			continue
		}
		pc := extractPortChain(d.Syspath())
		if pc == "" {
			continue
		}
		out = append(out, RawInterface{
			InstanceID: d.Syspath(),
			PortChain:  pc,
			VID:        NormalizeHex(vid),
			PID:        NormalizeHex(pid),
			Subsystem:  SubsystemUSB,
			Properties: udevProperties(d),
		})
	}
	return out, nil
}

// scanChildSubsystem enumerates one of hidraw/tty/video4linux/sound, keeping
// only nodes whose usb_device ancestor matches a known VID/PID, and
// attaching the node path keyed by that ancestor's port chain.
func (e *EnumeratorLinux) scanChildSubsystem(u *udev.Udev, sub Subsystem) ([]RawInterface, error) {
	enum := u.NewEnumerate()
	if err := enum.AddMatchSubsystem(string(sub)); err != nil {
		return nil, err
	}
	devices, err := enum.Devices()
	if err != nil {
		return nil, err
	}

	var out []RawInterface
	for _, d := range devices {
		parent := d.ParentWithSubsystemDevtype("usb", "usb_device")
		if parent == nil {
			continue
		}
		vid := parent.SysattrValue("idVendor")
		pid := parent.SysattrValue("idProduct")
		if _, ok := Match(vid, pid); !ok {
			continue
		}
		pc := extractPortChain(parent.Syspath())
		if pc == "" {
			continue
		}
		devnode := d.Devnode()
		if devnode == "" {
			continue
		}
		out = append(out, RawInterface{
			InstanceID: d.Syspath(),
			PortChain:  pc,
			VID:        NormalizeHex(vid),
			PID:        NormalizeHex(pid),
			Subsystem:  sub,
			DevicePath: devnode,
			Properties: udevProperties(d),
		})
	}
	return out, nil
}

// serialFallback supplements tty enumeration by walking /sys/class/tty
// directly, guarding against a udev database that has not yet caught up
// right after a hot-plug. Grounded on
// original_source/device/platform/LinuxDeviceManager.cpp's direct sysfs
// fallback path.
func (e *EnumeratorLinux) serialFallback(already []RawInterface) []RawInterface {
	haveTTY := false
	for _, r := range already {
		if r.Subsystem == SubsystemTTY {
			haveTTY = true
			break
		}
	}
	if haveTTY {
		return nil
	}

	entries, err := readDir("/sys/class/tty")
	if err != nil {
		return nil
	}

	var out []RawInterface
	for _, name := range entries {
		devLinkTarget, err := resolveSymlink("/sys/class/tty/" + name + "/device")
		if err != nil {
			continue
		}
		vid, pid, usbSysPath, ok := nearestUSBAncestorAttrs(devLinkTarget)
		if !ok {
			continue
		}
		if _, known := Match(vid, pid); !known {
			continue
		}
		pc := extractPortChain(usbSysPath)
		if pc == "" {
			continue
		}
		out = append(out, RawInterface{
			InstanceID: devLinkTarget,
			PortChain:  pc,
			VID:        NormalizeHex(vid),
			PID:        NormalizeHex(pid),
			Subsystem:  SubsystemTTY,
			DevicePath: "/dev/" + name,
		})
	}
	return out
}

// extractPortChain pulls the first "<bus>-<ports>" token after the
// "/usb<n>/" segment out of a udev sys-path. sysfs nests a device under its
// root port, so an interface node such as ".../usb1/1-2/1-2.3/1-2.3:1.0"
// yields "1-2".
func extractPortChain(syspath string) string {
	m := sysPathPortChain.FindStringSubmatch(syspath)
	if m == nil {
		return ""
	}
	token := m[1]
	if idx := strings.IndexByte(token, ':'); idx >= 0 {
		token = token[:idx]
	}
	return token
}

func udevProperties(d *udev.Device) map[string]string {
	props := d.Properties()
	if props == nil {
		return nil
	}
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// preferLowestCameraIndex keeps, among several video4linux nodes belonging
// to the same port chain, only the one with the lowest trailing index.
func preferLowestCameraIndex(in []RawInterface) []RawInterface {
	best := map[string]RawInterface{}
	var out []RawInterface
	for _, r := range in {
		if r.Subsystem != SubsystemVideo4Linux {
			out = append(out, r)
			continue
		}
		cur, exists := best[r.PortChain]
		if !exists || videoIndex(r.DevicePath) < videoIndex(cur.DevicePath) {
			best[r.PortChain] = r
		}
	}
	keys := make([]string, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, best[k])
	}
	return out
}

func videoIndex(devnode string) int {
	i := len(devnode)
	for i > 0 && devnode[i-1] >= '0' && devnode[i-1] <= '9' {
		i--
	}
	n, err := strconv.Atoi(devnode[i:])
	if err != nil {
		return 1 << 30
	}
	return n
}

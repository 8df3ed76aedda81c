// Package correlate assembles the flat list of raw OS interface records a
// platform.Enumerator produces into composite device.Info records, one per
// physical Openterface unit, across all three recognized generations.
package correlate

import (
	"github.com/openterface-sdk/openterface-core/device"
	"github.com/openterface-sdk/openterface-core/platform"
	"github.com/openterface-sdk/openterface-core/portchain"
)

// windowsUSB3PortRemap maps an integrated device's USB-3 port number (on
// controllers that split USB2/USB3 addressing and push the integrated half
// above port 15) down to the low port it actually shares a hub with, before
// the expected-next rule is re-applied. It is empty unless a caller installs
// a table through SetUSB3PortRemap; neither platform enumerator installs
// one, so by default rule 4 remaps nothing.
var windowsUSB3PortRemap = map[string]string{}

// SetUSB3PortRemap installs (or clears, with nil) the controller-specific
// USB-3 port remap table used by rule 4 of the Gen2/Gen3 companion search.
func SetUSB3PortRemap(remap map[string]string) {
	if remap == nil {
		windowsUSB3PortRemap = map[string]string{}
		return
	}
	windowsUSB3PortRemap = remap
}

// Correlate turns raws into device records. generation is stamped onto
// every produced record's DiscoveryGeneration, so callers can tell which
// enumeration pass a given snapshot came from.
func Correlate(raws []platform.RawInterface, generation uint64) []*device.Info {
	var serial, integrated, children []platform.RawInterface

	for _, r := range raws {
		known, ok := platform.Match(r.VID, r.PID)
		if r.Subsystem != platform.SubsystemUSB {
			children = append(children, r)
			continue
		}
		if !ok {
			continue
		}
		if known.IsSerial {
			serial = append(serial, r)
		} else {
			integrated = append(integrated, r)
		}
	}

	var devices []*device.Info
	hubIndex := map[string]*device.Info{}

	devices = append(devices, correlateGen1(serial, integrated, hubIndex)...)
	devices = append(devices, correlateGen23(serial, integrated, hubIndex)...)

	for _, c := range children {
		attach(c, hubIndex)
	}
	for _, d := range devices {
		d.DiscoveryGeneration = generation
	}
	return devices
}

// correlateGen1 pairs the Gen1 serial chip (1A86:7523) with the Gen1
// integrated chip (534D:2109) sharing its hub port; since both sit at the
// same location, merging is a plain hub-port keyed map, no search needed.
func correlateGen1(serial, integrated []platform.RawInterface, hubIndex map[string]*device.Info) []*device.Info {
	var out []*device.Info

	for _, s := range serial {
		k, _ := platform.Match(s.VID, s.PID)
		if k.Generation != platform.Gen1 {
			continue
		}
		h := portchain.HubPort(s.PortChain)
		d := &device.Info{
			PortChain:        s.PortChain,
			DeviceInstanceID: s.InstanceID,
			VID:              s.VID,
			PID:              s.PID,
			SerialPortPath:   s.DevicePath,
			SerialPortID:     s.InstanceID,
			PlatformSpecific: s.Properties,
		}
		hubIndex[h] = d
		out = append(out, d)
	}

	for _, it := range integrated {
		k, _ := platform.Match(it.VID, it.PID)
		if k.Generation != platform.Gen1 {
			continue
		}
		h := portchain.HubPort(it.PortChain)
		if d, ok := hubIndex[h]; ok {
			if d.DeviceInstanceID == "" {
				d.DeviceInstanceID = it.InstanceID
			}
			// The integrated chip, not the serial adapter, is what
			// chip-type classification and HID framing key off of.
			d.VID, d.PID = it.VID, it.PID
			continue
		}
		d := &device.Info{
			PortChain:        it.PortChain,
			DeviceInstanceID: it.InstanceID,
			VID:              it.VID,
			PID:              it.PID,
			PlatformSpecific: it.Properties,
		}
		hubIndex[h] = d
		out = append(out, d)
	}

	return out
}

// correlateGen23 pairs each Gen2/Gen3 integrated device with the matching
// serial chip (1A86:FE0C) using the ordered acceptance rules: expected-next
// hub port, same hub as a fallback, related/sibling hub ports, and finally
// the Windows USB-3 topology remap re-checked against expected-next.
// Unpaired integrated or serial records still become standalone device
// records — a companion search failing is not a discovery failure.
func correlateGen23(serial, integrated []platform.RawInterface, hubIndex map[string]*device.Info) []*device.Info {
	var gen23Serial []platform.RawInterface
	for _, s := range serial {
		k, _ := platform.Match(s.VID, s.PID)
		if k.Generation == platform.Gen2 || k.Generation == platform.Gen3 {
			gen23Serial = append(gen23Serial, s)
		}
	}
	used := make([]bool, len(gen23Serial))

	var out []*device.Info

	for _, it := range integrated {
		k, _ := platform.Match(it.VID, it.PID)
		if k.Generation != platform.Gen2 && k.Generation != platform.Gen3 {
			continue
		}
		hi := portchain.HubPort(it.PortChain)
		idx := findCompanion(hi, gen23Serial, used)

		if idx < 0 {
			d := &device.Info{
				PortChain:        it.PortChain,
				DeviceInstanceID: it.InstanceID,
				VID:              it.VID,
				PID:              it.PID,
				PlatformSpecific: it.Properties,
			}
			hubIndex[hi] = d
			out = append(out, d)
			continue
		}

		used[idx] = true
		s := gen23Serial[idx]
		d := &device.Info{
			PortChain:          s.PortChain,
			CompanionPortChain: it.PortChain,
			DeviceInstanceID:   s.InstanceID,
			// The integrated chip's VID/PID, not the serial adapter's,
			// drives chip-type classification and HID framing.
			VID:              it.VID,
			PID:              it.PID,
			SerialPortPath:   s.DevicePath,
			SerialPortID:     s.InstanceID,
			PlatformSpecific: s.Properties,
		}
		hubIndex[portchain.HubPort(s.PortChain)] = d
		hubIndex[hi] = d
		out = append(out, d)
	}

	for idx, s := range gen23Serial {
		if used[idx] {
			continue
		}
		d := &device.Info{
			PortChain:        s.PortChain,
			DeviceInstanceID: s.InstanceID,
			VID:              s.VID,
			PID:              s.PID,
			SerialPortPath:   s.DevicePath,
			SerialPortID:     s.InstanceID,
			PlatformSpecific: s.Properties,
		}
		hubIndex[portchain.HubPort(s.PortChain)] = d
		out = append(out, d)
	}

	return out
}

// findCompanion runs the four ordered acceptance rules against the
// available (not yet used) serial candidates and returns the index of the
// first accepted match, or -1.
func findCompanion(hi string, candidates []platform.RawInterface, used []bool) int {
	if next, ok := portchain.ExpectedNext(hi); ok {
		if idx := findByHub(candidates, used, next); idx >= 0 {
			return idx
		}
	}
	if idx := findByHub(candidates, used, hi); idx >= 0 {
		return idx
	}
	for idx, s := range candidates {
		if used[idx] {
			continue
		}
		if portchain.Related(portchain.HubPort(s.PortChain), hi) {
			return idx
		}
	}
	if remapped, ok := windowsUSB3PortRemap[hi]; ok {
		if next, ok := portchain.ExpectedNext(remapped); ok {
			if idx := findByHub(candidates, used, next); idx >= 0 {
				return idx
			}
		}
	}
	return -1
}

func findByHub(candidates []platform.RawInterface, used []bool, hub string) int {
	for idx, s := range candidates {
		if used[idx] {
			continue
		}
		if portchain.HubPort(s.PortChain) == hub {
			return idx
		}
	}
	return -1
}

// attach assigns a non-USB interface record (tty, hidraw, video4linux,
// sound) to the device whose hub port matches the record's own port chain
// (which already names the nearest USB ancestor's location, per the
// platform enumerator's contract).
func attach(c platform.RawInterface, hubIndex map[string]*device.Info) {
	d, ok := hubIndex[portchain.HubPort(c.PortChain)]
	if !ok {
		return
	}
	switch c.Subsystem {
	case platform.SubsystemTTY:
		if d.SerialPortPath == "" {
			d.SerialPortPath = c.DevicePath
			d.SerialPortID = c.InstanceID
		}
	case platform.SubsystemHIDRaw:
		d.HIDDevicePath = c.DevicePath
		d.HIDDeviceID = c.InstanceID
	case platform.SubsystemVideo4Linux:
		d.CameraDevicePath = c.DevicePath
		d.CameraDeviceID = c.InstanceID
	case platform.SubsystemSound:
		d.AudioDevicePath = c.DevicePath
		d.AudioDeviceID = c.InstanceID
	}
}

// MatchesPortChain reports whether x identifies d: an exact match, or x is
// the interface-level refinement of d's port chain (or vice versa).
func MatchesPortChain(d *device.Info, x string) bool {
	if x == "" || d == nil {
		return false
	}
	if d.PortChain == x {
		return true
	}
	return portchain.IsInterfaceOf(x, d.PortChain) || portchain.IsInterfaceOf(d.PortChain, x)
}

// MatchesAnyPortChain additionally checks d's companion port chain, except
// for a Gen1 integrated device (534D:2109), which never has a companion and
// so must never match through one.
func MatchesAnyPortChain(d *device.Info, x string) bool {
	if MatchesPortChain(d, x) {
		return true
	}
	if d.CompanionPortChain == "" || platform.IsGen1MS2109(d.VID, d.PID) {
		return false
	}
	if d.CompanionPortChain == x {
		return true
	}
	return portchain.IsInterfaceOf(x, d.CompanionPortChain) || portchain.IsInterfaceOf(d.CompanionPortChain, x)
}

// FilterByPortChain returns every device matching x. An empty x returns the
// first device, if any, rather than an empty result.
func FilterByPortChain(devices []*device.Info, x string) []*device.Info {
	if x == "" {
		if len(devices) == 0 {
			return nil
		}
		return devices[:1]
	}
	var out []*device.Info
	for _, d := range devices {
		if MatchesPortChain(d, x) {
			out = append(out, d)
		}
	}
	return out
}

// FilterByAnyPortChain is FilterByPortChain extended to match by companion
// port chain too, per MatchesAnyPortChain.
func FilterByAnyPortChain(devices []*device.Info, x string) []*device.Info {
	if x == "" {
		if len(devices) == 0 {
			return nil
		}
		return devices[:1]
	}
	var out []*device.Info
	for _, d := range devices {
		if MatchesAnyPortChain(d, x) {
			out = append(out, d)
		}
	}
	return out
}

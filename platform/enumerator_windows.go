//go:build windows

package platform

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/openterface-sdk/openterface-core/platform/internal/setupapi"
)

var hardwareVidPid = regexp.MustCompile(`(?i)VID_([0-9A-F]{4})&PID_([0-9A-F]{4})`)
var comPortParen = regexp.MustCompile(`(?i)\(COM(\d+)\)`)
var comPortAnywhere = regexp.MustCompile(`(?i)COM(\d+)`)

// EnumeratorWindows discovers Openterface interfaces by walking the
// SetupAPI/CfgMgr32 device tree: every present USB-class device is checked
// against the known VID/PID table, its port chain built the
// Python-compatible way, and its composite children classified by
// interface number. Grounded on
// original_source/device/platform/WindowsDeviceManager.cpp.
type EnumeratorWindows struct {
	logger *log.Logger
}

// NewEnumeratorWindows builds the Windows platform enumerator.
func NewEnumeratorWindows() *EnumeratorWindows {
	return &EnumeratorWindows{logger: log.WithPrefix("platform/windows")}
}

// nodeInfo is what allClassesIndex keeps about every present device,
// regardless of setup class, keyed by device instance handle.
type nodeInfo struct {
	hardwareID string
	instanceID string
}

// Enumerate implements Enumerator.
func (e *EnumeratorWindows) Enumerate() ([]RawInterface, error) {
	index, err := buildAllClassesIndex()
	if err != nil {
		return nil, err
	}

	usbSet, err := setupapi.GetClassDevs(&setupapi.GUIDDevClassUSB, setupapi.DigcfPresent)
	if err != nil {
		return nil, err
	}
	defer usbSet.Close()

	var out []RawInterface
	for i := uint32(0); ; i++ {
		data, ok := usbSet.EnumDeviceInfo(i)
		if !ok {
			break
		}
		hardwareID := usbSet.RegistryProperty(&data, setupapi.SPDRPHardwareID)
		vid, pid, ok := extractVIDPID(hardwareID)
		if !ok {
			continue
		}
		known, ok := Match(vid, pid)
		if !ok {
			continue
		}

		portChain := buildWindowsPortChain(data.DevInst)
		if portChain == "" {
			e.logger.Warn("could not build port chain", "hardware_id", hardwareID)
			continue
		}
		instanceID := usbSet.DeviceInstanceID(&data)

		if known.IsSerial {
			comPort := findComPortUnderDevice(data.DevInst, index)
			out = append(out, RawInterface{
				InstanceID: instanceID,
				PortChain:  portChain,
				VID:        NormalizeHex(vid),
				PID:        NormalizeHex(pid),
				Subsystem:  SubsystemTTY,
				DevicePath: comPort,
			})
			continue
		}

		out = append(out, RawInterface{
			InstanceID: instanceID,
			PortChain:  portChain,
			VID:        NormalizeHex(vid),
			PID:        NormalizeHex(pid),
			Subsystem:  SubsystemUSB,
		})
		out = append(out, classifyChildren(data.DevInst, portChain, vid, pid, index)...)
	}

	out = attachAudioHostName(out, func(msg string, kv ...interface{}) { e.logger.Warn(msg, kv...) })

	return out, nil
}

// buildAllClassesIndex enumerates every present device across every setup
// class once, so sibling/child device-instance handles returned by
// CM_Get_Child/CM_Get_Sibling can be mapped back to a hardware id and
// instance id without re-enumerating per lookup.
func buildAllClassesIndex() (map[uint32]nodeInfo, error) {
	set, err := setupapi.GetClassDevs(nil, setupapi.DigcfPresent|setupapi.DigcfAllClasses)
	if err != nil {
		return nil, err
	}
	defer set.Close()

	index := make(map[uint32]nodeInfo)
	for i := uint32(0); ; i++ {
		data, ok := set.EnumDeviceInfo(i)
		if !ok {
			break
		}
		index[data.DevInst] = nodeInfo{
			hardwareID: set.RegistryProperty(&data, setupapi.SPDRPHardwareID),
			instanceID: set.DeviceInstanceID(&data),
		}
	}
	return index, nil
}

// classifyChildren walks devInst's child tree (first child, then siblings,
// recursively into grandchildren), classifying each node into a camera,
// HID, or audio interface by its interface number, and skips the generic
// "&0002"/"&0004" control endpoints.
func classifyChildren(devInst uint32, portChain, vid, pid string, index map[uint32]nodeInfo) []RawInterface {
	var out []RawInterface

	child, ok := setupapi.GetChild(devInst)
	for ok {
		info := index[child]
		if !strings.Contains(info.instanceID, "&0002") && !strings.Contains(info.instanceID, "&0004") {
			hw := strings.ToUpper(info.hardwareID)
			id := strings.ToUpper(info.instanceID)
			switch {
			case strings.Contains(hw, "HID") && strings.Contains(id, "MI_04"):
				out = append(out, RawInterface{
					InstanceID: info.instanceID,
					PortChain:  portChain,
					VID:        NormalizeHex(vid),
					PID:        NormalizeHex(pid),
					Subsystem:  SubsystemHIDRaw,
					DevicePath: info.instanceID,
				})
			case strings.Contains(hw, "MI_00"):
				out = append(out, RawInterface{
					InstanceID: info.instanceID,
					PortChain:  portChain,
					VID:        NormalizeHex(vid),
					PID:        NormalizeHex(pid),
					Subsystem:  SubsystemVideo4Linux,
					DevicePath: info.instanceID,
				})
			case strings.Contains(hw, "MI_01") || strings.Contains(hw, "AUDIO"):
				// Found in the same USB-class walk, by hardware id: the camera's
				// companion microphone and any dedicated audio interface both land here.
				out = append(out, RawInterface{
					InstanceID: info.instanceID,
					PortChain:  portChain,
					VID:        NormalizeHex(vid),
					PID:        NormalizeHex(pid),
					Subsystem:  SubsystemSound,
					DevicePath: info.instanceID,
				})
			}
		}
		out = append(out, classifyChildren(child, portChain, vid, pid, index)...)

		next, nextOk := setupapi.GetSibling(child)
		child, ok = next, nextOk
	}

	return out
}

// findComPortUnderDevice looks for a Ports-class descendant of devInst and
// extracts its COM port number from its friendly name, trying the
// "(COMn)" form first and falling back to any "COMn" substring.
func findComPortUnderDevice(devInst uint32, index map[uint32]nodeInfo) string {
	portsSet, err := setupapi.GetClassDevs(&setupapi.GUIDDevClassPorts, setupapi.DigcfPresent)
	if err != nil {
		return ""
	}
	defer portsSet.Close()

	for i := uint32(0); ; i++ {
		data, ok := portsSet.EnumDeviceInfo(i)
		if !ok {
			break
		}
		if !isDescendant(devInst, data.DevInst) {
			continue
		}
		friendly := portsSet.RegistryProperty(&data, setupapi.SPDRPFriendlyName)
		if m := comPortParen.FindStringSubmatch(friendly); m != nil {
			return "COM" + m[1]
		}
		if m := comPortAnywhere.FindStringSubmatch(friendly); m != nil {
			return "COM" + m[1]
		}
	}
	return ""
}

// isDescendant reports whether candidate is root or appears somewhere in
// root's child/sibling subtree.
func isDescendant(root, candidate uint32) bool {
	if root == candidate {
		return true
	}
	child, ok := setupapi.GetChild(root)
	for ok {
		if isDescendant(child, candidate) {
			return true
		}
		child, ok = setupapi.GetSibling(child)
	}
	return false
}

// extractVIDPID pulls the VID_xxxx/PID_yyyy tokens out of a hardware id
// string such as "USB\VID_1A86&PID_FE0C&REV_0100".
func extractVIDPID(hardwareID string) (vid, pid string, ok bool) {
	m := hardwareVidPid.FindStringSubmatch(hardwareID)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// buildWindowsPortChain reproduces buildPythonCompatiblePortChain verbatim:
// walk up to three device-instance levels starting at devInst itself,
// collecting the last character of each level's device instance id, reverse
// that list, then assemble the string with the same quirky, order-dependent
// rule (a chain shorter than three levels produces a shorter,
// differently-shaped string — that asymmetry is preserved rather than
// "fixed").
func buildWindowsPortChain(devInst uint32) string {
	var ids []string
	current := devInst
	for depth := 0; depth < 3; depth++ {
		ids = append(ids, deviceIDOf(current))
		parent, ok := setupapi.GetParent(current)
		if !ok {
			break
		}
		current = parent
	}

	chain := make([]string, len(ids))
	for i, id := range ids {
		chain[len(ids)-1-i] = id
	}

	var result, tmp string
	n := len(chain)
	for j, devID := range chain {
		switch {
		case j == 0:
			if devID != "" {
				last := devID[len(devID)-1]
				if last >= '0' && last <= '9' {
					tmp = strconv.Itoa(int(last-'0')+1) + "-"
				}
			}
		case j == 1:
			if devID != "" {
				result = tmp + string(devID[len(devID)-1])
			}
		case j > 1 && j < n-1:
			if devID != "" {
				result += "-" + string(devID[len(devID)-1])
			}
		case j == n-1:
			result += ".2"
		}
	}
	return result
}

// deviceIDOf looks up a device instance id string by handle, scanning the
// all-classes set on demand. CM_Get_Device_IDW would be a direct call; this
// reuses the class-enumeration helper instead.
func deviceIDOf(devInst uint32) string {
	set, err := setupapi.GetClassDevs(nil, setupapi.DigcfPresent|setupapi.DigcfAllClasses)
	if err != nil {
		return ""
	}
	defer set.Close()
	for i := uint32(0); ; i++ {
		data, ok := set.EnumDeviceInfo(i)
		if !ok {
			break
		}
		if data.DevInst == devInst {
			return set.DeviceInstanceID(&data)
		}
	}
	return ""
}

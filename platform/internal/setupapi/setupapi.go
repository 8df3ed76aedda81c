//go:build windows

// Package setupapi wraps the subset of setupapi.dll and cfgmgr32.dll needed
// to walk the Windows device tree: enumerate a device-setup class, read a
// device's hardware id and friendly name, and walk CM_Get_Parent/
// CM_Get_Child/CM_Get_Sibling relationships by device instance handle.
package setupapi

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modsetupapi = windows.NewLazySystemDLL("setupapi.dll")
	modcfgmgr32 = windows.NewLazySystemDLL("cfgmgr32.dll")

	procSetupDiGetClassDevsW          = modsetupapi.NewProc("SetupDiGetClassDevsW")
	procSetupDiEnumDeviceInfo         = modsetupapi.NewProc("SetupDiEnumDeviceInfo")
	procSetupDiDestroyDeviceInfoList  = modsetupapi.NewProc("SetupDiDestroyDeviceInfoList")
	procSetupDiGetDeviceRegistryPropW = modsetupapi.NewProc("SetupDiGetDeviceRegistryPropertyW")
	procSetupDiGetDeviceInstanceIdW   = modsetupapi.NewProc("SetupDiGetDeviceInstanceIdW")

	procCMGetParent      = modcfgmgr32.NewProc("CM_Get_Parent")
	procCMGetChild       = modcfgmgr32.NewProc("CM_Get_Child")
	procCMGetSibling     = modcfgmgr32.NewProc("CM_Get_Sibling")
	procCMLocateDevNodeW = modcfgmgr32.NewProc("CM_Locate_DevNodeW")
)

// Device-setup-class GUIDs, from devguid.h: USB controllers/hubs, serial
// ports, HID, cameras, and the audio/media class. The Windows enumerator
// opens only the USB and Ports classes; audio interfaces are found as
// children of the USB devices.
var (
	GUIDDevClassUSB   = windows.GUID{Data1: 0x36fc9e60, Data2: 0xc465, Data3: 0x11cf, Data4: [8]byte{0x80, 0x56, 0x44, 0x45, 0x53, 0x54, 0x00, 0x00}}
	GUIDDevClassPorts = windows.GUID{Data1: 0x4d36e978, Data2: 0xe325, Data3: 0x11ce, Data4: [8]byte{0xbf, 0xc1, 0x08, 0x00, 0x2b, 0xe1, 0x03, 0x18}}
	GUIDDevClassHID   = windows.GUID{Data1: 0x745a17a0, Data2: 0x74d3, Data3: 0x11d0, Data4: [8]byte{0xb6, 0xfe, 0x00, 0xa0, 0xc9, 0x0f, 0x57, 0xda}}
	GUIDDevClassImage = windows.GUID{Data1: 0x6bdd1fc6, Data2: 0x810f, Data3: 0x11d0, Data4: [8]byte{0xbe, 0xc7, 0x08, 0x00, 0x2b, 0xe2, 0x09, 0x2f}}
	GUIDDevClassMedia = windows.GUID{Data1: 0x4d36e96c, Data2: 0xe325, Data3: 0x11ce, Data4: [8]byte{0xbf, 0xc1, 0x08, 0x00, 0x2b, 0xe1, 0x03, 0x18}}
)

const (
	DigcfPresent    = 0x00000002
	DigcfAllClasses = 0x00000004

	SPDRPHardwareID      = 0x01
	SPDRPFriendlyName    = 0x0C
	SPDRPLocationInfo    = 0x0D
	SPDRPDeviceDesc      = 0x00
	MaxDeviceIDLen       = 200
	CRSuccess            = 0
	InvalidHandleValue   = ^uintptr(0)
	maxPropertyBufferLen = 1024
)

// DevInfoData mirrors SP_DEVINFO_DATA; cbSize must be set before use.
type DevInfoData struct {
	CbSize    uint32
	ClassGUID windows.GUID
	DevInst   uint32
	Reserved  uintptr
}

// DeviceInfoSet wraps an HDEVINFO handle from SetupDiGetClassDevs.
type DeviceInfoSet struct {
	handle uintptr
}

// GetClassDevs opens a device information set for the given setup class
// GUID, present devices only. Pass a nil guid with DigcfAllClasses to
// enumerate every present device regardless of class (used for sibling and
// child device id lookups, which cross class boundaries).
func GetClassDevs(guid *windows.GUID, flags uint32) (*DeviceInfoSet, error) {
	var guidPtr uintptr
	if guid != nil {
		guidPtr = uintptr(unsafe.Pointer(guid))
	}
	r0, _, err := procSetupDiGetClassDevsW.Call(guidPtr, 0, 0, uintptr(flags))
	if r0 == InvalidHandleValue {
		return nil, fmt.Errorf("setupapi: SetupDiGetClassDevsW: %w", err)
	}
	return &DeviceInfoSet{handle: r0}, nil
}

// Close releases the device information set.
func (s *DeviceInfoSet) Close() {
	if s.handle != 0 {
		procSetupDiDestroyDeviceInfoList.Call(s.handle)
		s.handle = 0
	}
}

// EnumDeviceInfo returns the index'th device in the set, or ok=false once
// index runs past the end.
func (s *DeviceInfoSet) EnumDeviceInfo(index uint32) (DevInfoData, bool) {
	var data DevInfoData
	data.CbSize = uint32(unsafe.Sizeof(data))
	r0, _, _ := procSetupDiEnumDeviceInfo.Call(s.handle, uintptr(index), uintptr(unsafe.Pointer(&data)))
	return data, r0 != 0
}

// RegistryProperty reads a string setup-class property (hardware id,
// friendly name, location info, ...) for a device.
func (s *DeviceInfoSet) RegistryProperty(data *DevInfoData, property uint32) string {
	buf := make([]uint16, maxPropertyBufferLen)
	var regType, reqSize uint32
	r0, _, _ := procSetupDiGetDeviceRegistryPropW.Call(
		s.handle,
		uintptr(unsafe.Pointer(data)),
		uintptr(property),
		uintptr(unsafe.Pointer(&regType)),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)*2),
		uintptr(unsafe.Pointer(&reqSize)),
	)
	if r0 == 0 {
		return ""
	}
	return windows.UTF16ToString(buf)
}

// DeviceInstanceID reads the device instance id string (e.g.
// "USB\VID_1A86&PID_FE0C\6&1a2b3c4d&0&3") for a device in the set.
func (s *DeviceInfoSet) DeviceInstanceID(data *DevInfoData) string {
	buf := make([]uint16, MaxDeviceIDLen)
	r0, _, _ := procSetupDiGetDeviceInstanceIdW.Call(
		s.handle,
		uintptr(unsafe.Pointer(data)),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		0,
	)
	if r0 == 0 {
		return ""
	}
	return windows.UTF16ToString(buf)
}

// GetParent returns the parent device instance handle of devInst.
func GetParent(devInst uint32) (uint32, bool) {
	var parent uint32
	r0, _, _ := procCMGetParent.Call(uintptr(unsafe.Pointer(&parent)), uintptr(devInst), 0)
	return parent, r0 == CRSuccess
}

// GetChild returns the first child device instance handle of devInst.
func GetChild(devInst uint32) (uint32, bool) {
	var child uint32
	r0, _, _ := procCMGetChild.Call(uintptr(unsafe.Pointer(&child)), uintptr(devInst), 0)
	return child, r0 == CRSuccess
}

// GetSibling returns the next sibling device instance handle after devInst.
func GetSibling(devInst uint32) (uint32, bool) {
	var sibling uint32
	r0, _, _ := procCMGetSibling.Call(uintptr(unsafe.Pointer(&sibling)), uintptr(devInst), 0)
	return sibling, r0 == CRSuccess
}

// LocateDevNode resolves a device instance id string back to a live device
// instance handle, used to re-enter the tree at a COM-port's own node when
// matching it to a port chain.
func LocateDevNode(deviceID string) (uint32, bool) {
	ptr, err := syscall.UTF16PtrFromString(deviceID)
	if err != nil {
		return 0, false
	}
	var inst uint32
	r0, _, _ := procCMLocateDevNodeW.Call(uintptr(unsafe.Pointer(&inst)), uintptr(unsafe.Pointer(ptr)), 0)
	return inst, r0 == CRSuccess
}

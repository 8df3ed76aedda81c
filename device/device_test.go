package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUniqueKeyPrefersPortChain(t *testing.T) {
	d := &Info{PortChain: "1-2", DeviceInstanceID: "USB\\VID_1A86"}
	assert.Equal(t, "1-2", d.UniqueKey())
}

func TestUniqueKeyFallsBackToInstanceID(t *testing.T) {
	d := &Info{DeviceInstanceID: "USB\\VID_1A86"}
	assert.Equal(t, "USB\\VID_1A86", d.UniqueKey())
}

func TestUniqueKeyFallsBackToPaths(t *testing.T) {
	d := &Info{SerialPortPath: "COM7", HIDDevicePath: "hid0"}
	assert.Equal(t, "COM7|hid0", d.UniqueKey())
}

// Testable invariant 1: unique_key == port_chain whenever port_chain is set.
func TestInvariantUniqueKeyEqualsPortChain(t *testing.T) {
	d := &Info{PortChain: "1-5", CompanionPortChain: "1-4"}
	assert.Equal(t, d.PortChain, d.UniqueKey())
}

func TestValidity(t *testing.T) {
	assert.False(t, (&Info{}).IsValid())
	assert.True(t, (&Info{PortChain: "1-2"}).IsValid())
	assert.True(t, (&Info{DeviceInstanceID: "x"}).IsValid())
	assert.True(t, (&Info{SerialPortPath: "COM1"}).IsValid())
	assert.True(t, (&Info{HIDDevicePath: "hid0"}).IsValid())
}

func TestIsComplete(t *testing.T) {
	d := &Info{SerialPortPath: "COM1", HIDDevicePath: "hid0"}
	assert.True(t, d.IsComplete())
	assert.False(t, d.IsCompleteUSB3())

	d2 := &Info{SerialPortPath: "COM1", CompanionPortChain: "1-4"}
	assert.True(t, d2.IsCompleteUSB3())
}

func TestActiveCompanionPortChain(t *testing.T) {
	d := &Info{PortChain: "1-5"}
	assert.Equal(t, "1-5", d.ActiveCompanionPortChain())
	d.CompanionPortChain = "1-4"
	assert.Equal(t, "1-4", d.ActiveCompanionPortChain())
}

func TestEqualExcludesBagAndLastSeen(t *testing.T) {
	a := &Info{PortChain: "1-2", LastSeen: time.Now(), PlatformSpecific: map[string]string{"k": "v"}}
	b := &Info{PortChain: "1-2", LastSeen: time.Now().Add(time.Hour), PlatformSpecific: map[string]string{"k": "different"}}
	assert.True(t, a.Equal(b))
}

func TestEqualDetectsPathChange(t *testing.T) {
	a := &Info{PortChain: "1-2", CameraDevicePath: "/dev/video0"}
	b := &Info{PortChain: "1-2", CameraDevicePath: "/dev/video1"}
	assert.False(t, a.Equal(b))
}

// Testable invariant 2: companion_port_chain is never equal to port_chain.
func TestInvariantCompanionNeverEqualsPort(t *testing.T) {
	d := &Info{PortChain: "1-5", CompanionPortChain: "1-4"}
	assert.NotEqual(t, d.PortChain, d.CompanionPortChain)
}

func TestDisplayNameAndSummary(t *testing.T) {
	d := &Info{
		PortChain:        "1-5",
		SerialPortPath:   "COM7",
		HIDDevicePath:    "hid0",
		CameraDevicePath: "/dev/video0",
	}
	assert.Equal(t, "Openterface Device — Port 1-5", d.DisplayName())
	assert.Equal(t, "Serial(COM7)|HID|Camera", d.InterfaceSummary())

	d.CompanionPortChain = "1-4"
	assert.Equal(t, "Serial(COM7)|HID|Camera [Companion: 1-4]", d.InterfaceSummary())
}

func TestCloneIsIndependent(t *testing.T) {
	d := &Info{PortChain: "1-2", PlatformSpecific: map[string]string{"a": "1"}}
	c := d.Clone()
	c.PlatformSpecific["a"] = "2"
	assert.Equal(t, "1", d.PlatformSpecific["a"])
}

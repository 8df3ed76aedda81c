package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openterface-sdk/openterface-core/device"
	"github.com/openterface-sdk/openterface-core/hotplug"
)

type fakeCameraBackend struct {
	devicePath string
	capturing  bool
	setErr     error
	startErr   error
	setCalls   int
	startCalls int
	stopCalls  int
}

func (f *fakeCameraBackend) SetDevice(path string) error {
	f.setCalls++
	if f.setErr != nil {
		return f.setErr
	}
	f.devicePath = path
	return nil
}

func (f *fakeCameraBackend) StartCapture() error {
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	f.capturing = true
	return nil
}

func (f *fakeCameraBackend) StopCapture() error {
	f.stopCalls++
	f.capturing = false
	return nil
}

func synchronousDispatch(f func()) { f() }

func TestCameraAdapterStartsCaptureOnPlugIn(t *testing.T) {
	backend := &fakeCameraBackend{}
	a := NewCameraAdapter(backend)
	a.dispatch = synchronousDispatch

	d := &device.Info{PortChain: "1-2", CameraDevicePath: "/dev/video0"}
	a.HandleEvent(hotplug.Event{Kind: hotplug.EventDevicePluggedIn, Device: d})

	assert.Equal(t, "/dev/video0", backend.devicePath)
	assert.True(t, backend.capturing)
	assert.True(t, a.active)
}

func TestCameraAdapterUsesFallbackWhenNoCameraPath(t *testing.T) {
	backend := &fakeCameraBackend{}
	a := NewCameraAdapter(backend)
	a.dispatch = synchronousDispatch
	a.SetFallbackResolver(func(portChain string) (string, bool) {
		assert.Equal(t, "1-2", portChain)
		return "/dev/video9", true
	})

	d := &device.Info{PortChain: "1-2"}
	a.HandleEvent(hotplug.Event{Kind: hotplug.EventDevicePluggedIn, Device: d})

	assert.Equal(t, "/dev/video9", backend.devicePath)
	assert.True(t, backend.capturing)
}

func TestCameraAdapterIgnoresPlugInWithNoCameraAndNoFallback(t *testing.T) {
	backend := &fakeCameraBackend{}
	a := NewCameraAdapter(backend)
	a.dispatch = synchronousDispatch

	d := &device.Info{PortChain: "1-2"}
	a.HandleEvent(hotplug.Event{Kind: hotplug.EventDevicePluggedIn, Device: d})

	assert.Equal(t, 0, backend.setCalls)
	assert.False(t, a.active)
}

func TestCameraAdapterIgnoresSecondPlugInWhileActive(t *testing.T) {
	backend := &fakeCameraBackend{}
	a := NewCameraAdapter(backend)
	a.dispatch = synchronousDispatch

	d := &device.Info{PortChain: "1-2", CameraDevicePath: "/dev/video0"}
	a.HandleEvent(hotplug.Event{Kind: hotplug.EventDevicePluggedIn, Device: d})
	a.HandleEvent(hotplug.Event{Kind: hotplug.EventDevicePluggedIn, Device: d})

	assert.Equal(t, 1, backend.setCalls)
}

func TestCameraAdapterStopsCaptureOnMatchingUnplug(t *testing.T) {
	backend := &fakeCameraBackend{}
	a := NewCameraAdapter(backend)
	a.dispatch = synchronousDispatch

	d := &device.Info{PortChain: "1-2", CameraDevicePath: "/dev/video0"}
	a.HandleEvent(hotplug.Event{Kind: hotplug.EventDevicePluggedIn, Device: d})
	require.True(t, a.active)

	a.HandleEvent(hotplug.Event{Kind: hotplug.EventDeviceUnplugged, Device: d})
	assert.False(t, a.active)
	assert.Equal(t, 1, backend.stopCalls)
}

func TestCameraAdapterIgnoresUnplugForDifferentPortChain(t *testing.T) {
	backend := &fakeCameraBackend{}
	a := NewCameraAdapter(backend)
	a.dispatch = synchronousDispatch

	d := &device.Info{PortChain: "1-2", CameraDevicePath: "/dev/video0"}
	a.HandleEvent(hotplug.Event{Kind: hotplug.EventDevicePluggedIn, Device: d})

	other := &device.Info{PortChain: "1-3"}
	a.HandleEvent(hotplug.Event{Kind: hotplug.EventDeviceUnplugged, Device: other})

	assert.Equal(t, 0, backend.stopCalls)
	assert.True(t, a.active)
}


// Package adapter holds the small per-subsystem state machines that listen
// to a hotplug.Monitor and drive a camera backend, an HID transport, and a
// serial port owner in response to plug/unplug events.
package adapter

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/openterface-sdk/openterface-core/device"
	"github.com/openterface-sdk/openterface-core/hotplug"
)

// CameraBackend is the capture backend a CameraAdapter drives. The concrete
// UVC/V4L2/Media-Foundation implementation lives outside this module;
// CameraAdapter only needs to point it at a device node and start/stop it.
type CameraBackend interface {
	SetDevice(path string) error
	StartCapture() error
	StopCapture() error
}

// CameraAdapter keeps a CameraBackend pointed at the Openterface camera
// node of whichever device is currently plugged in, reacting to
// hotplug.EventDevicePluggedIn and hotplug.EventDeviceUnplugged.
type CameraAdapter struct {
	backend CameraBackend
	logger  *log.Logger

	// fallbackCameraNode resolves a port chain to a camera device path when
	// a device's own record has no camera interface. Real platforms walk
	// /dev/video* or the media foundation device list for a node carrying
	// the Openterface VID/PID; nil disables the fallback.
	fallbackCameraNode func(portChain string) (path string, ok bool)

	// dispatch runs f asynchronously so a slow StopCapture never blocks the
	// hotplug monitor's own goroutine. Tests inject a synchronous stand-in.
	dispatch func(f func())

	mu        sync.Mutex
	active    bool
	portChain string
}

// NewCameraAdapter builds a CameraAdapter over backend.
func NewCameraAdapter(backend CameraBackend) *CameraAdapter {
	return &CameraAdapter{
		backend:  backend,
		logger:   log.WithPrefix("camera-adapter"),
		dispatch: func(f func()) { go f() },
	}
}

// SetFallbackResolver installs the camera-node fallback lookup used when a
// plugged-in device's own record carries no camera path.
func (a *CameraAdapter) SetFallbackResolver(fn func(portChain string) (string, bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fallbackCameraNode = fn
}

// Attach registers the adapter as a callback on mon.
func (a *CameraAdapter) Attach(mon *hotplug.Monitor) {
	mon.RegisterCallback(a.HandleEvent)
}

// HandleEvent is the hotplug.Callback driving this adapter.
func (a *CameraAdapter) HandleEvent(e hotplug.Event) {
	switch e.Kind {
	case hotplug.EventDeviceUnplugged:
		a.handleUnplugged(e.Device)
	case hotplug.EventDevicePluggedIn:
		a.handlePluggedIn(e.Device)
	}
}

func (a *CameraAdapter) handleUnplugged(d *device.Info) {
	a.mu.Lock()
	if !a.active || d == nil || d.PortChain != a.portChain {
		a.mu.Unlock()
		return
	}
	a.active = false
	a.portChain = ""
	a.mu.Unlock()

	a.dispatch(func() {
		if err := a.backend.StopCapture(); err != nil {
			a.logger.Warn("stop capture failed", "err", err)
		}
	})
}

func (a *CameraAdapter) handlePluggedIn(d *device.Info) {
	if d == nil {
		return
	}

	a.mu.Lock()
	if a.active {
		a.mu.Unlock()
		return
	}

	path := d.CameraDevicePath
	if path == "" && a.fallbackCameraNode != nil {
		if p, ok := a.fallbackCameraNode(d.PortChain); ok {
			path = p
		}
	}
	if path == "" {
		a.mu.Unlock()
		return
	}

	a.active = true
	a.portChain = d.PortChain
	a.mu.Unlock()

	if err := a.backend.SetDevice(path); err != nil {
		a.logger.Warn("set camera device failed", "err", err)
		a.mu.Lock()
		a.active = false
		a.portChain = ""
		a.mu.Unlock()
		return
	}
	if err := a.backend.StartCapture(); err != nil {
		a.logger.Warn("start capture failed", "err", err)
	}
}

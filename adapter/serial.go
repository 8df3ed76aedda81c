package adapter

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/openterface-sdk/openterface-core/device"
	"github.com/openterface-sdk/openterface-core/hotplug"
)

// Auto-connect is attempted twice after a plug-in, first shortly after the
// hotplug event and again a moment later in case the OS is still settling
// the new node.
const (
	autoConnectDelay1 = 250 * time.Millisecond
	autoConnectDelay2 = 1000 * time.Millisecond
)

// maxAutoConnectFailures caps how many consecutive auto-connect failures a
// port chain tolerates in this process's lifetime before SerialAdapter
// backs off it entirely; unplugging and replugging the device resets the
// count.
const maxAutoConnectFailures = 3

// SerialBackend is the serial port owner a SerialAdapter drives.
type SerialBackend interface {
	Open(path string) error
	IsOpen() bool
}

// SerialOwnerEvent is delivered to the owner notification callback when the
// currently-bound device is unplugged.
type SerialOwnerEvent struct {
	Device *device.Info
}

// SerialAdapter auto-connects a SerialBackend to a newly plugged-in
// device's serial interface, subject to a caller-controlled permission gate
// and a per-port-chain failure backoff.
type SerialAdapter struct {
	backend     SerialBackend
	notifyOwner func(SerialOwnerEvent)
	logger      *log.Logger

	// schedule runs f once after d elapses. Defaults to time.AfterFunc;
	// tests inject a synchronous stand-in.
	schedule func(d time.Duration, f func())
	// dispatch runs the queued owner notification asynchronously so it
	// never blocks the hotplug monitor's own goroutine.
	dispatch func(f func())

	mu                 sync.Mutex
	autoConnectAllowed bool
	inFlight           map[string]bool
	pending            map[string]*device.Info
	failureStreak      map[string]int
}

// NewSerialAdapter builds a SerialAdapter over backend. notifyOwner may be
// nil. Auto-connect is permitted by default.
func NewSerialAdapter(backend SerialBackend, notifyOwner func(SerialOwnerEvent)) *SerialAdapter {
	return &SerialAdapter{
		backend:            backend,
		notifyOwner:        notifyOwner,
		logger:             log.WithPrefix("serial-adapter"),
		schedule:           func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		dispatch:           func(f func()) { go f() },
		autoConnectAllowed: true,
		inFlight:           make(map[string]bool),
		pending:            make(map[string]*device.Info),
		failureStreak:      make(map[string]int),
	}
}

// Attach registers the adapter as a callback on mon.
func (a *SerialAdapter) Attach(mon *hotplug.Monitor) {
	mon.RegisterCallback(a.HandleEvent)
}

// HandleEvent is the hotplug.Callback driving this adapter.
func (a *SerialAdapter) HandleEvent(e hotplug.Event) {
	switch e.Kind {
	case hotplug.EventDeviceUnplugged:
		a.handleUnplugged(e.Device)
	case hotplug.EventDevicePluggedIn:
		a.handlePluggedIn(e.Device)
	}
}

// SetAutoConnectPermitted gates whether plug-in events trigger an
// auto-connect attempt. Port chains that arrived while forbidden are
// recorded as pending and attempted as soon as permission is restored.
func (a *SerialAdapter) SetAutoConnectPermitted(allowed bool) {
	a.mu.Lock()
	a.autoConnectAllowed = allowed
	var resume []*device.Info
	if allowed {
		for _, d := range a.pending {
			resume = append(resume, d)
		}
		a.pending = make(map[string]*device.Info)
	}
	a.mu.Unlock()

	for _, d := range resume {
		a.scheduleAutoConnect(d)
	}
}

func (a *SerialAdapter) handleUnplugged(d *device.Info) {
	if d == nil {
		return
	}
	key := d.UniqueKey()

	a.mu.Lock()
	delete(a.failureStreak, key)
	delete(a.inFlight, key)
	delete(a.pending, key)
	a.mu.Unlock()

	a.dispatch(func() {
		if a.notifyOwner != nil {
			a.notifyOwner(SerialOwnerEvent{Device: d})
		}
	})
}

func (a *SerialAdapter) handlePluggedIn(d *device.Info) {
	if d == nil || !d.HasSerial() || a.backend.IsOpen() {
		return
	}

	key := d.UniqueKey()

	a.mu.Lock()
	if !a.autoConnectAllowed {
		a.pending[key] = d
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	a.scheduleAutoConnect(d)
}

func (a *SerialAdapter) scheduleAutoConnect(d *device.Info) {
	key := d.UniqueKey()

	a.mu.Lock()
	if a.inFlight[key] {
		a.mu.Unlock()
		return
	}
	a.inFlight[key] = true
	a.mu.Unlock()

	a.schedule(autoConnectDelay1, func() { a.attemptConnect(d) })
	a.schedule(autoConnectDelay2, func() {
		a.attemptConnect(d)
		a.mu.Lock()
		delete(a.inFlight, key)
		a.mu.Unlock()
	})
}

func (a *SerialAdapter) attemptConnect(d *device.Info) {
	key := d.UniqueKey()

	a.mu.Lock()
	if a.backend.IsOpen() || a.failureStreak[key] >= maxAutoConnectFailures {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	if err := a.backend.Open(d.SerialPortPath); err != nil {
		a.mu.Lock()
		a.failureStreak[key]++
		a.mu.Unlock()
		a.logger.Warn("serial auto-connect failed", "path", d.SerialPortPath, "err", err)
		return
	}

	a.mu.Lock()
	delete(a.failureStreak, key)
	a.mu.Unlock()
}

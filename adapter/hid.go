package adapter

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/openterface-sdk/openterface-core/device"
	"github.com/openterface-sdk/openterface-core/hid"
	"github.com/openterface-sdk/openterface-core/hotplug"
)

// hidEnumerationSettle is how long HIDAdapter waits after a plug-in before
// resolving the port chain to an HID path, giving the OS time to enumerate
// the new node.
const hidEnumerationSettle = 500 * time.Millisecond

// HIDAdapter keeps a hid.Binding (and the hid.Poller riding on its
// transport) pointed at whichever device is currently plugged in.
type HIDAdapter struct {
	binding *hid.Binding
	poller  *hid.Poller
	logger  *log.Logger

	sleep func(time.Duration)
	// deferStop runs f once, after a zero-delay timer, so StopCapture-style
	// work never runs on the hotplug monitor's own goroutine.
	deferStop func(f func())

	mu        sync.Mutex
	active    bool
	portChain string
}

// NewHIDAdapter builds an HIDAdapter driving binding and poller.
func NewHIDAdapter(binding *hid.Binding, poller *hid.Poller) *HIDAdapter {
	return &HIDAdapter{
		binding:   binding,
		poller:    poller,
		logger:    log.WithPrefix("hid-adapter"),
		sleep:     time.Sleep,
		deferStop: func(f func()) { time.AfterFunc(0, f) },
	}
}

// Attach registers the adapter as a callback on mon.
func (a *HIDAdapter) Attach(mon *hotplug.Monitor) {
	mon.RegisterCallback(a.HandleEvent)
}

// HandleEvent is the hotplug.Callback driving this adapter.
func (a *HIDAdapter) HandleEvent(e hotplug.Event) {
	switch e.Kind {
	case hotplug.EventDeviceUnplugged:
		a.handleUnplugged(e.Device)
	case hotplug.EventDevicePluggedIn:
		a.handlePluggedIn(e.Device)
	}
}

func (a *HIDAdapter) handleUnplugged(d *device.Info) {
	a.mu.Lock()
	if !a.active || d == nil || d.PortChain != a.portChain {
		a.mu.Unlock()
		return
	}
	a.active = false
	a.portChain = ""
	a.mu.Unlock()

	a.deferStop(func() {
		a.poller.Stop()
		if err := a.binding.Disconnect(); err != nil {
			a.logger.Warn("hid disconnect failed", "err", err)
		}
	})
}

func (a *HIDAdapter) handlePluggedIn(d *device.Info) {
	if d == nil || !d.HasHID() {
		return
	}

	a.mu.Lock()
	if a.active {
		a.mu.Unlock()
		return
	}
	a.active = true
	a.portChain = d.PortChain
	a.mu.Unlock()

	a.sleep(hidEnumerationSettle)

	if err := a.binding.SwitchToPortChain(d.PortChain); err != nil {
		a.logger.Warn("hid switch failed", "port_chain", d.PortChain, "err", err)
		a.mu.Lock()
		a.active = false
		a.portChain = ""
		a.mu.Unlock()
		return
	}
	if err := a.poller.Start(); err != nil {
		a.logger.Warn("hid poller start failed", "err", err)
	}
}

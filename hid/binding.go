package hid

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/openterface-sdk/openterface-core/errs"
	"github.com/openterface-sdk/openterface-core/manager"
)

// resolveRetries/resolveSpacing tolerate slow OS enumeration just after a
// device is plugged in, retrying the port-chain lookup a few times before
// giving up.
const resolveRetries = 3
const resolveSpacing = 200 * time.Millisecond

// BindingEventKind identifies what a BindingEvent reports.
type BindingEventKind int

const (
	EventHIDDeviceChanged BindingEventKind = iota
	EventHIDDeviceConnected
	EventHIDDeviceDisconnected
)

// BindingEvent is delivered to callbacks registered with Binding.OnEvent.
type BindingEvent struct {
	Kind BindingEventKind
	Old  string
	New  string
}

// Binding resolves a port chain to an HID device path through a
// manager.Manager and keeps a Transport pointed at the resolved path,
// re-binding it whenever the device moves.
type Binding struct {
	mgr       *manager.Manager
	transport *Transport
	logger    *log.Logger

	callbacksMu sync.Mutex
	callbacks   []func(BindingEvent)
}

// NewBinding builds a Binding over transport, resolving port chains through
// mgr.
func NewBinding(mgr *manager.Manager, transport *Transport) *Binding {
	return &Binding{mgr: mgr, transport: transport, logger: log.WithPrefix("hid-binding")}
}

// OnEvent registers a callback invoked for every BindingEvent.
func (b *Binding) OnEvent(cb func(BindingEvent)) {
	b.callbacksMu.Lock()
	defer b.callbacksMu.Unlock()
	b.callbacks = append(b.callbacks, cb)
}

// SwitchToPortChain resolves portChain against the device manager (retrying
// up to resolveRetries times at resolveSpacing) and rebinds the transport
// to the resulting HID path. If the resolved path equals the transport's
// current path, this is a no-op. Otherwise it ends any open transaction,
// replaces the cached path, re-opens the transaction if one was open,
// re-runs chip detection, and emits hid_device_changed plus
// hid_device_connected/disconnected as applicable.
func (b *Binding) SwitchToPortChain(portChain string) error {
	path, err := b.resolveWithRetry(portChain)
	if err != nil {
		return err
	}

	changed, oldPath, err := b.transport.SwitchToPath(path)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	b.deliver(BindingEvent{Kind: EventHIDDeviceChanged, Old: oldPath, New: path})
	if path != "" {
		b.deliver(BindingEvent{Kind: EventHIDDeviceConnected, New: path})
	}
	if oldPath != "" {
		b.deliver(BindingEvent{Kind: EventHIDDeviceDisconnected, Old: oldPath})
	}
	return nil
}

// Disconnect clears the transport's bound path, ending any open transaction
// (the last detected chip type is kept), and emits hid_device_changed plus
// hid_device_disconnected if a path was actually bound. It is a no-op if
// the transport already has no path.
func (b *Binding) Disconnect() error {
	changed, oldPath, err := b.transport.SwitchToPath("")
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	b.deliver(BindingEvent{Kind: EventHIDDeviceChanged, Old: oldPath, New: ""})
	if oldPath != "" {
		b.deliver(BindingEvent{Kind: EventHIDDeviceDisconnected, Old: oldPath})
	}
	return nil
}

func (b *Binding) resolveWithRetry(portChain string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= resolveRetries; attempt++ {
		matches, err := b.mgr.DevicesByPortChain(portChain)
		if err == nil {
			for _, d := range matches {
				if d.HasHID() {
					return d.HIDDevicePath, nil
				}
			}
			err = errs.ErrNoDevice
		}
		lastErr = err
		if attempt < resolveRetries {
			time.Sleep(resolveSpacing)
		}
	}
	return "", lastErr
}

func (b *Binding) deliver(event BindingEvent) {
	b.callbacksMu.Lock()
	callbacks := make([]func(BindingEvent), len(b.callbacks))
	copy(callbacks, b.callbacks)
	b.callbacksMu.Unlock()

	for _, cb := range callbacks {
		b.invoke(cb, event)
	}
}

func (b *Binding) invoke(cb func(BindingEvent), event BindingEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("binding callback panicked, recovered", "panic", r)
		}
	}()
	cb(event)
}

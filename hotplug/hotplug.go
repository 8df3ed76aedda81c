// Package hotplug watches a manager.Manager's discovery snapshots on a
// timer and turns the differences between consecutive snapshots into
// events delivered to registered callbacks.
package hotplug

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/openterface-sdk/openterface-core/device"
	"github.com/openterface-sdk/openterface-core/manager"
)

// DefaultInterval is the poll period used when Start is called without one.
const DefaultInterval = 2000 * time.Millisecond

// EventKind identifies what a Event reports.
type EventKind int

const (
	// EventDeviceRemoved fires once per removed record, before any
	// EventDeviceAdded/EventDeviceModified for the same tick.
	EventDeviceRemoved EventKind = iota
	// EventDeviceAdded fires once per added record.
	EventDeviceAdded
	// EventDeviceModified fires once per modified record, carrying both
	// the old and new record.
	EventDeviceModified
	// EventDevicesChanged fires once per tick in which the diff was
	// non-empty, carrying the full added/removed/modified lists, after
	// the per-record events above.
	EventDevicesChanged
	// EventDevicePluggedIn fires at most once per tick, for the first
	// device in Added, regardless of how many devices actually appeared.
	EventDevicePluggedIn
	// EventDeviceUnplugged fires once per entry in Removed.
	EventDeviceUnplugged
)

// Event is delivered to every registered callback. Added, Removed, and
// Modified are only populated on an EventDevicesChanged event; Device (and
// OldDevice, for EventDeviceModified) are populated on the per-record and
// plug-in/unplug events.
type Event struct {
	Kind      EventKind
	Added     []*device.Info
	Removed   []*device.Info
	Modified  []*device.Info
	Device    *device.Info
	OldDevice *device.Info

	Counter   uint64
	Timestamp time.Time
}

// Callback receives hotplug events. A panicking callback is recovered and
// logged; it does not stop other callbacks from receiving the same event or
// later ticks from running.
type Callback func(Event)

// Monitor polls a manager.Manager on an interval and reports the diff
// between consecutive snapshots to registered callbacks. It holds a
// non-owning reference to the Manager — closing or discarding a Monitor
// does not affect the Manager it was built over.
type Monitor struct {
	mgr    *manager.Manager
	logger *log.Logger

	mu       sync.Mutex
	interval time.Duration
	ticker   *time.Ticker
	stopCh   chan struct{}
	running  bool

	snapshotMu sync.Mutex
	last       []*device.Info
	initial    []*device.Info

	callbacksMu sync.Mutex
	callbacks   []Callback

	counter   uint64
	lastEvent time.Time
}

// New builds a Monitor over mgr. Call Start to begin polling.
func New(mgr *manager.Manager) *Monitor {
	return &Monitor{
		mgr:      mgr,
		logger:   log.WithPrefix("hotplug"),
		interval: DefaultInterval,
	}
}

// RegisterCallback adds cb to the set of callbacks invoked on every
// delivered event. Callbacks are invoked synchronously, one at a time, in
// registration order, on the monitor's own goroutine.
func (m *Monitor) RegisterCallback(cb Callback) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Start takes a blocking initial snapshot, publishes it as both the last
// and initial snapshot, and begins ticking at interval (DefaultInterval if
// interval <= 0). Calling Start on an already-running Monitor is a no-op.
func (m *Monitor) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	snapshot, err := m.mgr.Discover()
	if err != nil {
		return err
	}

	m.snapshotMu.Lock()
	m.last = snapshot
	m.initial = snapshot
	m.snapshotMu.Unlock()

	m.mu.Lock()
	m.interval = interval
	m.ticker = time.NewTicker(interval)
	m.stopCh = make(chan struct{})
	m.running = true
	ticker := m.ticker
	stopCh := m.stopCh
	m.mu.Unlock()

	go m.run(ticker, stopCh)
	return nil
}

// Stop halts the timer. Callbacks are not invoked again after Stop returns,
// though a tick already in flight when Stop is called may still deliver its
// callbacks before the goroutine observes the stop signal.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	ticker := m.ticker
	stopCh := m.stopCh
	m.ticker = nil
	m.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	if stopCh != nil {
		close(stopCh)
	}
}

// UpdateInterval retimes the running ticker without restarting the
// Monitor's snapshot state. Non-positive values are ignored. A no-op if the
// Monitor is not currently running.
func (m *Monitor) UpdateInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = interval
	if m.ticker != nil {
		m.ticker.Reset(interval)
	}
}

func (m *Monitor) run(ticker *time.Ticker, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	current, err := m.mgr.Discover()
	if err != nil {
		m.logger.Warn("discovery failed during poll", "err", err)
		return
	}

	m.snapshotMu.Lock()
	previous := m.last
	m.snapshotMu.Unlock()

	added, removed, modified := diff(previous, current)
	if len(added) == 0 && len(removed) == 0 && len(modified) == 0 {
		return
	}

	m.snapshotMu.Lock()
	m.last = current
	m.snapshotMu.Unlock()

	m.mu.Lock()
	m.counter++
	counter := m.counter
	now := time.Now()
	m.lastEvent = now
	m.mu.Unlock()

	// Removed-signals are delivered before added/modified signals within
	// the same tick, then the combined event fires exactly once.
	for _, r := range removed {
		m.deliver(Event{Kind: EventDeviceRemoved, Device: r, Counter: counter, Timestamp: now})
	}
	for _, a := range added {
		m.deliver(Event{Kind: EventDeviceAdded, Device: a, Counter: counter, Timestamp: now})
	}
	for _, pair := range modified {
		m.deliver(Event{Kind: EventDeviceModified, Device: pair.New, OldDevice: pair.Old, Counter: counter, Timestamp: now})
	}

	modifiedNew := make([]*device.Info, len(modified))
	for i, pair := range modified {
		modifiedNew[i] = pair.New
	}
	m.deliver(Event{
		Kind:      EventDevicesChanged,
		Added:     added,
		Removed:   removed,
		Modified:  modifiedNew,
		Counter:   counter,
		Timestamp: now,
	})

	// One unplug signal per removed device, then exactly one plug-in signal
	// per event, for the first device added. This asymmetry is
	// intentional: subsystem adapters depend on that exact shape.
	for _, r := range removed {
		m.deliver(Event{Kind: EventDeviceUnplugged, Device: r, Counter: counter, Timestamp: now})
	}
	if len(added) > 0 {
		m.deliver(Event{Kind: EventDevicePluggedIn, Device: added[0], Counter: counter, Timestamp: now})
	}
}

// deliver invokes every registered callback with event, isolating each
// callback behind its own recover so a panicking callback cannot prevent
// the rest from seeing the event or stop the tick loop.
func (m *Monitor) deliver(event Event) {
	m.callbacksMu.Lock()
	callbacks := make([]Callback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.callbacksMu.Unlock()

	for _, cb := range callbacks {
		m.invoke(cb, event)
	}
}

func (m *Monitor) invoke(cb Callback, event Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("hotplug callback panicked, recovered", "panic", r)
		}
	}()
	cb(event)
}

// InitialSnapshot returns the snapshot taken by Start, or nil if Start has
// not been called yet.
func (m *Monitor) InitialSnapshot() []*device.Info {
	m.snapshotMu.Lock()
	defer m.snapshotMu.Unlock()
	return m.initial
}

// LastSnapshot returns the most recently published snapshot.
func (m *Monitor) LastSnapshot() []*device.Info {
	m.snapshotMu.Lock()
	defer m.snapshotMu.Unlock()
	return m.last
}

// EventCount returns the number of ticks that have produced a non-empty
// diff since Start.
func (m *Monitor) EventCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter
}

// LastEventTime returns the timestamp of the most recent non-empty diff, or
// the zero Time if none has occurred yet.
func (m *Monitor) LastEventTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastEvent
}

// ModifiedPair is one record whose identity (UniqueKey) is unchanged
// between snapshots but whose contents (per device.Info.Equal) are not.
type ModifiedPair struct {
	Old *device.Info
	New *device.Info
}

// diff indexes previous and current by device.Info.UniqueKey and classifies
// each key present in only one side as added or removed, and each key
// present in both but not device.Info.Equal as modified. Added and modified
// follow the iteration order of current; removed follows that of previous.
func diff(previous, current []*device.Info) (added, removed []*device.Info, modified []ModifiedPair) {
	prevByKey := make(map[string]*device.Info, len(previous))
	for _, d := range previous {
		prevByKey[d.UniqueKey()] = d
	}
	currentKeys := make(map[string]bool, len(current))

	for _, d := range current {
		key := d.UniqueKey()
		currentKeys[key] = true
		prev, ok := prevByKey[key]
		if !ok {
			added = append(added, d)
			continue
		}
		if !d.Equal(prev) {
			modified = append(modified, ModifiedPair{Old: prev, New: d})
		}
	}

	for _, d := range previous {
		if !currentKeys[d.UniqueKey()] {
			removed = append(removed, d)
		}
	}

	return added, removed, modified
}

// Package manager holds the discovery cache, selected-device state, and
// chip-type helpers that every subsystem adapter talks to. There is
// deliberately no package-level singleton here (see settings.Store for the
// persisted half of that state): callers hold an explicit *Manager and pass
// it to whatever needs it, the way src/mheard.go's heard-station table is
// the one piece of shared state every caller reaches through a mutex rather
// than rebuilding.
package manager

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/openterface-sdk/openterface-core/correlate"
	"github.com/openterface-sdk/openterface-core/device"
	"github.com/openterface-sdk/openterface-core/errs"
	"github.com/openterface-sdk/openterface-core/platform"
	"github.com/openterface-sdk/openterface-core/settings"
)

// DefaultFreshnessWindow is how long a cached discovery snapshot is served
// without triggering a background re-scan.
const DefaultFreshnessWindow = time.Second

// ChipType is the simplified register-map family a device's integrated
// chip belongs to, used to pick an HID framing.
type ChipType int

const (
	ChipUnknown ChipType = iota
	ChipMS2109
	ChipMS2130S
)

func (c ChipType) String() string {
	switch c {
	case ChipMS2109:
		return "MS2109"
	case ChipMS2130S:
		return "MS2130S"
	default:
		return "Unknown"
	}
}

// Manager is an explicit, non-global handle over one enumerator's discovery
// cache, the currently selected device, and an optional persisted
// selection. It is safe for concurrent use.
type Manager struct {
	enumerator       platform.Enumerator
	settings         *settings.Store
	freshnessWindow  time.Duration
	discoveryCounter uint64
	logger           *log.Logger

	mu           sync.Mutex
	cache        []*device.Info
	cacheAt      time.Time
	refreshing   bool
	selected     *device.Info
	selectedLock sync.Mutex
}

// New builds a Manager over enumerator, optionally backed by a settings
// store for persisting the selected port chain (pass nil to disable
// persistence).
func New(enumerator platform.Enumerator, store *settings.Store) *Manager {
	return &Manager{
		enumerator:      enumerator,
		settings:        store,
		freshnessWindow: DefaultFreshnessWindow,
		logger:          log.WithPrefix("manager"),
	}
}

// SetFreshnessWindow overrides DefaultFreshnessWindow. A window of zero or
// less turns the cache off: every Discover then enumerates synchronously.
func (m *Manager) SetFreshnessWindow(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freshnessWindow = d
}

// Discover returns the current device list: the cache if fresh, the cache
// plus a kicked-off background refresh if stale, or a blocking enumeration
// if there is no cache yet or caching is off (a non-positive window).
func (m *Manager) Discover() ([]*device.Info, error) {
	m.mu.Lock()
	age := time.Since(m.cacheAt)
	hasCache := m.cacheAt != (time.Time{})
	caching := m.freshnessWindow > 0
	fresh := hasCache && age < m.freshnessWindow
	cache := m.cache
	refreshing := m.refreshing
	m.mu.Unlock()

	if !caching {
		return m.blockingDiscover()
	}
	if fresh {
		return cache, nil
	}
	if hasCache {
		if !refreshing {
			m.triggerBackgroundRefresh()
		}
		return cache, nil
	}
	return m.blockingDiscover()
}

func (m *Manager) blockingDiscover() ([]*device.Info, error) {
	devices, err := m.enumerate()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cache = devices
	m.cacheAt = time.Now()
	m.mu.Unlock()
	return devices, nil
}

func (m *Manager) triggerBackgroundRefresh() {
	m.mu.Lock()
	if m.refreshing {
		m.mu.Unlock()
		return
	}
	m.refreshing = true
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			m.refreshing = false
			m.mu.Unlock()
		}()

		devices, err := m.enumerate()
		if err != nil {
			m.logger.Warn("background discovery failed, keeping existing cache", "err", err)
			return
		}
		m.mu.Lock()
		m.cache = devices
		m.cacheAt = time.Now()
		m.mu.Unlock()
	}()
}

func (m *Manager) enumerate() ([]*device.Info, error) {
	raws, err := m.enumerator.Enumerate()
	if err != nil {
		return nil, errs.ErrDiscoveryFailed
	}
	gen := m.nextGeneration()
	now := time.Now()
	devices := correlate.Correlate(raws, gen)
	for _, d := range devices {
		d.LastSeen = now
	}
	return devices, nil
}

func (m *Manager) nextGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discoveryCounter++
	return m.discoveryCounter
}

// DevicesByPortChain returns the devices matching p (see
// correlate.FilterByPortChain for the exact matching contract).
func (m *Manager) DevicesByPortChain(p string) ([]*device.Info, error) {
	devices, err := m.Discover()
	if err != nil {
		return nil, err
	}
	return correlate.FilterByPortChain(devices, p), nil
}

// DevicesByAnyPortChain is DevicesByPortChain extended to match by
// companion port chain too.
func (m *Manager) DevicesByAnyPortChain(p string) ([]*device.Info, error) {
	devices, err := m.Discover()
	if err != nil {
		return nil, err
	}
	return correlate.FilterByAnyPortChain(devices, p), nil
}

// AvailablePortChains returns the UniqueKey of every currently known device.
func (m *Manager) AvailablePortChains() ([]string, error) {
	devices, err := m.Discover()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.UniqueKey())
	}
	return out, nil
}

// Select finds the first device matching p, stores it as the selected
// device, persists it through the settings store if one is bound, and
// returns it.
func (m *Manager) Select(p string) (*device.Info, error) {
	matches, err := m.DevicesByPortChain(p)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, errs.ErrNoDevice
	}
	d := matches[0]

	m.selectedLock.Lock()
	m.selected = d
	m.selectedLock.Unlock()

	if m.settings != nil {
		if err := m.settings.SetCurrentPortChain(d.PortChain); err != nil {
			m.logger.Warn("could not persist selected port chain", "err", err)
		}
	}
	return d, nil
}

// Selected returns the currently selected device, or nil if none.
func (m *Manager) Selected() *device.Info {
	m.selectedLock.Lock()
	defer m.selectedLock.Unlock()
	return m.selected
}

// FirstAvailable returns the first device from Discover, or
// errs.ErrNoDevice if there are none.
func (m *Manager) FirstAvailable() (*device.Info, error) {
	devices, err := m.Discover()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, errs.ErrNoDevice
	}
	return devices[0], nil
}

// LoadSelected re-selects the port chain persisted by an earlier process,
// if a settings store is bound and it has one recorded. It returns
// errs.ErrNoDevice (not a hard failure) when there is nothing to restore or
// the persisted device is not currently present.
func (m *Manager) LoadSelected() (*device.Info, error) {
	if m.settings == nil || m.settings.CurrentPortChain == "" {
		return nil, errs.ErrNoDevice
	}
	return m.Select(m.settings.CurrentPortChain)
}

// ChipTypeFor classifies a device's integrated chip by VID/PID.
func ChipTypeFor(d *device.Info) ChipType {
	if d == nil {
		return ChipUnknown
	}
	switch {
	case platform.NormalizeHex(d.VID) == "534D" && platform.NormalizeHex(d.PID) == "2109":
		return ChipMS2109
	case platform.NormalizeHex(d.VID) == "345F" && platform.NormalizeHex(d.PID) == "2132":
		return ChipMS2130S
	default:
		return ChipUnknown
	}
}

// ChipTypeForPortChain looks up the first device for p and classifies it.
func (m *Manager) ChipTypeForPortChain(p string) (ChipType, error) {
	matches, err := m.DevicesByPortChain(p)
	if err != nil {
		return ChipUnknown, err
	}
	if len(matches) == 0 {
		return ChipUnknown, errs.ErrNoDevice
	}
	return ChipTypeFor(matches[0]), nil
}

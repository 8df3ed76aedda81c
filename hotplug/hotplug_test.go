package hotplug

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openterface-sdk/openterface-core/device"
	"github.com/openterface-sdk/openterface-core/manager"
	"github.com/openterface-sdk/openterface-core/platform"
)

func gen1At(portChain string) []platform.RawInterface {
	return []platform.RawInterface{
		{InstanceID: "serial-" + portChain, PortChain: portChain, VID: "1A86", PID: "7523", Subsystem: platform.SubsystemUSB},
		{InstanceID: "integrated-" + portChain, PortChain: portChain, VID: "534D", PID: "2109", Subsystem: platform.SubsystemUSB},
	}
}

func TestStartPublishesInitialSnapshot(t *testing.T) {
	fake := platform.NewFake(gen1At("1-2")...)
	mon := New(manager.New(fake, nil))

	require.NoError(t, mon.Start(time.Hour))
	defer mon.Stop()

	require.Len(t, mon.InitialSnapshot(), 1)
	require.Len(t, mon.LastSnapshot(), 1)
	assert.Equal(t, "1-2", mon.InitialSnapshot()[0].PortChain)
}

func TestStartPropagatesDiscoveryError(t *testing.T) {
	fake := platform.NewFake()
	fake.Err = assert.AnError
	mon := New(manager.New(fake, nil))

	err := mon.Start(time.Hour)
	assert.Error(t, err)
}

func TestTickDeliversAddedAndPluggedIn(t *testing.T) {
	fake := platform.NewFake()
	m := manager.New(fake, nil)
	m.SetFreshnessWindow(0)
	mon := New(m)
	require.NoError(t, mon.Start(time.Hour))
	defer mon.Stop()

	var mu sync.Mutex
	var events []Event
	mon.RegisterCallback(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	fake.Interfaces = gen1At("1-2")
	mon.tick()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.Equal(t, EventDeviceAdded, events[0].Kind)
	assert.Equal(t, "1-2", events[0].Device.PortChain)
	assert.Equal(t, EventDevicesChanged, events[1].Kind)
	require.Len(t, events[1].Added, 1)
	assert.Equal(t, EventDevicePluggedIn, events[2].Kind)
	assert.Equal(t, "1-2", events[2].Device.PortChain)
}

func TestTickDeliversOneUnplugPerRemoval(t *testing.T) {
	fake := platform.NewFake(append(gen1At("1-2"), gen1At("1-3")...)...)
	m := manager.New(fake, nil)
	m.SetFreshnessWindow(0)
	mon := New(m)
	require.NoError(t, mon.Start(time.Hour))
	defer mon.Stop()

	var mu sync.Mutex
	var events []Event
	mon.RegisterCallback(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	fake.Interfaces = nil
	mon.tick()

	mu.Lock()
	defer mu.Unlock()
	var unplugs int
	for _, e := range events {
		if e.Kind == EventDeviceUnplugged {
			unplugs++
		}
	}
	assert.Equal(t, 2, unplugs, "one unplug event per removed device, unlike the single plug-in event")

	var plugins int
	for _, e := range events {
		if e.Kind == EventDevicePluggedIn {
			plugins++
		}
	}
	assert.Equal(t, 0, plugins)
}

func TestTickDeliversRemovedBeforeAddedThenCombined(t *testing.T) {
	fake := platform.NewFake(gen1At("1-2")...)
	m := manager.New(fake, nil)
	m.SetFreshnessWindow(0)
	mon := New(m)
	require.NoError(t, mon.Start(time.Hour))
	defer mon.Stop()

	var mu sync.Mutex
	var events []Event
	mon.RegisterCallback(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	// 1-2 removed, 1-4 added.
	fake.Interfaces = gen1At("1-4")
	mon.tick()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 5)
	assert.Equal(t, EventDeviceRemoved, events[0].Kind)
	assert.Equal(t, "1-2", events[0].Device.PortChain)
	assert.Equal(t, EventDeviceAdded, events[1].Kind)
	assert.Equal(t, "1-4", events[1].Device.PortChain)
	assert.Equal(t, EventDevicesChanged, events[2].Kind)
	require.Len(t, events[2].Added, 1)
	require.Len(t, events[2].Removed, 1)
	assert.Equal(t, EventDeviceUnplugged, events[3].Kind)
}

func TestTickDeliversModifiedWithOldAndNew(t *testing.T) {
	fake := platform.NewFake(gen1At("1-2")...)
	m := manager.New(fake, nil)
	m.SetFreshnessWindow(0)
	mon := New(m)
	require.NoError(t, mon.Start(time.Hour))
	defer mon.Stop()

	var mu sync.Mutex
	var events []Event
	mon.RegisterCallback(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	modified := gen1At("1-2")
	modified[0].DevicePath = "/dev/ttyUSB9"
	fake.Interfaces = modified
	mon.tick()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, EventDeviceModified, events[0].Kind)
	require.NotNil(t, events[0].OldDevice)
	require.NotNil(t, events[0].Device)
	assert.Equal(t, EventDevicesChanged, events[1].Kind)
	require.Len(t, events[1].Modified, 1)
}

func TestTickNoChangeDeliversNothing(t *testing.T) {
	fake := platform.NewFake(gen1At("1-2")...)
	m := manager.New(fake, nil)
	m.SetFreshnessWindow(0)
	mon := New(m)
	require.NoError(t, mon.Start(time.Hour))
	defer mon.Stop()

	var called bool
	mon.RegisterCallback(func(e Event) { called = true })

	mon.tick()
	assert.False(t, called)
	assert.EqualValues(t, 0, mon.EventCount())
}

func TestPanickingCallbackDoesNotBlockOthers(t *testing.T) {
	fake := platform.NewFake()
	m := manager.New(fake, nil)
	m.SetFreshnessWindow(0)
	mon := New(m)
	require.NoError(t, mon.Start(time.Hour))
	defer mon.Stop()

	var secondCalled bool
	mon.RegisterCallback(func(e Event) { panic("boom") })
	mon.RegisterCallback(func(e Event) { secondCalled = true })

	fake.Interfaces = gen1At("1-2")
	require.NotPanics(t, func() { mon.tick() })
	assert.True(t, secondCalled)
}

func TestUpdateIntervalIgnoresNonPositive(t *testing.T) {
	mon := New(manager.New(platform.NewFake(), nil))
	require.NoError(t, mon.Start(time.Hour))
	defer mon.Stop()

	mon.UpdateInterval(0)
	mon.UpdateInterval(-time.Second)
	assert.Equal(t, time.Hour, mon.interval)
}

func TestStopPreventsFurtherCallbacks(t *testing.T) {
	fake := platform.NewFake(gen1At("1-2")...)
	m := manager.New(fake, nil)
	m.SetFreshnessWindow(0)
	mon := New(m)
	require.NoError(t, mon.Start(time.Hour))

	mon.Stop()
	assert.False(t, mon.running)
}

func TestDiffClassifiesAddedRemovedModified(t *testing.T) {
	a := &device.Info{PortChain: "1-2", SerialPortPath: "/dev/ttyUSB0"}
	aModified := &device.Info{PortChain: "1-2", SerialPortPath: "/dev/ttyUSB1"}
	b := &device.Info{PortChain: "1-3"}
	c := &device.Info{PortChain: "1-4"}

	added, removed, modified := diff([]*device.Info{a, b}, []*device.Info{aModified, c})
	require.Len(t, added, 1)
	assert.Equal(t, "1-4", added[0].PortChain)
	require.Len(t, removed, 1)
	assert.Equal(t, "1-3", removed[0].PortChain)
	require.Len(t, modified, 1)
	assert.Equal(t, "/dev/ttyUSB0", modified[0].Old.SerialPortPath)
	assert.Equal(t, "/dev/ttyUSB1", modified[0].New.SerialPortPath)
}

package hid

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDevice returns a caller-supplied byte for each register address on
// GetFeatureReport, keyed by the address embedded in bytes 2-3 of the sent
// report, so poll.go's per-tick reads can be driven deterministically.
type scriptedDevice struct {
	mu      sync.Mutex
	byAddr  map[uint16]byte
	lastReq []byte
}

func (s *scriptedDevice) Close() error { return nil }

func (s *scriptedDevice) SendFeatureReport(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReq = append([]byte(nil), b...)
	return len(b), nil
}

func (s *scriptedDevice) GetFeatureReport(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := uint16(s.lastReq[2])<<8 | uint16(s.lastReq[3])
	if len(b) > 4 {
		b[4] = s.byAddr[addr]
	}
	return len(b), nil
}

func newScriptedTransport(byAddr map[uint16]byte) (*Transport, *scriptedDevice) {
	sd := &scriptedDevice{byAddr: byAddr}
	tr := New()
	tr.sleep = func(time.Duration) {}
	tr.open = func(path string) (device, error) { return sd, nil }
	return tr, sd
}

func TestApplyResolutionCorrectionsMS2109Doubles4K(t *testing.T) {
	mode := Resolution{Width: 2048, Height: 1080, Pixclk: 200}
	applyResolutionCorrections(ChipMS2109, &mode)
	assert.Equal(t, 4096, mode.Width)
	assert.Equal(t, 2160, mode.Height)
}

func TestApplyResolutionCorrectionsMS2109LeavesLowPixclkAlone(t *testing.T) {
	mode := Resolution{Width: 1920, Height: 1080, Pixclk: 150}
	applyResolutionCorrections(ChipMS2109, &mode)
	assert.Equal(t, 1920, mode.Width)
	assert.Equal(t, 1080, mode.Height)
}

func TestApplyResolutionCorrectionsMS2130SFixes1080(t *testing.T) {
	mode := Resolution{Width: 3840, Height: 1080}
	applyResolutionCorrections(ChipMS2130S, &mode)
	assert.Equal(t, 2160, mode.Height)
}

func TestSpdifBitMaskSwitchesAtFirmwareThreshold(t *testing.T) {
	bit, mask := spdifBitMask("24081309")
	assert.EqualValues(t, 0x01, bit)
	assert.EqualValues(t, 0xFE, mask)

	bit, mask = spdifBitMask("24080101")
	assert.EqualValues(t, 0x10, bit)
	assert.EqualValues(t, 0xEF, mask)
}

func TestPollerStartReadsFirmwareAndInitialGPIO(t *testing.T) {
	byAddr := map[uint16]byte{
		ms2109RegFirmwareVer0: 1, ms2109RegFirmwareVer1: 2,
		ms2109RegFirmwareVer2: 3, ms2109RegFirmwareVer3: 4,
		ms2109RegGPIO0: 0x01,
	}
	tr, _ := newScriptedTransport(byAddr)
	_, _, _ = tr.SwitchToPath("vid_534d&pid_2109")

	p := NewPoller(tr)
	require.NoError(t, p.Start())
	defer p.Stop()

	assert.Equal(t, "01020304", p.Firmware())
	p.mu.Lock()
	assert.True(t, p.lastGPIO0)
	p.mu.Unlock()
}

func TestPollerTickFiresToggleOnGPIOChange(t *testing.T) {
	byAddr := map[uint16]byte{
		ms2109RegFirmwareVer0: 0, ms2109RegFirmwareVer1: 0,
		ms2109RegFirmwareVer2: 0, ms2109RegFirmwareVer3: 0,
		ms2109RegGPIO0:         0x00,
		ms2109RegHDMIConnected: 0x00,
		ms2109RegSPDIFOut:      0x00,
	}
	tr, sd := newScriptedTransport(byAddr)
	_, _, _ = tr.SwitchToPath("vid_534d&pid_2109")

	p := NewPoller(tr)
	require.NoError(t, p.Start())
	defer p.Stop()

	var events []PollEvent
	p.OnEvent(func(e PollEvent) { events = append(events, e) })

	sd.mu.Lock()
	sd.byAddr[ms2109RegGPIO0] = 0x01
	sd.mu.Unlock()

	p.tick()
	require.Len(t, events, 1)
	assert.Equal(t, EventSwitchableUSBToggle, events[0].Kind)
	assert.True(t, events[0].GPIO0)
}

func TestPollerTickNoChangeFiresNothing(t *testing.T) {
	byAddr := map[uint16]byte{ms2109RegGPIO0: 0x00, ms2109RegHDMIConnected: 0x00}
	tr, _ := newScriptedTransport(byAddr)
	_, _, _ = tr.SwitchToPath("vid_534d&pid_2109")

	p := NewPoller(tr)
	require.NoError(t, p.Start())
	defer p.Stop()

	var called bool
	p.OnEvent(func(e PollEvent) { called = true })
	p.tick()
	assert.False(t, called)
}

func TestClassifyResolutionRecognizesCommonModes(t *testing.T) {
	assert.Equal(t, Standard, ClassifyResolution(1920, 1080))
	assert.Equal(t, Standard, ClassifyResolution(3840, 2160))
	assert.Equal(t, Standard, ClassifyResolution(640, 480))
	assert.Equal(t, NonStandard, ClassifyResolution(1366, 768))
}

func TestPollerTickFiresModeChangedWithClassOnConnect(t *testing.T) {
	byAddr := map[uint16]byte{
		ms2109RegHDMIConnected: 0x01,
		ms2109RegWidthH:        1920 >> 8, ms2109RegWidthL: 1920 & 0xFF,
		ms2109RegHeightH: 1080 >> 8, ms2109RegHeightL: 1080 & 0xFF,
		ms2109RegFPSH: 0, ms2109RegFPSL: 0,
		ms2109RegPixclkH: 0, ms2109RegPixclkL: 0,
		ms2109RegGPIO0: 0x00,
	}
	tr, _ := newScriptedTransport(byAddr)
	_, _, _ = tr.SwitchToPath("vid_534d&pid_2109")

	p := NewPoller(tr)
	require.NoError(t, p.Start())
	defer p.Stop()

	var events []PollEvent
	p.OnEvent(func(e PollEvent) { events = append(events, e) })

	p.tick()
	require.Len(t, events, 1)
	assert.Equal(t, EventModeChanged, events[0].Kind)
	assert.Equal(t, 1920, events[0].Mode.Width)
	assert.Equal(t, 1080, events[0].Mode.Height)
	assert.Equal(t, Standard, events[0].Mode.Class)
}

func TestPollerTickFiresNothingWhenModeUnchanged(t *testing.T) {
	byAddr := map[uint16]byte{
		ms2109RegHDMIConnected: 0x01,
		ms2109RegWidthH:        1366 >> 8, ms2109RegWidthL: 1366 & 0xFF,
		ms2109RegHeightH: 768 >> 8, ms2109RegHeightL: 768 & 0xFF,
		ms2109RegFPSH: 0, ms2109RegFPSL: 0,
		ms2109RegPixclkH: 0, ms2109RegPixclkL: 0,
		ms2109RegGPIO0: 0x00,
	}
	tr, _ := newScriptedTransport(byAddr)
	_, _, _ = tr.SwitchToPath("vid_534d&pid_2109")

	p := NewPoller(tr)
	require.NoError(t, p.Start())
	defer p.Stop()
	p.tick()

	var events []PollEvent
	p.OnEvent(func(e PollEvent) { events = append(events, e) })
	p.tick()
	assert.Empty(t, events)
	assert.Equal(t, NonStandard, p.LastMode().Class)
}

func TestPollerPanicInCallbackDoesNotStopDelivery(t *testing.T) {
	byAddr := map[uint16]byte{ms2109RegGPIO0: 0x00, ms2109RegHDMIConnected: 0x00}
	tr, sd := newScriptedTransport(byAddr)
	_, _, _ = tr.SwitchToPath("vid_534d&pid_2109")

	p := NewPoller(tr)
	require.NoError(t, p.Start())
	defer p.Stop()

	var secondCalled bool
	p.OnEvent(func(e PollEvent) { panic("boom") })
	p.OnEvent(func(e PollEvent) { secondCalled = true })

	sd.mu.Lock()
	sd.byAddr[ms2109RegGPIO0] = 0x01
	sd.mu.Unlock()

	require.NotPanics(t, func() { p.tick() })
	assert.True(t, secondCalled)
}

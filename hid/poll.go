package hid

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// PollInterval is the status-poll tick period.
const PollInterval = time.Second

// firmwareVersionSPDIFSwitch is the lexical threshold at or above which the
// SPDIFOUT bit moves from bit 4 (mask 0xEF) to bit 0 (mask 0xFE).
const firmwareVersionSPDIFSwitch = "24081309"

// Resolution is one read video mode sample.
type Resolution struct {
	Width   int
	Height  int
	FPS     float64
	Pixclk  float64 // MHz
	Connected bool
	Class   ResolutionClass
}

// ResolutionClass classifies an observed mode against the built-in table of
// common HDMI resolutions. It is purely informational: a NonStandard mode is
// still read, reported, and acted on exactly like a Standard one.
type ResolutionClass int

const (
	Standard ResolutionClass = iota
	NonStandard
)

// commonHDMIModes is the built-in table of widely supported HDMI modes used
// to classify an observed resolution. It is not an EDID and never clamps or
// rejects a reading.
var commonHDMIModes = [...][2]int{
	{640, 480},
	{1920, 1080},
	{3840, 2160},
	{4096, 2160},
}

// ClassifyResolution reports whether (w, h) matches one of the common HDMI
// modes in commonHDMIModes.
func ClassifyResolution(w, h int) ResolutionClass {
	for _, m := range commonHDMIModes {
		if m[0] == w && m[1] == h {
			return Standard
		}
	}
	return NonStandard
}

// EventKind identifies what a PollEvent reports.
type EventKind int

const (
	EventSwitchableUSBToggle EventKind = iota
	EventModeChanged
)

// PollEvent is delivered to callbacks registered with (*Poller).OnEvent.
type PollEvent struct {
	Kind  EventKind
	GPIO0 bool
	Mode  Resolution
}

type chipRegisters struct {
	hdmiConnected uint16
	widthH, widthL uint16
	heightH, heightL uint16
	fpsH, fpsL uint16
	pixclkH, pixclkL uint16
	gpio0 uint16
	spdifOut uint16
}

var ms2109Regs = chipRegisters{
	hdmiConnected: ms2109RegHDMIConnected,
	widthH: ms2109RegWidthH, widthL: ms2109RegWidthL,
	heightH: ms2109RegHeightH, heightL: ms2109RegHeightL,
	fpsH: ms2109RegFPSH, fpsL: ms2109RegFPSL,
	pixclkH: ms2109RegPixclkH, pixclkL: ms2109RegPixclkL,
	gpio0: ms2109RegGPIO0, spdifOut: ms2109RegSPDIFOut,
}

var ms2130sRegs = chipRegisters{
	hdmiConnected: ms2130sRegHDMIConnected,
	widthH: ms2130sRegWidthH, widthL: ms2130sRegWidthL,
	heightH: ms2130sRegHeightH, heightL: ms2130sRegHeightL,
	fpsH: ms2130sRegFPSH, fpsL: ms2130sRegFPSL,
	pixclkH: ms2130sRegPixclkH, pixclkL: ms2130sRegPixclkL,
	gpio0: ms2130sRegGPIO0, spdifOut: ms2130sRegSPDIFOut,
}

// readChipRegister dispatches to the chip-specific framing for the
// transport's currently detected chip type.
func (t *Transport) readChipRegister(addr uint16) (byte, error) {
	switch t.Chip() {
	case ChipMS2130S:
		return t.ReadRegisterMS2130S(addr)
	default:
		return t.ReadRegisterMS2109(addr)
	}
}

func (t *Transport) writeChipRegister(addr uint16, data byte) error {
	switch t.Chip() {
	case ChipMS2130S:
		return t.WriteRegisterMS2130S(addr, data)
	default:
		return t.WriteRegisterMS2109(addr, data)
	}
}

func regsFor(chip ChipType) chipRegisters {
	if chip == ChipMS2130S {
		return ms2130sRegs
	}
	return ms2109Regs
}

func firmwareVersionRegsFor(chip ChipType) [4]uint16 {
	if chip == ChipMS2130S {
		return [4]uint16{ms2130sRegFirmwareVer0, ms2130sRegFirmwareVer1, ms2130sRegFirmwareVer2, ms2130sRegFirmwareVer3}
	}
	return [4]uint16{ms2109RegFirmwareVer0, ms2109RegFirmwareVer1, ms2109RegFirmwareVer2, ms2109RegFirmwareVer3}
}

// Poller runs the periodic status-poll loop over a Transport: firmware
// version read once on start, then every tick a video-mode sample plus
// GPIO0/SPDIFOUT handling, with callbacks for the "switchable USB toggle"
// event fired when GPIO0 changes.
type Poller struct {
	t        *Transport
	logger   *log.Logger
	interval time.Duration

	mu            sync.Mutex
	running       bool
	stopCh        chan struct{}
	firmware      string
	lastGPIO0     bool
	lastGPIO0Set  bool
	lastMode      Resolution

	callbacksMu sync.Mutex
	callbacks   []func(PollEvent)
}

// NewPoller builds a Poller over t, polling at PollInterval.
func NewPoller(t *Transport) *Poller {
	return &Poller{t: t, logger: log.WithPrefix("hid-poll"), interval: PollInterval}
}

// OnEvent registers a callback invoked for every PollEvent.
func (p *Poller) OnEvent(cb func(PollEvent)) {
	p.callbacksMu.Lock()
	defer p.callbacksMu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

// Start opens a transaction, reads the firmware version and the initial
// GPIO0 bit once, then begins ticking. Start does not read SPDIFOUT and
// delivers no event itself.
func (p *Poller) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.t.BeginTransaction(); err != nil {
		return err
	}

	firmware, err := p.readFirmwareVersion()
	if err != nil {
		return err
	}
	regs := regsFor(p.t.Chip())
	gpio0Byte, err := p.t.readChipRegister(regs.gpio0)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.firmware = firmware
	p.lastGPIO0 = gpio0Byte&0x01 != 0
	p.lastGPIO0Set = true
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	interval := p.interval
	p.mu.Unlock()

	go p.run(stopCh, interval)
	return nil
}

// Stop halts the tick loop. The underlying transaction is left open; the
// caller ends it if desired.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh := p.stopCh
	p.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
	}
}

func (p *Poller) run(stopCh chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

// readFirmwareVersion reads the four firmware-version component registers
// and formats each as two decimal digits, concatenated into the 8-digit
// vv0vv1vv2vv3 string used for the SPDIFOUT mask decision.
func (p *Poller) readFirmwareVersion() (string, error) {
	regs := firmwareVersionRegsFor(p.t.Chip())
	var b strings.Builder
	for _, addr := range regs {
		v, err := p.t.readChipRegister(addr)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%02d", v)
	}
	return b.String(), nil
}

func (p *Poller) tick() {
	regs := regsFor(p.t.Chip())

	connected, err := p.t.readChipRegister(regs.hdmiConnected)
	if err != nil {
		p.logger.Warn("hdmi-connected read failed", "err", err)
		connected = 0
	}

	mode := Resolution{Connected: connected != 0}
	if mode.Connected {
		mode = p.readMode(regs)
		mode.Connected = true
		chip := p.t.Chip()
		applyResolutionCorrections(chip, &mode)
		mode.Class = ClassifyResolution(mode.Width, mode.Height)
	}

	p.mu.Lock()
	modeChanged := mode != p.lastMode
	p.lastMode = mode
	p.mu.Unlock()

	if modeChanged && mode.Connected {
		p.deliver(PollEvent{Kind: EventModeChanged, Mode: mode})
	}

	gpio0Byte, err := p.t.readChipRegister(regs.gpio0)
	if err != nil {
		p.logger.Warn("gpio0 read failed", "err", err)
		return
	}
	gpio0 := gpio0Byte&0x01 != 0

	p.mu.Lock()
	changed := p.lastGPIO0Set && gpio0 != p.lastGPIO0
	p.lastGPIO0 = gpio0
	p.lastGPIO0Set = true
	firmware := p.firmware
	p.mu.Unlock()

	if changed {
		p.deliver(PollEvent{Kind: EventSwitchableUSBToggle, GPIO0: gpio0})

		bit, mask := spdifBitMask(firmware)
		current, err := p.t.readChipRegister(regs.spdifOut)
		if err != nil {
			p.logger.Warn("spdifout read failed", "err", err)
			return
		}
		next := current & mask
		if gpio0 {
			next |= bit
		}
		if err := p.t.writeChipRegister(regs.spdifOut, next); err != nil {
			p.logger.Warn("spdifout write failed", "err", err)
		}
	}
}

// spdifBitMask returns the bit/mask pair used to set SPDIFOUT to match
// GPIO0: firmware lexically >= "24081309" uses bit 0 (mask 0xFE);
// otherwise bit 4 / 0x10 (mask 0xEF).
func spdifBitMask(firmware string) (bit, mask byte) {
	if firmware >= firmwareVersionSPDIFSwitch {
		return 0x01, 0xFE
	}
	return 0x10, 0xEF
}

func (p *Poller) readMode(regs chipRegisters) Resolution {
	wh, _ := p.t.readChipRegister(regs.widthH)
	wl, _ := p.t.readChipRegister(regs.widthL)
	hh, _ := p.t.readChipRegister(regs.heightH)
	hl, _ := p.t.readChipRegister(regs.heightL)
	fh, _ := p.t.readChipRegister(regs.fpsH)
	fl, _ := p.t.readChipRegister(regs.fpsL)
	ph, _ := p.t.readChipRegister(regs.pixclkH)
	pl, _ := p.t.readChipRegister(regs.pixclkL)

	return Resolution{
		Width:  int(uint16(wh)<<8 | uint16(wl)),
		Height: int(uint16(hh)<<8 | uint16(hl)),
		FPS:    float64(uint16(fh)<<8|uint16(fl)) / 100,
		Pixclk: float64(uint16(ph)<<8|uint16(pl)) / 100,
	}
}

// applyResolutionCorrections applies the MS2109 4K-over-189MHz doubling
// and the MS2130S 3840x1080 -> 3840x2160 correction.
func applyResolutionCorrections(chip ChipType, mode *Resolution) {
	switch chip {
	case ChipMS2109:
		if mode.Pixclk > 189 {
			if mode.Width != 4096 {
				mode.Width *= 2
			}
			if mode.Height != 2160 {
				mode.Height *= 2
			}
		}
	case ChipMS2130S:
		if mode.Width == 3840 && mode.Height == 1080 {
			mode.Height = 2160
		}
	}
}

// LastMode returns the most recently sampled video mode.
func (p *Poller) LastMode() Resolution {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastMode
}

// Firmware returns the firmware version string read on Start.
func (p *Poller) Firmware() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firmware
}

func (p *Poller) deliver(event PollEvent) {
	p.callbacksMu.Lock()
	callbacks := make([]func(PollEvent), len(p.callbacks))
	copy(callbacks, p.callbacks)
	p.callbacksMu.Unlock()

	for _, cb := range callbacks {
		p.invoke(cb, event)
	}
}

func (p *Poller) invoke(cb func(PollEvent), event PollEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("poll callback panicked, recovered", "panic", r)
		}
	}()
	cb(event)
}

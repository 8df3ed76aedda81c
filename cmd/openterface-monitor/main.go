// Command openterface-monitor wires the device manager, hotplug monitor,
// and subsystem adapters together and prints every event as it happens —
// a small harness for exercising the core library by hand, the way
// src/atest.go drives the demodulator library without a full TNC around it.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/pkg/term"
	"github.com/spf13/pflag"

	"github.com/openterface-sdk/openterface-core/adapter"
	"github.com/openterface-sdk/openterface-core/hid"
	"github.com/openterface-sdk/openterface-core/hotplug"
	"github.com/openterface-sdk/openterface-core/manager"
	"github.com/openterface-sdk/openterface-core/platform"
	"github.com/openterface-sdk/openterface-core/settings"
)

func main() {
	var settingsPath = pflag.StringP("settings-file", "s", "openterface.yaml", "Path to the persisted port-chain selection.")
	var pollInterval = pflag.DurationP("poll-interval", "i", hotplug.DefaultInterval, "Hotplug poll interval.")
	var logLevel = pflag.StringP("log-level", "l", "info", "Log level: debug, info, warn, error.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "openterface-monitor - watches for Openterface capture devices and logs hotplug/HID events.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: openterface-monitor [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if lvl, err := log.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.Warn("unrecognized log level, defaulting to info", "requested", *logLevel)
	}
	log.SetDefault(logger)

	store, err := settings.Open(*settingsPath)
	if err != nil {
		logger.Fatal("could not open settings file", "path", *settingsPath, "err", err)
	}

	mgr := manager.New(platform.New(), store)
	mon := hotplug.New(mgr)

	mon.RegisterCallback(func(e hotplug.Event) {
		logLifecycleEvent(logger, e)
	})

	transport := hid.New()
	binding := hid.NewBinding(mgr, transport)
	poller := hid.NewPoller(transport)
	poller.OnEvent(func(e hid.PollEvent) {
		switch e.Kind {
		case hid.EventSwitchableUSBToggle:
			logger.Info("switchable usb toggle observed", "gpio0", e.GPIO0)
		case hid.EventModeChanged:
			logger.Info("video mode changed", "width", e.Mode.Width, "height", e.Mode.Height,
				"fps", e.Mode.FPS, "standard", e.Mode.Class == hid.Standard)
		}
	})
	binding.OnEvent(func(e hid.BindingEvent) {
		logger.Info("hid binding event", "kind", bindingEventName(e.Kind), "old", e.Old, "new", e.New)
	})

	hidAdapter := adapter.NewHIDAdapter(binding, poller)
	hidAdapter.Attach(mon)

	cameraAdapter := adapter.NewCameraAdapter(&loggingCameraBackend{logger: logger})
	cameraAdapter.Attach(mon)

	serialAdapter := adapter.NewSerialAdapter(&loggingSerialBackend{logger: logger}, func(e adapter.SerialOwnerEvent) {
		logger.Info("serial owner notified of unplug", "port_chain", e.Device.PortChain)
	})
	serialAdapter.Attach(mon)

	if err := mon.Start(*pollInterval); err != nil {
		logger.Fatal("initial device discovery failed", "err", err)
	}
	logger.Info("watching for devices", "poll_interval", *pollInterval, "initial_count", len(mon.InitialSnapshot()))

	quit := make(chan struct{})
	if tty, err := term.Open("/dev/tty", term.RawMode); err == nil {
		go watchQuitKeypress(tty, quit)
	} else {
		logger.Debug("raw-mode keypress watcher unavailable, ctrl-c only", "err", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
	case <-quit:
	}

	logger.Info("shutting down")
	poller.Stop()
	mon.Stop()
}

// watchQuitKeypress reads single bytes from a raw-mode tty and signals quit
// as soon as 'q' is pressed, restoring the terminal before returning.
func watchQuitKeypress(tty *term.Term, quit chan<- struct{}) {
	defer tty.Restore()
	defer tty.Close()

	buf := make([]byte, 1)
	for {
		n, err := tty.Read(buf)
		if err != nil || n == 0 {
			return
		}
		if buf[0] == 'q' {
			close(quit)
			return
		}
	}
}

func logLifecycleEvent(logger *log.Logger, e hotplug.Event) {
	switch e.Kind {
	case hotplug.EventDevicePluggedIn:
		logger.Info("device plugged in", "port_chain", e.Device.PortChain, "display_name", e.Device.DisplayName())
	case hotplug.EventDeviceUnplugged:
		logger.Info("device unplugged", "port_chain", e.Device.PortChain)
	case hotplug.EventDeviceModified:
		logger.Info("device modified", "port_chain", e.Device.PortChain)
	case hotplug.EventDevicesChanged:
		logger.Debug("snapshot changed", "added", len(e.Added), "removed", len(e.Removed), "modified", len(e.Modified))
	}
}

func bindingEventName(k hid.BindingEventKind) string {
	switch k {
	case hid.EventHIDDeviceChanged:
		return "changed"
	case hid.EventHIDDeviceConnected:
		return "connected"
	case hid.EventHIDDeviceDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// loggingCameraBackend stands in for a real UVC/V4L2 capture backend; this
// command only demonstrates the wiring, not video capture itself.
type loggingCameraBackend struct {
	logger *log.Logger
}

func (b *loggingCameraBackend) SetDevice(path string) error {
	b.logger.Info("camera backend would open device", "path", path)
	return nil
}

func (b *loggingCameraBackend) StartCapture() error {
	b.logger.Info("camera backend would start capture")
	return nil
}

func (b *loggingCameraBackend) StopCapture() error {
	b.logger.Info("camera backend would stop capture")
	return nil
}

// loggingSerialBackend stands in for a real serial port owner; always
// reports itself closed so SerialAdapter's auto-connect path runs on every
// plug-in, purely for demonstration.
type loggingSerialBackend struct {
	logger *log.Logger
}

func (b *loggingSerialBackend) Open(path string) error {
	b.logger.Info("serial backend would open port", "path", path)
	return nil
}

func (b *loggingSerialBackend) IsOpen() bool { return false }

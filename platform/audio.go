package platform

import "github.com/gordonklaus/portaudio"

// audioHostNames is overridden in tests to avoid touching the real portaudio
// backend.
var audioHostNames = realAudioHostNames

// realAudioHostNames lists every audio device visible to the host's
// portaudio backend. It is the only source of a human-readable name for the
// USB audio endpoint on Windows, which has no /dev/snd-style sysfs path, and
// is used on Linux purely to corroborate a sound-subsystem match already
// found by udev.
func realAudioHostNames() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(devices))
	for _, d := range devices {
		if d == nil {
			continue
		}
		names = append(names, d.Name)
	}
	return names, nil
}

// attachAudioHostName records the first portaudio-visible device name as the
// audio_host_name property on every sound-subsystem interface (names are not
// matched against the interface), and logs when portaudio lists no device at
// all. It never
// drops or rejects the interface: corroboration failure is diagnostic only.
func attachAudioHostName(out []RawInterface, warn func(msg string, kv ...interface{})) []RawInterface {
	names, err := audioHostNames()
	if err != nil {
		if warn != nil {
			warn("portaudio enumeration failed, skipping audio corroboration", "err", err)
		}
		return out
	}

	for i := range out {
		if out[i].Subsystem != SubsystemSound {
			continue
		}
		if len(names) == 0 {
			if warn != nil {
				warn("sound-subsystem interface has no portaudio-visible counterpart", "instance_id", out[i].InstanceID)
			}
			continue
		}
		if out[i].Properties == nil {
			out[i].Properties = make(map[string]string)
		}
		out[i].Properties["audio_host_name"] = names[0]
	}
	return out
}

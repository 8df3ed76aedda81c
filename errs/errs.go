// Package errs defines the sentinel error kinds shared across the core.
// Callers compare with errors.Is; no exception unwinds across a goroutine
// boundary anywhere in this module.
package errs

import "errors"

var (
	// ErrNoDevice is returned (not as a hard failure) when a lookup finds no
	// matching device for a port chain.
	ErrNoDevice = errors.New("openterface: no device for port chain")

	// ErrDiscoveryFailed wraps an OS enumeration failure. The caller's
	// existing cache, if any, is preserved.
	ErrDiscoveryFailed = errors.New("openterface: platform discovery failed")

	// ErrHIDOpenFailed is returned when the OS refuses to open the chosen
	// HID path after retries are exhausted.
	ErrHIDOpenFailed = errors.New("openterface: hid open failed")

	// ErrTransportClosed is returned by register/EEPROM operations attempted
	// without an open transaction.
	ErrTransportClosed = errors.New("openterface: hid transport not open")

	// ErrEEPROMReadFailed is returned when a byte read exhausts its retries.
	ErrEEPROMReadFailed = errors.New("openterface: eeprom read failed")

	// ErrEEPROMWriteFailed is returned when a byte write fails; the EEPROM
	// write path has no per-byte retry.
	ErrEEPROMWriteFailed = errors.New("openterface: eeprom write failed")

	// ErrFirmwareCheckTimeout classifies a network firmware-check timeout.
	ErrFirmwareCheckTimeout = errors.New("openterface: firmware check timed out")

	// ErrFirmwareCheckFailed classifies a network firmware-check failure.
	ErrFirmwareCheckFailed = errors.New("openterface: firmware check failed")
)

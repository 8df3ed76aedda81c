package hid

import (
	"fmt"
	"time"

	"github.com/openterface-sdk/openterface-core/errs"
)

// eepromReadRetries is the per-byte retry budget for EEPROM reads.
const eepromReadRetries = 3

const eepromReadBackoff = 15 * time.Millisecond
const eepromReadSpacing = 5 * time.Millisecond
const eepromWriteGroupSpacing = 150 * time.Millisecond
const eepromWriteGroupSize = 16

// firmwareEEPROMBase is where the firmware-size header[0..3] lives.
const firmwareEEPROMBase = 0x0000

// EEPROMProgress is delivered during ReadEEPROM/WriteEEPROM.
type EEPROMProgress struct {
	Chunk   int
	Percent int
}

func (t *Transport) eepromReadReport(addr uint16) []byte {
	if t.Chip() == ChipMS2130S {
		f := ms2130sReportIDs[0]
		return ms2130sEEPROMReadReport(f.id, f.len, addr)
	}
	return ms2109EEPROMReadReport(addr)
}

func (t *Transport) eepromWriteReport(addr uint16, data byte) []byte {
	if t.Chip() == ChipMS2130S {
		f := ms2130sReportIDs[0]
		return ms2130sEEPROMWriteReport(f.id, f.len, addr, data)
	}
	return ms2109EEPROMWriteReport(addr, data)
}

func (t *Transport) eepromResponseOffset() int {
	if t.Chip() == ChipMS2130S {
		return ms2130sResponseOffset
	}
	return ms2109ResponseOffset
}

// ReadEEPROMByte reads one EEPROM byte at addr, retrying up to
// eepromReadRetries times with a 15 ms back-off between attempts.
func (t *Transport) ReadEEPROMByte(addr uint16) (byte, error) {
	var lastErr error
	for attempt := 0; attempt <= eepromReadRetries; attempt++ {
		b, err := t.readRegister(t.eepromReadReport(addr), t.eepromResponseOffset())
		if err == nil {
			return b, nil
		}
		lastErr = err
		if attempt < eepromReadRetries {
			time.Sleep(eepromReadBackoff)
		}
	}
	return 0, fmt.Errorf("%w: %v", errs.ErrEEPROMReadFailed, lastErr)
}

// ReadEEPROM reads size bytes starting at base, one byte at a time with
// 5 ms between successful reads, opening a single transaction around the
// whole sequence and reporting progress after every byte.
func (t *Transport) ReadEEPROM(base uint16, size int, onProgress func(EEPROMProgress)) ([]byte, error) {
	if err := t.BeginTransaction(); err != nil {
		return nil, err
	}
	defer t.EndTransaction()

	out := make([]byte, 0, size)
	for i := 0; i < size; i++ {
		b, err := t.ReadEEPROMByte(base + uint16(i))
		if err != nil {
			return out, err
		}
		out = append(out, b)
		if onProgress != nil {
			onProgress(EEPROMProgress{Chunk: len(out), Percent: (len(out) * 100) / size})
		}
		if i < size-1 {
			time.Sleep(eepromReadSpacing)
		}
	}
	return out, nil
}

// WriteEEPROM writes data starting at base, one byte per call in groups of
// up to 16 with 150 ms between groups. Each byte write must succeed; there
// is no per-byte retry on the write path, unlike ReadEEPROM.
func (t *Transport) WriteEEPROM(base uint16, data []byte, onProgress func(EEPROMProgress)) error {
	if err := t.BeginTransaction(); err != nil {
		return err
	}
	defer t.EndTransaction()

	written := 0
	for written < len(data) {
		groupEnd := written + eepromWriteGroupSize
		if groupEnd > len(data) {
			groupEnd = len(data)
		}
		for i := written; i < groupEnd; i++ {
			if err := t.writeRegister(t.eepromWriteReport(base+uint16(i), data[i])); err != nil {
				return fmt.Errorf("%w: %v", errs.ErrEEPROMWriteFailed, err)
			}
			written++
			if onProgress != nil {
				onProgress(EEPROMProgress{Chunk: written})
			}
		}
		if groupEnd < len(data) {
			time.Sleep(eepromWriteGroupSpacing)
		}
	}
	return nil
}

// ReadFirmwareSize reads the 4-byte EEPROM header at address 0 and returns
// ((header[2]<<8) | header[3]) + 52.
func (t *Transport) ReadFirmwareSize() (uint32, error) {
	header, err := t.ReadEEPROM(firmwareEEPROMBase, 4, nil)
	if err != nil {
		return 0, err
	}
	size := uint32(header[2])<<8 | uint32(header[3])
	return size + 52, nil
}

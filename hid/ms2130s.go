package hid

// MS2130S feature-report command codes and register addresses. The
// MS2130S framing carries a report ID as byte 0; 0 is tried first, then 1,
// then the device is retried with a 65-byte buffer for controllers that
// require the larger feature-report size.
const (
	ms2130sCmdRead        = 0xC5
	ms2130sCmdWrite       = 0xC6
	ms2130sCmdEEPROMRead  = 0xC7
	ms2130sCmdEEPROMWrite = 0xC8

	ms2130sRegHDMIConnected = 0xD90A
	ms2130sRegWidthH        = 0xD902
	ms2130sRegWidthL        = 0xD903
	ms2130sRegHeightH       = 0xD904
	ms2130sRegHeightL       = 0xD905
	ms2130sRegFPSH          = 0xD906
	ms2130sRegFPSL          = 0xD907
	ms2130sRegPixclkH       = 0xD908
	ms2130sRegPixclkL       = 0xD909
	ms2130sRegGPIO0         = 0xD90B
	ms2130sRegSPDIFOut      = 0xD90C

	ms2130sRegFirmwareVer0 = 0xD810
	ms2130sRegFirmwareVer1 = 0xD811
	ms2130sRegFirmwareVer2 = 0xD812
	ms2130sRegFirmwareVer3 = 0xD813
)

const ms2130sResponseOffset = 4

// ms2130sReportIDs lists the report-ID/length fallbacks tried in order:
// report-ID 0, then report-ID 1, then a 65-byte buffer with report-ID 0.
var ms2130sReportIDs = []struct {
	id  byte
	len int
}{
	{0, 11},
	{1, 11},
	{0, 65},
}

func ms2130sReadReport(id byte, length int, addr uint16) []byte {
	buf := make([]byte, length)
	buf[0] = id
	buf[1] = ms2130sCmdRead
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)
	return buf
}

func ms2130sWriteReport(id byte, length int, addr uint16, data byte) []byte {
	buf := make([]byte, length)
	buf[0] = id
	buf[1] = ms2130sCmdWrite
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)
	buf[4] = data
	return buf
}

func ms2130sEEPROMReadReport(id byte, length int, addr uint16) []byte {
	buf := make([]byte, length)
	buf[0] = id
	buf[1] = ms2130sCmdEEPROMRead
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)
	return buf
}

func ms2130sEEPROMWriteReport(id byte, length int, addr uint16, data byte) []byte {
	buf := make([]byte, length)
	buf[0] = id
	buf[1] = ms2130sCmdEEPROMWrite
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)
	buf[4] = data
	return buf
}

// ReadRegisterMS2130S reads the 8-bit register at addr, trying each
// report-ID/length fallback in ms2130sReportIDs until one round trip
// succeeds.
func (t *Transport) ReadRegisterMS2130S(addr uint16) (byte, error) {
	var lastErr error
	for _, f := range ms2130sReportIDs {
		b, err := t.readRegister(ms2130sReadReport(f.id, f.len, addr), ms2130sResponseOffset)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

// WriteRegisterMS2130S writes data to the 8-bit register at addr, using
// the first report-ID/length fallback (report-ID 0, 11 bytes).
func (t *Transport) WriteRegisterMS2130S(addr uint16, data byte) error {
	f := ms2130sReportIDs[0]
	return t.writeRegister(ms2130sWriteReport(f.id, f.len, addr, data))
}

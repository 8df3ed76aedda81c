package hid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice is a test double for github.com/karalabe/hid's Device
// interface: it records every sent report and returns canned responses in
// FIFO order, or echoes the sent report back if no response is queued.
type fakeDevice struct {
	closed    bool
	closeErr  error
	sent      [][]byte
	responses [][]byte
}

func (f *fakeDevice) Close() error {
	f.closed = true
	return f.closeErr
}

func (f *fakeDevice) SendFeatureReport(b []byte) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	f.sent = append(f.sent, cp)
	return len(b), nil
}

func (f *fakeDevice) GetFeatureReport(b []byte) (int, error) {
	if len(f.responses) == 0 {
		return len(b), nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	copy(b, resp)
	return len(b), nil
}

func newTestTransport(fd *fakeDevice) *Transport {
	t := New()
	t.sleep = func(time.Duration) {}
	t.open = func(path string) (device, error) { return fd, nil }
	return t
}

func TestBeginTransactionOpensOnce(t *testing.T) {
	fd := &fakeDevice{}
	tr := newTestTransport(fd)
	_, _, err := tr.SwitchToPath("vid_534d&pid_2109")
	require.NoError(t, err)

	require.NoError(t, tr.BeginTransaction())
	require.NoError(t, tr.BeginTransaction()) // no-op, already open
	assert.True(t, tr.InTransaction())
	assert.Equal(t, ChipMS2109, tr.Chip())
}

func TestEndTransactionClosesDevice(t *testing.T) {
	fd := &fakeDevice{}
	tr := newTestTransport(fd)
	_, _, err := tr.SwitchToPath("vid_345f&pid_2132")
	require.NoError(t, err)
	require.NoError(t, tr.BeginTransaction())

	require.NoError(t, tr.EndTransaction())
	assert.True(t, fd.closed)
	assert.False(t, tr.InTransaction())
}

func TestBeginTransactionWithNoPathFails(t *testing.T) {
	tr := New()
	err := tr.BeginTransaction()
	assert.Error(t, err)
}

func TestSwitchToPathNoopOnSamePath(t *testing.T) {
	fd := &fakeDevice{}
	tr := newTestTransport(fd)
	_, _, _ = tr.SwitchToPath("p1")
	require.NoError(t, tr.BeginTransaction())

	changed, old, err := tr.SwitchToPath("p1")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "p1", old)
	assert.True(t, tr.InTransaction(), "same-path switch must not disturb an open transaction")
}

func TestSwitchToPathReopensIfWasOpen(t *testing.T) {
	fd1 := &fakeDevice{}
	tr := newTestTransport(fd1)
	_, _, _ = tr.SwitchToPath("vid_534d&pid_2109")
	require.NoError(t, tr.BeginTransaction())

	fd2 := &fakeDevice{}
	tr.open = func(path string) (device, error) { return fd2, nil }

	changed, old, err := tr.SwitchToPath("vid_345f&pid_2132")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "vid_534d&pid_2109", old)
	assert.True(t, fd1.closed)
	assert.True(t, tr.InTransaction())
	assert.Equal(t, ChipMS2130S, tr.Chip())
}

func TestSwitchToPathRetainsChipWhenNewPathDoesNotSelfIdentify(t *testing.T) {
	fd1 := &fakeDevice{}
	tr := newTestTransport(fd1)
	_, _, _ = tr.SwitchToPath("vid_345f&pid_2132")
	require.NoError(t, tr.BeginTransaction())
	require.Equal(t, ChipMS2130S, tr.Chip())

	fd2 := &fakeDevice{}
	tr.open = func(path string) (device, error) { return fd2, nil }

	// A bare Linux hidraw path carries no VID/PID substring, so detection
	// on reconnect must fall back to the chip type already known rather
	// than reset to unknown.
	changed, old, err := tr.SwitchToPath("/dev/hidraw0")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "vid_345f&pid_2132", old)
	assert.Equal(t, ChipMS2130S, tr.Chip())
}

func TestDetectChipRetainsPreviousOnNoMatch(t *testing.T) {
	assert.Equal(t, ChipMS2109, DetectChip("/dev/hidraw3", ChipMS2109))
	assert.Equal(t, ChipUnknown, DetectChip("/dev/hidraw3", ChipUnknown))
	assert.Equal(t, ChipMS2130S, DetectChip("vid_345f&pid_2132&mi_03", ChipUnknown))
	assert.Equal(t, ChipMS2109, DetectChip("VID_534D&PID_2109", ChipUnknown))
}

func TestReadRegisterRequiresOpenTransaction(t *testing.T) {
	fd := &fakeDevice{}
	tr := newTestTransport(fd)
	_, _, _ = tr.SwitchToPath("vid_534d&pid_2109")

	_, err := tr.ReadRegisterMS2109(0xF60A)
	assert.Error(t, err)
}

func TestReadRegisterMS2109ReturnsByteFour(t *testing.T) {
	fd := &fakeDevice{responses: [][]byte{{0, 0, 0, 0, 0x42, 0, 0, 0, 0}}}
	tr := newTestTransport(fd)
	_, _, _ = tr.SwitchToPath("vid_534d&pid_2109")
	require.NoError(t, tr.BeginTransaction())

	b, err := tr.ReadRegisterMS2109(0xF60A)
	require.NoError(t, err)
	assert.EqualValues(t, 0x42, b)
	require.Len(t, fd.sent, 1)
	assert.Equal(t, []byte{0x00, ms2109CmdRead, 0xF6, 0x0A, 0, 0, 0, 0, 0}, fd.sent[0])
}

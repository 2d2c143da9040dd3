package bee2

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort answers each write with the scripted reply for that command.
// Reads with nothing pending return 0 bytes, like a serial port hitting its read timeout.
type fakePort struct {
	replies  map[string]string
	written  []string
	pending  bytes.Buffer
	writeErr error
}

func (f *fakePort) Write(b []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	cmd := string(b)
	f.written = append(f.written, cmd)
	f.pending.WriteString(f.replies[cmd])
	return len(b), nil
}

func (f *fakePort) Read(b []byte) (int, error) {
	if f.pending.Len() == 0 {
		return 0, nil
	}
	return f.pending.Read(b)
}

func workingBoard() *fakePort {
	return &fakePort{replies: map[string]string{
		"\x03":                "\r\n%",
		"`c":                  "\r\nBEE2 control\r\n%",
		"setscaler 48\n":      "setscaler 48\r\nok\r\n%",
		"seteventlimit 128\n": "seteventlimit 128\r\n%",
		"boardinfo\n":         "boardinfo\r\nBEE2 rev B\r\nbitstream seti_4096\r\n%",
	}}
}

func TestConfigure(t *testing.T) {
	port := workingBoard()
	c := NewConsole(port)
	info, err := c.Configure(Settings{Threshold: 0.09375, EventLimit: 128, ReadBoardInfo: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"\x03", "`c", "\x03", "setscaler 48\n", "seteventlimit 128\n", "boardinfo\n"},
		port.written)
	assert.Equal(t, "boardinfo\nBEE2 rev B\nbitstream seti_4096", info)

	port = workingBoard()
	info, err = NewConsole(port).Configure(Settings{Threshold: 0.09375, EventLimit: 128})
	require.NoError(t, err)
	assert.Empty(t, info)
	assert.Len(t, port.written, 5)
}

func TestScaler(t *testing.T) {
	var tests = []struct {
		threshold float64
		scaler    int
	}{
		{0, 0},
		{0.09375, 48},
		{1, 512},
		{255, 130560},
		{0.001, 0},
	}
	for _, test := range tests {
		assert.Equal(t, test.scaler, Settings{Threshold: test.threshold}.Scaler())
	}
}

func TestSilentBoard(t *testing.T) {
	port := &fakePort{replies: map[string]string{}}
	c := NewConsole(port)
	c.IdleReads = 3
	_, err := c.Configure(Settings{EventLimit: 1})
	assert.ErrorIs(t, err, ErrNoPrompt)
	assert.Equal(t, []string{"\x03"}, port.written)
}

func TestChattyBoard(t *testing.T) {
	// A board that never prints a prompt is abandoned after MaxPromptChars.
	port := &fakePort{replies: map[string]string{"\x03": string(bytes.Repeat([]byte("x"), 2*MaxPromptChars))}}
	c := NewConsole(port)
	err := c.Command("\x03")
	assert.ErrorIs(t, err, ErrNoPrompt)
	assert.Equal(t, MaxPromptChars, 2*MaxPromptChars-port.pending.Len())
}

func TestWriteFailure(t *testing.T) {
	boom := errors.New("port gone")
	c := NewConsole(&fakePort{writeErr: boom})
	_, err := c.Configure(Settings{EventLimit: 1})
	assert.ErrorIs(t, err, boom)
}

func TestOpenMissingPort(t *testing.T) {
	_, err := Open("/dev/no-such-bee2-port", 0)
	assert.Error(t, err)
}

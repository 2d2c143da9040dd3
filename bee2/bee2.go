// Package bee2 talks to the BEE2 board over its serial console. At the start of a
// recording the receiver sets the hit threshold scaler and the event limit, then asks the
// board to describe itself.
package bee2

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Prompt is the character the BEE2 console prints when it is ready for a command.
const Prompt = '%'

// Console limits, as tolerated by the lab's boards.
const (
	MaxPromptChars    = 640  // characters read while waiting for a prompt
	MaxBoardInfoChars = 1024 // characters kept from the boardinfo reply
	DefaultBaudRate   = 115200
	DefaultIdleReads  = 20 // consecutive empty reads before giving up
	readTimeout       = 100 * time.Millisecond
)

// ErrNoPrompt means the board did not print a prompt in time.
var ErrNoPrompt = errors.New("no prompt from BEE2")

// Settings are the values loaded into the board.
type Settings struct {
	Threshold     float64 // hit threshold; the scaler sent is Threshold*512
	EventLimit    int     // hits reported per PFB bin
	ReadBoardInfo bool
}

// Scaler is the integer threshold scaler for the setscaler command.
func (s Settings) Scaler() int {
	return int(s.Threshold * 512)
}

// Console runs commands on a BEE2 serial console. Reads that return no data count as idle;
// a serial.Port with a read timeout behaves this way.
type Console struct {
	rw        io.ReadWriter
	IdleReads int
}

// NewConsole wraps an open port.
func NewConsole(rw io.ReadWriter) *Console {
	return &Console{rw: rw, IdleReads: DefaultIdleReads}
}

// Open opens a serial port with a short read timeout, ready for NewConsole.
func Open(path string, baud int) (serial.Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// readUntilPrompt reads until Prompt, at most limit characters, dropping carriage returns.
// It returns what was read including the prompt.
func (c *Console) readUntilPrompt(limit int) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	idle, nread := 0, 0
	for nread < limit {
		n, err := c.rw.Read(buf)
		if n == 0 {
			if err != nil && !errors.Is(err, io.EOF) {
				return sb.String(), err
			}
			idle++
			if idle >= c.IdleReads {
				return sb.String(), ErrNoPrompt
			}
			continue
		}
		idle = 0
		nread++
		if buf[0] == '\r' {
			continue
		}
		sb.WriteByte(buf[0])
		if buf[0] == Prompt {
			return sb.String(), nil
		}
	}
	return sb.String(), ErrNoPrompt
}

// Command writes cmd and waits for the next prompt.
func (c *Console) Command(cmd string) error {
	if _, err := io.WriteString(c.rw, cmd); err != nil {
		return fmt.Errorf("writing %q: %w", strings.TrimSpace(cmd), err)
	}
	_, err := c.readUntilPrompt(MaxPromptChars)
	if err != nil {
		return fmt.Errorf("after %q: %w", strings.TrimSpace(cmd), err)
	}
	return nil
}

// Configure interrupts whatever the board is doing, loads the threshold scaler and event
// limit, and returns the board info if s.ReadBoardInfo is set.
func (c *Console) Configure(s Settings) (string, error) {
	steps := []string{
		"\x03",
		"`c",
		"\x03",
		fmt.Sprintf("setscaler %d\n", s.Scaler()),
		fmt.Sprintf("seteventlimit %d\n", s.EventLimit),
	}
	for _, cmd := range steps {
		if err := c.Command(cmd); err != nil {
			return "", err
		}
	}
	if !s.ReadBoardInfo {
		return "", nil
	}
	if _, err := io.WriteString(c.rw, "boardinfo\n"); err != nil {
		return "", err
	}
	info, err := c.readUntilPrompt(MaxBoardInfoChars)
	if err != nil {
		return "", fmt.Errorf("reading board info: %w", err)
	}
	info = strings.TrimSuffix(info, string(Prompt))
	return strings.TrimSpace(info), nil
}

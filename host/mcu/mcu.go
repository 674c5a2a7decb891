// Package mcu talks to a gocnc board over its line protocol: g-code lines
// answered by "ok" or "error: ...", realtime bytes, and "<...>" status
// reports.
package mcu

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"gocnc/host/serial"
)

var (
	// ErrNotConnected is returned when no port is attached
	ErrNotConnected = errors.New("mcu: not connected")

	// ErrTimeout is returned when the board does not answer in time
	ErrTimeout = errors.New("mcu: timeout")
)

// LineError is an "error:" reply to a g-code line
type LineError struct {
	Line    string
	Message string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %q: %s", e.Line, e.Message)
}

// MCU represents a connection to a gocnc board
type MCU struct {
	port      serial.Port
	replies   chan string
	status    chan string
	readErr   chan error
	connected bool

	// Timeout bounds the wait for a line reply. Lines that queue motion
	// can block on a full planner, so it must cover a whole move.
	Timeout time.Duration

	// OnMessage receives unsolicited lines (alarms, banners)
	OnMessage func(string)
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU() *MCU {
	return &MCU{Timeout: 30 * time.Second}
}

// Connect connects to a board via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects to a board with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	m.Attach(port)

	// Give the board time to initialize (if it just powered on)
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Attach uses an already open port and starts the reader
func (m *MCU) Attach(port serial.Port) {
	m.port = port
	m.replies = make(chan string, 16)
	m.status = make(chan string, 1)
	m.readErr = make(chan error, 1)
	m.connected = true
	go m.readLoop(port)
}

func (m *MCU) readLoop(port serial.Port) {
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "<"):
			select {
			case m.status <- line:
			default:
			}
		case line == "ok" || strings.HasPrefix(line, "error"):
			m.replies <- line
		default:
			if m.OnMessage != nil {
				m.OnMessage(line)
			}
		}
	}
	err := scanner.Err()
	if err == nil {
		err = errors.New("mcu: connection closed")
	}
	m.readErr <- err
}

// Close closes the connection to the board
func (m *MCU) Close() error {
	m.connected = false
	if m.port != nil {
		return m.port.Close()
	}
	return nil
}

// IsConnected returns whether the board is connected
func (m *MCU) IsConnected() bool {
	return m.connected
}

// SendLine sends one g-code line and waits for its reply
func (m *MCU) SendLine(line string) error {
	if !m.connected {
		return ErrNotConnected
	}
	line = strings.TrimSpace(line)
	if _, err := m.port.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("failed to send %q: %w", line, err)
	}

	select {
	case reply := <-m.replies:
		if reply == "ok" {
			return nil
		}
		msg := strings.TrimSpace(strings.TrimPrefix(reply, "error:"))
		return &LineError{Line: line, Message: msg}
	case err := <-m.readErr:
		m.connected = false
		return err
	case <-time.After(m.Timeout):
		return fmt.Errorf("%w waiting for reply to %q", ErrTimeout, line)
	}
}

// Stream sends lines one at a time, skipping blanks and comments. progress
// is called after each acknowledged line. It stops at the first error.
func (m *MCU) Stream(lines []string, progress func(n int, line string)) error {
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == ';' || line[0] == '(' {
			continue
		}
		if err := m.SendLine(line); err != nil {
			return err
		}
		if progress != nil {
			progress(i+1, line)
		}
	}
	return nil
}

// Realtime sends a realtime command byte (hold, resume, reset, overrides)
func (m *MCU) Realtime(b byte) error {
	if !m.connected {
		return ErrNotConnected
	}
	_, err := m.port.Write([]byte{b})
	return err
}

// QueryStatus requests and returns one status report
func (m *MCU) QueryStatus(timeout time.Duration) (string, error) {
	select {
	case <-m.status:
	default:
	}
	if err := m.Realtime('?'); err != nil {
		return "", err
	}
	select {
	case s := <-m.status:
		return s, nil
	case <-time.After(timeout):
		return "", ErrTimeout
	}
}

// Package serial is the link between the host tools and a gocnc board
package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is a byte link to a board. *serial.Port from tarm/serial satisfies
// it directly; tests use in-memory pipes.
type Port interface {
	io.ReadWriteCloser

	// Flush discards data received but not yet read
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate (USB CDC ignores this)
	Baud int

	// ReadTimeout of zero blocks until data arrives
	ReadTimeout time.Duration
}

// DefaultConfig returns the configuration used by the gocnc firmware.
// Reads block: both ends read from a dedicated goroutine.
func DefaultConfig(device string) *Config {
	return &Config{
		Device: device,
		Baud:   115200,
	}
}

// Open opens a host serial device and drops any stale input
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, errors.New("serial: config cannot be nil")
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: flush %s: %w", cfg.Device, err)
	}
	return port, nil
}

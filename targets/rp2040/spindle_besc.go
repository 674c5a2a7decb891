//go:build rp2040

package main

import (
	"machine"

	"tinygo.org/x/drivers/servo"

	"gocnc/core"
)

// Brushless ESC throttle pulse widths
const (
	escOffUs = 1000
	escMaxUs = 2000
)

// BESCSpindle implements core.ToolOutput for a spindle on a hobby brushless
// ESC: a 50Hz servo pulse from 1ms (stopped) to 2ms (full speed). The ESC
// cannot reverse, so the direction is ignored. Coolant pins are optional.
type BESCSpindle struct {
	esc     servo.Servo
	gpio    core.GPIODriver
	coolant []core.GPIOPin
}

// NewBESCSpindle sets up the ESC signal on pin and arms the ESC by sending
// the stopped pulse
func NewBESCSpindle(pin machine.Pin, gpio core.GPIODriver, coolant ...core.GPIOPin) (*BESCSpindle, error) {
	esc, err := servo.New(pwmSlice(uint8((uint32(pin)>>1)&0x7)), pin)
	if err != nil {
		return nil, err
	}
	for _, p := range coolant {
		if err := gpio.ConfigureOutput(p); err != nil {
			return nil, err
		}
	}
	s := &BESCSpindle{esc: esc, gpio: gpio, coolant: coolant}
	s.esc.SetMicroseconds(escOffUs)
	return s, nil
}

// SetSpeed implements core.ToolOutput
func (s *BESCSpindle) SetSpeed(value int16) {
	mag := int32(value)
	if mag < 0 {
		mag = -mag
	}
	if mag > 255 {
		mag = 255
	}
	s.esc.SetMicroseconds(int16(escOffUs + mag*(escMaxUs-escOffUs)/255))
}

// SetCoolant implements core.ToolOutput
func (s *BESCSpindle) SetCoolant(mask uint8) {
	for i, pin := range s.coolant {
		s.gpio.SetPin(pin, mask&(1<<i) != 0)
	}
}

//go:build rp2040

package main

import (
	"machine"

	"gocnc/core"
)

// pwmMax is the duty cycle scale exposed to core
const pwmMax = 255

// pwmPeripheral abstracts over TinyGo's unexported *pwmGroup type
type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

// RP2040PWMDriver implements core.PWMDriver on the 8 hardware PWM slices
type RP2040PWMDriver struct {
	// Key: pin number, Value: PWM channel
	channels map[uint32]uint8

	// Key: slice number (0-7)
	peripherals map[uint8]pwmPeripheral
}

// NewRP2040PWMDriver creates a new RP2040 PWM driver
func NewRP2040PWMDriver() *RP2040PWMDriver {
	return &RP2040PWMDriver{
		channels:    make(map[uint32]uint8),
		peripherals: make(map[uint8]pwmPeripheral),
	}
}

// GetMaxValue returns the maximum PWM value (255)
func (d *RP2040PWMDriver) GetMaxValue() uint32 {
	return pwmMax
}

// ConfigureHardwarePWM configures a pin for hardware PWM output.
// cycleTicks is the PWM period in core timer ticks. Both channels of a
// slice share the last configured period.
func (d *RP2040PWMDriver) ConfigureHardwarePWM(pin core.PWMPin, cycleTicks uint32) (uint32, error) {
	pinNum := uint32(pin)

	// GPIO N uses slice (N >> 1) & 7, channel N & 1
	sliceNum := uint8((pinNum >> 1) & 0x7)

	pwm, exists := d.peripherals[sliceNum]
	if !exists {
		pwm = pwmSlice(sliceNum)
		d.peripherals[sliceNum] = pwm
	}

	period := uint64(cycleTicks) * 1000000000 / core.TimerFreq
	if err := pwm.Configure(machine.PWMConfig{Period: period}); err != nil {
		return 0, err
	}

	channel, err := pwm.Channel(machine.Pin(pinNum))
	if err != nil {
		return 0, err
	}
	d.channels[pinNum] = channel
	return cycleTicks, nil
}

// SetDutyCycle sets the PWM duty cycle for a pin, 0 (off) to 255 (on)
func (d *RP2040PWMDriver) SetDutyCycle(pin core.PWMPin, value core.PWMValue) error {
	pinNum := uint32(pin)
	channel, exists := d.channels[pinNum]
	if !exists {
		return nil
	}
	pwm := d.peripherals[uint8((pinNum>>1)&0x7)]
	pwm.Set(channel, uint32(value)*pwm.Top()/pwmMax)
	return nil
}

// pwmSlice returns TinyGo's PWM0-PWM7 peripheral for a slice number
func pwmSlice(sliceNum uint8) pwmPeripheral {
	switch sliceNum {
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	case 7:
		return machine.PWM7
	}
	return machine.PWM0
}

//go:build rp2040

package main

import (
	"machine"

	"gocnc/core"
)

// RPGPIODriver implements core.GPIODriver for RP2040.
// GPIO numbers map directly to machine.Pin.
type RPGPIODriver struct {
	// Track configured pins to prevent conflicts
	configuredPins map[core.GPIOPin]machine.Pin
}

// NewRPGPIODriver creates a new RP2040 GPIO driver
func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{
		configuredPins: make(map[core.GPIOPin]machine.Pin),
	}
}

func (d *RPGPIODriver) configure(pin core.GPIOPin, mode machine.PinMode) {
	if _, exists := d.configuredPins[pin]; exists {
		return
	}
	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: mode})
	d.configuredPins[pin] = p
}

// ConfigureOutput configures a pin as a digital output
func (d *RPGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	d.configure(pin, machine.PinOutput)
	return nil
}

// ConfigureInputPullUp configures a pin as an input with pull-up resistor
func (d *RPGPIODriver) ConfigureInputPullUp(pin core.GPIOPin) error {
	d.configure(pin, machine.PinInputPullup)
	return nil
}

// SetPin sets the pin to high (true) or low (false)
func (d *RPGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	machinePin, exists := d.configuredPins[pin]
	if !exists {
		d.configure(pin, machine.PinOutput)
		machinePin = d.configuredPins[pin]
	}
	machinePin.Set(value)
	return nil
}

// ReadPin reads the current pin state. Unconfigured pins read low.
func (d *RPGPIODriver) ReadPin(pin core.GPIOPin) bool {
	machinePin, exists := d.configuredPins[pin]
	if !exists {
		return false
	}
	return machinePin.Get()
}

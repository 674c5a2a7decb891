package core

import "fmt"

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint32

// GPIODriver is the pin-level hardware interface. Targets implement it;
// step outputs, endstops and tool outputs are built on top.
type GPIODriver interface {
	ConfigureOutput(pin GPIOPin) error
	ConfigureInputPullUp(pin GPIOPin) error
	SetPin(pin GPIOPin, value bool) error
	ReadPin(pin GPIOPin) bool
}

// maxMaskPins is the width of the pin masks used for steppers and switches
const maxMaskPins = 8

// configurePins applies configure to every pin of a mask group
func configurePins(pins []GPIOPin, what string, configure func(GPIOPin) error) error {
	if len(pins) > maxMaskPins {
		return fmt.Errorf("%s: %d pins, max %d", what, len(pins), maxMaskPins)
	}
	for _, pin := range pins {
		if err := configure(pin); err != nil {
			return fmt.Errorf("%s pin %d: %w", what, pin, err)
		}
	}
	return nil
}

// readPinMask samples pins into a bitmask, pins[i] giving bit i
func readPinMask(gpio GPIODriver, pins []GPIOPin) uint8 {
	var mask uint8
	for i, pin := range pins {
		if gpio.ReadPin(pin) {
			mask |= 1 << i
		}
	}
	return mask
}

// writePinMask drives the pins selected by which to their bit in mask
func writePinMask(gpio GPIODriver, pins []GPIOPin, which, mask uint8) {
	for i, pin := range pins {
		bit := uint8(1) << i
		if which&bit != 0 {
			gpio.SetPin(pin, mask&bit != 0)
		}
	}
}

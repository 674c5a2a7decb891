package core

import "fmt"

// GPIOStepOutputs drives step and direction lines one pin at a time through
// a GPIODriver. It is the portable fallback when no faster backend exists.
type GPIOStepOutputs struct {
	gpio     GPIODriver
	stepPins []GPIOPin
	dirPins  []GPIOPin
	steps    uint8
}

// NewGPIOStepOutputs configures the pins as outputs. stepPins[i] and
// dirPins[i] belong to stepper i.
func NewGPIOStepOutputs(gpio GPIODriver, stepPins, dirPins []GPIOPin) (*GPIOStepOutputs, error) {
	if len(stepPins) != len(dirPins) {
		return nil, fmt.Errorf("gpio steps: %d step pins, %d dir pins", len(stepPins), len(dirPins))
	}
	if err := configurePins(stepPins, "gpio steps: step", gpio.ConfigureOutput); err != nil {
		return nil, err
	}
	if err := configurePins(dirPins, "gpio steps: dir", gpio.ConfigureOutput); err != nil {
		return nil, err
	}
	return &GPIOStepOutputs{gpio: gpio, stepPins: stepPins, dirPins: dirPins}, nil
}

// SetSteps implements StepOutputs
func (g *GPIOStepOutputs) SetSteps(mask uint8) {
	writePinMask(g.gpio, g.stepPins, 0xFF, mask)
	g.steps = mask
}

// ToggleSteps implements StepOutputs
func (g *GPIOStepOutputs) ToggleSteps(mask uint8) {
	g.steps ^= mask
	writePinMask(g.gpio, g.stepPins, mask, g.steps)
}

// SetDirs implements StepOutputs
func (g *GPIOStepOutputs) SetDirs(mask uint8) {
	writePinMask(g.gpio, g.dirPins, 0xFF, mask)
}

// GetName implements StepOutputs
func (g *GPIOStepOutputs) GetName() string {
	return "gpio"
}

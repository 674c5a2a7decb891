//go:build rp2040

package pio

import (
	"device/arm"
	"device/rp"
	"errors"
	"machine"

	"gocnc/core"
)

// SIOStepOutputs implements core.StepOutputs with direct SIO register
// writes. Any pins work; all lines of a mask change with one register
// write per set/clear.
// Performance: ~200kHz max step rate, ~200ns pulse width
type SIOStepOutputs struct {
	stepMask [8]uint32
	dirMask  [8]uint32
	allSteps uint32
	allDirs  uint32
}

// NewSIOStepOutputs configures the pins as outputs. stepPins may be nil
// when only direction lines are driven.
func NewSIOStepOutputs(stepPins, dirPins []machine.Pin) (*SIOStepOutputs, error) {
	if len(stepPins) > 8 || len(dirPins) > 8 {
		return nil, errors.New("sio steps: at most 8 steppers")
	}
	b := &SIOStepOutputs{}
	for i, pin := range stepPins {
		pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
		b.stepMask[i] = 1 << uint32(pin)
		b.allSteps |= b.stepMask[i]
	}
	for i, pin := range dirPins {
		pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
		b.dirMask[i] = 1 << uint32(pin)
		b.allDirs |= b.dirMask[i]
	}
	return b, nil
}

// expand maps a stepper mask to a GPIO register mask
func expand(pins *[8]uint32, mask uint8) uint32 {
	var out uint32
	for i := 0; mask != 0; i++ {
		if mask&1 != 0 {
			out |= pins[i]
		}
		mask >>= 1
	}
	return out
}

// SetSteps implements core.StepOutputs
func (b *SIOStepOutputs) SetSteps(mask uint8) {
	set := expand(&b.stepMask, mask)
	rp.SIO.GPIO_OUT_SET.Set(set)
	rp.SIO.GPIO_OUT_CLR.Set(b.allSteps &^ set)
}

// ToggleSteps implements core.StepOutputs
func (b *SIOStepOutputs) ToggleSteps(mask uint8) {
	rp.SIO.GPIO_OUT_XOR.Set(expand(&b.stepMask, mask))
}

// SetDirs implements core.StepOutputs. It holds for the dir-to-step setup
// time (20ns minimum for TMC drivers).
func (b *SIOStepOutputs) SetDirs(mask uint8) {
	set := expand(&b.dirMask, mask)
	rp.SIO.GPIO_OUT_SET.Set(set)
	rp.SIO.GPIO_OUT_CLR.Set(b.allDirs &^ set)

	// 3 NOPs = ~24ns @ 125MHz
	arm.Asm("nop\nnop\nnop")
}

// GetName implements core.StepOutputs
func (b *SIOStepOutputs) GetName() string {
	return "sio"
}

// GetInfo returns backend performance information
func (b *SIOStepOutputs) GetInfo() core.StepperBackendInfo {
	return core.StepperBackendInfo{
		Name:        "sio",
		MaxStepRate: 100000,
		MinPulseNs:  200,
	}
}

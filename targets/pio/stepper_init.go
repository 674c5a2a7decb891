//go:build rp2040

package pio

import (
	"machine"

	"gocnc/core"
)

// StepBackend is a core.StepOutputs that can describe itself
type StepBackend interface {
	core.StepOutputs
	GetInfo() core.StepperBackendInfo
}

var (
	// PIO allocation tracking
	// RP2040 has 2 PIO blocks (PIO0, PIO1) with 4 state machines each
	pioAllocations = [2][4]bool{} // [pioNum][smNum]
	nextPIONum     = uint8(0)
	nextSMNum      = uint8(0)
)

// NewStepOutputs picks the step backend for the given pins: a PIO state
// machine when the step pins are consecutive and one is free, SIO writes
// otherwise. idle is the step line idle level mask.
func NewStepOutputs(stepPins, dirPins []machine.Pin, idle uint8) (StepBackend, error) {
	if consecutive(stepPins) && len(stepPins) <= MaxPIOSteppers {
		if pioNum, smNum, ok := allocatePIO(); ok {
			b, err := NewPIOStepOutputs(pioNum, smNum, stepPins[0], uint8(len(stepPins)), dirPins, idle)
			if err == nil {
				return b, nil
			}
			pioAllocations[pioNum][smNum] = false
		}
	}
	return NewSIOStepOutputs(stepPins, dirPins)
}

func consecutive(pins []machine.Pin) bool {
	if len(pins) == 0 {
		return false
	}
	for i := 1; i < len(pins); i++ {
		if pins[i] != pins[0]+machine.Pin(i) {
			return false
		}
	}
	return true
}

// allocatePIO allocates a PIO state machine
// Returns (pioNum, smNum, ok)
func allocatePIO() (uint8, uint8, bool) {
	// Round-robin allocation across PIO blocks and state machines
	for i := 0; i < 8; i++ { // 2 PIO × 4 SM = 8 total
		pioNum := nextPIONum
		smNum := nextSMNum

		nextSMNum++
		if nextSMNum >= 4 {
			nextSMNum = 0
			nextPIONum = (nextPIONum + 1) % 2
		}

		if !pioAllocations[pioNum][smNum] {
			pioAllocations[pioNum][smNum] = true
			return pioNum, smNum, true
		}
	}

	return 0, 0, false
}

// GetPIOAllocationStatus returns PIO allocation status for debugging
func GetPIOAllocationStatus() [2][4]bool {
	return pioAllocations
}

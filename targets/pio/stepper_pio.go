//go:build rp2040

package pio

// PIO step outputs using tinygo-org/pio. One state machine owns up to
// MaxPIOSteppers consecutive step pins and latches the level word pushed
// by the step ISR, so every step line of a tick changes on the same PIO
// cycle.

import (
	"errors"
	"machine"

	"gocnc/core"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// MaxPIOSteppers is the widest step pin group one state machine drives
const MaxPIOSteppers = 6

// buildStepProgram creates the level latch program:
//
//	.wrap_target
//	pull block
//	out pins, n
//	.wrap
func buildStepProgram(n uint8) []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		asm.Pull(false, true).Encode(),
		asm.Out(rp2pio.OutDestPins, n).Encode(),
	}
}

const stepProgramOrigin = -1 // Let the allocator place the program

// PIOStepOutputs implements core.StepOutputs with the step lines on a PIO
// state machine and the direction lines on SIO
type PIOStepOutputs struct {
	pio      *rp2pio.PIO
	sm       rp2pio.StateMachine
	stepBase machine.Pin
	count    uint8
	offset   uint8
	level    uint8
	dirs     *SIOStepOutputs
}

// NewPIOStepOutputs claims state machine smNum of PIO block pioNum for
// count step pins starting at stepBase. dirPins[i] is the direction pin of
// stepper i.
func NewPIOStepOutputs(pioNum, smNum uint8, stepBase machine.Pin, count uint8, dirPins []machine.Pin, idle uint8) (*PIOStepOutputs, error) {
	if count == 0 || count > MaxPIOSteppers || int(count) != len(dirPins) {
		return nil, errors.New("pio steps: bad pin count")
	}

	pioHW := rp2pio.PIO0
	if pioNum != 0 {
		pioHW = rp2pio.PIO1
	}
	b := &PIOStepOutputs{
		pio:      pioHW,
		sm:       pioHW.StateMachine(smNum),
		stepBase: stepBase,
		count:    count,
		level:    idle,
	}

	if !b.sm.TryClaim() {
		return nil, errors.New("pio steps: state machine in use")
	}

	program := buildStepProgram(count)
	offset, err := b.pio.AddProgram(program, stepProgramOrigin)
	if err != nil {
		return nil, err
	}
	b.offset = offset

	for i := uint8(0); i < count; i++ {
		(stepBase + machine.Pin(i)).Configure(machine.PinConfig{Mode: b.pio.PinMode()})
	}

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetOutPins(stepBase, count)
	// shift right, no autopull, 32-bit threshold
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	cfg.SetClkDivIntFrac(1, 0)

	// pin directions must be set after Init
	b.sm.Init(offset, cfg)
	b.sm.SetPindirsConsecutive(stepBase, count, true)
	b.sm.SetEnabled(true)
	b.put(idle)

	dirs, err := NewSIOStepOutputs(nil, dirPins)
	if err != nil {
		return nil, err
	}
	b.dirs = dirs
	return b, nil
}

func (b *PIOStepOutputs) put(level uint8) {
	for b.sm.IsTxFIFOFull() {
	}
	b.sm.TxPut(uint32(level))
}

// SetSteps implements core.StepOutputs
func (b *PIOStepOutputs) SetSteps(mask uint8) {
	b.level = mask
	b.put(mask)
}

// ToggleSteps implements core.StepOutputs
func (b *PIOStepOutputs) ToggleSteps(mask uint8) {
	b.level ^= mask
	b.put(b.level)
}

// SetDirs implements core.StepOutputs
func (b *PIOStepOutputs) SetDirs(mask uint8) {
	b.dirs.SetDirs(mask)
}

// GetName implements core.StepOutputs
func (b *PIOStepOutputs) GetName() string {
	return "pio"
}

// GetInfo returns backend performance information
func (b *PIOStepOutputs) GetInfo() core.StepperBackendInfo {
	return core.StepperBackendInfo{
		Name:        b.GetName(),
		MaxStepRate: 100000, // bounded by the step ISR, not the state machine
		MinPulseNs:  8,      // one PIO cycle at 125MHz
	}
}

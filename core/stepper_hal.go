package core

// Clocks is a step timer reload value: the timer fires every
// Ticks*Prescaler timer ticks.
type Clocks struct {
	Ticks     uint16
	Prescaler uint16
}

// Period returns the reload value in timer ticks
func (c Clocks) Period() uint32 {
	p := uint32(c.Prescaler)
	if p == 0 {
		p = 1
	}
	return uint32(c.Ticks) * p
}

// StepTimer is the hardware timer that paces the step ISR.
// All methods must be callable from interrupt context.
type StepTimer interface {
	// FreqToClocks converts a step rate in Hz into a reload value.
	// The timer fires twice per step (pulse and reset phases).
	FreqToClocks(freq float64) Clocks

	// Start arms the timer with the given reload value
	Start(c Clocks)

	// Change reprograms the period of a running timer
	Change(c Clocks)

	// Stop disarms the timer
	Stop()
}

// StepOutputs drives the step and direction lines of all steppers.
// Bit i of a mask addresses stepper i.
type StepOutputs interface {
	// SetSteps writes the step lines
	SetSteps(mask uint8)

	// ToggleSteps inverts the step lines selected by mask
	ToggleSteps(mask uint8)

	// SetDirs writes the direction lines. Dir-to-step setup time is
	// the implementation's responsibility.
	SetDirs(mask uint8)

	// GetName returns backend implementation name
	GetName() string
}

// ToolOutput drives the spindle/laser and coolant outputs
type ToolOutput interface {
	// SetSpeed sets the tool speed command, -255..255. Negative is reverse.
	SetSpeed(value int16)

	// SetCoolant sets the coolant outputs (bit 0 flood, bit 1 mist)
	SetCoolant(mask uint8)
}

// StepperBackendInfo describes a step output backend
type StepperBackendInfo struct {
	Name        string
	MaxStepRate uint32 // Maximum steps/second per axis
	MinPulseNs  uint32 // Minimum step pulse width (ns)
}

// FreqToClocks is the common conversion for a free running counter at
// TimerFreq: half a step period in ticks, with the prescaler doubled until
// the tick count fits in 16 bits.
func FreqToClocks(freq float64) Clocks {
	if freq < 1 {
		freq = 1
	}
	ticks := uint32(float64(TimerFreq>>1) / freq)
	if ticks == 0 {
		ticks = 1
	}
	prescaler := uint16(1)
	for ticks > 0xFFFF {
		prescaler <<= 1
		ticks >>= 1
	}
	return Clocks{Ticks: uint16(ticks), Prescaler: prescaler}
}

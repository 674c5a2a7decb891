// Package sim provides simulated machine hardware for running the motion
// pipeline on a host: step outputs that count pulses, a recording tool
// output and virtual limit switches and probe.
package sim

import (
	"gocnc/standalone/config"
)

// Steppers implements core.StepOutputs. It counts a step on every
// idle-to-active edge of a step line and tracks the motor position by
// decoding the direction lines.
type Steppers struct {
	stepInvert uint8
	dirInvert  uint8

	level uint8
	dirs  uint8

	pulses   [config.MaxAxes]uint64
	position [config.MaxAxes]int64

	// DirChanges counts SetDirs calls that changed a direction line
	DirChanges uint64
}

// NewSteppers creates step outputs using the polarity masks in settings
func NewSteppers(settings *config.Settings) *Steppers {
	return &Steppers{
		stepInvert: settings.StepInvertMask,
		dirInvert:  settings.DirInvertMask,
		level:      settings.StepInvertMask,
	}
}

func (s *Steppers) write(level uint8) {
	// lines leaving their idle level this call
	active := (level ^ s.stepInvert) &^ (s.level ^ s.stepInvert)
	s.level = level
	if active == 0 {
		return
	}
	negative := s.dirs ^ s.dirInvert
	for i := 0; i < config.MaxAxes; i++ {
		bit := uint8(1) << i
		if active&bit == 0 {
			continue
		}
		s.pulses[i]++
		if negative&bit != 0 {
			s.position[i]--
		} else {
			s.position[i]++
		}
	}
}

// SetSteps implements core.StepOutputs
func (s *Steppers) SetSteps(mask uint8) {
	s.write(mask)
}

// ToggleSteps implements core.StepOutputs
func (s *Steppers) ToggleSteps(mask uint8) {
	s.write(s.level ^ mask)
}

// SetDirs implements core.StepOutputs
func (s *Steppers) SetDirs(mask uint8) {
	if mask != s.dirs {
		s.DirChanges++
	}
	s.dirs = mask
}

// GetName implements core.StepOutputs
func (s *Steppers) GetName() string {
	return "sim"
}

// Pulses returns the step pulses emitted on axis i
func (s *Steppers) Pulses(i int) uint64 {
	return s.pulses[i]
}

// Position returns the motor position of axis i in steps
func (s *Steppers) Position(i int) int64 {
	return s.position[i]
}

// Level returns the current step line levels
func (s *Steppers) Level() uint8 {
	return s.level
}

// Tool implements core.ToolOutput and records every command
type Tool struct {
	Speed   int16
	Coolant uint8

	// Changes counts speed commands that differ from the previous one
	Changes int
}

// SetSpeed implements core.ToolOutput
func (t *Tool) SetSpeed(value int16) {
	if value != t.Speed {
		t.Changes++
	}
	t.Speed = value
}

// SetCoolant implements core.ToolOutput
func (t *Tool) SetCoolant(mask uint8) {
	t.Coolant = mask
}

// Switches implements motion.Sensors on top of the simulated motor
// position. A limit switch trips when its axis goes past the trip point,
// the probe when the probe axis goes below the probe surface.
type Switches struct {
	steppers *Steppers
	axes     []config.AxisConfig

	// Trip is the switch position of each axis in mm of motor travel
	Trip [config.MaxAxes]float64

	// ProbeAxis and ProbeSurface place the probe plate; ProbeAxis < 0
	// disables the probe
	ProbeAxis    int
	ProbeSurface float64

	// Forced bits are reported as tripped regardless of position
	Forced uint8
}

// Overtravel is how far past the travel end the simulated switches sit
const Overtravel = 0.5

// NewSwitches places each limit switch Overtravel mm past the end of
// travel the axis homes towards
func NewSwitches(settings *config.Settings, steppers *Steppers) *Switches {
	sw := &Switches{
		steppers:  steppers,
		axes:      settings.Axes,
		ProbeAxis: -1,
	}
	for i, axis := range settings.Axes {
		if axis.HomingInvert {
			sw.Trip[i] = axis.MaxPosition + Overtravel
		} else {
			sw.Trip[i] = axis.MinPosition - Overtravel
		}
	}
	return sw
}

func (sw *Switches) position(i int) float64 {
	return float64(sw.steppers.Position(i)) / sw.axes[i].StepsPerMM
}

// Limits implements motion.Sensors
func (sw *Switches) Limits() uint8 {
	mask := sw.Forced
	for i, axis := range sw.axes {
		pos := sw.position(i)
		if axis.HomingInvert {
			if pos >= sw.Trip[i] {
				mask |= 1 << i
			}
		} else if pos <= sw.Trip[i] {
			mask |= 1 << i
		}
	}
	return mask
}

// Probe implements motion.Sensors
func (sw *Switches) Probe() bool {
	if sw.ProbeAxis < 0 || sw.ProbeAxis >= len(sw.axes) {
		return false
	}
	return sw.position(sw.ProbeAxis) <= sw.ProbeSurface
}

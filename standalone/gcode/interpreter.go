package gcode

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gocnc/standalone/config"
	"gocnc/standalone/motion"
	"gocnc/standalone/planner"
)

var (
	// ErrUnsupported is returned for words the interpreter does not know
	ErrUnsupported = errors.New("gcode: unsupported command")

	// ErrArcRadius is returned when an R arc cannot reach its end point
	ErrArcRadius = errors.New("gcode: invalid arc radius")

	// ErrModalConflict is returned for two motion words on one line
	ErrModalConflict = errors.New("gcode: modal group conflict")
)

// Motion is the part of the motion controller the interpreter drives
type Motion interface {
	Line(target []float64, p *motion.Params) error
	Arc(target []float64, offA, offB, radius float64, a, b int, clockwise bool, p *motion.Params) error
	Dwell(p *motion.Params) error
	Pause() error
	UpdateTools(p *motion.Params) error
	Probe(target []float64, invert bool, p *motion.Params) error
	GetPosition(pos []float64)
}

// motion modes
const (
	modeRapid = iota
	modeLinear
	modeArcCW
	modeArcCCW
	modeProbe
	modeProbeAway
	modeNone
)

// State is the modal state of the interpreter
type State struct {
	Motion      int
	Absolute    bool
	InverseTime bool
	Inches      bool
	Plane       [3]int // arc axes a, b and the helix axis
	ExactStop   bool
	Continuous  bool
	Feed        float64 // mm/min
	SpindleRPM  float64
	SpindleDir  planner.SpindleDir
	Coolant     uint8
	Override    bool
}

// Interpreter executes G-code commands
type Interpreter struct {
	mc        Motion
	home      func() error
	laser     bool
	axisNames []byte

	state  State
	pos    [config.MaxAxes]float64 // machine coordinates
	offset [config.MaxAxes]float64 // G92
	line   uint32
}

// NewInterpreter creates an interpreter for the configured axes. home
// runs the homing cycle for G28.
func NewInterpreter(settings *config.Settings, mc Motion, home func() error) *Interpreter {
	interp := &Interpreter{
		mc:    mc,
		home:  home,
		laser: settings.LaserMode != config.LaserOff,
	}
	for _, axis := range settings.Axes {
		name := byte('?')
		if axis.Name != "" {
			name = toUpper(strings.TrimSpace(axis.Name)[0])
		}
		interp.axisNames = append(interp.axisNames, name)
	}
	interp.Reset()
	return interp
}

// Reset restores the power-on modal state and re-reads the position
func (interp *Interpreter) Reset() {
	interp.state = State{
		Motion:   modeRapid,
		Absolute: true,
		Plane:    [3]int{0, 1, 2},
		Override: true,
	}
	interp.offset = [config.MaxAxes]float64{}
	interp.Sync()
}

// Sync re-reads the machine position after motion the interpreter did not
// command (homing, probing, alarm)
func (interp *Interpreter) Sync() {
	interp.mc.GetPosition(interp.pos[:len(interp.axisNames)])
}

// GetState returns the modal state
func (interp *Interpreter) GetState() State {
	return interp.state
}

// WorkPosition writes the position in work coordinates (G92 applied)
func (interp *Interpreter) WorkPosition(pos []float64) {
	for i := range interp.axisNames {
		pos[i] = interp.pos[i] - interp.offset[i]
	}
}

// Execute executes a parsed G-code command
func (interp *Interpreter) Execute(cmd *Command) error {
	if cmd == nil {
		return nil
	}
	if cmd.Line >= 0 {
		interp.line = uint32(cmd.Line)
	}
	st := &interp.state

	toolsChanged := false
	if cmd.HasParameter('S') {
		st.SpindleRPM = math.Abs(cmd.GetParameter('S', 0))
	}

	motionWord := -1
	var probeCode Code
	for _, c := range cmd.Codes {
		if c.Letter == 'M' {
			changed, err := interp.executeM(c)
			if err != nil {
				return err
			}
			toolsChanged = toolsChanged || changed
			continue
		}
		mode, err := interp.executeG(c)
		if err != nil {
			return err
		}
		if mode >= 0 {
			if motionWord >= 0 {
				return fmt.Errorf("%w: %s", ErrModalConflict, c)
			}
			motionWord = mode
			probeCode = c
		}
	}

	// units and feed mode words apply to the F word of the same line
	if cmd.HasParameter('F') {
		st.Feed = cmd.GetParameter('F', 0)
		if st.Inches && !st.InverseTime {
			st.Feed *= 25.4
		}
	}

	axisWords := interp.hasAxisWords(cmd)
	if cmd.HasParameter('S') && st.SpindleDir != planner.SpindleOff && !axisWords {
		toolsChanged = true
	}

	p := interp.params()

	if toolsChanged && !interp.laser {
		if err := interp.mc.UpdateTools(&p); err != nil {
			return err
		}
	}

	if cmd.HasCode('G', 4) {
		p.Dwell = uint32(cmd.GetParameter('P', 0) * 1000)
		if err := interp.mc.Dwell(&p); err != nil {
			return err
		}
	}
	if cmd.HasCode('G', 28) {
		if err := interp.home(); err != nil {
			return err
		}
		interp.Sync()
		return nil
	}
	if cmd.HasCode('G', 92) {
		interp.setOffset(cmd)
		return nil
	}

	if motionWord >= 0 {
		st.Motion = motionWord
	}
	if !axisWords {
		if cmd.HasCode('M', 0) || cmd.HasCode('M', 1) {
			return interp.mc.Pause()
		}
		if cmd.HasCode('M', 2) || cmd.HasCode('M', 30) {
			return interp.endProgram()
		}
		return nil
	}

	target := interp.target(cmd)
	var err error
	switch st.Motion {
	case modeRapid:
		p.Rapid = true
		err = interp.mc.Line(target, &p)
	case modeLinear:
		err = interp.mc.Line(target, &p)
	case modeArcCW, modeArcCCW:
		err = interp.arc(cmd, target, &p)
	case modeProbe, modeProbeAway:
		err = interp.mc.Probe(target, st.Motion == modeProbeAway, &p)
		st.Motion = modeNone
		if err == nil {
			interp.Sync()
			return nil
		}
		return fmt.Errorf("%s: %w", probeCode, err)
	default:
		return fmt.Errorf("%w: axis words without motion mode", ErrUnsupported)
	}
	if err != nil {
		return err
	}
	copy(interp.pos[:len(target)], target)
	return nil
}

// executeG applies a non-motion G word, or returns the motion mode it
// selects
func (interp *Interpreter) executeG(c Code) (int, error) {
	st := &interp.state
	switch c.Number {
	case 0:
		return modeRapid, nil
	case 1:
		return modeLinear, nil
	case 2:
		return modeArcCW, nil
	case 3:
		return modeArcCCW, nil
	case 38:
		switch c.Sub {
		case 2:
			return modeProbe, nil
		case 4:
			return modeProbeAway, nil
		}
	case 80:
		return modeNone, nil
	case 4, 28, 92:
		// handled after the modal words
	case 17:
		st.Plane = [3]int{0, 1, 2}
	case 18:
		st.Plane = [3]int{2, 0, 1}
	case 19:
		st.Plane = [3]int{1, 2, 0}
	case 20:
		st.Inches = true
	case 21:
		st.Inches = false
	case 61:
		st.ExactStop = true
		st.Continuous = false
	case 64:
		st.ExactStop = false
		st.Continuous = true
	case 90:
		st.Absolute = true
	case 91:
		st.Absolute = false
	case 93:
		st.InverseTime = true
	case 94:
		st.InverseTime = false
	default:
		return -1, fmt.Errorf("%w: %s", ErrUnsupported, c)
	}
	if c.Number == 38 {
		return -1, fmt.Errorf("%w: %s", ErrUnsupported, c)
	}
	return -1, nil
}

// executeM applies an M word and reports whether the tool state changed
func (interp *Interpreter) executeM(c Code) (bool, error) {
	st := &interp.state
	prevDir, prevCoolant := st.SpindleDir, st.Coolant
	switch c.Number {
	case 0, 1, 2, 30:
		// handled after motion
	case 3:
		st.SpindleDir = planner.SpindleCW
	case 4:
		st.SpindleDir = planner.SpindleCCW
	case 5:
		st.SpindleDir = planner.SpindleOff
	case 7:
		st.Coolant |= planner.CoolantMist
	case 8:
		st.Coolant |= planner.CoolantFlood
	case 9:
		st.Coolant = 0
	case 48:
		st.Override = true
	case 49:
		st.Override = false
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupported, c)
	}
	return st.SpindleDir != prevDir || st.Coolant != prevCoolant, nil
}

// params builds the motion parameters of the current modal state
func (interp *Interpreter) params() motion.Params {
	st := &interp.state
	p := motion.Params{
		Feed:         st.Feed,
		InverseTime:  st.InverseTime,
		Line:         interp.line,
		ExactStop:    st.ExactStop,
		Continuous:   st.Continuous,
		FeedOverride: st.Override,
		Tool:         planner.ToolState{Spindle: st.SpindleDir, Coolant: st.Coolant},
	}
	switch st.SpindleDir {
	case planner.SpindleCW:
		p.Spindle = st.SpindleRPM
	case planner.SpindleCCW:
		p.Spindle = -st.SpindleRPM
	}
	return p
}

func (interp *Interpreter) unit() float64 {
	if interp.state.Inches {
		return 25.4
	}
	return 1
}

func (interp *Interpreter) hasAxisWords(cmd *Command) bool {
	for _, name := range interp.axisNames {
		if cmd.HasParameter(name) {
			return true
		}
	}
	return false
}

// target resolves the axis words of cmd into machine coordinates
func (interp *Interpreter) target(cmd *Command) []float64 {
	n := len(interp.axisNames)
	target := make([]float64, n)
	copy(target, interp.pos[:n])
	unit := interp.unit()
	for i, name := range interp.axisNames {
		v, ok := cmd.Parameters[name]
		if !ok {
			continue
		}
		if interp.state.Absolute {
			target[i] = v*unit + interp.offset[i]
		} else {
			target[i] += v * unit
		}
	}
	return target
}

// setOffset makes the current position read as the G92 axis words
func (interp *Interpreter) setOffset(cmd *Command) {
	unit := interp.unit()
	for i, name := range interp.axisNames {
		if v, ok := cmd.Parameters[name]; ok {
			interp.offset[i] = interp.pos[i] - v*unit
		}
	}
}

// arc resolves the I/J/K or R form of G2/G3
func (interp *Interpreter) arc(cmd *Command, target []float64, p *motion.Params) error {
	plane := interp.state.Plane
	a, b := plane[0], plane[1]
	if a >= len(target) || b >= len(target) {
		return fmt.Errorf("%w: arc plane axis not configured", ErrUnsupported)
	}
	clockwise := interp.state.Motion == modeArcCW
	unit := interp.unit()
	offLetters := [3]byte{'I', 'J', 'K'}

	var offA, offB, radius float64
	if cmd.HasParameter('R') {
		radius = cmd.GetParameter('R', 0) * unit
		x := target[a] - interp.pos[a]
		y := target[b] - interp.pos[b]
		d2 := x*x + y*y
		if d2 == 0 {
			return ErrArcRadius
		}
		h := 4*radius*radius - d2
		if h < 0 {
			return ErrArcRadius
		}
		h = -math.Sqrt(h) / math.Sqrt(d2)
		if !clockwise {
			h = -h
		}
		if radius < 0 {
			h = -h
			radius = -radius
		}
		offA = 0.5 * (x - y*h)
		offB = 0.5 * (y + x*h)
	} else {
		offA = cmd.GetParameter(offLetters[a%3], 0) * unit
		offB = cmd.GetParameter(offLetters[b%3], 0) * unit
		radius = math.Hypot(offA, offB)
		if radius == 0 {
			return ErrArcRadius
		}
	}
	return interp.mc.Arc(target, offA, offB, radius, a, b, clockwise, p)
}

// endProgram handles M2/M30: wait, tools off, modal state reset
func (interp *Interpreter) endProgram() error {
	st := &interp.state
	st.SpindleDir = planner.SpindleOff
	st.Coolant = 0
	p := interp.params()
	if err := interp.mc.UpdateTools(&p); err != nil {
		return err
	}
	st.Motion = modeLinear
	st.Absolute = true
	st.InverseTime = false
	st.Plane = [3]int{0, 1, 2}
	st.Override = true
	interp.offset = [config.MaxAxes]float64{}
	return nil
}

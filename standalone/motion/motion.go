// Package motion turns Cartesian targets into actuator step deltas and
// queues them on the planner. It applies soft limits, splits moves that
// are too long for the step generator and takes up backlash on direction
// reversals.
package motion

import (
	"errors"
	"fmt"
	"math"

	"gocnc/standalone/config"
	"gocnc/standalone/kinematics"
	"gocnc/standalone/machine"
	"gocnc/standalone/planner"
	"gocnc/standalone/stepgen"
)

// ErrNoFeed is returned for a feed move without a feed rate
var ErrNoFeed = errors.New("motion: undefined feed rate")

// Params describe how a move is executed
type Params struct {
	Feed         float64 // mm/min, or 1/min with InverseTime
	InverseTime  bool    // Feed is the reciprocal of the move time
	Rapid        bool    // run at the axis maximum feed
	Spindle      float64 // signed RPM, negative for CCW
	Tool         planner.ToolState
	Dwell        uint32 // ms
	Line         uint32
	ExactStop    bool
	Continuous   bool
	FeedOverride bool
}

// Host is the machine context motion control runs in
type Host interface {
	machine.TaskRunner

	// Alarm stops motion, discards the buffers and locks the machine
	Alarm(code machine.AlarmCode)
}

// Sensors reads the limit switches and the probe
type Sensors interface {
	Limits() uint8
	Probe() bool
}

// Controller is the motion control stage of the pipeline
type Controller struct {
	settings *config.Settings
	kin      kinematics.Kinematics
	state    *machine.State
	planner  *planner.Planner
	itp      *stepgen.Interpolator
	host     Host
	sensors  Sensors
	axes     int

	lastStepPos [config.MaxAxes]int32
	lastDir     [config.MaxAxes]float64
	lastDirBits uint8

	checkMode    bool
	homingLimits uint8
	probePos     [config.MaxAxes]int32
}

// New creates a motion controller. sensors may be nil when the machine has
// no limit switches or probe.
func New(settings *config.Settings, kin kinematics.Kinematics, state *machine.State,
	pl *planner.Planner, itp *stepgen.Interpolator, host Host, sensors Sensors) *Controller {
	return &Controller{
		settings: settings,
		kin:      kin,
		state:    state,
		planner:  pl,
		itp:      itp,
		host:     host,
		sensors:  sensors,
		axes:     kin.AxisCount(),
	}
}

// SetCheckMode enables or disables check mode. In check mode moves are
// validated but nothing is queued.
func (c *Controller) SetCheckMode(on bool) {
	c.checkMode = on
}

// CheckMode reports whether check mode is active
func (c *Controller) CheckMode() bool {
	return c.checkMode
}

// HomingLimits returns the limit switches that end the current homing move
func (c *Controller) HomingLimits() uint8 {
	return c.homingLimits
}

// Line queues a straight move to target (mm, machine coordinates)
func (c *Controller) Line(target []float64, p *Params) error {
	if len(target) < c.axes {
		return fmt.Errorf("motion: target has %d axes, need %d", len(target), c.axes)
	}
	if c.state.Has(machine.Locked) {
		return machine.ErrCriticalFail
	}

	var tbuf [config.MaxAxes]float64
	tgt := tbuf[:c.axes]
	copy(tgt, target)

	if !c.state.Has(machine.ExecHoming) && !c.kin.CheckBoundaries(tgt) {
		skip, err := c.softLimit(tgt)
		if skip || err != nil {
			return err
		}
	}

	if c.checkMode {
		return nil
	}

	if !c.state.Has(machine.ExecJog | machine.ExecHoming) {
		if tr, ok := c.kin.(kinematics.Transformer); ok {
			tr.ApplyTransform(tgt)
		}
	}

	var sbuf [config.MaxAxes]int32
	steps := sbuf[:c.axes]
	c.kin.CoordinatesToSteps(tgt, steps)
	var maxSteps uint32
	for i := range steps {
		d := steps[i] - c.lastStepPos[i]
		if d < 0 {
			d = -d
		}
		if uint32(d) > maxSteps {
			maxSteps = uint32(d)
		}
	}
	if maxSteps == 0 {
		return nil
	}

	var pbuf, dbuf [config.MaxAxes]float64
	prev := pbuf[:c.axes]
	delta := dbuf[:c.axes]
	c.kin.StepsToCoordinates(c.lastStepPos[:c.axes], prev)
	dist := 0.0
	for i := range delta {
		delta[i] = tgt[i] - prev[i]
		dist += delta[i] * delta[i]
	}
	dist = math.Sqrt(dist)
	if dist == 0 {
		return nil
	}

	var unit [config.MaxAxes]float64
	cosTheta := 0.0
	maxFeed, maxAccel := math.MaxFloat64, math.MaxFloat64
	for i := range delta {
		unit[i] = delta[i] / dist
		cosTheta += unit[i] * c.lastDir[i]
		if u := math.Abs(unit[i]); u > 0 {
			axis := &c.settings.Axes[i]
			maxFeed = math.Min(maxFeed, axis.MaxFeed/u)
			maxAccel = math.Min(maxAccel, axis.Acceleration/u)
		}
	}

	var feed float64
	switch {
	case p.Rapid:
		feed = maxFeed
	case p.InverseTime:
		feed = dist * p.Feed
	default:
		feed = p.Feed
	}
	if feed <= 0 {
		return ErrNoFeed
	}

	pieces := 1
	if maxSteps >= c.settings.MaxStepsPerLine() {
		pieces += int(maxSteps >> c.settings.MaxStepsPerLineBits())
	}
	if sg, ok := c.kin.(kinematics.Segmenter); ok && sg.MaxSegmentLength() > 0 {
		if n := int(math.Ceil(dist / sg.MaxSegmentLength())); n > pieces {
			pieces = n
		}
	}

	lf := leaf{
		feed:     feed,
		maxFeed:  maxFeed,
		maxAccel: maxAccel,
		dist:     dist / float64(pieces),
		cosTheta: cosTheta,
	}
	var piece [config.MaxAxes]float64
	var pieceSteps [config.MaxAxes]int32
	for k := 1; k <= pieces; k++ {
		leafSteps := steps
		if k < pieces {
			f := float64(k) / float64(pieces)
			for i := range delta {
				piece[i] = prev[i] + delta[i]*f
			}
			leafSteps = pieceSteps[:c.axes]
			c.kin.CoordinatesToSteps(piece[:c.axes], leafSteps)
		}
		if err := c.lineSegment(leafSteps, &lf, p); err != nil {
			return err
		}
		lf.cosTheta = 1
	}
	c.lastDir = unit
	return nil
}

// softLimit applies the soft limit policy to an out of bounds target. skip
// means the move is dropped without error.
func (c *Controller) softLimit(tgt []float64) (skip bool, err error) {
	clamper, canClamp := c.kin.(kinematics.Clamper)
	policy := c.settings.SoftLimitPolicy
	if policy == config.SoftLimitClamp && canClamp {
		clamper.Clamp(tgt)
		return false, nil
	}
	if c.state.Has(machine.ExecJog) || policy != config.SoftLimitAlarm {
		return true, machine.ErrTravelExceeded
	}
	c.host.Alarm(machine.AlarmSoftLimit)
	return true, nil
}

// leaf carries the per-move values shared by every piece of a split move
type leaf struct {
	feed     float64 // mm/min
	maxFeed  float64 // mm/min
	maxAccel float64 // mm/s^2
	dist     float64 // mm per piece
	cosTheta float64
}

// lineSegment queues one piece ending at the step position target
func (c *Controller) lineSegment(target []int32, lf *leaf, p *Params) error {
	req := planner.Request{
		CosTheta:     lf.cosTheta,
		Spindle:      p.Spindle,
		Tool:         p.Tool,
		Line:         p.Line,
		ExactStop:    p.ExactStop,
		Continuous:   p.Continuous,
		FeedOverride: p.FeedOverride,
	}
	var moving uint8
	for i := range target {
		d := target[i] - c.lastStepPos[i]
		if d < 0 {
			req.DirBits |= 1 << i
			d = -d
		}
		if d == 0 {
			continue
		}
		moving |= 1 << i
		req.Steps[i] = uint32(d)
		if req.Steps[i] > req.TotalSteps {
			req.TotalSteps = req.Steps[i]
			req.MainStepper = uint8(i)
		}
	}
	if req.TotalSteps == 0 {
		return nil
	}

	if rev := (req.DirBits ^ c.lastDirBits) & moving & c.settings.BacklashMask(); rev != 0 {
		if err := c.push(c.backlashRequest(rev, req.DirBits, p)); err != nil {
			return err
		}
		req.CosTheta = 0
	}

	perMM := float64(req.TotalSteps) / lf.dist
	req.Feed = lf.feed / 60 * perMM
	req.MaxFeed = lf.maxFeed / 60 * perMM
	req.MaxAccel = lf.maxAccel * perMM
	req.FeedConversion = 60 / perMM

	if err := c.push(&req); err != nil {
		return err
	}
	c.lastDirBits = c.lastDirBits&^moving | req.DirBits&moving
	copy(c.lastStepPos[:c.axes], target)
	return nil
}

// backlashRequest builds the take-up move for the reversed axes in rev.
// It runs at the fastest speed every involved axis allows.
func (c *Controller) backlashRequest(rev, dirBits uint8, p *Params) *planner.Request {
	req := &planner.Request{
		DirBits: dirBits & rev,
		Line:    p.Line,
		Spindle: p.Spindle,
		Tool:    p.Tool,
	}
	req.Backlash = true
	for i := 0; i < c.axes; i++ {
		if rev&(1<<i) == 0 {
			continue
		}
		req.Steps[i] = uint32(c.settings.Axes[i].BacklashSteps)
		if req.Steps[i] > req.TotalSteps {
			req.TotalSteps = req.Steps[i]
			req.MainStepper = uint8(i)
		}
	}

	req.MaxFeed, req.MaxAccel = math.MaxFloat64, math.MaxFloat64
	total := float64(req.TotalSteps)
	for i := 0; i < c.axes; i++ {
		if req.Steps[i] == 0 {
			continue
		}
		axis := &c.settings.Axes[i]
		ratio := total / float64(req.Steps[i])
		req.MaxFeed = math.Min(req.MaxFeed, axis.MaxFeed/60*axis.StepsPerMM*ratio)
		req.MaxAccel = math.Min(req.MaxAccel, axis.Acceleration*axis.StepsPerMM*ratio)
	}
	req.Feed = req.MaxFeed
	req.FeedConversion = 60 / c.settings.Axes[req.MainStepper].StepsPerMM
	return req
}

// push waits for a free planner slot, running background tasks
func (c *Controller) push(req *planner.Request) error {
	for c.planner.Full() {
		if c.state.TakeFlush() {
			return machine.ErrJobCanceled
		}
		if !c.host.DoTasks() {
			return machine.ErrCriticalFail
		}
	}
	// a reset handled by the last pass has already emptied the planner
	if c.state.TakeFlush() {
		return machine.ErrJobCanceled
	}
	if !c.planner.AddLine(req) {
		return machine.ErrCriticalFail
	}
	c.planner.SyncTools(req)
	return nil
}

// Jog queues an operator jog. Jogs skip the kinematics transform and are
// rejected outside the soft limits.
func (c *Controller) Jog(target []float64, p *Params) error {
	c.state.Set(machine.ExecJog)
	if err := c.Line(target, p); err != nil {
		c.state.Clear(machine.ExecJog)
		return err
	}
	return nil
}

// Dwell updates the tools and waits p.Dwell milliseconds
func (c *Controller) Dwell(p *Params) error {
	if c.checkMode {
		return nil
	}
	if err := c.UpdateTools(p); err != nil {
		return err
	}
	if !c.host.DelayMs(p.Dwell) {
		return machine.ErrCriticalFail
	}
	return nil
}

// Pause waits for queued motion to finish, then enters feed hold
func (c *Controller) Pause() error {
	if !c.checkMode {
		if err := c.itp.Sync(c.host); err != nil {
			return err
		}
	}
	c.state.Set(machine.ExecHold)
	return nil
}

// UpdateTools waits for queued motion to finish, then applies the tool
// state of p
func (c *Controller) UpdateTools(p *Params) error {
	if c.checkMode {
		return nil
	}
	if err := c.itp.Sync(c.host); err != nil {
		return err
	}
	c.planner.SyncTools(&planner.Request{Spindle: p.Spindle, Tool: p.Tool})
	c.itp.SyncSpindle()
	return nil
}

// GetPosition writes the last queued position in machine coordinates
func (c *Controller) GetPosition(pos []float64) {
	c.kin.StepsToCoordinates(c.lastStepPos[:c.axes], pos)
	if tr, ok := c.kin.(kinematics.Transformer); ok {
		tr.ApplyReverseTransform(pos)
	}
}

// SyncPosition takes the real-time step position as the last queued
// position. The direction history is dropped, so the next move starts
// from rest.
func (c *Controller) SyncPosition() {
	c.itp.RTPosition(c.lastStepPos[:c.axes])
	c.lastDir = [config.MaxAxes]float64{}
}

// SetAxisPosition redefines the coordinate of one axis at the current
// step position
func (c *Controller) SetAxisPosition(axis int, value float64) {
	var buf [config.MaxAxes]float64
	pos := buf[:c.axes]
	c.GetPosition(pos)
	pos[axis] = value
	var steps [config.MaxAxes]int32
	c.kin.CoordinatesToSteps(pos, steps[:c.axes])
	c.lastStepPos[axis] = steps[axis]
	c.itp.ResetRTPosition(c.lastStepPos[:c.axes])
}

// ProbePosition writes the position where the last probe cycle stopped
func (c *Controller) ProbePosition(pos []float64) {
	c.kin.StepsToCoordinates(c.probePos[:c.axes], pos)
	if tr, ok := c.kin.(kinematics.Transformer); ok {
		tr.ApplyReverseTransform(pos)
	}
}

// halt stops the steppers at once and drops everything queued
func (c *Controller) halt() {
	c.itp.Stop()
	c.itp.Clear()
	c.planner.Clear()
}

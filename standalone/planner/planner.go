// Package planner keeps the look-ahead buffer of queued moves and the
// entry speed of each one at the highest value from which every following
// move can still be honored, down to a stop at the tail.
package planner

import (
	"math"

	"gocnc/standalone/config"
	"gocnc/standalone/ring"
)

// Overrides are percentages applied when speeds are read
type Overrides struct {
	Feed        uint8
	Rapid       uint8
	Spindle     uint8
	CoolantMask uint8 // toggled coolant outputs
}

// Planner is the look-ahead planner. It runs entirely in the background
// context, so it owns both ends of its ring.
type Planner struct {
	settings *config.Settings
	buf      *ring.Ring[Block]
	prod     *ring.Producer[Block]
	cons     *ring.Consumer[Block]

	ovr         Overrides
	ovrEnabled  bool
	ovrReported bool

	// tool state of the last synchronized request
	spindle float64
	tool    ToolState

	onUpdate func()
}

// NewPlanner creates a planner with settings.PlannerBufferSize slots
func NewPlanner(settings *config.Settings) *Planner {
	buf := ring.New[Block](settings.PlannerBufferSize)
	prod, cons := buf.Split()
	p := &Planner{
		settings:   settings,
		buf:        buf,
		prod:       prod,
		cons:       cons,
		ovrEnabled: true,
		onUpdate:   func() {},
	}
	p.ovr = Overrides{Feed: 100, Rapid: 100, Spindle: 100}
	return p
}

// SetUpdateHandler registers the callback invalidating the in-flight
// interpolator profile
func (p *Planner) SetUpdateHandler(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	p.onUpdate = fn
}

// Clear discards every queued block
func (p *Planner) Clear() {
	p.buf.Reset()
}

// Full reports whether AddLine would have no slot
func (p *Planner) Full() bool {
	return p.prod.Full()
}

// Empty reports whether no block is queued
func (p *Planner) Empty() bool {
	return p.cons.Empty()
}

// FreeBlocks returns the number of free slots
func (p *Planner) FreeBlocks() int {
	return p.buf.Free()
}

// Len returns the number of queued blocks
func (p *Planner) Len() int {
	return p.buf.Len()
}

// Block returns the block at the read cursor, or nil
func (p *Planner) Block() *Block {
	return p.cons.Peek()
}

// At returns the n-th queued block counted from the read cursor
func (p *Planner) At(n int) *Block {
	return p.buf.At(n)
}

// Discard retires the block at the read cursor
func (p *Planner) Discard() {
	p.cons.Release()
}

// AddLine queues a request. The caller checks Full first; AddLine
// returns false when there is no slot.
func (p *Planner) AddLine(req *Request) bool {
	prev := p.prod.Newest()
	blk := p.prod.Slot()
	if blk == nil {
		return false
	}

	*blk = Block{
		Steps:          req.Steps,
		TotalSteps:     req.TotalSteps,
		MainStepper:    req.MainStepper,
		DirBits:        req.DirBits,
		Line:           req.Line,
		Acceleration:   req.MaxAccel,
		FeedConversion: req.FeedConversion,
		Spindle:        req.Spindle,
		Flags: Flags{
			BacklashComp: req.Backlash,
			ExactStop:    req.ExactStop,
			FeedOverride: req.FeedOverride,
			Continuous:   req.Continuous,
			Tool:         req.Tool,
		},
	}

	feed := math.Min(req.Feed, req.MaxFeed)
	blk.FeedSqr = feed * feed
	blk.RapidFeedSqr = req.MaxFeed * req.MaxFeed

	cosTheta := math.Min(math.Max(req.CosTheta, 0), 1)
	if prev == nil || (p.settings.LinActColdStart && coldStart(prev, req)) {
		cosTheta = 0
	}

	if cosTheta != 0 && !req.ExactStop && !req.Backlash {
		blk.EntryMaxFeedSqr = junctionSpeedSqr(cosTheta, prev.FeedSqr, blk.FeedSqr, p.continuousFactor(req))
	}

	p.prod.Commit()
	p.Recalculate()
	return true
}

// coldStart reports an actuator that keeps moving but reverses direction
func coldStart(prev *Block, req *Request) bool {
	var moving uint8
	for i := range req.Steps {
		if req.Steps[i] != 0 && prev.Steps[i] != 0 {
			moving |= 1 << i
		}
	}
	return (prev.DirBits^req.DirBits)&moving != 0
}

func (p *Planner) continuousFactor(req *Request) float64 {
	if req.Continuous {
		return p.settings.G64Factor
	}
	return 0
}

// junctionSpeedSqr limits the entry speed at a junction. The factor is
// tan(θ/2) written in terms of cos θ, which is 0 for collinear moves and
// reaches 1 at a right angle.
func junctionSpeedSqr(cosTheta, prevFeedSqr, feedSqr, relax float64) float64 {
	angleFactor := 0.0
	if cosTheta < 1 {
		angleFactor = math.Sqrt(1-cosTheta*cosTheta) / (1 + cosTheta)
	}
	angleFactor = math.Min(math.Max(angleFactor-relax, 0), 1)
	if angleFactor >= 1 {
		return 0
	}
	f := 1 - angleFactor
	return math.Min(feedSqr, f*f*prevFeedSqr)
}

// Recalculate runs the look-ahead over the queued blocks
func (p *Planner) Recalculate() {
	// a lone block entered from rest when queued, or is being executed
	n := p.buf.Len()
	if n < 2 {
		return
	}
	last := n - 1

	// backward pass
	i := last
	nextEntry := 0.0
	for i > 0 {
		blk := p.buf.At(i)
		if blk.Flags.Optimal || blk.EntryFeedSqr == blk.EntryMaxFeedSqr {
			break
		}
		reach := nextEntry + 2*blk.Acceleration*float64(blk.Remaining())
		blk.EntryFeedSqr = math.Min(blk.EntryMaxFeedSqr, reach)
		nextEntry = blk.EntryFeedSqr
		i--
	}

	// forward pass
	for ; i < last; i++ {
		blk := p.buf.At(i)
		next := p.buf.At(i + 1)
		if blk.EntryFeedSqr < next.EntryFeedSqr {
			reach := blk.EntryFeedSqr + 2*blk.Acceleration*float64(blk.Remaining())
			if reach < next.EntryFeedSqr {
				next.EntryFeedSqr = math.Min(next.EntryMaxFeedSqr, reach)
				next.Flags.Optimal = true
			}
		}
		if i == 0 {
			p.onUpdate()
		}
	}
}

func ovrScale(v float64, pct uint8) float64 {
	if pct == 100 {
		return v
	}
	f := float64(pct)
	return v * f * f * 0.0001
}

// scaledFeedSqr returns the override-scaled target speed^2 of blk
func (p *Planner) scaledFeedSqr(blk *Block) (feed, rapid float64) {
	feed, rapid = blk.FeedSqr, blk.RapidFeedSqr
	if blk.Flags.FeedOverride && p.ovrEnabled {
		feed = ovrScale(feed, p.ovr.Feed)
		rapid = ovrScale(rapid, p.ovr.Rapid)
	}
	return feed, rapid
}

// BlockExitSpeedSqr returns the exit speed^2 of the block at the read
// cursor, which is the entry speed of the block after it
func (p *Planner) BlockExitSpeedSqr() float64 {
	if p.buf.Len() < 2 {
		return 0
	}
	next := p.buf.At(1)
	exit := next.EntryFeedSqr
	if next.Flags.FeedOverride && p.ovrEnabled {
		exit = ovrScale(exit, p.ovr.Feed)
	}
	return math.Min(exit, next.RapidFeedSqr)
}

// BlockTopSpeed returns the peak speed^2 reachable in the block at the read
// cursor between its entry speed and exitSqr
func (p *Planner) BlockTopSpeed(exitSqr float64) float64 {
	blk := p.cons.Peek()
	if blk == nil {
		return 0
	}
	d := 2 * blk.Acceleration * float64(blk.Remaining())
	entry := blk.EntryFeedSqr

	var top float64
	switch {
	case d >= math.Abs(exitSqr-entry):
		top = (d + exitSqr + entry) * 0.5
	case exitSqr > entry:
		top = d + entry
	default:
		top = entry
	}

	feed, rapid := p.scaledFeedSqr(blk)
	return math.Min(top, math.Min(feed, rapid))
}

// SyncTools records the tool state of a request as the current one
func (p *Planner) SyncTools(req *Request) {
	p.spindle = req.Spindle
	p.tool = req.Tool
}

// SpindleSpeed returns the tool output command (-255..255) for the block at
// the read cursor, or for the synchronized tool state when idle. In laser
// mode a reverse (M4) command is scaled by scale.
func (p *Planner) SpindleSpeed(scale float64) int16 {
	spindle := p.spindle
	override := false
	if blk := p.cons.Peek(); blk != nil {
		spindle = blk.Spindle
		override = blk.Flags.FeedOverride
	}
	if spindle == 0 {
		return 0
	}

	neg := spindle < 0
	spindle = math.Abs(spindle)
	if p.settings.LaserMode != config.LaserOff && neg {
		spindle *= scale
	}
	if override && p.ovr.Spindle != 100 {
		spindle *= 0.01 * float64(p.ovr.Spindle)
	}
	spindle = math.Min(spindle, p.settings.SpindleMaxRPM)
	spindle = math.Max(spindle, p.settings.SpindleMinRPM)
	pwm := int16(255 * (spindle / p.settings.SpindleMaxRPM))
	if pwm < 1 {
		pwm = 1
	}
	if neg {
		return -pwm
	}
	return pwm
}

// Spindle returns the synchronized spindle RPM (signed)
func (p *Planner) Spindle() float64 {
	return p.spindle
}

// Coolant returns the coolant outputs for the block at the read cursor, or
// for the synchronized tool state when idle, with override toggles applied
func (p *Planner) Coolant() uint8 {
	coolant := p.tool.Coolant
	if blk := p.cons.Peek(); blk != nil {
		coolant = blk.Flags.Tool.Coolant
	}
	return coolant ^ p.ovr.CoolantMask
}

// Tool returns the synchronized tool state
func (p *Planner) Tool() ToolState {
	return p.tool
}

// Overrides returns the current override values
func (p *Planner) Overrides() Overrides {
	return p.ovr
}

// OverridesChanged reports, once, that overrides changed since the last call
func (p *Planner) OverridesChanged() bool {
	if p.ovrReported {
		return false
	}
	p.ovrReported = true
	return true
}

func (p *Planner) overridesTouched(motion bool) {
	p.ovrReported = false
	if motion {
		p.onUpdate()
	}
}

// FeedOverrideAdd changes the feed override by delta percent within the
// configured limits
func (p *Planner) FeedOverrideAdd(delta int) {
	v := clampPct(int(p.ovr.Feed)+delta, p.settings.FeedOverrideMin, p.settings.FeedOverrideMax)
	if v != p.ovr.Feed {
		p.ovr.Feed = v
		p.overridesTouched(true)
	}
}

// RapidOverride sets the rapid override percent
func (p *Planner) RapidOverride(pct uint8) {
	if pct > 100 {
		pct = 100
	}
	if pct != p.ovr.Rapid {
		p.ovr.Rapid = pct
		p.overridesTouched(true)
	}
}

// SpindleOverrideAdd changes the spindle override by delta percent
func (p *Planner) SpindleOverrideAdd(delta int) {
	v := clampPct(int(p.ovr.Spindle)+delta, p.settings.SpindleOverrideMin, p.settings.SpindleOverrideMax)
	if v != p.ovr.Spindle {
		p.ovr.Spindle = v
		p.overridesTouched(false)
	}
}

// CoolantOverrideToggle toggles coolant outputs and returns the toggle mask
func (p *Planner) CoolantOverrideToggle(mask uint8) uint8 {
	p.ovr.CoolantMask ^= mask
	p.overridesTouched(false)
	return p.ovr.CoolantMask
}

// FeedOverrideEnable enables or disables all feed overrides (M48/M49)
func (p *Planner) FeedOverrideEnable(enabled bool) {
	if enabled != p.ovrEnabled {
		p.ovrEnabled = enabled
		p.overridesTouched(true)
	}
}

// OverridesReset restores every override to 100%
func (p *Planner) OverridesReset() {
	motion := p.ovr.Feed != 100 || p.ovr.Rapid != 100
	p.ovr = Overrides{Feed: 100, Rapid: 100, Spindle: 100}
	p.overridesTouched(motion)
}

func clampPct(v int, lo, hi uint8) uint8 {
	if v < int(lo) {
		v = int(lo)
	}
	if v > int(hi) {
		v = int(hi)
	}
	return uint8(v)
}

// Package stepgen slices planner blocks into short constant or linearly
// changing speed segments and turns them into step pulses from the step
// timer interrupt.
package stepgen

import (
	"math"
	"sync/atomic"

	"gocnc/core"
	"gocnc/standalone/config"
	"gocnc/standalone/machine"
	"gocnc/standalone/planner"
	"gocnc/standalone/ring"
)

// Interpolation period
const (
	Freq   = 100
	DeltaT = 1.0 / Freq
)

// Hardware groups the outputs the interpolator drives
type Hardware struct {
	Timer core.StepTimer
	Steps core.StepOutputs
	Tool  core.ToolOutput // optional
}

// profile is the trapezoid of the bound block. It belongs to Run.
type profile struct {
	accelUntil      uint32
	deaccelFrom     uint32
	junctionSpeed   float64
	tAcc            float64
	tDeac           float64
	partialDistance float64
	feedConvert     float64
}

// Interpolator is the segment generator and step ISR. Run belongs to the
// background context; Tick, StepISR and StepResetISR to the timer interrupt.
type Interpolator struct {
	settings *config.Settings
	planner  *planner.Planner
	state    *machine.State
	hw       Hardware
	axes     int

	// background side
	blocks   []Block
	blkWrite int
	segs     *ring.Ring[Segment]
	prod     *ring.Producer[Segment]
	cur      *planner.Block
	prof     profile
	prevDSS  uint8
	spindle  int16
	needsUpd atomic.Bool

	// interrupt side
	rt isrState
}

// New creates an interpolator with settings.SegmentBufferSize segments and
// registers it for profile updates with the planner
func New(settings *config.Settings, pl *planner.Planner, state *machine.State, hw Hardware) *Interpolator {
	segs := ring.New[Segment](settings.SegmentBufferSize)
	prod, cons := segs.Split()
	itp := &Interpolator{
		settings: settings,
		planner:  pl,
		state:    state,
		hw:       hw,
		axes:     len(settings.Axes),
		blocks:   make([]Block, settings.SegmentBufferSize+1),
		segs:     segs,
		prod:     prod,
	}
	itp.rt.cons = cons
	pl.SetUpdateHandler(itp.Update)
	return itp
}

// Update invalidates the profile of the bound block
func (itp *Interpolator) Update() {
	itp.needsUpd.Store(true)
}

// IsEmpty reports whether no segment is queued or executing
func (itp *Interpolator) IsEmpty() bool {
	return itp.segs.Empty() && itp.rt.current.Load() == nil
}

// FreeSegments returns the number of free segment slots
func (itp *Interpolator) FreeSegments() int {
	return itp.segs.Free()
}

// Run fills the segment buffer from the planner, then starts the step
// timer if the machine is idle
func (itp *Interpolator) Run() {
	for !itp.prod.Full() && !itp.state.Has(machine.Locked) {
		if itp.cur == nil {
			blk := itp.planner.Block()
			if blk == nil {
				break
			}
			itp.bind(blk)
		}
		if !itp.nextSegment() {
			return
		}
	}
	itp.Start()
}

// bind copies the geometry of blk into a fresh interpolator block
func (itp *Interpolator) bind(blk *planner.Block) {
	itp.cur = blk
	itp.blkWrite++
	if itp.blkWrite == len(itp.blocks) {
		itp.blkWrite = 0
	}
	b := &itp.blocks[itp.blkWrite]
	*b = Block{
		MainStepper: blk.MainStepper,
		DirBits:     blk.DirBits,
		Line:        blk.Line,
		Backlash:    blk.Flags.BacklashComp,
	}

	scale := itp.settings.DSSMaxOversampling
	total := blk.Remaining()
	b.Total = (total << 1) << scale
	for i := 0; i < config.MaxAxes; i++ {
		if i >= itp.axes || blk.Steps[i] == 0 {
			b.IdleAxis |= 1 << i
			continue
		}
		b.Errors[i] = total << scale
		b.Steps[i] = (blk.Steps[i] << 1) << scale
	}

	itp.prof.feedConvert = blk.FeedConversion
	itp.prof.partialDistance = 0
	itp.needsUpd.Store(true)
	core.RecordEvent(core.EvtBlockLoad, blk.MainStepper, blk.Line, total)
}

// retire drops the bound block once all of its steps are in segments
func (itp *Interpolator) retire() {
	core.RecordEvent(core.EvtBlockDone, 0, itp.cur.Line, 0)
	itp.cur = nil
	itp.prevDSS = 0
	itp.prof.partialDistance = 0
	itp.planner.Discard()
}

// recalcProfile computes accelUntil/deaccelFrom from the entry speed, the
// peak speed the block can reach and the exit speed the planner allows
func (itp *Interpolator) recalcProfile(blk *planner.Block, remaining uint32, currentSpeed *float64) {
	p := &itp.prof
	exitSqr := itp.planner.BlockExitSpeedSqr()
	juncSqr := itp.planner.BlockTopSpeed(exitSqr)
	p.junctionSpeed = math.Sqrt(juncSqr)
	accelInv := 1 / blk.Acceleration

	p.accelUntil = remaining
	p.deaccelFrom = 0
	if juncSqr != blk.EntryFeedSqr {
		dist := math.Floor(math.Abs(juncSqr-blk.EntryFeedSqr) * accelInv * 0.5)
		if dist < float64(remaining) {
			p.accelUntil = remaining - uint32(dist)
		} else {
			p.accelUntil = 0
		}
		t := math.Abs(p.junctionSpeed-*currentSpeed) * accelInv
		if t > DeltaT {
			p.tAcc = t / math.Floor(Freq*t)
			if juncSqr < blk.EntryFeedSqr {
				p.tAcc = -p.tAcc
			}
		} else {
			p.accelUntil = remaining
		}
	}

	if p.accelUntil == remaining {
		blk.EntryFeedSqr = juncSqr
		*currentSpeed = p.junctionSpeed
	}

	if juncSqr > exitSqr {
		dist := math.Floor((juncSqr - exitSqr) * accelInv * 0.5)
		p.deaccelFrom = uint32(math.Min(dist, float64(remaining)))
		t := (p.junctionSpeed - math.Sqrt(exitSqr)) * accelInv
		if t > DeltaT {
			p.tDeac = t / math.Floor(Freq*t)
			if p.tDeac < 0.00001 {
				p.tDeac = 0.0001
			}
		} else {
			p.deaccelFrom = 0
		}
	}
}

// nextSegment writes one segment of the bound block. It returns false when
// a feed hold has brought the speed to zero.
func (itp *Interpolator) nextSegment() bool {
	blk := itp.cur
	p := &itp.prof
	hold := itp.state.Has(machine.ExecHold)
	remaining := blk.Remaining()
	currentSpeed := math.Sqrt(blk.EntryFeedSqr)

	if hold {
		p.accelUntil = remaining
		p.deaccelFrom = remaining
		p.tDeac = DeltaT
		itp.needsUpd.Store(true)
	} else if itp.needsUpd.Swap(false) {
		itp.recalcProfile(blk, remaining, &currentSpeed)
	}

	var speedChange, limit, integrator float64
	var flags SegmentFlags
	switch {
	case remaining > p.accelUntil:
		integrator = p.tAcc
		speedChange = integrator * blk.Acceleration
		limit = float64(p.accelUntil)
		flags = UpdateISR | Accel
	case remaining > p.deaccelFrom:
		integrator = DeltaT
		limit = float64(p.deaccelFrom)
		flags = Const
		if remaining == p.accelUntil {
			flags |= UpdateISR
		}
	default:
		integrator = p.tDeac
		speedChange = -integrator * blk.Acceleration
		flags = UpdateISR | Deaccel
	}

	if speedChange != 0 {
		end := currentSpeed + speedChange
		blk.EntryFeedSqr = end * end
	}

	// the distance covered while the speed changes linearly equals the
	// distance at the mean speed
	speedChange *= 0.5
	currentSpeed += speedChange

	var steps uint32
	if currentSpeed > 0 {
		p.partialDistance += currentSpeed * integrator
		whole := math.Floor(p.partialDistance)
		if whole < 1 {
			steps = 1
			p.partialDistance = 0
		} else {
			steps = uint32(whole)
			p.partialDistance -= whole
		}
	} else {
		blk.EntryFeedSqr = 0
		if hold {
			return false
		}
		steps = remaining
		currentSpeed = -speedChange
	}

	if span := remaining - uint32(limit); steps > span {
		steps = span
	}

	sgm := itp.prod.Slot()
	*sgm = Segment{block: &itp.blocks[itp.blkWrite], Flags: flags}

	dss, rate := itp.oversample(currentSpeed, steps)
	if dss != itp.prevDSS {
		sgm.Flags |= UpdateISR
	}
	sgm.NextDSS = int8(dss) - int8(itp.prevDSS)
	itp.prevDSS = dss
	sgm.Remaining = steps << dss
	sgm.Clocks = itp.hw.Timer.FreqToClocks(rate)
	sgm.Feed = currentSpeed * p.feedConvert

	if itp.settings.LaserMode == config.LaserPWM {
		scale := math.Min(1, currentSpeed/math.Sqrt(blk.FeedSqr))
		spindle := itp.planner.SpindleSpeed(scale)
		if spindle != itp.spindle {
			itp.spindle = spindle
			sgm.Flags |= UpdateTool
		}
	}
	sgm.Spindle = itp.spindle

	remaining -= steps
	if remaining == p.accelUntil && !hold {
		blk.EntryFeedSqr = p.junctionSpeed * p.junctionSpeed
	}
	blk.SetRemaining(remaining)

	itp.prod.Commit()
	core.RecordEvent(core.EvtSegment, dss, steps, sgm.Clocks.Period())

	if remaining == 0 {
		itp.retire()
	}
	return true
}

// oversample picks the oversampling shift for a segment running at speed.
// Below the cutoff frequency the tick rate is doubled per level, never
// beyond half the maximum step rate.
func (itp *Interpolator) oversample(speed float64, steps uint32) (uint8, float64) {
	rate := speed
	var dss uint8
	halfMax := itp.settings.MaxStepRate * 0.5
	for rate < itp.settings.DSSCutoffFreq && dss < itp.settings.DSSMaxOversampling && steps > 0 && rate*2 <= halfMax {
		rate *= 2
		dss++
	}
	return dss, math.Min(rate, itp.settings.MaxStepRate)
}

// Sync runs background tasks until every queued move has been executed.
// A homing switch hit ends the wait early without error.
func (itp *Interpolator) Sync(tasks machine.TaskRunner) error {
	for !itp.IsEmpty() || !itp.planner.Empty() || itp.state.Has(machine.ExecRun) {
		if !tasks.DoTasks() {
			if itp.state.Has(machine.ExecHomingHit) {
				return nil
			}
			return machine.ErrCriticalFail
		}
	}
	return nil
}

// SyncSpindle drives the tool outputs from the planner while stopped
func (itp *Interpolator) SyncSpindle() {
	speed := itp.planner.SpindleSpeed(0)
	itp.rt.spindle.Store(int32(speed))
	if itp.hw.Tool != nil {
		itp.hw.Tool.SetSpeed(speed)
		itp.hw.Tool.SetCoolant(itp.planner.Coolant())
	}
}

// RTFeed returns the feed (mm/min) of the executing segment
func (itp *Interpolator) RTFeed() float64 {
	if !itp.state.Has(machine.ExecRun) {
		return 0
	}
	if sgm := itp.segs.At(0); sgm != nil {
		return sgm.Feed
	}
	return 0
}

// RTLine returns the program line of the executing segment
func (itp *Interpolator) RTLine() uint32 {
	if sgm := itp.segs.At(0); sgm != nil && sgm.block != nil {
		return sgm.block.Line
	}
	return 0
}

// RTSpindle returns the last tool speed command sent to the output
func (itp *Interpolator) RTSpindle() int16 {
	return int16(itp.rt.spindle.Load())
}

// RTPosition copies the real-time step position into pos. Only consistent
// while the machine is idle.
func (itp *Interpolator) RTPosition(pos []int32) {
	core.WithInterruptsDisabled(func() {
		copy(pos, itp.rt.position[:itp.axes])
	})
}

// ResetRTPosition sets the real-time step position
func (itp *Interpolator) ResetRTPosition(pos []int32) {
	core.WithInterruptsDisabled(func() {
		copy(itp.rt.position[:itp.axes], pos)
	})
}

// LockSteppers suppresses pulses for the steppers in mask (squaring a
// gantry during homing)
func (itp *Interpolator) LockSteppers(mask uint8) {
	itp.rt.lock.Store(uint32(mask))
}

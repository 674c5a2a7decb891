package stepgen

import (
	"sync/atomic"

	"gocnc/core"
	"gocnc/standalone/config"
	"gocnc/standalone/machine"
	"gocnc/standalone/ring"
)

// StepPhase selects which half of a step period the next tick runs
type StepPhase uint8

const (
	PhasePulse StepPhase = iota // compute and raise step lines
	PhaseReset                  // return step lines to idle
)

// isrState is owned by the timer interrupt
type isrState struct {
	cons     *ring.Consumer[Segment]
	current  atomic.Pointer[Segment]
	busy     atomic.Bool
	phase    StepPhase
	lock     atomic.Uint32
	spindle  atomic.Int32
	position [config.MaxAxes]int32
}

// Tick is the step timer handler. Ticks alternate between the pulse and
// reset phases, so the timer runs at twice the step rate.
func (itp *Interpolator) Tick() {
	if itp.rt.phase == PhasePulse {
		itp.rt.phase = PhaseReset
		itp.StepISR()
		return
	}
	itp.rt.phase = PhasePulse
	itp.StepResetISR()
}

// StepResetISR returns the step lines to their idle level
func (itp *Interpolator) StepResetISR() {
	itp.hw.Steps.SetSteps(itp.settings.StepInvertMask)
}

// StepISR emits at most one step per axis. A tick arriving while the
// previous one still runs is dropped.
func (itp *Interpolator) StepISR() {
	rt := &itp.rt
	if !rt.busy.CompareAndSwap(false, true) {
		return
	}
	defer rt.busy.Store(false)

	sgm := rt.current.Load()
	if sgm != nil {
		if sgm.Flags&UpdateISR != 0 {
			itp.hw.Timer.Change(sgm.Clocks)
		}
		if sgm.Flags&UpdateTool != 0 {
			itp.setTool(sgm.Spindle)
		}
		sgm.Flags &^= UpdateISR | UpdateTool

		if sgm.Remaining == 0 {
			rt.current.Store(nil)
			rt.cons.Release()
			sgm = nil
		}
	}

	if sgm == nil {
		sgm = rt.cons.Peek()
		if sgm == nil {
			itp.stopISR()
			return
		}
		blk := sgm.block
		if sgm.NextDSS != 0 {
			blk.applyDSS(sgm.NextDSS)
			core.RecordEvent(core.EvtDSSChange, blk.shift, blk.Line, 0)
		}
		itp.hw.Steps.SetDirs(blk.DirBits ^ itp.settings.DirInvertMask)
		rt.current.Store(sgm)
	}

	blk := sgm.block
	var bits uint8
	for i := 0; i < itp.axes; i++ {
		bit := uint8(1) << i
		if blk.IdleAxis&bit != 0 {
			continue
		}
		blk.Errors[i] += blk.Steps[i]
		if blk.Errors[i] > blk.Total {
			blk.Errors[i] -= blk.Total
			bits |= bit
		}
	}
	bits &^= uint8(rt.lock.Load())

	if bits != 0 {
		if !blk.Backlash {
			for i := 0; i < itp.axes; i++ {
				if bits&(1<<i) == 0 {
					continue
				}
				if blk.DirBits&(1<<i) != 0 {
					rt.position[i]--
				} else {
					rt.position[i]++
				}
			}
		}
		itp.hw.Steps.ToggleSteps(bits)
	}

	sgm.Remaining--
}

// stopISR ends the cycle once the segment buffer has run dry
func (itp *Interpolator) stopISR() {
	itp.state.Clear(machine.ExecRun)
	itp.hw.Timer.Stop()
	itp.hw.Steps.SetSteps(itp.settings.StepInvertMask)
	itp.rt.phase = PhasePulse
}

func (itp *Interpolator) setTool(speed int16) {
	itp.rt.spindle.Store(int32(speed))
	if itp.hw.Tool != nil {
		itp.hw.Tool.SetSpeed(speed)
	}
}

// Start arms the step timer when segments are queued and the machine is
// neither running, held nor in alarm
func (itp *Interpolator) Start() {
	if itp.state.Has(machine.ExecRun | machine.ExecHold | machine.ExecAlarm) {
		return
	}
	head := itp.segs.At(0)
	if head == nil {
		return
	}
	core.WithInterruptsDisabled(func() {
		itp.rt.phase = PhasePulse
		itp.state.Set(machine.ExecRun)
		itp.hw.Timer.Start(head.Clocks)
	})
}

// Stop halts the step timer immediately. Stopping a moving machine loses
// position, so it is marked unhomed.
func (itp *Interpolator) Stop() {
	core.WithInterruptsDisabled(func() {
		if itp.state.Has(machine.ExecRun) {
			itp.state.Set(machine.ExecUnhomed)
		}
		itp.hw.Timer.Stop()
		itp.hw.Steps.SetSteps(itp.settings.StepInvertMask)
		if itp.settings.LaserMode == config.LaserPWM {
			itp.setTool(0)
		}
		itp.state.Clear(machine.ExecRun)
		itp.rt.phase = PhasePulse
	})
}

// Clear discards every queued segment and the bound block. The step timer
// must be stopped.
func (itp *Interpolator) Clear() {
	core.WithInterruptsDisabled(func() {
		itp.rt.current.Store(nil)
		itp.segs.Reset()
		for i := range itp.blocks {
			itp.blocks[i] = Block{}
		}
	})
	itp.blkWrite = 0
	itp.cur = nil
	itp.prof = profile{}
	itp.prevDSS = 0
	itp.spindle = 0
	itp.needsUpd.Store(false)
	core.RecordEvent(core.EvtClear, 0, 0, 0)
}

package core

// SchedulerStepTimer implements StepTimer on top of the timer scheduler.
// Each expiry calls the tick callback and re-arms one period later.
// It is used by the simulator and by targets that poll ProcessTimers.
type SchedulerStepTimer struct {
	timer   Timer
	period  uint32
	running bool
	tick    func()
}

// NewSchedulerStepTimer creates a step timer calling tick on every expiry
func NewSchedulerStepTimer(tick func()) *SchedulerStepTimer {
	st := &SchedulerStepTimer{tick: tick}
	st.timer.Handler = st.handle
	return st
}

// SetTickHandler replaces the tick callback
func (st *SchedulerStepTimer) SetTickHandler(tick func()) {
	st.tick = tick
}

func (st *SchedulerStepTimer) handle(t *Timer) uint8 {
	if st.tick != nil {
		st.tick()
	}
	// the tick may have stopped or restarted the timer
	if !st.running || TimerQueued(t) {
		return SF_DONE
	}
	t.WakeTime += st.period
	return SF_RESCHEDULE
}

// FreqToClocks implements StepTimer
func (st *SchedulerStepTimer) FreqToClocks(freq float64) Clocks {
	return FreqToClocks(freq)
}

// Start implements StepTimer
func (st *SchedulerStepTimer) Start(c Clocks) {
	st.period = c.Period()
	st.running = true
	st.timer.WakeTime = GetTime() + st.period
	RecordEvent(EvtTimerStart, 0, st.period, 0)
	ScheduleTimer(&st.timer)
}

// Change implements StepTimer. The new period applies from the next expiry.
func (st *SchedulerStepTimer) Change(c Clocks) {
	st.period = c.Period()
}

// Stop implements StepTimer
func (st *SchedulerStepTimer) Stop() {
	if st.running {
		RecordEvent(EvtTimerStop, 0, 0, 0)
	}
	st.running = false
	CancelTimer(&st.timer)
}

// Running reports whether the timer is armed
func (st *SchedulerStepTimer) Running() bool {
	return st.running
}

// Period returns the current period in timer ticks
func (st *SchedulerStepTimer) Period() uint32 {
	return st.period
}

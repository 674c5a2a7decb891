package core

import "testing"

// fakeGPIO records pin levels
type fakeGPIO struct {
	outputs map[GPIOPin]bool
	inputs  map[GPIOPin]bool
	levels  map[GPIOPin]bool
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{
		outputs: make(map[GPIOPin]bool),
		inputs:  make(map[GPIOPin]bool),
		levels:  make(map[GPIOPin]bool),
	}
}

func (g *fakeGPIO) ConfigureOutput(pin GPIOPin) error      { g.outputs[pin] = true; return nil }
func (g *fakeGPIO) ConfigureInputPullUp(pin GPIOPin) error { g.inputs[pin] = true; g.levels[pin] = true; return nil }
func (g *fakeGPIO) SetPin(pin GPIOPin, value bool) error   { g.levels[pin] = value; return nil }
func (g *fakeGPIO) ReadPin(pin GPIOPin) bool               { return g.levels[pin] }

func resetClock(t *testing.T) {
	t.Helper()
	ResetTimers()
	SetTime(0)
	t.Cleanup(ResetTimers)
}

func TestTimerOrdering(t *testing.T) {
	resetClock(t)

	var order []int
	mk := func(id int, wake uint32) *Timer {
		return &Timer{WakeTime: wake, Handler: func(*Timer) uint8 {
			order = append(order, id)
			return SF_DONE
		}}
	}
	ScheduleTimer(mk(3, 300))
	ScheduleTimer(mk(1, 100))
	ScheduleTimer(mk(2, 200))

	AdvanceTime(150)
	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("Expected only timer 1 to run, got %v", order)
	}
	AdvanceTime(200)
	if len(order) != 3 || order[1] != 2 || order[2] != 3 {
		t.Errorf("Expected timers in wake order, got %v", order)
	}
}

func TestTimerReschedule(t *testing.T) {
	resetClock(t)

	count := 0
	tm := &Timer{WakeTime: 10, Handler: func(t *Timer) uint8 {
		count++
		t.WakeTime += 10
		return SF_RESCHEDULE
	}}
	ScheduleTimer(tm)

	// several expiries fall into one advance
	AdvanceTime(55)
	if count != 5 {
		t.Errorf("Expected 5 expiries, got %d", count)
	}
	if !TimerQueued(tm) {
		t.Error("Expected rescheduled timer to stay queued")
	}

	CancelTimer(tm)
	AdvanceTime(100)
	if count != 5 || TimerQueued(tm) {
		t.Errorf("Expected cancelled timer not to run, got %d expiries", count)
	}
}

func TestTimerWraparound(t *testing.T) {
	resetClock(t)
	SetTime(0xFFFFFF00)

	ran := false
	ScheduleTimer(&Timer{WakeTime: 0x00000010, Handler: func(*Timer) uint8 {
		ran = true
		return SF_DONE
	}})

	AdvanceTime(0x80)
	if ran {
		t.Error("Expected timer past the wrap not to run early")
	}
	AdvanceTime(0x100)
	if !ran {
		t.Error("Expected timer to run after the clock wrapped")
	}
}

func TestFreqToClocks(t *testing.T) {
	tests := []struct {
		freq      float64
		ticks     uint16
		prescaler uint16
	}{
		{1000, 500, 1},
		{25000, 20, 1},
		{5, 50000, 2},
		{0, 62500, 8},
	}
	for _, tt := range tests {
		c := FreqToClocks(tt.freq)
		if c.Ticks != tt.ticks || c.Prescaler != tt.prescaler {
			t.Errorf("Freq %g: expected %d/%d, got %d/%d", tt.freq, tt.ticks, tt.prescaler, c.Ticks, c.Prescaler)
		}
	}
	if p := (Clocks{Ticks: 100, Prescaler: 4}).Period(); p != 400 {
		t.Errorf("Expected period 400, got %d", p)
	}
}

func TestSchedulerStepTimer(t *testing.T) {
	resetClock(t)

	ticks := 0
	st := NewSchedulerStepTimer(func() { ticks++ })
	st.Start(Clocks{Ticks: 10, Prescaler: 1})
	if !st.Running() {
		t.Fatal("Expected timer running")
	}

	AdvanceTime(100)
	if ticks != 10 {
		t.Errorf("Expected 10 ticks, got %d", ticks)
	}

	st.Change(Clocks{Ticks: 20, Prescaler: 1})
	AdvanceTime(100)
	if ticks != 15 {
		t.Errorf("Expected 15 ticks after period change, got %d", ticks)
	}

	st.Stop()
	AdvanceTime(100)
	if ticks != 15 || st.Running() {
		t.Errorf("Expected no ticks after stop, got %d", ticks)
	}
}

func TestSchedulerStepTimerStopFromTick(t *testing.T) {
	resetClock(t)

	ticks := 0
	var st *SchedulerStepTimer
	st = NewSchedulerStepTimer(func() {
		ticks++
		if ticks == 3 {
			st.Stop()
		}
	})
	st.Start(Clocks{Ticks: 5, Prescaler: 1})
	AdvanceTime(100)
	if ticks != 3 {
		t.Errorf("Expected the tick handler to stop the timer at 3, got %d", ticks)
	}
}

func TestGPIOStepOutputs(t *testing.T) {
	g := newFakeGPIO()
	out, err := NewGPIOStepOutputs(g, []GPIOPin{1, 2}, []GPIOPin{3, 4})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !g.outputs[1] || !g.outputs[4] {
		t.Error("Expected pins configured as outputs")
	}

	out.SetSteps(0b01)
	out.ToggleSteps(0b11)
	if g.levels[1] || !g.levels[2] {
		t.Errorf("Expected step pins 0/1, got %v/%v", g.levels[1], g.levels[2])
	}
	out.SetDirs(0b10)
	if g.levels[3] || !g.levels[4] {
		t.Errorf("Expected dir pins 0/1, got %v/%v", g.levels[3], g.levels[4])
	}

	if _, err := NewGPIOStepOutputs(g, []GPIOPin{1}, nil); err == nil {
		t.Error("Expected error for mismatched pin lists")
	}
	nine := []GPIOPin{0, 1, 2, 3, 4, 5, 6, 7, 8}
	if _, err := NewGPIOStepOutputs(g, nine, nine); err == nil {
		t.Error("Expected error for more pins than a mask holds")
	}
}

type fakePWM struct {
	duty map[PWMPin]PWMValue
}

func (p *fakePWM) ConfigureHardwarePWM(pin PWMPin, cycleTicks uint32) (uint32, error) {
	return cycleTicks, nil
}
func (p *fakePWM) SetDutyCycle(pin PWMPin, value PWMValue) error { p.duty[pin] = value; return nil }
func (p *fakePWM) GetMaxValue() uint32                          { return 1000 }

func TestPWMTool(t *testing.T) {
	pwm := &fakePWM{duty: make(map[PWMPin]PWMValue)}
	g := newFakeGPIO()
	dir := GPIOPin(9)
	tool, err := NewPWMTool(pwm, 5, 1000, g, &dir, 10, 11)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	tool.SetSpeed(-255)
	if pwm.duty[5] != 1000 || !g.levels[9] {
		t.Errorf("Expected full duty reversed, got %d dir %v", pwm.duty[5], g.levels[9])
	}
	tool.SetSpeed(51)
	if pwm.duty[5] != 200 || g.levels[9] {
		t.Errorf("Expected duty 200 forward, got %d dir %v", pwm.duty[5], g.levels[9])
	}
	tool.SetCoolant(0b10)
	if g.levels[10] || !g.levels[11] {
		t.Errorf("Expected mist only, got flood %v mist %v", g.levels[10], g.levels[11])
	}
	if tool.Speed() != 51 {
		t.Errorf("Expected speed 51, got %d", tool.Speed())
	}
}

func TestEndstopsInvert(t *testing.T) {
	g := newFakeGPIO()
	probe := GPIOPin(7)
	es, err := NewEndstops(g, []GPIOPin{1, 2, 3}, &probe, 0b111, true)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// pulled up, inverted: nothing triggered
	if es.Limits() != 0 || es.Probe() {
		t.Errorf("Expected no triggers at rest, got %03b probe %v", es.Limits(), es.Probe())
	}
	g.levels[2] = false
	g.levels[7] = false
	if es.Limits() != 0b010 || !es.Probe() {
		t.Errorf("Expected Y limit and probe, got %03b probe %v", es.Limits(), es.Probe())
	}
}

func TestEndstopsDebounce(t *testing.T) {
	resetClock(t)
	g := newFakeGPIO()
	es, _ := NewEndstops(g, []GPIOPin{1, 2}, nil, 0, false)
	g.levels[1] = false
	g.levels[2] = false

	var changes []uint8
	es.StartSampling(10, 3, func(limits uint8) { changes = append(changes, limits) })
	defer es.StopSampling()

	// a one sample glitch is ignored
	g.levels[1] = true
	AdvanceTime(10)
	g.levels[1] = false
	AdvanceTime(10)
	if len(changes) != 0 || es.Limits() != 0 {
		t.Fatalf("Expected glitch to be filtered, got %v", changes)
	}

	g.levels[2] = true
	AdvanceTime(20)
	if len(changes) != 0 {
		t.Fatalf("Expected no change before 3 samples, got %v", changes)
	}
	AdvanceTime(10)
	if len(changes) != 1 || changes[0] != 0b10 || es.Limits() != 0b10 {
		t.Errorf("Expected debounced change to 10, got %v", changes)
	}
	if es.Probe() {
		t.Error("Expected no probe without a probe pin")
	}
}

func TestEventRing(t *testing.T) {
	ClearEvents()
	SetEventsEnabled(true)
	for i := 0; i < EventRingSize+5; i++ {
		RecordEvent(EvtSegment, uint8(i), uint32(i), 0)
	}
	events := Events()
	if len(events) != EventRingSize {
		t.Fatalf("Expected %d events, got %d", EventRingSize, len(events))
	}
	if events[len(events)-1].Value1 != EventRingSize+4 {
		t.Errorf("Expected newest event last, got %d", events[len(events)-1].Value1)
	}
}

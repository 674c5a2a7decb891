package gcode

import (
	"errors"
	"math"
	"testing"

	"gocnc/standalone/config"
	"gocnc/standalone/motion"
	"gocnc/standalone/planner"
)

type call struct {
	kind      string
	target    []float64
	params    motion.Params
	offA      float64
	offB      float64
	radius    float64
	axes      [2]int
	clockwise bool
	invert    bool
}

// fakeMotion records every call and tracks the commanded position
type fakeMotion struct {
	calls []call
	pos   []float64
	err   error
}

func (f *fakeMotion) record(c call) error {
	f.calls = append(f.calls, c)
	if f.err != nil {
		return f.err
	}
	if c.target != nil {
		copy(f.pos, c.target)
	}
	return nil
}

func (f *fakeMotion) Line(target []float64, p *motion.Params) error {
	return f.record(call{kind: "line", target: append([]float64(nil), target...), params: *p})
}

func (f *fakeMotion) Arc(target []float64, offA, offB, radius float64, a, b int, clockwise bool, p *motion.Params) error {
	return f.record(call{kind: "arc", target: append([]float64(nil), target...), params: *p,
		offA: offA, offB: offB, radius: radius, axes: [2]int{a, b}, clockwise: clockwise})
}

func (f *fakeMotion) Dwell(p *motion.Params) error { return f.record(call{kind: "dwell", params: *p}) }
func (f *fakeMotion) Pause() error                 { return f.record(call{kind: "pause"}) }
func (f *fakeMotion) UpdateTools(p *motion.Params) error {
	return f.record(call{kind: "tools", params: *p})
}

func (f *fakeMotion) Probe(target []float64, invert bool, p *motion.Params) error {
	return f.record(call{kind: "probe", target: append([]float64(nil), target...), params: *p, invert: invert})
}

func (f *fakeMotion) GetPosition(pos []float64) { copy(pos, f.pos) }

func (f *fakeMotion) last() call {
	if len(f.calls) == 0 {
		return call{}
	}
	return f.calls[len(f.calls)-1]
}

type testInterp struct {
	interp *Interpreter
	mc     *fakeMotion
	parser *Parser
	homed  int
}

func newTestInterp() *testInterp {
	s := config.DefaultConfig()
	ti := &testInterp{mc: &fakeMotion{pos: make([]float64, len(s.Axes))}, parser: NewParser()}
	ti.interp = NewInterpreter(s, ti.mc, func() error {
		ti.homed++
		ti.mc.pos = []float64{2, 2, -2}
		return nil
	})
	return ti
}

func (ti *testInterp) run(t *testing.T, lines ...string) {
	t.Helper()
	for _, line := range lines {
		cmd, err := ti.parser.ParseLine(line)
		if err != nil {
			t.Fatalf("Failed to parse '%s': %v", line, err)
		}
		if err := ti.interp.Execute(cmd); err != nil {
			t.Fatalf("Failed to execute '%s': %v", line, err)
		}
	}
}

func near(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func TestRapidAndFeedMoves(t *testing.T) {
	ti := newTestInterp()
	ti.run(t, "G0 X10 Y20")

	c := ti.mc.last()
	if c.kind != "line" || !c.params.Rapid {
		t.Fatalf("Expected a rapid line, got %+v", c)
	}
	if !near(c.target, []float64{10, 20, 0}) {
		t.Errorf("Expected target 10,20,0, got %v", c.target)
	}

	ti.run(t, "N7 G1 Z-1 F300")
	c = ti.mc.last()
	if c.params.Rapid || c.params.Feed != 300 || c.params.Line != 7 {
		t.Errorf("Expected feed move at 300 on line 7, got %+v", c.params)
	}
	if !near(c.target, []float64{10, 20, -1}) {
		t.Errorf("Expected target 10,20,-1, got %v", c.target)
	}

	// motion mode and feed are modal
	ti.run(t, "X15")
	c = ti.mc.last()
	if c.kind != "line" || c.params.Rapid || c.params.Feed != 300 {
		t.Errorf("Expected modal G1 F300, got %+v", c)
	}
}

func TestRelativeAndInches(t *testing.T) {
	ti := newTestInterp()
	ti.run(t, "G91 G1 X5 F100", "X5", "G20 Y1", "G90 G21 X1")

	want := [][]float64{{5, 0, 0}, {10, 0, 0}, {10, 25.4, 0}, {1, 25.4, 0}}
	if len(ti.mc.calls) != len(want) {
		t.Fatalf("Expected %d moves, got %d", len(want), len(ti.mc.calls))
	}
	for i, w := range want {
		if !near(ti.mc.calls[i].target, w) {
			t.Errorf("Move %d: expected %v, got %v", i, w, ti.mc.calls[i].target)
		}
	}

	ti.run(t, "G20 F10")
	if got := ti.interp.GetState().Feed; got != 254 {
		t.Errorf("Expected feed 254mm/min, got %g", got)
	}
}

func TestOffsets(t *testing.T) {
	ti := newTestInterp()
	ti.run(t, "G1 X10 Y10 F100", "G92 X0 Y0", "X5")

	if c := ti.mc.last(); !near(c.target, []float64{15, 10, 0}) {
		t.Errorf("Expected G92 offset applied, got %v", c.target)
	}
	var wpos [3]float64
	ti.interp.WorkPosition(wpos[:])
	if !near(wpos[:], []float64{5, 0, 0}) {
		t.Errorf("Expected work position 5,0,0, got %v", wpos)
	}
}

func TestArcWords(t *testing.T) {
	ti := newTestInterp()
	ti.run(t, "G1 X20 Y10 F500", "G3 X10 Y20 I-10 J0")

	c := ti.mc.last()
	if c.kind != "arc" || c.clockwise {
		t.Fatalf("Expected a counterclockwise arc, got %+v", c)
	}
	if c.offA != -10 || c.offB != 0 || c.radius != 10 || c.axes != [2]int{0, 1} {
		t.Errorf("Expected offsets -10,0 radius 10 in XY, got %+v", c)
	}

	// the same arc in radius form
	ti = newTestInterp()
	ti.run(t, "G1 X20 Y10 F500", "G3 X10 Y20 R10")
	c = ti.mc.last()
	if math.Abs(c.offA+10) > 1e-9 || math.Abs(c.offB) > 1e-9 || c.radius != 10 {
		t.Errorf("Expected R form to find center offset -10,0, got %g,%g", c.offA, c.offB)
	}

	// G18 arcs run in ZX
	ti.run(t, "G18 G2 X10 Z-10 K-5 I0")
	c = ti.mc.last()
	if c.axes != [2]int{2, 0} || !c.clockwise || c.offA != -5 {
		t.Errorf("Expected a clockwise ZX arc with K offset, got %+v", c)
	}
}

func TestArcErrors(t *testing.T) {
	ti := newTestInterp()
	ti.run(t, "G1 X20 Y10 F500")

	tests := []string{
		"G2 X30 Y10 R2",
		"G2 X30 Y10",
		"G2 X20 Y10 R5",
	}
	for _, line := range tests {
		cmd, _ := ti.parser.ParseLine(line)
		if err := ti.interp.Execute(cmd); !errors.Is(err, ErrArcRadius) {
			t.Errorf("Expected ErrArcRadius for '%s', got %v", line, err)
		}
	}
}

func TestSpindleAndCoolant(t *testing.T) {
	ti := newTestInterp()
	ti.run(t, "M3 S1000")

	c := ti.mc.last()
	if c.kind != "tools" || c.params.Spindle != 1000 || c.params.Tool.Spindle != planner.SpindleCW {
		t.Fatalf("Expected a CW tool update at 1000, got %+v", c)
	}

	ti.run(t, "M4 M8")
	c = ti.mc.last()
	if c.params.Spindle != -1000 || c.params.Tool.Coolant != planner.CoolantFlood {
		t.Errorf("Expected CCW with flood, got %+v", c.params)
	}

	// a speed change while running is a tool update
	n := len(ti.mc.calls)
	ti.run(t, "S500")
	if len(ti.mc.calls) != n+1 || ti.mc.last().params.Spindle != -500 {
		t.Errorf("Expected S to update the running spindle, got %+v", ti.mc.last())
	}

	// with axis words the speed travels with the move
	ti.run(t, "G1 X1 S800 F100")
	if c := ti.mc.last(); c.kind != "line" || c.params.Spindle != -800 {
		t.Errorf("Expected the move to carry the speed, got %+v", c)
	}

	ti.run(t, "M5 M9")
	c = ti.mc.last()
	if c.params.Spindle != 0 || c.params.Tool.Coolant != 0 {
		t.Errorf("Expected tools off, got %+v", c.params)
	}
}

func TestDwellPauseAndEnd(t *testing.T) {
	ti := newTestInterp()
	ti.run(t, "G4 P1.5")
	if c := ti.mc.last(); c.kind != "dwell" || c.params.Dwell != 1500 {
		t.Errorf("Expected a 1500ms dwell, got %+v", c)
	}

	ti.run(t, "M0")
	if c := ti.mc.last(); c.kind != "pause" {
		t.Errorf("Expected a pause, got %+v", c)
	}

	ti.run(t, "G91 G93 M3 S100", "M30")
	c := ti.mc.last()
	if c.kind != "tools" || c.params.Tool.Spindle != planner.SpindleOff {
		t.Errorf("Expected program end to stop the spindle, got %+v", c)
	}
	st := ti.interp.GetState()
	if !st.Absolute || st.InverseTime {
		t.Errorf("Expected modal state reset, got %+v", st)
	}
}

func TestHomeAndProbe(t *testing.T) {
	ti := newTestInterp()
	ti.run(t, "G28")
	if ti.homed != 1 {
		t.Fatalf("Expected homing to run once, got %d", ti.homed)
	}

	ti.run(t, "G91 G1 X1 F100")
	if c := ti.mc.last(); !near(c.target, []float64{3, 2, -2}) {
		t.Errorf("Expected position re-read after homing, got %v", c.target)
	}

	ti.run(t, "G90 G38.2 Z-10 F50")
	c := ti.mc.last()
	if c.kind != "probe" || c.invert || !near(c.target, []float64{3, 2, -10}) {
		t.Errorf("Expected a probe towards Z-10, got %+v", c)
	}
	if got := ti.interp.GetState().Motion; got != modeNone {
		t.Errorf("Expected the probe mode to be cancelled, got %d", got)
	}

	ti.run(t, "G38.4 Z0")
	if c := ti.mc.last(); c.kind != "probe" || !c.invert {
		t.Errorf("Expected a probe away, got %+v", c)
	}
}

func TestProbeErrorNamesCode(t *testing.T) {
	ti := newTestInterp()
	ti.mc.err = errors.New("probe fail")

	cmd, _ := ti.parser.ParseLine("G38.2 Z-10 F50")
	err := ti.interp.Execute(cmd)
	if err == nil || err.Error() != "G38.2: probe fail" {
		t.Errorf("Expected error prefixed with G38.2, got %v", err)
	}
}

func TestInterpreterErrors(t *testing.T) {
	tests := []struct {
		line string
		want error
	}{
		{"G0 G1 X1", ErrModalConflict},
		{"G99", ErrUnsupported},
		{"M104", ErrUnsupported},
		{"G38.3 Z1", ErrUnsupported},
		{"G80 X1", ErrUnsupported},
	}

	for _, tt := range tests {
		ti := newTestInterp()
		cmd, err := ti.parser.ParseLine(tt.line)
		if err != nil {
			t.Fatalf("Failed to parse '%s': %v", tt.line, err)
		}
		if err := ti.interp.Execute(cmd); !errors.Is(err, tt.want) {
			t.Errorf("Expected %v for '%s', got %v", tt.want, tt.line, err)
		}
	}
}

func TestModalFlagsReachMotion(t *testing.T) {
	ti := newTestInterp()
	ti.run(t, "G64 M49 G93 G1 X10 F2")

	p := ti.mc.last().params
	if !p.Continuous || p.ExactStop || p.FeedOverride || !p.InverseTime || p.Feed != 2 {
		t.Errorf("Expected continuous inverse-time move without overrides, got %+v", p)
	}

	ti.run(t, "G61 M48 G94 X20 F100")
	p = ti.mc.last().params
	if p.Continuous || !p.ExactStop || !p.FeedOverride || p.InverseTime {
		t.Errorf("Expected exact stop with overrides, got %+v", p)
	}
}

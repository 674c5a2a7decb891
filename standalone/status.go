package standalone

import (
	"strconv"
	"strings"

	"gocnc/standalone/config"
	"gocnc/standalone/kinematics"
	"gocnc/standalone/machine"
	"gocnc/standalone/planner"
)

// Status is a snapshot of the machine for reporting
type Status struct {
	State       string
	Alarm       machine.AlarmCode
	MPos        []float64 // machine position from the real-time step counters
	Feed        float64   // mm/min
	Spindle     int16     // tool output command
	Line        uint32
	PlannerFree int
	SegmentFree int
	Overrides   planner.Overrides
	Limits      uint8
	CheckMode   bool
}

// Status returns a snapshot of the machine
func (m *Manager) Status() Status {
	flags := m.state.Flags()
	st := Status{
		State:       stateName(flags),
		Alarm:       m.state.Alarm(),
		Feed:        m.itp.RTFeed(),
		Spindle:     m.itp.RTSpindle(),
		Line:        m.itp.RTLine(),
		PlannerFree: m.planner.FreeBlocks(),
		SegmentFree: m.itp.FreeSegments(),
		Overrides:   m.planner.Overrides(),
		Limits:      m.lastLimits,
		CheckMode:   m.mc.CheckMode(),
	}

	var steps [config.MaxAxes]int32
	n := len(m.settings.Axes)
	m.itp.RTPosition(steps[:n])
	st.MPos = make([]float64, n)
	m.kin.StepsToCoordinates(steps[:n], st.MPos)
	if tr, ok := m.kin.(kinematics.Transformer); ok {
		tr.ApplyReverseTransform(st.MPos)
	}
	return st
}

func stateName(f machine.ExecFlag) string {
	switch {
	case f&machine.ExecAlarm != 0:
		return "Alarm"
	case f&machine.ExecHoming != 0:
		return "Home"
	case f&machine.ExecHold != 0:
		return "Hold"
	case f&machine.ExecJog != 0:
		return "Jog"
	case f&machine.ExecRun != 0:
		return "Run"
	}
	return "Idle"
}

// String formats the snapshot as a status report line:
// <Idle|MPos:0.000,0.000,0.000|Bf:20,5|FS:0,0|Ov:100,100,100>
func (s Status) String() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(s.State)
	if s.CheckMode {
		b.WriteString(":Check")
	}
	b.WriteString("|MPos:")
	for i, v := range s.MPos {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'f', 3, 64))
	}
	b.WriteString("|Bf:")
	b.WriteString(strconv.Itoa(s.PlannerFree))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(s.SegmentFree))
	if s.Line != 0 {
		b.WriteString("|Ln:")
		b.WriteString(strconv.FormatUint(uint64(s.Line), 10))
	}
	b.WriteString("|FS:")
	b.WriteString(strconv.FormatFloat(s.Feed, 'f', 0, 64))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(int(s.Spindle)))
	if s.Limits != 0 {
		b.WriteString("|Pn:")
		for i := 0; i < config.MaxAxes; i++ {
			if s.Limits&(1<<i) != 0 {
				b.WriteByte("XYZABC"[i])
			}
		}
	}
	b.WriteString("|Ov:")
	b.WriteString(strconv.Itoa(int(s.Overrides.Feed)))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(int(s.Overrides.Rapid)))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(int(s.Overrides.Spindle)))
	if s.Alarm != machine.AlarmNone {
		b.WriteString("|A:")
		b.WriteString(s.Alarm.String())
	}
	b.WriteByte('>')
	return b.String()
}

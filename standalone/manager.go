// Package standalone runs the motion pipeline on the machine itself:
// g-code in, step pulses out.
package standalone

import (
	"errors"
	"strings"

	"gocnc/core"
	"gocnc/standalone/config"
	"gocnc/standalone/gcode"
	"gocnc/standalone/kinematics"
	"gocnc/standalone/machine"
	"gocnc/standalone/motion"
	"gocnc/standalone/planner"
	"gocnc/standalone/stepgen"
)

// Realtime command bytes, acted on as soon as they are received
const (
	CmdStatus   = '?'
	CmdHold     = '!'
	CmdResume   = '~'
	CmdReset    = 0x18
	CmdFeedUp   = 0x91
	CmdFeedDown = 0x92
	CmdFeedOff  = 0x90
)

// Manager owns the motion pipeline and every piece of state it shares:
// settings, exec state, planner, interpolator, motion control and the
// g-code interpreter. It must not be copied.
type Manager struct {
	settings *config.Settings
	state    machine.State

	kin     kinematics.Kinematics
	planner *planner.Planner
	itp     *stepgen.Interpolator
	mc      *motion.Controller
	parser  *gcode.Parser
	interp  *gcode.Interpreter
	sensors motion.Sensors

	tasks      []func()
	lastLimits uint8

	// Serial interface
	rxQueue      []byte
	inputBuffer  []byte
	outputBuffer []byte

	initialized bool
}

// NewManager creates a new standalone mode manager
func NewManager(configData []byte) (*Manager, error) {
	cfg, err := config.LoadConfig(configData)
	if err != nil {
		return nil, err
	}

	return NewManagerWithConfig(cfg)
}

// NewManagerWithConfig creates a manager with an existing config
func NewManagerWithConfig(cfg *config.Settings) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		settings:     cfg,
		parser:       gcode.NewParser(),
		inputBuffer:  make([]byte, 0, 256),
		outputBuffer: make([]byte, 0, 256),
	}, nil
}

// Initialize builds the pipeline on top of the given outputs. sensors may
// be nil.
func (m *Manager) Initialize(hw stepgen.Hardware, sensors motion.Sensors) error {
	if m.initialized {
		return errors.New("already initialized")
	}
	if hw.Timer == nil || hw.Steps == nil {
		return errors.New("step timer and step outputs are required")
	}

	kin, err := kinematics.NewCartesian(m.settings)
	if err != nil {
		return err
	}

	m.kin = kin
	m.sensors = sensors
	m.planner = planner.NewPlanner(m.settings)
	m.itp = stepgen.New(m.settings, m.planner, &m.state, hw)
	m.mc = motion.New(m.settings, kin, &m.state, m.planner, m.itp, m, sensors)
	m.interp = gcode.NewInterpreter(m.settings, m.mc, m.Home)

	hw.Steps.SetSteps(m.settings.StepInvertMask)
	m.state.Set(machine.ExecUnhomed)
	m.initialized = true
	return nil
}

// AddTask registers a function run on every DoTasks pass (time base,
// serial polling)
func (m *Manager) AddTask(fn func()) {
	m.tasks = append(m.tasks, fn)
}

// Settings returns the machine settings
func (m *Manager) Settings() *config.Settings { return m.settings }

// State returns the exec state
func (m *Manager) State() *machine.State { return &m.state }

// Planner returns the look-ahead planner
func (m *Manager) Planner() *planner.Planner { return m.planner }

// Interpolator returns the segment generator and step ISR
func (m *Manager) Interpolator() *stepgen.Interpolator { return m.itp }

// Motion returns the motion controller
func (m *Manager) Motion() *motion.Controller { return m.mc }

// Interpreter returns the g-code interpreter
func (m *Manager) Interpreter() *gcode.Interpreter { return m.interp }

// Tick is the step timer interrupt entry
func (m *Manager) Tick() {
	m.itp.Tick()
}

// DoTasks runs one pass of the background tasks: registered tasks, limit
// polling and segment generation. It returns false while the machine is
// locked or a homing switch has been hit.
func (m *Manager) DoTasks() bool {
	for _, fn := range m.tasks {
		fn()
	}
	m.pollLimits()

	if m.state.Has(machine.Locked | machine.ExecHomingHit) {
		return false
	}
	m.itp.Run()

	if m.state.Has(machine.ExecJog) && !m.state.Has(machine.ExecRun) && m.itp.IsEmpty() && m.planner.Empty() {
		m.state.Clear(machine.ExecJog)
	}
	return !m.state.Has(machine.Locked | machine.ExecHomingHit)
}

// DelayMs runs background tasks for ms milliseconds
func (m *Manager) DelayMs(ms uint32) bool {
	end := core.GetTime() + core.TimerFromMS(ms)
	for int32(core.GetTime()-end) < 0 {
		if !m.DoTasks() {
			return false
		}
	}
	return true
}

// Sync waits until every queued move has been executed
func (m *Manager) Sync() error {
	return m.itp.Sync(m)
}

func (m *Manager) pollLimits() {
	if m.sensors == nil {
		return
	}
	limits := m.sensors.Limits()
	if limits == m.lastLimits {
		return
	}
	m.lastLimits = limits
	if limits != 0 {
		m.LimitsISR(limits)
	}
}

// LimitsISR handles a limit switch change. During homing the switches of
// the axis being homed end the move; otherwise a tripped switch is a hard
// limit alarm when hard limits are enabled.
func (m *Manager) LimitsISR(limits uint8) {
	if m.state.Has(machine.ExecHoming) {
		if limits&m.mc.HomingLimits() != 0 {
			m.state.Set(machine.ExecHomingHit)
			m.itp.Stop()
			core.RecordEvent(core.EvtLimitHit, limits, 0, 0)
		}
		return
	}
	if limits != 0 && m.settings.HardLimits {
		m.Alarm(machine.AlarmHardLimit)
	}
}

// FeedHold decelerates to a stop inside the current move
func (m *Manager) FeedHold() {
	if m.state.Has(machine.ExecHold) {
		return
	}
	m.state.Set(machine.ExecHold)
	m.itp.Update()
	core.RecordEvent(core.EvtHold, 1, 0, 0)
}

// Resume releases a feed hold
func (m *Manager) Resume() {
	if !m.state.Has(machine.ExecHold) || m.state.Has(machine.Locked) {
		return
	}
	m.state.Clear(machine.ExecHold)
	m.itp.Update()
	core.RecordEvent(core.EvtHold, 0, 0, 0)
	m.itp.Run()
}

// Alarm stops the steppers at once, discards every queued move and locks
// the machine until Unlock
func (m *Manager) Alarm(code machine.AlarmCode) {
	m.state.RaiseAlarm(code)
	m.halt()
	core.RecordEvent(core.EvtAlarm, uint8(code), 0, 0)
	core.DebugPrintln("[ALARM] " + code.String())
	m.SendResponse("ALARM: " + code.String() + "\n")
	if core.IsDebugEnabled() {
		core.DumpEvents()
	}
}

// Unlock clears an alarm
func (m *Manager) Unlock() {
	m.state.Unlock()
	m.state.Clear(machine.ExecHold)
	m.resync()
}

// Stop halts motion and discards every queued move
func (m *Manager) Stop() {
	m.halt()
	m.state.Clear(machine.ExecHold | machine.ExecJog)
}

// Flush aborts a move blocked on a full planner, then stops
func (m *Manager) Flush() {
	m.state.RequestFlush()
	m.Stop()
}

// EmergencyStop kills all motion. Only Unlock recovers.
func (m *Manager) EmergencyStop() {
	m.state.Set(machine.ExecKill)
	m.Alarm(machine.AlarmAbortCycle)
}

func (m *Manager) halt() {
	m.itp.Stop()
	m.itp.Clear()
	m.planner.Clear()
	m.resync()
}

// resync takes the real-time position as the position of both motion
// control and the interpreter
func (m *Manager) resync() {
	m.mc.SyncPosition()
	m.interp.Sync()
}

// Home homes every axis, Z first. Alarms are cleared first.
func (m *Manager) Home() error {
	if m.state.Has(machine.ExecKill) {
		return machine.ErrCriticalFail
	}
	if m.sensors == nil {
		return motion.ErrNoSensors
	}
	m.Unlock()

	n := len(m.settings.Axes)
	order := make([]int, 0, n)
	if n > 2 {
		order = append(order, 2)
	}
	for i := 0; i < n; i++ {
		if i != 2 {
			order = append(order, i)
		}
	}
	for _, axis := range order {
		if err := m.mc.HomeAxis(axis, 1<<axis); err != nil {
			return err
		}
	}
	m.state.Clear(machine.ExecUnhomed)
	m.interp.Sync()
	return nil
}

// ProcessLine processes a line of G-code or a $ system command
func (m *Manager) ProcessLine(line string) error {
	if !m.initialized {
		return errors.New("manager not initialized")
	}

	// a flush only aborts the line that was blocked when it arrived
	m.state.TakeFlush()

	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "$") {
		return m.systemCommand(line)
	}

	cmd, err := m.parser.ParseLine(line)
	if err != nil {
		return err
	}
	if cmd == nil {
		return nil
	}
	if m.state.Has(machine.Locked) {
		return machine.ErrCriticalFail
	}
	return m.interp.Execute(cmd)
}

func (m *Manager) systemCommand(line string) error {
	switch strings.ToUpper(line) {
	case "$X":
		m.Unlock()
		return nil
	case "$H":
		return m.Home()
	case "$C":
		m.mc.SetCheckMode(!m.mc.CheckMode())
		return nil
	}
	if strings.HasPrefix(strings.ToUpper(line), "$J=") {
		return m.jog(line[3:])
	}
	return errors.New("unsupported system command: " + line)
}

// jog runs a $J= line: g-code axis words and a feed, executed as a jog
func (m *Manager) jog(words string) error {
	cmd, err := m.parser.ParseLine(words)
	if err != nil {
		return err
	}
	if cmd == nil || !cmd.HasParameter('F') {
		return motion.ErrNoFeed
	}
	var buf [config.MaxAxes]float64
	target := buf[:len(m.settings.Axes)]
	m.mc.GetPosition(target)
	relative := cmd.HasCode('G', 91)
	for i, axis := range m.settings.Axes {
		if axis.Name == "" {
			continue
		}
		if v, ok := cmd.Parameters[strings.ToUpper(axis.Name)[0]]; ok {
			if relative {
				target[i] += v
			} else {
				target[i] = v
			}
		}
	}
	if err := m.mc.Jog(target, &motion.Params{Feed: cmd.GetParameter('F', 0)}); err != nil {
		return err
	}
	m.interp.Sync()
	return nil
}

// ProcessByte processes a single byte of input (for serial streaming).
// Realtime commands bypass the line buffer.
func (m *Manager) ProcessByte(b byte) error {
	switch b {
	case CmdStatus:
		m.SendResponse(m.Status().String() + "\n")
		return nil
	case CmdHold:
		m.FeedHold()
		return nil
	case CmdResume:
		m.Resume()
		return nil
	case CmdReset:
		m.Flush()
		m.interp.Reset()
		return nil
	case CmdFeedUp:
		m.planner.FeedOverrideAdd(10)
		return nil
	case CmdFeedDown:
		m.planner.FeedOverrideAdd(-10)
		return nil
	case CmdFeedOff:
		m.planner.OverridesReset()
		return nil
	}

	if b != '\n' && b != '\r' {
		m.inputBuffer = append(m.inputBuffer, b)
		return nil
	}

	line := string(m.inputBuffer)
	m.inputBuffer = m.inputBuffer[:0]
	if len(strings.TrimSpace(line)) == 0 {
		return nil
	}

	if err := m.ProcessLine(line); err != nil {
		m.SendResponse("error: " + err.Error() + "\n")
		return err
	}
	m.SendResponse("ok\n")
	return nil
}

// IsRealtime reports whether b is a realtime command byte
func IsRealtime(b byte) bool {
	switch b {
	case CmdStatus, CmdHold, CmdResume, CmdReset, CmdFeedUp, CmdFeedDown, CmdFeedOff:
		return true
	}
	return false
}

// Receive takes a byte from the serial link. It is meant to be called from
// a background task: realtime commands act at once, other bytes wait for
// ProcessInput.
func (m *Manager) Receive(b byte) {
	if IsRealtime(b) {
		m.ProcessByte(b)
		return
	}
	m.rxQueue = append(m.rxQueue, b)
}

// ProcessInput feeds the received bytes to ProcessByte. A complete line
// blocks until it is queued for motion, and bytes received meanwhile are
// handled in the same call. It must not be called from a task.
func (m *Manager) ProcessInput() {
	for len(m.rxQueue) > 0 {
		b := m.rxQueue[0]
		m.rxQueue = m.rxQueue[1:]
		m.ProcessByte(b)
	}
}

// SendResponse queues a response to be sent to the host
func (m *Manager) SendResponse(response string) {
	m.outputBuffer = append(m.outputBuffer, response...)
}

// GetOutput returns any pending output and clears the buffer
func (m *Manager) GetOutput() []byte {
	if len(m.outputBuffer) == 0 {
		return nil
	}

	output := make([]byte, len(m.outputBuffer))
	copy(output, m.outputBuffer)
	m.outputBuffer = m.outputBuffer[:0]
	return output
}

// Start announces the manager on the output
func (m *Manager) Start() error {
	if !m.initialized {
		return errors.New("manager not initialized")
	}

	m.SendResponse("gocnc ready\n")
	return nil
}

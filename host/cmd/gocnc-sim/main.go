// gocnc-sim runs the motion pipeline on the host against simulated
// steppers, tool and switches. It either executes a g-code file in
// simulated time or serves the machine on a serial device in wall-clock
// time so gocnc-host can drive it.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gocnc/core"
	"gocnc/host/serial"
	"gocnc/host/sim"
	"gocnc/standalone"
	"gocnc/standalone/config"
	"gocnc/standalone/machine"
	"gocnc/standalone/stepgen"
)

var (
	configPath = flag.String("config", "", "Machine configuration (JSON); default is a 3 axis mill")
	gcodePath  = flag.String("gcode", "", "G-code file to run in simulated time")
	portPath   = flag.String("port", "", "Serve the machine on this serial device (e.g. one end of a pty pair)")
	quantum    = flag.Uint("quantum", 50, "Simulated microseconds per background pass")
	status     = flag.Bool("status", false, "Print a status report after every line")
	home       = flag.Bool("home", false, "Home all axes before running")
	debug      = flag.Bool("debug", false, "Print debug messages and the event ring on alarm")
)

type simMachine struct {
	mgr      *standalone.Manager
	steppers *sim.Steppers
	tool     *sim.Tool
	switches *sim.Switches
	timer    *core.SchedulerStepTimer
}

func main() {
	flag.Parse()

	settings := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if settings, err = config.LoadFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if *debug {
		core.SetDebugWriter(func(s string) { fmt.Fprintln(os.Stderr, s) })
		core.SetDebugEnabled(true)
	}

	m, err := newSimMachine(settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *portPath != "":
		err = m.serve(*portPath)
	case *gcodePath != "":
		err = m.runFile(*gcodePath)
	default:
		err = m.runLines(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newSimMachine(settings *config.Settings) (*simMachine, error) {
	mgr, err := standalone.NewManagerWithConfig(settings)
	if err != nil {
		return nil, err
	}

	m := &simMachine{
		mgr:      mgr,
		steppers: sim.NewSteppers(settings),
		tool:     &sim.Tool{},
	}
	m.switches = sim.NewSwitches(settings, m.steppers)
	m.timer = core.NewSchedulerStepTimer(mgr.Tick)

	core.SetTime(0)
	core.ResetTimers()
	core.TimerInit()

	hw := stepgen.Hardware{Timer: m.timer, Steps: m.steppers, Tool: m.tool}
	if err := mgr.Initialize(hw, m.switches); err != nil {
		return nil, err
	}
	return m, nil
}

// useSimulatedTime advances the clock by the quantum on every pass
func (m *simMachine) useSimulatedTime() {
	q := uint32(*quantum)
	if q == 0 {
		q = 1
	}
	m.mgr.AddTask(func() {
		core.AdvanceTime(q)
	})
}

// useWallClock follows the host clock
func (m *simMachine) useWallClock() {
	start := time.Now()
	m.mgr.AddTask(func() {
		core.SetTime(uint32(time.Since(start).Microseconds()))
		core.ProcessTimers()
	})
}

func (m *simMachine) runFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return m.runLines(f)
}

func (m *simMachine) runLines(f *os.File) error {
	m.useSimulatedTime()
	if *home {
		if err := m.mgr.Home(); err != nil {
			return fmt.Errorf("homing: %w", err)
		}
		fmt.Println(m.mgr.Status())
	}

	start := core.GetTime()
	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		n++
		line := scanner.Text()
		if err := m.mgr.ProcessLine(line); err != nil {
			fmt.Printf("line %d: %q: error: %v\n", n, strings.TrimSpace(line), err)
			if m.mgr.State().Has(machine.Locked) {
				break
			}
			continue
		}
		if *status {
			fmt.Println(m.mgr.Status())
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if err := m.mgr.Sync(); err != nil {
		fmt.Printf("sync: %v\n", err)
	}

	elapsed := core.GetTime() - start
	fmt.Println(m.mgr.Status())
	fmt.Printf("lines: %d, simulated time: %.3f s\n", n, float64(core.TimerToUS(elapsed))/1e6)
	for i, axis := range m.mgr.Settings().Axes {
		fmt.Printf("%s: %d pulses, motor position %d steps\n", axis.Name, m.steppers.Pulses(i), m.steppers.Position(i))
	}
	fmt.Printf("tool: speed %d, coolant %d\n", m.tool.Speed, m.tool.Coolant)
	return nil
}

// serve runs the machine behind a serial device. Realtime bytes are acted
// on from the background task so they work while a line is blocking.
func (m *simMachine) serve(device string) error {
	port, err := serial.Open(serial.DefaultConfig(device))
	if err != nil {
		return err
	}
	defer port.Close()

	m.useWallClock()

	rx := make(chan byte, 1024)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := port.Read(buf)
			for _, b := range buf[:n] {
				rx <- b
			}
			if err != nil {
				close(rx)
				return
			}
		}
	}()

	closed := false
	m.mgr.AddTask(func() {
		for {
			select {
			case b, ok := <-rx:
				if !ok {
					closed = true
					return
				}
				m.mgr.Receive(b)
				continue
			default:
			}
			break
		}
		if out := m.mgr.GetOutput(); out != nil {
			port.Write(out)
		}
	})

	if err := m.mgr.Start(); err != nil {
		return err
	}
	for !closed {
		m.mgr.DoTasks()
		m.mgr.ProcessInput()
		time.Sleep(time.Millisecond)
	}
	return nil
}

//go:build rp2040

package main

import (
	"machine"
	"time"

	"gocnc/core"
	"gocnc/standalone"
	"gocnc/standalone/config"
	"gocnc/standalone/stepgen"
	"gocnc/targets/pio"
)

// Board pin map
var (
	stepPins  = []machine.Pin{machine.GPIO2, machine.GPIO3, machine.GPIO4}
	dirPins   = []machine.Pin{machine.GPIO5, machine.GPIO6, machine.GPIO7}
	limitPins = []core.GPIOPin{10, 11, 12}
	probePin  = core.GPIOPin(13)

	spindlePin  = machine.GPIO16
	spindleDir  = core.GPIOPin(17)
	coolantPins = []core.GPIOPin{18, 19}
)

// spindleOutput overrides config.Settings.SpindleOutput at link time:
//
//	tinygo flash -target=pico -ldflags="-X main.spindleOutput=besc" ./targets/rp2040
var spindleOutput string

const (
	spindlePWMTicks = 1000 // 1kHz at the 1MHz core timer

	limitSampleTicks = 100 // 100us
	limitSampleCount = 4
)

func main() {
	// Disable watchdog on boot to clear any previous state
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	InitUSB()
	UpdateSystemTime()
	core.TimerInit()
	core.SetDebugWriter(func(s string) { USBWriteBytes([]byte(s + "\n")) })

	gpio := NewRPGPIODriver()

	mgr, err := setup(gpio)
	if err != nil {
		fail()
	}
	mgr.Start()

	for {
		mgr.DoTasks()
		mgr.ProcessInput()

		// Yield to other goroutines
		time.Sleep(10 * time.Microsecond)
	}
}

func setup(gpio *RPGPIODriver) (*standalone.Manager, error) {
	settings := config.DefaultConfig()
	if spindleOutput != "" {
		settings.SpindleOutput = spindleOutput
	}
	mgr, err := standalone.NewManagerWithConfig(settings)
	if err != nil {
		return nil, err
	}

	steps, err := pio.NewStepOutputs(stepPins, dirPins, settings.StepInvertMask)
	if err != nil {
		return nil, err
	}

	var tool core.ToolOutput
	switch settings.SpindleOutput {
	case config.SpindleBESC:
		tool, err = NewBESCSpindle(spindlePin, gpio, coolantPins...)
	default:
		dir := spindleDir
		tool, err = core.NewPWMTool(NewRP2040PWMDriver(), core.PWMPin(spindlePin), spindlePWMTicks, gpio, &dir, coolantPins...)
	}
	if err != nil {
		return nil, err
	}

	probe := probePin
	endstops, err := core.NewEndstops(gpio, limitPins, &probe, settings.LimitsInvert, false)
	if err != nil {
		return nil, err
	}

	timer := core.NewSchedulerStepTimer(mgr.Tick)
	hw := stepgen.Hardware{Timer: timer, Steps: steps, Tool: tool}
	if err := mgr.Initialize(hw, endstops); err != nil {
		return nil, err
	}
	endstops.StartSampling(limitSampleTicks, limitSampleCount, mgr.LimitsISR)

	mgr.AddTask(func() {
		UpdateSystemTime()
		core.ProcessTimers()
		for USBAvailable() > 0 {
			b, err := USBRead()
			if err != nil {
				break
			}
			mgr.Receive(b)
		}
		if out := mgr.GetOutput(); len(out) > 0 {
			USBWriteBytes(out)
		}
	})
	return mgr, nil
}

// fail blinks the LED rapidly forever
func fail() {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		led.High()
		time.Sleep(100 * time.Millisecond)
		led.Low()
		time.Sleep(100 * time.Millisecond)
	}
}

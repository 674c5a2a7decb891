package motion

import (
	"errors"

	"gocnc/standalone/config"
	"gocnc/standalone/machine"
)

// ErrNoSensors is returned by homing and probing without a Sensors source
var ErrNoSensors = errors.New("motion: no limit or probe inputs")

// HomeAxis homes one axis against the switches in limitMask: a fast seek
// until a switch trips, then a slow back-off until it releases. The axis
// coordinate is then set to its travel end plus the homing offset.
func (c *Controller) HomeAxis(axis int, limitMask uint8) error {
	if c.sensors == nil {
		return ErrNoSensors
	}
	if c.state.Has(machine.ExecHold|machine.ExecAlarm) || c.sensors.Limits()&limitMask != 0 {
		c.host.Alarm(machine.AlarmHomingFailLimitActive)
		return machine.ErrCriticalFail
	}

	cfg := &c.settings.Axes[axis]
	towardsMax := cfg.HomingInvert
	seek := -(cfg.MaxPosition - cfg.MinPosition) * 1.5
	if towardsMax {
		seek = -seek
	}

	c.state.Set(machine.ExecHoming)
	defer func() {
		c.homingLimits = 0
		c.state.Clear(machine.ExecHoming | machine.ExecHomingHit)
	}()

	// fast approach, ended by the limit switch
	c.homingLimits = limitMask
	if err := c.homingMove(axis, seek, c.settings.HomingFastFeed); err != nil {
		return err
	}
	c.halt()
	c.state.Clear(machine.ExecHomingHit)
	if !c.host.DelayMs(c.settings.HomingDebounceMs) {
		return machine.ErrCriticalFail
	}
	if c.sensors.Limits()&limitMask == 0 {
		c.host.Alarm(machine.AlarmHomingFailApproach)
		return machine.ErrCriticalFail
	}

	// slow back-off, the switch must release
	c.homingLimits = 0
	backoff := c.settings.HomingOffset
	if towardsMax {
		backoff = -backoff
	}
	if err := c.homingMove(axis, backoff, c.settings.HomingSlowFeed); err != nil {
		return err
	}
	c.halt()
	if !c.host.DelayMs(c.settings.HomingDebounceMs) {
		return machine.ErrCriticalFail
	}
	if c.sensors.Limits()&limitMask != 0 {
		c.host.Alarm(machine.AlarmHomingFailApproach)
		return machine.ErrCriticalFail
	}

	home := cfg.MinPosition + c.settings.HomingOffset
	if towardsMax {
		home = cfg.MaxPosition - c.settings.HomingOffset
	}
	c.SetAxisPosition(axis, home)
	return nil
}

// homingMove runs a single axis move of dist mm and waits for it to end
func (c *Controller) homingMove(axis int, dist, feed float64) error {
	c.SyncPosition()
	var buf [config.MaxAxes]float64
	target := buf[:c.axes]
	c.GetPosition(target)
	target[axis] += dist
	if err := c.Line(target, &Params{Feed: feed}); err != nil {
		return err
	}
	return c.itp.Sync(c.host)
}

// Probe moves towards target until the probe input changes to the
// triggered level (inverted when invert is set), then stops and records
// the contact position.
func (c *Controller) Probe(target []float64, invert bool, p *Params) error {
	if c.checkMode {
		return nil
	}
	if c.sensors == nil {
		return ErrNoSensors
	}
	if c.sensors.Probe() != invert {
		c.host.Alarm(machine.AlarmProbeFailInitial)
		return machine.ErrCriticalFail
	}

	wasHeld := c.state.Has(machine.ExecHold)
	if err := c.Line(target, p); err != nil {
		return err
	}
	for {
		if !c.host.DoTasks() {
			return machine.ErrCriticalFail
		}
		if c.sensors.Probe() != invert {
			break
		}
		if !c.state.Has(machine.ExecRun) && c.itp.IsEmpty() && c.planner.Empty() {
			break
		}
	}

	c.halt()
	c.itp.RTPosition(c.probePos[:c.axes])
	c.SyncPosition()
	if !wasHeld {
		c.state.Clear(machine.ExecHold)
	}
	if !c.host.DelayMs(c.settings.HomingDebounceMs) {
		return machine.ErrCriticalFail
	}
	if c.sensors.Probe() == invert {
		c.host.Alarm(machine.AlarmProbeFailContact)
		return machine.ErrCriticalFail
	}
	return nil
}

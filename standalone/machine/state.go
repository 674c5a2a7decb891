// Package machine holds the exec-state flags shared by the pipeline stages
// and the step ISR, the alarm codes and the pipeline error values.
package machine

import "sync/atomic"

// ExecFlag is one bit of the execution state
type ExecFlag uint32

const (
	ExecRun       ExecFlag = 1 << iota // step ISR is running
	ExecHold                           // feed hold, decelerate to a stop
	ExecJog                            // operator jog in progress
	ExecHoming                         // homing cycle in progress
	ExecHomingHit                      // limit switch reached during homing
	ExecUnhomed                        // position lost
	ExecAlarm                          // alarm active, motion refused until unlock
	ExecKill                           // emergency stop
)

// Locked are the flags that refuse new motion
const Locked = ExecAlarm | ExecKill

// AlarmCode identifies why the machine entered alarm
type AlarmCode uint8

const (
	AlarmNone AlarmCode = iota
	AlarmHardLimit
	AlarmSoftLimit
	AlarmAbortCycle
	AlarmProbeFailInitial
	AlarmProbeFailContact
	AlarmHomingFailReset
	AlarmHomingFailDoor
	AlarmHomingFailLimitActive
	AlarmHomingFailApproach
)

var alarmNames = [...]string{
	AlarmNone:                  "none",
	AlarmHardLimit:             "hard limit",
	AlarmSoftLimit:             "soft limit",
	AlarmAbortCycle:            "abort cycle",
	AlarmProbeFailInitial:      "probe fail initial",
	AlarmProbeFailContact:      "probe fail contact",
	AlarmHomingFailReset:       "homing fail reset",
	AlarmHomingFailDoor:        "homing fail door",
	AlarmHomingFailLimitActive: "homing fail limit active",
	AlarmHomingFailApproach:    "homing fail approach",
}

func (a AlarmCode) String() string {
	if int(a) < len(alarmNames) {
		return alarmNames[a]
	}
	return "unknown"
}

// State is the execution state. Flags are read from the ISR and written
// from both contexts, so every access is atomic.
type State struct {
	flags atomic.Uint32
	alarm atomic.Uint32
	flush atomic.Bool
}

// Set raises the given flags
func (s *State) Set(f ExecFlag) {
	for {
		old := s.flags.Load()
		if s.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// Clear lowers the given flags
func (s *State) Clear(f ExecFlag) {
	for {
		old := s.flags.Load()
		if s.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// Has reports whether any of the given flags is raised
func (s *State) Has(f ExecFlag) bool {
	return s.flags.Load()&uint32(f) != 0
}

// Flags returns the raw flag word
func (s *State) Flags() ExecFlag {
	return ExecFlag(s.flags.Load())
}

// RaiseAlarm records the alarm code and raises ExecAlarm.
// The first alarm code is kept until Unlock.
func (s *State) RaiseAlarm(code AlarmCode) {
	s.alarm.CompareAndSwap(uint32(AlarmNone), uint32(code))
	s.Set(ExecAlarm)
}

// Alarm returns the active alarm code
func (s *State) Alarm() AlarmCode {
	return AlarmCode(s.alarm.Load())
}

// Unlock clears the alarm and the kill flag
func (s *State) Unlock() {
	s.alarm.Store(uint32(AlarmNone))
	s.Clear(ExecAlarm | ExecKill)
}

// RequestFlush asks a blocked motion push to abort with ErrJobCanceled
func (s *State) RequestFlush() {
	s.flush.Store(true)
}

// TakeFlush reports and consumes a pending flush request
func (s *State) TakeFlush() bool {
	return s.flush.Swap(false)
}

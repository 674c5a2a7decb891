package core

import "sync/atomic"

// TimerFreq is the system timer frequency. The RP2040 hardware timer counts
// microseconds, and the simulator uses the same base.
const (
	TimerFreq = 1000000
)

var (
	systemTicks atomic.Uint32
	bootTime    uint32
)

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return systemTicks.Load()
}

// SetTime sets the current system time (hardware clock sync or simulation)
func SetTime(ticks uint32) {
	systemTicks.Store(ticks)
}

// AdvanceTime moves the system time forward by ticks and runs due timers
func AdvanceTime(ticks uint32) {
	SetTime(GetTime() + ticks)
	ProcessTimers()
}

// GetUptime returns ticks elapsed since TimerInit
func GetUptime() uint32 {
	return GetTime() - bootTime
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1000000)
}

// TimerFromMS converts milliseconds to timer ticks
func TimerFromMS(ms uint32) uint32 {
	return uint32(uint64(ms) * TimerFreq / 1000)
}

// TimerToUS converts timer ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / TimerFreq)
}

// TimerInit records the boot time
func TimerInit() {
	bootTime = GetTime()
}

// ProcessTimers processes scheduled timers
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}

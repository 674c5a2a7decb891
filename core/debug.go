package core

import "strconv"

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// MotionEvent captures a pipeline event for post-mortem analysis
type MotionEvent struct {
	Kind   uint8  // Event kind code
	Arg    uint8  // Stepper index, DSS shift, alarm code...
	Clock  uint32 // System clock at event
	Value1 uint32 // Context-dependent value
	Value2 uint32 // Context-dependent value
}

// Event kind codes
const (
	EvtBlockLoad  = 1  // planner block bound by the interpolator (v1=line, v2=steps)
	EvtSegment    = 2  // segment pushed (arg=dss, v1=steps, v2=period)
	EvtTimerStart = 3  // step timer armed (v1=period)
	EvtTimerStop  = 4  // step timer stopped
	EvtDSSChange  = 5  // oversampling shift applied in the ISR (arg=shift)
	EvtBlockDone  = 6  // interpolator block retired (v1=line)
	EvtHold       = 7  // feed hold requested
	EvtAlarm      = 8  // alarm raised (arg=code)
	EvtClear      = 9  // buffers discarded
	EvtLimitHit   = 10 // limit switch during homing (arg=mask)
)

// EventRingSize is the number of events kept for post-mortem
const EventRingSize = 32

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {}

	// debugEnabled controls whether DebugPrintln output is active
	debugEnabled bool

	eventRing     [EventRingSize]MotionEvent
	eventRingHead uint8
	eventsEnabled = true

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go func() {
		for msg := range debugChan {
			if debugPrintln != nil {
				debugPrintln(msg)
			}
		}
	}()
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message without blocking; drops it when full
func DebugAsync(msg string) {
	if !debugEnabled {
		return
	}
	if debugChan == nil {
		DebugPrintln(msg)
		return
	}
	select {
	case debugChan <- msg:
	default:
	}
}

// RecordEvent captures a motion event in the ring buffer.
// Safe to call from the step ISR.
func RecordEvent(kind, arg uint8, value1, value2 uint32) {
	if !eventsEnabled {
		return
	}
	idx := eventRingHead
	eventRing[idx] = MotionEvent{
		Kind:   kind,
		Arg:    arg,
		Clock:  GetTime(),
		Value1: value1,
		Value2: value2,
	}
	eventRingHead = (idx + 1) % EventRingSize
}

// SetEventsEnabled turns event capture on or off
func SetEventsEnabled(enabled bool) {
	eventsEnabled = enabled
}

// Events returns the captured events, oldest first
func Events() []MotionEvent {
	out := make([]MotionEvent, 0, EventRingSize)
	start := eventRingHead
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(start+i)%EventRingSize]
		if evt.Kind != 0 {
			out = append(out, evt)
		}
	}
	return out
}

func eventName(kind uint8) string {
	switch kind {
	case EvtBlockLoad:
		return "BLOCK_LOAD"
	case EvtSegment:
		return "SEGMENT"
	case EvtTimerStart:
		return "TIMER_START"
	case EvtTimerStop:
		return "TIMER_STOP"
	case EvtDSSChange:
		return "DSS"
	case EvtBlockDone:
		return "BLOCK_DONE"
	case EvtHold:
		return "HOLD"
	case EvtAlarm:
		return "ALARM!"
	case EvtClear:
		return "CLEAR"
	case EvtLimitHit:
		return "LIMIT_HIT"
	}
	return "UNKNOWN"
}

// DumpEvents writes the event ring through the debug writer (call on alarm)
func DumpEvents() {
	if debugPrintln == nil {
		return
	}
	debugPrintln("[MOTION] === Event Ring Dump ===")
	for _, evt := range Events() {
		debugPrintln("[MOTION] " + eventName(evt.Kind) +
			" arg=" + strconv.Itoa(int(evt.Arg)) +
			" clock=" + strconv.FormatUint(uint64(evt.Clock), 10) +
			" v1=" + strconv.FormatUint(uint64(evt.Value1), 10) +
			" v2=" + strconv.FormatUint(uint64(evt.Value2), 10))
	}
	debugPrintln("[MOTION] === End Dump ===")
}

// ClearEvents clears the event ring
func ClearEvents() {
	for i := range eventRing {
		eventRing[i] = MotionEvent{}
	}
	eventRingHead = 0
}

package machine

import "errors"

var (
	// ErrTravelExceeded is returned for a target outside the soft limits
	ErrTravelExceeded = errors.New("travel exceeded")

	// ErrCriticalFail is returned when background tasks stop making
	// progress while a blocking wait is outstanding
	ErrCriticalFail = errors.New("critical fail")

	// ErrJobCanceled is returned when a flush request interrupts a push
	ErrJobCanceled = errors.New("job canceled")
)

// TaskRunner runs the background tasks while a caller waits
type TaskRunner interface {
	// DoTasks runs one pass of the background tasks. It returns false when
	// the tasks cannot make progress (alarm or kill).
	DoTasks() bool

	// DelayMs runs background tasks for ms milliseconds. It returns false
	// if the tasks stopped making progress.
	DelayMs(ms uint32) bool
}

package core

// Timer is a scheduled event kept in a list sorted by WakeTime.
// The handler returns SF_RESCHEDULE after moving WakeTime forward to stay armed.
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer

	queued bool
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var (
	timerList   *Timer
	currentTime uint32
)

// ScheduleTimer adds a timer to the schedule. Scheduling an already
// queued timer moves it to its new WakeTime.
func ScheduleTimer(t *Timer) {
	WithInterruptsDisabled(func() {
		if t.queued {
			unlinkTimer(t)
		}
		insertTimer(t)
	})
}

// CancelTimer removes a timer from the schedule if it is queued
func CancelTimer(t *Timer) {
	WithInterruptsDisabled(func() {
		if t.queued {
			unlinkTimer(t)
		}
	})
}

// TimerQueued reports whether t is waiting in the schedule
func TimerQueued(t *Timer) bool {
	return t.queued
}

// ResetTimers drops every scheduled timer
func ResetTimers() {
	WithInterruptsDisabled(func() {
		for t := timerList; t != nil; {
			next := t.Next
			t.Next = nil
			t.queued = false
			t = next
		}
		timerList = nil
	})
}

// insertTimer inserts a timer in sorted order by WakeTime.
// Comparisons use the signed difference so the list survives clock wraparound.
func insertTimer(t *Timer) {
	t.queued = true
	if timerList == nil || timeBefore(t.WakeTime, timerList.WakeTime) {
		t.Next = timerList
		timerList = t
		return
	}

	current := timerList
	for current.Next != nil && !timeBefore(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

func unlinkTimer(t *Timer) {
	if timerList == t {
		timerList = t.Next
	} else {
		for cur := timerList; cur != nil; cur = cur.Next {
			if cur.Next == t {
				cur.Next = t.Next
				break
			}
		}
	}
	t.Next = nil
	t.queued = false
}

func timeBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// TimerDispatch runs every timer whose WakeTime is not after currentTime
func TimerDispatch() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for timerList != nil && !timeBefore(currentTime, timerList.WakeTime) {
		timer := timerList
		timerList = timer.Next
		timer.Next = nil
		timer.queued = false

		if timer.Handler(timer) == SF_RESCHEDULE {
			insertTimer(timer)
		}
	}
}

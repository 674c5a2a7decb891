package core

// WithInterruptsDisabled runs fn as a critical section against the step ISR.
// fn must be short and must not yield.
func WithInterruptsDisabled(fn func()) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	fn()
}

package planner

import "gocnc/standalone/config"

// SpindleDir is the commanded spindle rotation
type SpindleDir uint8

const (
	SpindleOff SpindleDir = iota
	SpindleCW
	SpindleCCW
)

// Coolant outputs
const (
	CoolantFlood uint8 = 1 << iota
	CoolantMist
)

// ToolState is the part of a request that is carried into its block and,
// once the block executes, becomes the current tool state.
type ToolState struct {
	Spindle SpindleDir
	Coolant uint8
}

// Flags are the per-block planner flags
type Flags struct {
	Optimal      bool // entry speed final, skipped by the backward pass
	BacklashComp bool // backlash take-up move, not counted in position
	ExactStop    bool // full stop at the entry junction
	FeedOverride bool // feed/spindle overrides apply
	Continuous   bool // G64 junction relaxation
	Tool         ToolState
}

// Request is a normalized motion request for one leaf segment.
// Speeds are in main-axis steps per second.
type Request struct {
	Steps       [config.MaxAxes]uint32
	DirBits     uint8
	MainStepper uint8
	TotalSteps  uint32

	Feed     float64 // requested speed
	MaxFeed  float64 // per-axis capped speed ceiling
	MaxAccel float64 // per-axis capped acceleration, steps/s^2

	// CosTheta is the cosine of the angle between this move and the
	// previous one
	CosTheta float64

	// FeedConversion turns steps/s into mm/min for reporting
	FeedConversion float64

	Spindle float64 // signed spindle RPM, negative for CCW
	Line    uint32

	Backlash     bool
	ExactStop    bool
	Continuous   bool
	FeedOverride bool
	Tool         ToolState
}

// Block is a queued move. Speeds are squared main-axis steps/s.
type Block struct {
	Steps       [config.MaxAxes]uint32
	TotalSteps  uint32
	MainStepper uint8
	DirBits     uint8
	Line        uint32

	Acceleration    float64
	FeedSqr         float64
	RapidFeedSqr    float64
	EntryFeedSqr    float64
	EntryMaxFeedSqr float64
	FeedConversion  float64

	Spindle float64
	Flags   Flags
}

// Remaining returns the main-axis steps not yet interpolated
func (b *Block) Remaining() uint32 {
	return b.Steps[b.MainStepper]
}

// SetRemaining records the main-axis steps not yet interpolated
func (b *Block) SetRemaining(steps uint32) {
	b.Steps[b.MainStepper] = steps
}

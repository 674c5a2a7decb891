package stepgen

import (
	"gocnc/core"
	"gocnc/standalone/config"
)

// Block is the Bresenham geometry of one planner block as the step ISR
// sees it. Counts are doubled so the error can start at half a step.
//
// Total and Errors are pre-scaled by the largest oversampling shift when
// the block is bound; oversampling then only rescales Steps, which is
// always an exact shift, so no accumulated phase is ever truncated.
type Block struct {
	Steps       [config.MaxAxes]uint32
	Errors      [config.MaxAxes]uint32
	Total       uint32
	DirBits     uint8
	IdleAxis    uint8
	MainStepper uint8
	Line        uint32
	Backlash    bool

	shift uint8 // current oversampling level
}

// applyDSS moves the block to oversampling level shift+delta
func (b *Block) applyDSS(delta int8) {
	if delta == 0 {
		return
	}
	for i := range b.Steps {
		if delta > 0 {
			b.Steps[i] >>= uint8(delta)
		} else {
			b.Steps[i] <<= uint8(-delta)
		}
	}
	b.shift = uint8(int8(b.shift) + delta)
}

// Shift returns the oversampling level the counters are at
func (b *Block) Shift() uint8 {
	return b.shift
}

// SegmentFlags mark what a segment changes when the ISR binds it
type SegmentFlags uint8

const (
	UpdateISR  SegmentFlags = 1 << iota // timer period changed
	UpdateTool                          // tool output changed
	Accel
	Const
	Deaccel
)

// Segment is a slice of at most one interpolation period of one block
type Segment struct {
	block     *Block
	Remaining uint32 // ISR ticks left, steps << oversampling shift
	Clocks    core.Clocks
	NextDSS   int8 // oversampling shift change versus the previous segment
	Feed      float64
	Spindle   int16
	Flags     SegmentFlags
}

// Block returns the geometry the segment belongs to
func (s *Segment) Block() *Block {
	return s.block
}

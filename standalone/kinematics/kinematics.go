package kinematics

// Kinematics converts between machine coordinates (mm) and actuator step
// positions. Implementations must be pure given their settings.
type Kinematics interface {
	// AxisCount returns the number of coordinates and steppers handled
	AxisCount() int

	// CoordinatesToSteps converts a position in mm to stepper positions
	CoordinatesToSteps(pos []float64, steps []int32)

	// StepsToCoordinates converts stepper positions to a position in mm
	StepsToCoordinates(steps []int32, pos []float64)

	// CheckBoundaries reports whether pos is inside the travel limits
	CheckBoundaries(pos []float64) bool
}

// Transformer is implemented by kinematics with a correction applied on top
// of the geometry (skew, height map). Transforms are skipped while jogging
// and homing.
type Transformer interface {
	ApplyTransform(pos []float64)
	ApplyReverseTransform(pos []float64)
}

// Clamper is implemented by kinematics that can pull a target back inside
// the travel limits
type Clamper interface {
	Clamp(pos []float64)
}

// Segmenter is implemented by kinematics that need long moves split into
// short linear pieces. Zero means no limit.
type Segmenter interface {
	MaxSegmentLength() float64
}

package kinematics

import (
	"errors"
	"math"

	"gocnc/standalone/config"
)

// Cartesian implements 1:1 axis to stepper kinematics
type Cartesian struct {
	axes      []config.AxisConfig
	maxLength float64
	skew      *Skew
}

// NewCartesian creates a new Cartesian kinematics instance
func NewCartesian(settings *config.Settings) (*Cartesian, error) {
	if len(settings.Axes) == 0 {
		return nil, errors.New("kinematics: no axes configured")
	}
	return &Cartesian{
		axes:      settings.Axes,
		maxLength: settings.MaxSegmentLength,
	}, nil
}

// AxisCount implements Kinematics
func (k *Cartesian) AxisCount() int {
	return len(k.axes)
}

// CoordinatesToSteps implements Kinematics
func (k *Cartesian) CoordinatesToSteps(pos []float64, steps []int32) {
	for i := range k.axes {
		steps[i] = int32(math.Round(pos[i] * k.axes[i].StepsPerMM))
	}
}

// StepsToCoordinates implements Kinematics
func (k *Cartesian) StepsToCoordinates(steps []int32, pos []float64) {
	for i := range k.axes {
		pos[i] = float64(steps[i]) / k.axes[i].StepsPerMM
	}
}

// CheckBoundaries implements Kinematics
func (k *Cartesian) CheckBoundaries(pos []float64) bool {
	for i, axis := range k.axes {
		if pos[i] < axis.MinPosition || pos[i] > axis.MaxPosition {
			return false
		}
	}
	return true
}

// Clamp implements Clamper
func (k *Cartesian) Clamp(pos []float64) {
	for i, axis := range k.axes {
		pos[i] = math.Min(math.Max(pos[i], axis.MinPosition), axis.MaxPosition)
	}
}

// MaxSegmentLength implements Segmenter
func (k *Cartesian) MaxSegmentLength() float64 {
	return k.maxLength
}

// Skew is an XY squareness correction: x' = x - y*XY
type Skew struct {
	XY float64
}

// SetSkew enables or (with nil) disables the XY skew correction
func (k *Cartesian) SetSkew(s *Skew) {
	k.skew = s
}

// ApplyTransform implements Transformer
func (k *Cartesian) ApplyTransform(pos []float64) {
	if k.skew != nil && len(pos) > 1 {
		pos[0] -= pos[1] * k.skew.XY
	}
}

// ApplyReverseTransform implements Transformer
func (k *Cartesian) ApplyReverseTransform(pos []float64) {
	if k.skew != nil && len(pos) > 1 {
		pos[0] += pos[1] * k.skew.XY
	}
}

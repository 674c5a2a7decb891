package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// MaxAxes is the largest number of steppers the pipeline drives.
// Axis masks are uint8.
const MaxAxes = 6

// Soft limit policies
const (
	SoftLimitAlarm = "alarm" // programmed moves raise an alarm, jogs are rejected
	SoftLimitError = "error" // every out of bounds move is rejected
	SoftLimitClamp = "clamp" // targets are clamped to the travel limits
)

// Spindle outputs
const (
	SpindlePWM  = "pwm"  // PWM duty with a direction pin
	SpindleBESC = "besc" // brushless ESC throttle, forward only
)

// Laser modes
const (
	LaserOff = 0
	LaserPWM = 1 // tool power follows the instantaneous feed
)

// AxisConfig represents configuration for a single axis/stepper
type AxisConfig struct {
	Name          string  // "x", "y", "z", "a", ...
	StepsPerMM    float64 // Steps per millimeter
	MaxFeed       float64 // Maximum feed (mm/min)
	Acceleration  float64 // Acceleration (mm/s^2)
	MinPosition   float64 // Minimum position (mm)
	MaxPosition   float64 // Maximum position (mm)
	BacklashSteps uint16  // Steps taken up on a direction reversal
	HomingInvert  bool    // Home towards MaxPosition instead of MinPosition
}

// Settings is the complete machine configuration. It is read-only while
// the machine is moving.
type Settings struct {
	Axes []AxisConfig

	MaxStepRate        float64 // Absolute maximum step frequency (Hz)
	ArcTolerance       float64 // Maximum chord deviation (mm)
	G64Factor          float64 // Junction relaxation for continuous mode (0..1)
	DSSCutoffFreq      float64 // Oversampling applies below this step rate (Hz)
	DSSMaxOversampling uint8   // Maximum oversampling shift (0..3)
	LinActColdStart    bool    // Stop at junctions where a moving actuator reverses

	StepInvertMask uint8 // Step line idle level
	DirInvertMask  uint8 // Direction line polarity
	LimitsInvert   uint8 // Limit switch polarity

	SoftLimitPolicy string
	HardLimits      bool

	HomingFastFeed   float64 // mm/min
	HomingSlowFeed   float64 // mm/min
	HomingOffset     float64 // Back-off distance (mm)
	HomingDebounceMs uint32

	SpindleMaxRPM float64
	SpindleMinRPM float64
	SpindleOutput string
	LaserMode     int

	FeedOverrideMin    uint8 // Percent
	FeedOverrideMax    uint8
	SpindleOverrideMin uint8
	SpindleOverrideMax uint8

	PlannerBufferSize int
	SegmentBufferSize int
	MaxSegmentLength  float64 // Split moves longer than this (mm), 0 disables
}

// LoadConfig parses a JSON configuration and returns validated Settings
func LoadConfig(jsonData []byte) (*Settings, error) {
	var settings Settings

	if err := json.Unmarshal(jsonData, &settings); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	applyDefaults(&settings)

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// LoadFile reads and parses a JSON configuration file
func LoadFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return LoadConfig(data)
}

// applyDefaults fills in missing configuration values with sensible defaults
func applyDefaults(s *Settings) {
	if s.MaxStepRate == 0 {
		s.MaxStepRate = 30000
	}
	if s.ArcTolerance == 0 {
		s.ArcTolerance = 0.002
	}
	if s.DSSCutoffFreq == 0 {
		s.DSSCutoffFreq = 500
	}
	if s.SoftLimitPolicy == "" {
		s.SoftLimitPolicy = SoftLimitAlarm
	}
	if s.SpindleOutput == "" {
		s.SpindleOutput = SpindlePWM
	}
	if s.HomingFastFeed == 0 {
		s.HomingFastFeed = 500
	}
	if s.HomingSlowFeed == 0 {
		s.HomingSlowFeed = 50
	}
	if s.HomingOffset == 0 {
		s.HomingOffset = 2
	}
	if s.HomingDebounceMs == 0 {
		s.HomingDebounceMs = 250
	}
	if s.SpindleMaxRPM == 0 {
		s.SpindleMaxRPM = 1000
	}
	if s.FeedOverrideMin == 0 {
		s.FeedOverrideMin = 10
	}
	if s.FeedOverrideMax == 0 {
		s.FeedOverrideMax = 200
	}
	if s.SpindleOverrideMin == 0 {
		s.SpindleOverrideMin = 10
	}
	if s.SpindleOverrideMax == 0 {
		s.SpindleOverrideMax = 200
	}
	if s.PlannerBufferSize == 0 {
		s.PlannerBufferSize = 20
	}
	if s.SegmentBufferSize == 0 {
		s.SegmentBufferSize = 5
	}

	for i := range s.Axes {
		axis := &s.Axes[i]
		if axis.StepsPerMM == 0 {
			axis.StepsPerMM = 200
		}
		if axis.MaxFeed == 0 {
			axis.MaxFeed = 500
		}
		if axis.Acceleration == 0 {
			axis.Acceleration = 10
		}
	}
}

// Validate checks the settings for values the pipeline cannot run with
func (s *Settings) Validate() error {
	if len(s.Axes) == 0 {
		return errors.New("config: no axes configured")
	}
	if len(s.Axes) > MaxAxes {
		return fmt.Errorf("config: %d axes configured, at most %d supported", len(s.Axes), MaxAxes)
	}
	for i, axis := range s.Axes {
		if axis.StepsPerMM <= 0 || axis.MaxFeed <= 0 || axis.Acceleration <= 0 {
			return fmt.Errorf("config: axis %d (%s): steps/mm, max feed and acceleration must be positive", i, axis.Name)
		}
		if axis.MaxPosition < axis.MinPosition {
			return fmt.Errorf("config: axis %d (%s): max position below min position", i, axis.Name)
		}
	}
	if s.DSSMaxOversampling > 3 {
		return fmt.Errorf("config: DSS max oversampling %d out of range 0..3", s.DSSMaxOversampling)
	}
	if s.G64Factor < 0 || s.G64Factor > 1 {
		return fmt.Errorf("config: G64 factor %g out of range 0..1", s.G64Factor)
	}
	switch s.SoftLimitPolicy {
	case SoftLimitAlarm, SoftLimitError, SoftLimitClamp:
	default:
		return fmt.Errorf("config: unknown soft limit policy %q", s.SoftLimitPolicy)
	}
	switch s.SpindleOutput {
	case SpindlePWM, SpindleBESC:
	default:
		return fmt.Errorf("config: unknown spindle output %q", s.SpindleOutput)
	}
	if s.PlannerBufferSize < 2 || s.SegmentBufferSize < 2 {
		return errors.New("config: planner and segment buffers need at least 2 slots")
	}
	if s.FeedOverrideMin > 100 || s.FeedOverrideMax < 100 {
		return errors.New("config: feed override range must include 100%")
	}
	return nil
}

// AxisCount returns the number of configured axes
func (s *Settings) AxisCount() int {
	return len(s.Axes)
}

// MaxStepsPerLineBits is the step count width left after the Bresenham
// doubling and the largest oversampling shift.
func (s *Settings) MaxStepsPerLineBits() uint {
	return 32 - (2 + uint(s.DSSMaxOversampling))
}

// MaxStepsPerLine is the largest main-axis step count a single planner
// block may carry
func (s *Settings) MaxStepsPerLine() uint32 {
	return 1 << s.MaxStepsPerLineBits()
}

// BacklashMask returns the axes with backlash compensation
func (s *Settings) BacklashMask() uint8 {
	var mask uint8
	for i, axis := range s.Axes {
		if axis.BacklashSteps != 0 {
			mask |= 1 << i
		}
	}
	return mask
}

// DefaultConfig returns a default configuration for a 3 axis mill
func DefaultConfig() *Settings {
	s := &Settings{
		Axes: []AxisConfig{
			{Name: "x", StepsPerMM: 80, MaxFeed: 3000, Acceleration: 200, MinPosition: 0, MaxPosition: 300},
			{Name: "y", StepsPerMM: 80, MaxFeed: 3000, Acceleration: 200, MinPosition: 0, MaxPosition: 300},
			{Name: "z", StepsPerMM: 400, MaxFeed: 600, Acceleration: 50, MinPosition: -80, MaxPosition: 0, HomingInvert: true},
		},
		MaxStepRate:        30000,
		ArcTolerance:       0.002,
		DSSCutoffFreq:      500,
		DSSMaxOversampling: 2,
		SoftLimitPolicy:    SoftLimitAlarm,
	}
	applyDefaults(s)
	return s
}

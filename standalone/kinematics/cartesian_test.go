package kinematics

import (
	"math"
	"testing"

	"gocnc/standalone/config"
)

func TestCartesianSteps(t *testing.T) {
	k, err := NewCartesian(config.DefaultConfig())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if k.AxisCount() != 3 {
		t.Fatalf("Expected 3 axes, got %d", k.AxisCount())
	}

	steps := make([]int32, 3)
	k.CoordinatesToSteps([]float64{12.5, -0.006, -1.00124}, steps)
	want := []int32{1000, 0, -400}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("Axis %d: expected %d steps, got %d", i, want[i], steps[i])
		}
	}

	pos := make([]float64, 3)
	k.StepsToCoordinates([]int32{80, -8, 4}, pos)
	if pos[0] != 1 || pos[1] != -0.1 || pos[2] != 0.01 {
		t.Errorf("Expected 1,-0.1,0.01, got %v", pos)
	}
}

func TestCartesianBoundaries(t *testing.T) {
	k, _ := NewCartesian(config.DefaultConfig())

	tests := []struct {
		pos  []float64
		want bool
	}{
		{[]float64{0, 0, 0}, true},
		{[]float64{300, 300, -80}, true},
		{[]float64{300.01, 0, 0}, false},
		{[]float64{0, -1, 0}, false},
		{[]float64{0, 0, 1}, false},
	}
	for _, tt := range tests {
		if got := k.CheckBoundaries(tt.pos); got != tt.want {
			t.Errorf("%v: expected %v, got %v", tt.pos, tt.want, got)
		}
	}

	pos := []float64{-5, 400, -100}
	k.Clamp(pos)
	if pos[0] != 0 || pos[1] != 300 || pos[2] != -80 {
		t.Errorf("Expected clamp to 0,300,-80, got %v", pos)
	}
}

func TestCartesianSkew(t *testing.T) {
	k, _ := NewCartesian(config.DefaultConfig())

	pos := []float64{10, 50, 0}
	k.ApplyTransform(pos)
	if pos[0] != 10 {
		t.Errorf("Expected no transform without skew, got %g", pos[0])
	}

	k.SetSkew(&Skew{XY: 0.002})
	k.ApplyTransform(pos)
	if math.Abs(pos[0]-9.9) > 1e-12 {
		t.Errorf("Expected skewed X 9.9, got %g", pos[0])
	}
	k.ApplyReverseTransform(pos)
	if math.Abs(pos[0]-10) > 1e-12 {
		t.Errorf("Expected X 10 after the reverse transform, got %g", pos[0])
	}
}

func TestCartesianNoAxes(t *testing.T) {
	if _, err := NewCartesian(&config.Settings{}); err == nil {
		t.Error("Expected an error without axes")
	}
}

func TestCartesianInterfaces(t *testing.T) {
	var k Kinematics
	k, _ = NewCartesian(config.DefaultConfig())
	if _, ok := k.(Transformer); !ok {
		t.Error("Expected Cartesian to be a Transformer")
	}
	if _, ok := k.(Clamper); !ok {
		t.Error("Expected Cartesian to be a Clamper")
	}
	if sg, ok := k.(Segmenter); !ok || sg.MaxSegmentLength() != 0 {
		t.Error("Expected Cartesian to be a Segmenter without a length limit")
	}
}

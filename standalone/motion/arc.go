package motion

import (
	"math"

	"gocnc/standalone/config"
)

// ArcCorrection is the number of incremental rotations between exact
// recomputations of the radius vector
const ArcCorrection = 16

// Arc queues a circular move in the plane of axes a and b from the current
// position to target. offA/offB locate the center relative to the current
// position. Other axes move linearly (helix). Equal start and end points
// make a full circle.
func (c *Controller) Arc(target []float64, offA, offB, radius float64, a, b int, clockwise bool, p *Params) error {
	var pbuf [config.MaxAxes]float64
	pos := pbuf[:c.axes]
	c.GetPosition(pos)

	centerA := pos[a] + offA
	centerB := pos[b] + offB
	ra, rb := -offA, -offB
	ta, tb := target[a]-centerA, target[b]-centerB

	angle := math.Atan2(ra*tb-rb*ta, ra*ta+rb*tb)
	if clockwise {
		if angle >= 0 {
			angle -= 2 * math.Pi
		}
	} else if angle <= 0 {
		angle += 2 * math.Pi
	}

	tol := c.settings.ArcTolerance
	segments := int(math.Floor(math.Abs(0.5*angle*radius) / math.Sqrt(tol*(2*radius-tol))))
	if segments == 0 {
		return c.Line(target, p)
	}

	step := angle / float64(segments)
	var inc [config.MaxAxes]float64
	for i := range pos {
		if i != a && i != b {
			inc[i] = (target[i] - pos[i]) / float64(segments)
		}
	}

	chord := *p
	if chord.InverseTime {
		// each chord takes 1/segments of the move time
		chord.Feed *= float64(segments)
	}

	sinT, cosT := math.Sincos(step)
	count := 0
	for i := 1; i < segments; i++ {
		if count < ArcCorrection {
			ra, rb = ra*cosT-rb*sinT, ra*sinT+rb*cosT
			count++
		} else {
			s, co := math.Sincos(float64(i) * step)
			ra = -offA*co + offB*s
			rb = -offA*s - offB*co
			count = 0
		}
		pos[a] = centerA + ra
		pos[b] = centerB + rb
		for j := range pos {
			if j != a && j != b {
				pos[j] += inc[j]
			}
		}
		if err := c.Line(pos, &chord); err != nil {
			return err
		}
	}
	return c.Line(target, &chord)
}

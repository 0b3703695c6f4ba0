// Package direction classifies the lateral trend of path-marker centers.
//
// Centers are fitted with x = slope*y + intercept (y independent), so a
// path running straight up the frame has slope 0 and a path drifting
// toward the left as it recedes has a negative slope.
package direction

import (
	"time"

	"github.com/teslashibe/go-pathguide/pkg/detection"
)

// DefaultThreshold is the slope magnitude beyond which the path is
// considered to turn.
const DefaultThreshold = 0.41

// Classification is the lateral direction of the path.
type Classification int

const (
	Indeterminate Classification = iota
	Straight
	Left
	Right
)

func (c Classification) String() string {
	switch c {
	case Straight:
		return "straight"
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "indeterminate"
	}
}

// MarshalText encodes c by name.
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// IsTurn reports whether c calls for a correction.
func (c Classification) IsTurn() bool {
	return c == Left || c == Right
}

// Sample is the estimate for one frame.
type Sample struct {
	Timestamp      time.Time
	Slope          float64
	Intercept      float64
	Classification Classification
}

// Estimator fits and classifies. It holds no state besides its threshold.
type Estimator struct {
	threshold float64
}

// NewEstimator returns an estimator with the given slope threshold.
// A non-positive threshold uses DefaultThreshold.
func NewEstimator(threshold float64) *Estimator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Estimator{threshold: threshold}
}

// Threshold returns the slope threshold.
func (e *Estimator) Threshold() float64 {
	return e.threshold
}

// Estimate classifies the centers of one detection frame.
func (e *Estimator) Estimate(f detection.Frame) Sample {
	s := Sample{Timestamp: f.Timestamp}

	slope, intercept, ok := Fit(f.Centers)
	if !ok {
		return s
	}
	s.Slope = slope
	s.Intercept = intercept
	s.Classification = e.Classify(slope)
	return s
}

// Classify maps a slope to a direction. A slope of exactly ±threshold
// is Straight.
func (e *Estimator) Classify(slope float64) Classification {
	switch {
	case slope < -e.threshold:
		return Left
	case slope > e.threshold:
		return Right
	default:
		return Straight
	}
}

// Fit is an ordinary least squares fit of x against y. It reports false
// for fewer than two points or when every point shares the same y.
func Fit(points []detection.Point) (slope, intercept float64, ok bool) {
	n := float64(len(points))
	if len(points) < 2 {
		return 0, 0, false
	}

	var meanX, meanY float64
	for _, p := range points {
		meanX += p.X
		meanY += p.Y
	}
	meanX /= n
	meanY /= n

	var sxy, syy float64
	for _, p := range points {
		dy := p.Y - meanY
		sxy += dy * (p.X - meanX)
		syy += dy * dy
	}
	if syy == 0 {
		return 0, 0, false
	}

	slope = sxy / syy
	return slope, meanX - slope*meanY, true
}

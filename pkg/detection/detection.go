// Package detection turns video frames into path-marker detections.
//
// A Detector is the external model: it takes a JPEG frame and returns
// bounding boxes in pixel coordinates. The Adapter wraps a Detector,
// computes box centers, and never retries.
package detection

import (
	"fmt"
	"time"
)

// Box is one detected object in pixel coordinates.
type Box struct {
	X1, Y1     float64
	X2, Y2     float64
	Label      string
	Confidence float64
}

// Center returns the midpoint of the box.
func (b Box) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Width returns the horizontal extent.
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent.
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Point is a pixel position.
type Point struct {
	X, Y float64
}

// Frame is the detections for one video frame. Immutable once built.
type Frame struct {
	Index     int
	Timestamp time.Time
	Boxes     []Box
	Centers   []Point
}

// Detector is the interface for object detection backends.
type Detector interface {
	// Detect finds objects in a JPEG image.
	Detect(jpeg []byte) ([]Box, error)

	// Close releases resources.
	Close() error
}

// DetectionError is a detector failure on one frame.
type DetectionError struct {
	FrameIndex int
	Err        error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detect frame %d: %v", e.FrameIndex, e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}

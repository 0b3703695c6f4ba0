package detection

import (
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/go-pathguide/pkg/video"
)

// Adapter runs a Detector over video frames.
type Adapter struct {
	detector Detector
	logger   *slog.Logger

	frames   atomic.Int64
	failures atomic.Int64
}

// NewAdapter wraps d. A nil logger uses slog.Default.
func NewAdapter(d Detector, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		detector: d,
		logger:   logger.With("component", "detection.adapter"),
	}
}

// Detect runs the detector on f. On failure it returns a Frame with no
// boxes alongside a *DetectionError so the caller can still show the
// frame unannotated.
func (a *Adapter) Detect(f video.Frame) (Frame, error) {
	a.frames.Add(1)
	out := Frame{Index: f.Index, Timestamp: f.Timestamp}

	boxes, err := a.detector.Detect(f.JPEG)
	if err != nil {
		a.failures.Add(1)
		a.logger.Debug("detector failed", "frame", f.Index, "error", err)
		return out, &DetectionError{FrameIndex: f.Index, Err: err}
	}

	out.Boxes = boxes
	out.Centers = make([]Point, len(boxes))
	for i, b := range boxes {
		out.Centers[i] = b.Center()
	}
	return out, nil
}

// Stats returns frames processed and detector failures.
func (a *Adapter) Stats() (frames, failures int64) {
	return a.frames.Load(), a.failures.Load()
}

// Close closes the underlying detector.
func (a *Adapter) Close() error {
	return a.detector.Close()
}

package video

import (
	"errors"
	"fmt"
	"io"

	"gocv.io/x/gocv"
)

// Capture is an opened decoder yielding JPEG-encoded frames.
type Capture interface {
	// Read returns the next frame. It returns io.EOF once the source is
	// exhausted and ErrReadFailed (possibly wrapped) when a frame could
	// not be decoded.
	Read() ([]byte, error)

	// FPS is the nominal frame rate, or 0 when unknown.
	FPS() float64

	Close() error
}

// Opener initializes a decoder for path.
type Opener func(path string) (Capture, error)

// JPEGQuality is used when re-encoding decoded frames.
const JPEGQuality = 80

// OpenDefault opens path with OpenCV's default backend selection.
func OpenDefault(path string) (Capture, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, err
	}
	return newGocvCapture(vc)
}

// OpenFFmpeg opens path forcing the FFmpeg backend.
func OpenFFmpeg(path string) (Capture, error) {
	vc, err := gocv.VideoCaptureFileWithAPI(path, gocv.VideoCaptureFFmpeg)
	if err != nil {
		return nil, err
	}
	return newGocvCapture(vc)
}

// DefaultOpeners is the decode strategy: default backend, then FFmpeg.
func DefaultOpeners() []Opener {
	return []Opener{OpenDefault, OpenFFmpeg}
}

type gocvCapture struct {
	vc   *gocv.VideoCapture
	mat  gocv.Mat
	fps  float64
	last float64 // frame count, 0 when the container does not say
}

func newGocvCapture(vc *gocv.VideoCapture) (*gocvCapture, error) {
	if !vc.IsOpened() {
		vc.Close()
		return nil, errors.New("capture not opened")
	}
	return &gocvCapture{
		vc:   vc,
		mat:  gocv.NewMat(),
		fps:  vc.Get(gocv.VideoCaptureFPS),
		last: vc.Get(gocv.VideoCaptureFrameCount),
	}, nil
}

func (c *gocvCapture) Read() ([]byte, error) {
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		if c.exhausted() {
			return nil, io.EOF
		}
		return nil, ErrReadFailed
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.mat, []int{gocv.IMWriteJpegQuality, JPEGQuality})
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrReadFailed, err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

func (c *gocvCapture) exhausted() bool {
	if c.last <= 0 {
		return false
	}
	return c.vc.Get(gocv.VideoCapturePosFrames) >= c.last
}

func (c *gocvCapture) FPS() float64 {
	return c.fps
}

func (c *gocvCapture) Close() error {
	c.mat.Close()
	return c.vc.Close()
}

package video

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreadable means no decoder could be initialized for the source.
	ErrUnreadable = errors.New("video: source is unreadable")

	// ErrCorrupt means the source opened but never produced a frame.
	ErrCorrupt = errors.New("video: corrupt source")

	// ErrReadFailed is a single failed frame read.
	ErrReadFailed = errors.New("video: frame read failed")

	// ErrNoFrames means a probe read no frames at all.
	ErrNoFrames = errors.New("video: no decodable frames")
)

// OpenError is returned when a source cannot be opened.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open video %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

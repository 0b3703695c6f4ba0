package narration

import (
	"errors"
	"fmt"
)

var (
	// ErrGuidedMode rejects companion messages while the guided user
	// operates the device.
	ErrGuidedMode = errors.New("narration: messages are disabled in guided mode")

	// ErrEmptyMessage rejects a blank companion message.
	ErrEmptyMessage = errors.New("narration: message is empty")

	// ErrBusy means the work queue was full and the request was dropped.
	ErrBusy = errors.New("narration: queue full")

	// ErrClosed means the dispatcher has shut down.
	ErrClosed = errors.New("narration: dispatcher closed")
)

// NarrationError is a failed or timed-out text generation for one alert.
type NarrationError struct {
	EventID string
	Timeout bool
	Err     error
}

func (e *NarrationError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("narration for %s timed out: %v", e.EventID, e.Err)
	}
	return fmt.Sprintf("narration for %s: %v", e.EventID, e.Err)
}

func (e *NarrationError) Unwrap() error {
	return e.Err
}

// SpeechError is a failed playback.
type SpeechError struct {
	Text string
	Err  error
}

func (e *SpeechError) Error() string {
	return fmt.Sprintf("speech: %v", e.Err)
}

func (e *SpeechError) Unwrap() error {
	return e.Err
}

package video

import (
	"errors"
	"io"
	"sync"
	"time"
)

// MaxInitialReadFailures is how many consecutive failed reads a session
// tolerates before its first frame.
const MaxInitialReadFailures = 5

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateActive
	StateEnded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Frame is one decoded frame.
type Frame struct {
	Index     int
	Timestamp time.Time // session start plus the frame's position in the video
	JPEG      []byte
}

// ResultKind says what Next produced.
type ResultKind int

const (
	ResultFrame ResultKind = iota
	ResultEnd
	ResultReadFailure
)

// Result is the outcome of one Next call.
type Result struct {
	Kind  ResultKind
	Frame Frame
	Err   error // read failure or, on a Failed end, ErrCorrupt
}

// Session is one playback of one source. Only the Source creates them.
type Session struct {
	ID        string
	Path      string
	Temporary bool
	StartedAt time.Time

	mu        sync.Mutex
	capture   Capture
	state     State
	index     int
	failures  int
	produced  bool
	diagnosis string
	closed    bool
}

func newSession(id, path string, temporary bool, c Capture, now time.Time) *Session {
	return &Session{
		ID:        id,
		Path:      path,
		Temporary: temporary,
		StartedAt: now,
		capture:   c,
		state:     StateActive,
	}
}

// Next reads the next frame.
func (s *Session) Next() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return Result{Kind: ResultEnd, Err: s.endErr()}
	}

	data, err := s.capture.Read()
	switch {
	case err == nil && len(data) > 0:
		f := Frame{
			Index:     s.index,
			Timestamp: s.StartedAt.Add(s.position(s.index)),
			JPEG:      data,
		}
		s.index++
		s.failures = 0
		s.produced = true
		return Result{Kind: ResultFrame, Frame: f}

	case errors.Is(err, io.EOF):
		s.state = StateEnded
		return Result{Kind: ResultEnd}
	}

	if err == nil {
		err = ErrReadFailed
	}

	if s.produced {
		s.state = StateEnded
		return Result{Kind: ResultEnd}
	}

	s.failures++
	if s.failures >= MaxInitialReadFailures {
		s.state = StateFailed
		s.diagnosis = "corrupt source"
		return Result{Kind: ResultEnd, Err: ErrCorrupt}
	}
	return Result{Kind: ResultReadFailure, Err: err}
}

func (s *Session) endErr() error {
	if s.state == StateFailed {
		return ErrCorrupt
	}
	return nil
}

// position maps a frame index to its offset in the video. Without a
// known frame rate frames are spaced at 30 fps.
func (s *Session) position(index int) time.Duration {
	fps := s.capture.FPS()
	if fps <= 0 {
		fps = 30
	}
	return time.Duration(float64(index) / fps * float64(time.Second))
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Diagnosis explains a Failed state.
func (s *Session) Diagnosis() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diagnosis
}

// FrameIndex is the index the next frame will carry.
func (s *Session) FrameIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// ConsecutiveReadFailures counts failed reads since the last good frame.
func (s *Session) ConsecutiveReadFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// FPS is the source frame rate, or 0 when unknown.
func (s *Session) FPS() float64 {
	return s.capture.FPS()
}

// Close releases the decoder. An Active session becomes Ended.
// Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.state == StateActive {
		s.state = StateEnded
	}
	return s.capture.Close()
}

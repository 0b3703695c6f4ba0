// Package video is the frame source: it opens video files, yields frames
// in order, and owns the lifecycle of the single active playback session.
package video

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProbeFrames is how many frames Probe tries to read.
const ProbeFrames = 5

// Source opens sessions. At most one session is active at a time.
type Source struct {
	openers []Opener
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	active *Session
}

// Option configures a Source.
type Option func(*Source)

// WithOpeners replaces the decode strategy.
func WithOpeners(openers ...Opener) Option {
	return func(s *Source) { s.openers = openers }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// WithClock sets the time source for session start times.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// NewSource creates a frame source using the default decode strategy.
func NewSource(opts ...Option) *Source {
	s := &Source{
		openers: DefaultOpeners(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "video.source")
	return s
}

// OpenOption configures a single Open call.
type OpenOption func(*openOptions)

type openOptions struct {
	temporary bool
}

// Temporary marks the file as owned by the session: it is deleted when
// the session is replaced or the source is closed.
func Temporary() OpenOption {
	return func(o *openOptions) { o.temporary = true }
}

// Open closes the active session, if any, and starts a new one on path.
// On failure no session is active.
func (s *Source) Open(path string, opts ...OpenOption) (*Session, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked()

	c, err := s.openCapture(path)
	if err != nil {
		if o.temporary {
			s.remove(path)
		}
		return nil, err
	}

	sess := newSession(uuid.New().String(), path, o.temporary, c, s.now())
	s.active = sess
	s.logger.Info("session opened", "session", sess.ID, "path", path, "fps", c.FPS())
	return sess, nil
}

// Probe checks that path decodes by reading up to ProbeFrames frames.
// It does not touch the active session.
func (s *Source) Probe(path string) error {
	c, err := s.openCapture(path)
	if err != nil {
		return err
	}
	defer c.Close()

	for i := 0; i < ProbeFrames; i++ {
		data, err := c.Read()
		if err == nil && len(data) > 0 {
			return nil
		}
		if errors.Is(err, io.EOF) {
			break
		}
	}
	return &OpenError{Path: path, Err: ErrNoFrames}
}

// Active returns the active session, or nil.
func (s *Source) Active() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Close ends the active session and removes its temporary file.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
	return nil
}

func (s *Source) openCapture(path string) (Capture, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &OpenError{Path: path, Err: fmt.Errorf("%w: %v", ErrUnreadable, err)}
	}

	var errs []error
	for i, open := range s.openers {
		c, err := open(path)
		if err == nil {
			if i > 0 {
				s.logger.Info("opened with fallback decoder", "path", path, "attempt", i+1)
			}
			return c, nil
		}
		errs = append(errs, err)
		s.logger.Warn("decoder failed to open source", "path", path, "attempt", i+1, "error", err)
	}

	return nil, &OpenError{Path: path, Err: errors.Join(append([]error{ErrUnreadable}, errs...)...)}
}

func (s *Source) releaseLocked() {
	prev := s.active
	if prev == nil {
		return
	}
	s.active = nil

	if err := prev.Close(); err != nil {
		s.logger.Warn("closing session", "session", prev.ID, "error", err)
	}
	if prev.Temporary {
		s.remove(prev.Path)
	}
	s.logger.Info("session released", "session", prev.ID, "state", prev.State())
}

func (s *Source) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("removing temporary file", "path", path, "error", err)
	}
}

// Package stream delivers processed frames and live narration text to
// viewers: an MJPEG frame feed and a server-sent text feed.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Defaults for viewer streams.
const (
	EndFrames        = 3
	IdleInterval     = time.Second
	WaitingMessage   = "Waiting for a video. Upload one to start guidance."
	TextPollInterval = 500 * time.Millisecond
)

// Multiplexer fans frames out to any number of viewers. Each viewer
// holds only the newest frame, so a slow viewer skips frames instead of
// slowing the pipeline.
type Multiplexer struct {
	logger       *slog.Logger
	placeholders *placeholderCache
	idleInterval time.Duration
	waiting      string

	mu     sync.Mutex
	active bool
	subs   map[*Subscriber]struct{}
}

// Option configures a Multiplexer.
type Option func(*Multiplexer)

// WithRenderer replaces the placeholder renderer.
func WithRenderer(r Renderer) Option {
	return func(m *Multiplexer) { m.placeholders = newPlaceholderCache(r) }
}

// WithIdleInterval sets how often the waiting placeholder repeats.
func WithIdleInterval(d time.Duration) Option {
	return func(m *Multiplexer) { m.idleInterval = d }
}

// WithWaitingMessage sets the text of the waiting placeholder.
func WithWaitingMessage(s string) Option {
	return func(m *Multiplexer) { m.waiting = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Multiplexer) { m.logger = l }
}

// NewMultiplexer creates an idle multiplexer.
func NewMultiplexer(opts ...Option) *Multiplexer {
	m := &Multiplexer{
		logger:       slog.Default(),
		placeholders: newPlaceholderCache(RenderPlaceholder),
		idleInterval: IdleInterval,
		waiting:      WaitingMessage,
		subs:         make(map[*Subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "stream.multiplexer")
	return m
}

// Run repeats the waiting placeholder while no session is active.
// It returns when ctx is cancelled, ending every viewer stream.
func (m *Multiplexer) Run(ctx context.Context) {
	ticker := time.NewTicker(m.idleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			for s := range m.subs {
				s.finish(nil)
				delete(m.subs, s)
			}
			m.mu.Unlock()
			return
		case <-ticker.C:
			m.mu.Lock()
			idle := !m.active
			m.mu.Unlock()
			if idle {
				m.broadcastWaiting()
			}
		}
	}
}

// Subscribe registers a viewer.
func (m *Multiplexer) Subscribe() *Subscriber {
	s := newSubscriber()
	waiting, err := m.placeholders.get(m.waiting)
	if err != nil {
		m.logger.Warn("rendering waiting frame", "error", err)
	}

	m.mu.Lock()
	m.subs[s] = struct{}{}
	if !m.active && waiting != nil {
		s.box.put(waiting)
	}
	count := len(m.subs)
	m.mu.Unlock()

	m.logger.Debug("viewer subscribed", "viewers", count)
	return s
}

// Unsubscribe removes a viewer.
func (m *Multiplexer) Unsubscribe(s *Subscriber) {
	m.mu.Lock()
	delete(m.subs, s)
	m.mu.Unlock()
}

// Viewers returns the number of subscribed viewers.
func (m *Multiplexer) Viewers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Begin marks a session active; the waiting placeholder stops.
func (m *Multiplexer) Begin() {
	m.mu.Lock()
	m.active = true
	m.mu.Unlock()
}

// Publish hands a frame to every viewer.
func (m *Multiplexer) Publish(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s := range m.subs {
		s.box.put(frame)
	}
}

// End sends EndFrames placeholder frames carrying status to every
// current viewer, then stops their streams. New viewers see the
// waiting placeholder.
func (m *Multiplexer) End(status string) {
	frame, err := m.placeholders.get(status)
	if err != nil {
		m.logger.Warn("rendering status frame", "error", err)
	}

	var tail [][]byte
	if frame != nil {
		for i := 0; i < EndFrames; i++ {
			tail = append(tail, frame)
		}
	}

	m.mu.Lock()
	m.active = false
	for s := range m.subs {
		s.finish(tail)
		delete(m.subs, s)
	}
	m.mu.Unlock()
}

func (m *Multiplexer) broadcastWaiting() {
	f, err := m.placeholders.get(m.waiting)
	if err != nil {
		m.logger.Warn("rendering waiting frame", "error", err)
		return
	}
	m.Publish(f)
}

// Subscriber is one viewer's stream.
type Subscriber struct {
	box *mailbox

	mu       sync.Mutex
	tail     [][]byte
	finished bool
	wake     chan struct{}
}

func newSubscriber() *Subscriber {
	return &Subscriber{
		box:  newMailbox(),
		wake: make(chan struct{}),
	}
}

func (s *Subscriber) finish(tail [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.tail = tail
	s.finished = true
	close(s.wake)
}

// Next blocks for the next frame. It reports false when the stream has
// ended or ctx is done.
func (s *Subscriber) Next(ctx context.Context) ([]byte, bool) {
	s.mu.Lock()
	if s.finished {
		defer s.mu.Unlock()
		select {
		case f := <-s.box.ch:
			return f, true
		default:
		}
		if len(s.tail) == 0 {
			return nil, false
		}
		f := s.tail[0]
		s.tail = s.tail[1:]
		return f, true
	}
	s.mu.Unlock()

	select {
	case f := <-s.box.ch:
		return f, true
	case <-s.wake:
		return s.Next(ctx)
	case <-ctx.Done():
		return nil, false
	}
}

// Dropped returns how many frames this viewer skipped.
func (s *Subscriber) Dropped() uint64 {
	return s.box.drops.Load()
}

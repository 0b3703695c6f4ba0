// Package alert debounces direction samples into discrete alert events.
package alert

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-pathguide/pkg/direction"
)

// DefaultDebounce is the minimum spacing between two alerts.
const DefaultDebounce = 14 * time.Second

// Event is one emitted correction.
type Event struct {
	ID          string                   `json:"id"`
	SessionID   string                   `json:"session_id"`
	Direction   direction.Classification `json:"direction"` // Left or Right
	Slope       float64                  `json:"slope"`
	TriggeredAt time.Time                `json:"triggered_at"`
}

// Throttler applies a single global cooldown across both directions.
// Straight and Indeterminate samples never emit and never touch the timer.
type Throttler struct {
	interval time.Duration
	newID    func() string

	mu   sync.Mutex
	last time.Time
	set  bool
}

// NewThrottler returns a throttler with the given interval. A negative
// interval is treated as zero.
func NewThrottler(interval time.Duration) *Throttler {
	if interval < 0 {
		interval = 0
	}
	return &Throttler{
		interval: interval,
		newID:    func() string { return uuid.New().String() },
	}
}

// Interval returns the cooldown.
func (t *Throttler) Interval() time.Duration {
	return t.interval
}

// Offer feeds one sample. It returns an event when the sample is a turn
// and the cooldown has elapsed.
func (t *Throttler) Offer(sessionID string, s direction.Sample) (Event, bool) {
	if !s.Classification.IsTurn() {
		return Event{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.set && s.Timestamp.Sub(t.last) < t.interval {
		return Event{}, false
	}
	t.last = s.Timestamp
	t.set = true

	return Event{
		ID:          t.newID(),
		SessionID:   sessionID,
		Direction:   s.Classification,
		Slope:       s.Slope,
		TriggeredAt: s.Timestamp,
	}, true
}

// LastAlert returns the timestamp of the last emitted event.
func (t *Throttler) LastAlert() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.set
}

// Reset clears the cooldown.
func (t *Throttler) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = time.Time{}
	t.set = false
}

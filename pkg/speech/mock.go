package speech

import (
	"context"
	"sync"
	"time"
)

// Mock implements Speaker for testing.
type Mock struct {
	// SpeakFunc is called when Speak is invoked. If nil, Speak succeeds.
	SpeakFunc func(ctx context.Context, u Utterance) error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records an utterance passed to Speak.
type MockCall struct {
	Utterance Utterance
	Time      time.Time
}

// NewMock creates a mock speaker that always succeeds.
func NewMock() *Mock {
	return &Mock{}
}

// Name implements Speaker.
func (m *Mock) Name() string { return "mock" }

// Speak records the call and delegates to SpeakFunc.
func (m *Mock) Speak(ctx context.Context, u Utterance) error {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Utterance: u, Time: time.Now()})
	m.mu.Unlock()

	if m.SpeakFunc != nil {
		return m.SpeakFunc(ctx, u)
	}
	return nil
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// Texts returns the text of every recorded utterance.
func (m *Mock) Texts() []string {
	calls := m.Calls()
	texts := make([]string, len(calls))
	for i, c := range calls {
		texts[i] = c.Utterance.Text
	}
	return texts
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		SpeakFunc: func(ctx context.Context, u Utterance) error {
			return err
		},
	}
}

// WithLatency wraps a mock so every call takes at least delay.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	original := m.SpeakFunc
	m.SpeakFunc = func(ctx context.Context, u Utterance) error {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if original != nil {
			return original(ctx, u)
		}
		return nil
	}
	return m
}

var _ Speaker = (*Mock)(nil)

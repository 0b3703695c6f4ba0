package detection

import "sync"

// Mock implements Detector for testing.
type Mock struct {
	// DetectFunc is called when Detect is invoked. If nil, no boxes are found.
	DetectFunc func(jpeg []byte) ([]Box, error)

	mu     sync.Mutex
	calls  int
	closed bool
}

// Detect implements Detector.
func (m *Mock) Detect(jpeg []byte) ([]Box, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.DetectFunc != nil {
		return m.DetectFunc(jpeg)
	}
	return nil, nil
}

// Close implements Detector.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// CallCount returns how many frames were passed to Detect.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Static returns a detector that finds the same boxes in every frame.
func Static(boxes ...Box) *Mock {
	return &Mock{
		DetectFunc: func([]byte) ([]Box, error) {
			return boxes, nil
		},
	}
}

var _ Detector = (*Mock)(nil)

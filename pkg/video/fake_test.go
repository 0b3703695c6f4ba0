package video

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

// script is a fake Capture replaying a fixed sequence of read outcomes.
type script struct {
	reads  []error // nil = frame, io.EOF = end, other = failure
	pos    int
	fps    float64
	closed int
}

func (s *script) Read() ([]byte, error) {
	if s.pos >= len(s.reads) {
		return nil, io.EOF
	}
	err := s.reads[s.pos]
	s.pos++
	if err != nil {
		return nil, err
	}
	return []byte{0xff, 0xd8, byte(s.pos)}, nil
}

func (s *script) FPS() float64 { return s.fps }

func (s *script) Close() error {
	s.closed++
	return nil
}

func opener(c *script) Opener {
	return func(string) (Capture, error) { return c, nil }
}

func tempFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func frames(n int) []error {
	return make([]error, n)
}

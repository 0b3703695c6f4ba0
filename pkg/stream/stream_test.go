package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-pathguide/internal/log"
)

// fakeRender returns the message itself as the "image".
func fakeRender(msg string) ([]byte, error) {
	return []byte("ph:" + msg), nil
}

func newTestMux(opts ...Option) *Multiplexer {
	base := []Option{WithRenderer(fakeRender), WithLogger(log.Discard()), WithWaitingMessage("waiting")}
	return NewMultiplexer(append(base, opts...)...)
}

func next(t *testing.T, s *Subscriber) ([]byte, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.Next(ctx)
}

func TestMailbox_KeepsNewest(t *testing.T) {
	m := newMailbox()
	m.put([]byte("1"))
	m.put([]byte("2"))
	m.put([]byte("3"))

	assert.Equal(t, []byte("3"), <-m.ch)
	assert.Equal(t, uint64(2), m.drops.Load())
}

func TestMultiplexer_SubscribeWhileIdle(t *testing.T) {
	mux := newTestMux()
	s := mux.Subscribe()

	f, ok := next(t, s)
	require.True(t, ok)
	assert.Equal(t, []byte("ph:waiting"), f)
	assert.Equal(t, 1, mux.Viewers())
}

func TestMultiplexer_SubscribeNeverOverwritesLiveFrame(t *testing.T) {
	for i := 0; i < 200; i++ {
		mux := newTestMux()

		var wg sync.WaitGroup
		var s *Subscriber
		wg.Add(2)
		go func() {
			defer wg.Done()
			s = mux.Subscribe()
		}()
		go func() {
			defer wg.Done()
			mux.Begin()
			mux.Publish([]byte("live"))
		}()
		wg.Wait()

		select {
		case f := <-s.box.ch:
			require.Equal(t, []byte("live"), f, "iteration %d", i)
		default:
		}
	}
}

func TestMultiplexer_PublishesLatestFrame(t *testing.T) {
	mux := newTestMux()
	mux.Begin()
	s := mux.Subscribe()

	mux.Publish([]byte("a"))
	mux.Publish([]byte("b"))

	f, ok := next(t, s)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), f)
	assert.Equal(t, uint64(1), s.Dropped())
}

func TestMultiplexer_EndSendsStatusFramesThenStops(t *testing.T) {
	mux := newTestMux()
	mux.Begin()
	s := mux.Subscribe()

	mux.End("Video ended")

	var got []string
	for {
		f, ok := next(t, s)
		if !ok {
			break
		}
		got = append(got, string(f))
	}
	assert.Equal(t, []string{"ph:Video ended", "ph:Video ended", "ph:Video ended"}, got)
	assert.Equal(t, 0, mux.Viewers())
}

func TestMultiplexer_EndWithRenderFailureStops(t *testing.T) {
	mux := newTestMux(WithRenderer(func(string) ([]byte, error) {
		return nil, errors.New("no opencv")
	}))
	mux.Begin()
	s := mux.Subscribe()

	mux.End("Video ended")

	_, ok := next(t, s)
	assert.False(t, ok)
}

func TestMultiplexer_IdleRepeatsWaitingFrame(t *testing.T) {
	mux := newTestMux(WithIdleInterval(10 * time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Run(ctx)

	s := mux.Subscribe()
	for i := 0; i < 3; i++ {
		f, ok := next(t, s)
		require.True(t, ok)
		assert.Equal(t, []byte("ph:waiting"), f)
	}
}

func TestMultiplexer_RunCancelEndsViewers(t *testing.T) {
	mux := newTestMux(WithIdleInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mux.Run(ctx)
		close(done)
	}()

	mux.Begin()
	s := mux.Subscribe()
	cancel()
	<-done

	_, ok := next(t, s)
	assert.False(t, ok)
}

func TestSubscriber_NextHonorsContext(t *testing.T) {
	mux := newTestMux()
	mux.Begin()
	s := mux.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := s.Next(ctx)
	assert.False(t, ok)
}

func TestServeMJPEG(t *testing.T) {
	mux := newTestMux()
	mux.Begin()
	s := mux.Subscribe()
	mux.Publish([]byte("jpeg"))

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	done := make(chan error, 1)
	go func() { done <- ServeMJPEG(context.Background(), w, s) }()

	time.Sleep(20 * time.Millisecond)
	mux.End("bye")
	require.NoError(t, <-done)

	out := buf.String()
	assert.Contains(t, out, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 4\r\n\r\njpeg\r\n")
	assert.Equal(t, 4, bytes.Count(buf.Bytes(), []byte("--frame\r\n")))
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	require.NoError(t, WriteEvent(w, "Turn left"))
	require.NoError(t, WriteEvent(w, "line one\nline two"))

	assert.Equal(t, "data: Turn left\n\ndata: line one\ndata: line two\n\n", buf.String())
}

type scriptedText struct {
	mu    sync.Mutex
	texts []string
}

func (s *scriptedText) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.texts[0]
	if len(s.texts) > 1 {
		s.texts = s.texts[1:]
	}
	return t
}

func TestWatchText_SkipsDuplicates(t *testing.T) {
	src := &scriptedText{texts: []string{"", "", "Turn left", "Turn left", "Turn right"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string
	err := WatchText(ctx, src, time.Millisecond, func(s string) error {
		got = append(got, s)
		if len(got) == 3 {
			cancel()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"", "Turn left", "Turn right"}, got)
}

func TestWatchText_EmitErrorStops(t *testing.T) {
	src := &scriptedText{texts: []string{"x"}}
	boom := errors.New("client gone")

	err := WatchText(context.Background(), src, time.Millisecond, func(string) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestWrap(t *testing.T) {
	assert.Equal(t, []string{""}, wrap("   ", 10))
	assert.Equal(t, []string{"Video", "ended"}, wrap("Video ended", 6))
	assert.Equal(t, []string{"abcde", "fgh"}, wrap("abcdefgh", 5))
	assert.Equal(t, []string{"one two", "three"}, wrap("one two three", 8))
}

package narration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-pathguide/internal/log"
	"github.com/teslashibe/go-pathguide/pkg/alert"
	"github.com/teslashibe/go-pathguide/pkg/direction"
	"github.com/teslashibe/go-pathguide/pkg/inference"
	"github.com/teslashibe/go-pathguide/pkg/settings"
	"github.com/teslashibe/go-pathguide/pkg/speech"
)

type recorder struct {
	mu  sync.Mutex
	got []Narration
}

func (r *recorder) add(n Narration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recorder) all() []Narration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Narration(nil), r.got...)
}

type fixture struct {
	d        *Dispatcher
	provider *inference.Mock
	speaker  *speech.Mock
	settings *settings.Manager
	live     *LiveText
	events   *recorder
}

func newFixture(t *testing.T, provider *inference.Mock, mutate ...func(*Config)) *fixture {
	t.Helper()

	s := settings.Default()
	s.Name = "Lin"
	s.Gender = settings.GenderFemale
	s.SpeechRate = speech.RateSlow
	s.SpeechVolume = speech.VolumeHigh

	f := &fixture{
		provider: provider,
		speaker:  speech.NewMock(),
		settings: settings.NewManager(s),
		live:     NewLiveText("hint"),
		events:   &recorder{},
	}

	cfg := DefaultConfig()
	cfg.Provider = f.provider
	cfg.Speaker = f.speaker
	cfg.Settings = f.settings
	cfg.Live = f.live
	cfg.Logger = log.Discard()
	cfg.OnNarration = f.events.add
	for _, m := range mutate {
		m(&cfg)
	}

	d, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	f.d = d
	return f
}

func event(session string, dir direction.Classification) alert.Event {
	return alert.Event{ID: "ev-" + session, SessionID: session, Direction: dir, TriggeredAt: time.Now()}
}

func TestDispatch_ResolvesAndSpeaks(t *testing.T) {
	f := newFixture(t, inference.NewMock("Ms. Lin, please bear left."))
	f.d.BeginSession("s1")

	require.True(t, f.d.Dispatch(event("s1", direction.Left)))

	require.Eventually(t, func() bool { return len(f.speaker.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, "Ms. Lin, please bear left.", f.live.Text())

	u := f.speaker.Calls()[0].Utterance
	assert.Equal(t, "Ms. Lin, please bear left.", u.Text)
	assert.Equal(t, speech.RateSlow, u.Rate)
	assert.Equal(t, speech.VolumeHigh, u.Volume)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, SourceAlert, events[0].Source)
	assert.Equal(t, direction.Left, events[0].Direction)
	assert.Equal(t, "s1", events[0].SessionID)

	req := f.provider.LastCall().Request
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[0].Content, "Ms. Lin")
	assert.Contains(t, req.Messages[1].Content, "turn left")
}

func TestDispatch_FailureIsDropped(t *testing.T) {
	f := newFixture(t, inference.WithError(errors.New("connection refused")))
	f.d.BeginSession("s1")

	require.True(t, f.d.Dispatch(event("s1", direction.Right)))

	require.Eventually(t, func() bool { return f.provider.CallCount("Stream") == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return len(f.speaker.Calls()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, "hint", f.live.Text())
	assert.Empty(t, f.events.all())
}

func TestDispatch_TimeoutIsDropped(t *testing.T) {
	provider := &inference.Mock{
		StreamFunc: func(ctx context.Context, req *inference.ChatRequest) (inference.Stream, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	f := newFixture(t, provider, func(c *Config) { c.Timeout = 20 * time.Millisecond })
	f.d.BeginSession("s1")

	require.True(t, f.d.Dispatch(event("s1", direction.Left)))

	assert.Never(t, func() bool { return len(f.speaker.Calls()) > 0 }, 150*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, "hint", f.live.Text())
}

func TestDispatch_SessionReplacementDiscardsLateNarration(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	provider := &inference.Mock{
		// Ignores ctx on purpose: the completion must still be discarded.
		StreamFunc: func(ctx context.Context, req *inference.ChatRequest) (inference.Stream, error) {
			started <- struct{}{}
			<-release
			return inference.NewChunkStream("Turn ", "left."), nil
		},
	}
	f := newFixture(t, provider)
	f.d.BeginSession("s1")

	require.True(t, f.d.Dispatch(event("s1", direction.Left)))
	<-started

	f.d.BeginSession("s2")
	close(release)

	assert.Never(t, func() bool {
		return len(f.speaker.Calls()) > 0 || len(f.events.all()) > 0
	}, 150*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, "hint", f.live.Text())
}

func TestEndSession_DiscardsLateNarrationAndRejectsAlerts(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	provider := &inference.Mock{
		StreamFunc: func(ctx context.Context, req *inference.ChatRequest) (inference.Stream, error) {
			started <- struct{}{}
			<-release
			return inference.NewChunkStream("Turn ", "left."), nil
		},
	}
	f := newFixture(t, provider)
	f.d.BeginSession("s1")

	require.True(t, f.d.Dispatch(event("s1", direction.Left)))
	<-started

	f.d.EndSession()
	close(release)

	assert.False(t, f.d.Dispatch(event("s1", direction.Left)), "no session is active")
	assert.Never(t, func() bool {
		return len(f.speaker.Calls()) > 0 || len(f.events.all()) > 0
	}, 150*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, "hint", f.live.Text())
}

func TestDispatch_SessionReplacementCancelsSpeech(t *testing.T) {
	f := newFixture(t, inference.NewMock("Bear right."))
	speaking := make(chan struct{}, 1)
	cancelled := make(chan error, 1)
	f.speaker.SpeakFunc = func(ctx context.Context, u speech.Utterance) error {
		speaking <- struct{}{}
		<-ctx.Done()
		cancelled <- ctx.Err()
		return ctx.Err()
	}
	f.d.BeginSession("s1")

	require.True(t, f.d.Dispatch(event("s1", direction.Right)))
	<-speaking

	f.d.BeginSession("s2")

	select {
	case err := <-cancelled:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("speech was not cancelled by session replacement")
	}
}

func TestDispatch_InactiveSessionRejected(t *testing.T) {
	f := newFixture(t, inference.NewMock("x"))
	f.d.BeginSession("s2")

	assert.False(t, f.d.Dispatch(event("s1", direction.Left)))
}

func TestDispatch_FullQueueDrops(t *testing.T) {
	release := make(chan struct{})
	provider := &inference.Mock{
		StreamFunc: func(ctx context.Context, req *inference.ChatRequest) (inference.Stream, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil, errors.New("released")
		},
	}
	f := newFixture(t, provider, func(c *Config) {
		c.NarrationWorkers = 1
		c.NarrationQueue = 1
	})
	defer close(release)
	f.d.BeginSession("s1")

	require.True(t, f.d.Dispatch(event("s1", direction.Left)))
	require.Eventually(t, func() bool { return provider.CallCount("Stream") == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, f.d.Dispatch(event("s1", direction.Left)), "one slot in the queue")

	done := make(chan bool)
	go func() { done <- f.d.Dispatch(event("s1", direction.Right)) }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
}

func TestSendManual(t *testing.T) {
	t.Run("rejected in guided mode", func(t *testing.T) {
		f := newFixture(t, inference.NewMock("x"))
		_, err := f.d.SendManual("dinner is ready")
		assert.ErrorIs(t, err, ErrGuidedMode)
		assert.Equal(t, "hint", f.live.Text())
	})

	t.Run("spoken in companion mode", func(t *testing.T) {
		f := newFixture(t, inference.NewMock("x"))
		_, err := f.settings.Update(map[string]interface{}{"user_mode": "companion"})
		require.NoError(t, err)

		full, err := f.d.SendManual("  dinner is ready ")
		require.NoError(t, err)

		assert.Equal(t, ManualPrefix+"dinner is ready", full)
		assert.Equal(t, full, f.live.Text())
		require.Eventually(t, func() bool { return len(f.speaker.Calls()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, full, f.speaker.Calls()[0].Utterance.Text)
		assert.Zero(t, f.provider.CallCount("Stream"), "manual messages bypass generation")
	})

	t.Run("not tied to a session", func(t *testing.T) {
		f := newFixture(t, inference.NewMock("x"))
		f.settings.Update(map[string]interface{}{"user_mode": "companion"})

		started := make(chan struct{}, 1)
		var gotErr error
		var mu sync.Mutex
		f.speaker.SpeakFunc = func(ctx context.Context, u speech.Utterance) error {
			started <- struct{}{}
			time.Sleep(30 * time.Millisecond)
			mu.Lock()
			gotErr = ctx.Err()
			mu.Unlock()
			return nil
		}

		_, err := f.d.SendManual("hello")
		require.NoError(t, err)
		<-started
		f.d.BeginSession("s9")

		require.Eventually(t, func() bool {
			return len(f.speaker.Calls()) == 1
		}, time.Second, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		assert.NoError(t, gotErr)
		mu.Unlock()
	})

	t.Run("empty", func(t *testing.T) {
		f := newFixture(t, inference.NewMock("x"))
		f.settings.Update(map[string]interface{}{"user_mode": "companion"})
		_, err := f.d.SendManual("   ")
		assert.ErrorIs(t, err, ErrEmptyMessage)
	})
}

func TestSpeakTest_DoesNotTouchSettings(t *testing.T) {
	f := newFixture(t, inference.NewMock("x"))
	before := f.settings.Get()

	require.NoError(t, f.d.SpeakTest(speech.RateFast, speech.VolumeLow))
	require.Eventually(t, func() bool { return len(f.speaker.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	u := f.speaker.Calls()[0].Utterance
	assert.Equal(t, TestSentence, u.Text)
	assert.Equal(t, speech.RateFast, u.Rate)
	assert.Equal(t, speech.VolumeLow, u.Volume)
	assert.Equal(t, before, f.settings.Get())
	assert.Equal(t, "hint", f.live.Text())
}

func TestClose_RejectsWork(t *testing.T) {
	f := newFixture(t, inference.NewMock("x"))
	f.d.BeginSession("s1")
	require.NoError(t, f.d.Close())

	assert.False(t, f.d.Dispatch(event("s1", direction.Left)))
	assert.ErrorIs(t, f.d.SpeakTest(speech.RateMedium, speech.VolumeMedium), ErrClosed)
}

func TestDrain_WaitsForQueuedWork(t *testing.T) {
	f := newFixture(t, inference.NewMock("Keep left."))
	f.d.BeginSession("s1")
	require.True(t, f.d.Dispatch(event("s1", direction.Left)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.d.Drain(ctx))

	require.Len(t, f.speaker.Calls(), 1)
	assert.True(t, strings.HasPrefix(f.speaker.Calls()[0].Utterance.Text, "Keep"))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

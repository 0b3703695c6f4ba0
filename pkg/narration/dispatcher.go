// Package narration turns alert events into spoken guidance.
//
// For every alert the Dispatcher asks the text generator for a short,
// direction-specific sentence, publishes it to the live text cell and
// queues it for speech. Generation and playback run on bounded pools so
// the frame loop never waits on them. Work belongs to the session that
// produced the alert: starting a new session cancels it, and anything
// that completes late is discarded.
package narration

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-pathguide/pkg/alert"
	"github.com/teslashibe/go-pathguide/pkg/direction"
	"github.com/teslashibe/go-pathguide/pkg/inference"
	"github.com/teslashibe/go-pathguide/pkg/settings"
	"github.com/teslashibe/go-pathguide/pkg/speech"
)

// ManualPrefix introduces a companion message.
const ManualPrefix = "You have a message from your family: "

// TestSentence is spoken by SpeakTest.
const TestSentence = "This is a voice test. The path ahead is clear, please keep walking straight."

// Source of a narration.
const (
	SourceAlert  = "alert"
	SourceManual = "manual"
	SourceTest   = "test"
)

// SettingsSource supplies the current settings snapshot.
type SettingsSource interface {
	Get() settings.Settings
}

// Narration is a resolved piece of spoken text.
type Narration struct {
	Source     string                   `json:"source"`
	EventID    string                   `json:"event_id,omitempty"`
	SessionID  string                   `json:"session_id,omitempty"`
	Direction  direction.Classification `json:"direction"`
	Text       string                   `json:"text"`
	ResolvedAt time.Time                `json:"resolved_at"`
}

// Config configures a Dispatcher.
type Config struct {
	Provider inference.Provider
	Speaker  speech.Speaker
	Settings SettingsSource
	Live     *LiveText

	Timeout          time.Duration // per narration request
	NarrationWorkers int
	NarrationQueue   int
	SpeechWorkers    int
	SpeechQueue      int

	Logger *slog.Logger

	// OnNarration is called for every narration published to Live.
	OnNarration func(Narration)
}

// DefaultConfig returns pool sizes and timeouts; collaborators must be set.
func DefaultConfig() Config {
	return Config{
		Timeout:          20 * time.Second,
		NarrationWorkers: 2,
		NarrationQueue:   4,
		SpeechWorkers:    2,
		SpeechQueue:      8,
		Logger:           slog.Default(),
	}
}

// Dispatcher resolves alert events into narration and speech.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger

	root   context.Context
	cancel context.CancelFunc

	narrate *Pool
	speak   *Pool

	mu            sync.Mutex
	closed        bool
	draining      bool
	epoch         uint64
	sessionID     string
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
}

// New creates a dispatcher and starts its worker pools.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Provider == nil {
		return nil, errors.New("narration: provider is required")
	}
	if cfg.Speaker == nil {
		return nil, errors.New("narration: speaker is required")
	}
	if cfg.Settings == nil {
		return nil, errors.New("narration: settings source is required")
	}
	if cfg.Live == nil {
		cfg.Live = NewLiveText("")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	logger := cfg.Logger.With("component", "narration.dispatcher")
	root, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		cfg:     cfg,
		logger:  logger,
		root:    root,
		cancel:  cancel,
		narrate: NewPool(root, "narration", cfg.NarrationWorkers, cfg.NarrationQueue, logger),
		speak:   NewPool(root, "speech", cfg.SpeechWorkers, cfg.SpeechQueue, logger),
	}
	d.sessionCtx, d.sessionCancel = context.WithCancel(root)
	return d, nil
}

// Live returns the live narration cell.
func (d *Dispatcher) Live() *LiveText {
	return d.cfg.Live
}

// BeginSession cancels all work belonging to the previous session.
func (d *Dispatcher) BeginSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.resetLocked(sessionID)
	d.logger.Debug("session begun", "session", sessionID, "epoch", d.epoch)
}

// EndSession cancels all work belonging to the current session. Alerts
// are rejected until the next BeginSession.
func (d *Dispatcher) EndSession() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sessionID == "" {
		return
	}
	d.logger.Debug("session ended", "session", d.sessionID, "epoch", d.epoch)
	d.resetLocked("")
}

func (d *Dispatcher) resetLocked(sessionID string) {
	d.sessionCancel()
	d.epoch++
	d.sessionID = sessionID
	d.sessionCtx, d.sessionCancel = context.WithCancel(d.root)
}

// Dispatch queues narration for ev. It never blocks; it reports false
// when the event was dropped.
func (d *Dispatcher) Dispatch(ev alert.Event) bool {
	d.mu.Lock()
	if d.closed || d.draining {
		d.mu.Unlock()
		return false
	}
	if ev.SessionID != d.sessionID {
		d.mu.Unlock()
		d.logger.Debug("dropping alert from inactive session", "event", ev.ID, "session", ev.SessionID)
		return false
	}
	epoch, ctx := d.epoch, d.sessionCtx
	d.mu.Unlock()

	profile := ProfileFrom(d.cfg.Settings.Get())

	ok := d.narrate.Submit(func(context.Context) {
		d.resolve(ctx, epoch, ev, profile)
	})
	if !ok {
		d.logger.Warn("narration dropped", "event", ev.ID, "direction", ev.Direction)
	}
	return ok
}

func (d *Dispatcher) resolve(ctx context.Context, epoch uint64, ev alert.Event, p Profile) {
	if ctx.Err() != nil {
		d.logger.Debug("narration expired before start", "event", ev.ID)
		return
	}

	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	text, err := inference.Collect(reqCtx, d.cfg.Provider, BuildRequest(p, ev.Direction))
	timedOut := errors.Is(reqCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			d.logger.Debug("narration cancelled with its session", "event", ev.ID)
			return
		}
		nerr := &NarrationError{EventID: ev.ID, Timeout: timedOut, Err: err}
		d.logger.Warn("narration failed, alert dropped", "event", ev.ID, "direction", ev.Direction, "error", nerr)
		return
	}

	n := Narration{
		Source:     SourceAlert,
		EventID:    ev.ID,
		SessionID:  ev.SessionID,
		Direction:  ev.Direction,
		Text:       text,
		ResolvedAt: time.Now(),
	}

	d.mu.Lock()
	if epoch != d.epoch || d.closed {
		d.mu.Unlock()
		d.logger.Debug("discarding late narration", "event", ev.ID)
		return
	}
	d.cfg.Live.Set(text)
	d.mu.Unlock()

	d.logger.Info("narration resolved",
		"event", ev.ID,
		"direction", ev.Direction,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	d.notify(n)
	d.enqueueSpeech(ctx, p.Utterance(text))
}

// SendManual speaks a companion message. It bypasses direction
// estimation and throttling and is not tied to any session.
func (d *Dispatcher) SendManual(message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}

	s := d.cfg.Settings.Get()
	if s.Mode == settings.ModeGuided {
		return "", ErrGuidedMode
	}

	if d.isClosed() {
		return "", ErrClosed
	}

	full := ManualPrefix + message
	p := ProfileFrom(s)
	if !d.enqueueSpeech(d.root, p.Utterance(full)) {
		return "", ErrBusy
	}

	d.cfg.Live.Set(full)
	d.notify(Narration{Source: SourceManual, Text: full, ResolvedAt: time.Now()})
	d.logger.Info("companion message queued", "chars", len(message))
	return full, nil
}

// SpeakTest plays TestSentence at the given rate and volume without
// touching stored settings or the live text.
func (d *Dispatcher) SpeakTest(rate speech.Rate, volume speech.Volume) error {
	if d.isClosed() {
		return ErrClosed
	}
	if !d.enqueueSpeech(d.root, speech.Utterance{Text: TestSentence, Rate: rate, Volume: volume}) {
		return ErrBusy
	}
	return nil
}

// Announce publishes a status sentence to the live text without speaking it.
func (d *Dispatcher) Announce(text string) {
	d.cfg.Live.Set(text)
}

func (d *Dispatcher) enqueueSpeech(ctx context.Context, u speech.Utterance) bool {
	ok := d.speak.Submit(func(context.Context) {
		if ctx.Err() != nil {
			d.logger.Debug("speech expired before start", "chars", len(u.Text))
			return
		}
		if err := d.cfg.Speaker.Speak(ctx, u); err != nil {
			if ctx.Err() != nil {
				d.logger.Debug("speech cancelled", "chars", len(u.Text))
				return
			}
			d.logger.Warn("speech failed", "speaker", d.cfg.Speaker.Name(), "error", &SpeechError{Text: u.Text, Err: err})
		}
	})
	if !ok {
		d.logger.Warn("speech dropped", "chars", len(u.Text))
	}
	return ok
}

func (d *Dispatcher) notify(n Narration) {
	if d.cfg.OnNarration != nil {
		d.cfg.OnNarration(n)
	}
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Close cancels all in-flight work and stops the pools. It does not wait
// for playback to finish.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.narrate.Close()
	d.speak.Close()
	return nil
}

// Drain stops accepting work and waits for queued work to finish or ctx
// to expire. Used by batch runs that want their narration spoken.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.mu.Lock()
	d.draining = true
	d.mu.Unlock()

	d.narrate.Close()
	done := make(chan struct{})
	go func() {
		d.narrate.Wait()
		d.speak.Close()
		d.speak.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	d.Close()
	return err
}

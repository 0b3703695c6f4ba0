// Package pipeline runs the sequential stage of guidance: frames are read
// in order, run through detection, direction estimation and the alert
// throttler, and published to viewers. Alerts are handed to the narration
// dispatcher, which works asynchronously.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/teslashibe/go-pathguide/pkg/alert"
	"github.com/teslashibe/go-pathguide/pkg/detection"
	"github.com/teslashibe/go-pathguide/pkg/direction"
	"github.com/teslashibe/go-pathguide/pkg/settings"
	"github.com/teslashibe/go-pathguide/pkg/video"
)

// Status sentences shown in the live text and on placeholder frames.
const (
	InitialHint    = "Upload a walking video and guidance will start automatically."
	StartedText    = "Video loaded. Guidance has started."
	EndedText      = "The video has ended. Upload another video to continue."
	FailedText     = "The video could not be read. Please upload a different file."
	OpenFailedText = "The video could not be opened. Please upload a different file."
)

// Dispatcher receives alerts. *narration.Dispatcher satisfies it.
type Dispatcher interface {
	BeginSession(sessionID string)
	EndSession()
	Dispatch(ev alert.Event) bool
	Announce(text string)
}

// Viewer receives processed frames. *stream.Multiplexer satisfies it.
type Viewer interface {
	Begin()
	Publish(frame []byte)
	End(status string)
}

// SettingsSource supplies the settings snapshot taken at session start.
type SettingsSource interface {
	Get() settings.Settings
}

// Annotator draws detections onto a frame.
type Annotator func(jpeg []byte, f detection.Frame) ([]byte, error)

// SessionEvent reports a session lifecycle change.
type SessionEvent struct {
	SessionID string    `json:"session_id,omitempty"`
	Path      string    `json:"path"`
	State     string    `json:"state"`
	Message   string    `json:"message,omitempty"`
	Time      time.Time `json:"time"`
}

// Summary describes a finished session.
type Summary struct {
	SessionID         string
	Path              string
	StartedAt         time.Time
	State             video.State
	Frames            int
	DetectionFailures int
	Alerts            []alert.Event
	Err               error
}

// Config configures a Runner. Source, Detector and Settings are required.
type Config struct {
	Source     *video.Source
	Detector   *detection.Adapter
	Settings   SettingsSource
	Dispatcher Dispatcher // optional
	Viewer     Viewer     // optional
	Annotate   Annotator

	// Pace sleeps between frames to match the source frame rate.
	Pace bool

	Logger *slog.Logger

	OnSession func(SessionEvent)
	OnAlert   func(alert.Event)
}

type request struct {
	path      string
	temporary bool
}

// Runner owns the frame loop. One session runs at a time; starting a new
// one stops the current one.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	wake chan struct{}

	mu      sync.Mutex
	pending *request
	stop    context.CancelFunc
	current string
}

// New creates a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Source == nil {
		return nil, errors.New("pipeline: frame source is required")
	}
	if cfg.Detector == nil {
		return nil, errors.New("pipeline: detector is required")
	}
	if cfg.Settings == nil {
		return nil, errors.New("pipeline: settings source is required")
	}
	if cfg.Annotate == nil {
		cfg.Annotate = detection.Annotate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Runner{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "pipeline.runner"),
		wake:   make(chan struct{}, 1),
	}, nil
}

// Start asks the loop to replace the current session with one on path.
// A temporary file is deleted once its session is replaced, or right away
// if it is superseded before it opens.
func (r *Runner) Start(path string, temporary bool) {
	r.mu.Lock()
	if prev := r.pending; prev != nil && prev.temporary {
		r.remove(prev.path)
	}
	r.pending = &request{path: path, temporary: temporary}
	if r.stop != nil {
		r.stop()
	}
	r.endNarration()
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Current returns the ID of the running session, or "".
func (r *Runner) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Run processes sessions until ctx is cancelled. The active session is
// released on return.
func (r *Runner) Run(ctx context.Context) error {
	r.announce(InitialHint)
	defer r.cfg.Source.Close()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			if p := r.pending; p != nil && p.temporary {
				r.remove(p.path)
			}
			r.pending = nil
			r.mu.Unlock()
			return nil
		case <-r.wake:
		}

		req, sctx, cancel := r.take(ctx)
		if req == nil {
			cancel()
			continue
		}
		r.runSession(sctx, *req)
		cancel()

		r.mu.Lock()
		r.stop = nil
		r.current = ""
		r.mu.Unlock()
	}
}

// Analyze runs one session on path to completion without the loop.
func (r *Runner) Analyze(ctx context.Context, path string) Summary {
	defer r.cfg.Source.Close()
	return r.runSession(ctx, request{path: path})
}

// endNarration drops narration still owed to the session being replaced.
func (r *Runner) endNarration() {
	if d := r.cfg.Dispatcher; d != nil {
		d.EndSession()
	}
}

func (r *Runner) take(ctx context.Context) (*request, context.Context, context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sctx, cancel := context.WithCancel(ctx)
	req := r.pending
	r.pending = nil
	if req != nil {
		r.stop = cancel
	}
	return req, sctx, cancel
}

func (r *Runner) runSession(ctx context.Context, req request) Summary {
	sum := Summary{Path: req.path}

	var opts []video.OpenOption
	if req.temporary {
		opts = append(opts, video.Temporary())
	}
	r.endNarration()
	sess, err := r.cfg.Source.Open(req.path, opts...)
	if err != nil {
		r.logger.Warn("opening video failed", "path", req.path, "error", err)
		sum.State = video.StateFailed
		sum.Err = err
		r.finish(SessionEvent{Path: req.path, State: video.StateFailed.String(), Message: OpenFailedText})
		return sum
	}
	defer sess.Close()

	sum.SessionID = sess.ID
	sum.StartedAt = sess.StartedAt
	r.mu.Lock()
	r.current = sess.ID
	r.mu.Unlock()

	snap := r.cfg.Settings.Get()
	est := direction.NewEstimator(snap.SlopeThreshold)
	th := alert.NewThrottler(snap.Debounce())

	if d := r.cfg.Dispatcher; d != nil {
		d.BeginSession(sess.ID)
	}
	if v := r.cfg.Viewer; v != nil {
		v.Begin()
	}
	r.announce(StartedText)
	r.emit(SessionEvent{SessionID: sess.ID, Path: req.path, State: video.StateActive.String(), Message: StartedText})

	logger := r.logger.With("session", sess.ID)
	logger.Info("session started",
		"path", req.path,
		"threshold", est.Threshold(),
		"debounce", th.Interval(),
	)

	fps := sess.FPS()
	wallStart := time.Now()

	for {
		if ctx.Err() != nil {
			sum.State = sess.State()
			logger.Info("session stopped", "frames", sum.Frames, "alerts", len(sum.Alerts))
			return sum
		}

		res := sess.Next()
		switch res.Kind {
		case video.ResultReadFailure:
			logger.Debug("frame read failed", "failures", sess.ConsecutiveReadFailures(), "error", res.Err)
			continue

		case video.ResultEnd:
			sum.State = sess.State()
			sum.Err = res.Err
			msg := EndedText
			if sum.State == video.StateFailed {
				msg = FailedText
				logger.Warn("session failed", "diagnosis", sess.Diagnosis())
			} else {
				logger.Info("session ended", "frames", sum.Frames, "alerts", len(sum.Alerts))
			}
			r.finish(SessionEvent{SessionID: sess.ID, Path: req.path, State: sum.State.String(), Message: msg})
			return sum
		}

		sum.Frames++
		if ev, ok := r.process(sess.ID, res.Frame, est, th, &sum); ok {
			sum.Alerts = append(sum.Alerts, ev)
		}

		if r.cfg.Pace && fps > 0 {
			due := wallStart.Add(time.Duration(float64(res.Frame.Index+1) / fps * float64(time.Second)))
			sleepUntil(ctx, due)
		}
	}
}

// process runs one frame through the stage.
func (r *Runner) process(sessionID string, f video.Frame, est *direction.Estimator, th *alert.Throttler, sum *Summary) (alert.Event, bool) {
	df, err := r.cfg.Detector.Detect(f)
	if err != nil {
		sum.DetectionFailures++
	}

	if v := r.cfg.Viewer; v != nil {
		out := f.JPEG
		if err == nil {
			if annotated, aerr := r.cfg.Annotate(f.JPEG, df); aerr == nil {
				out = annotated
			} else {
				r.logger.Debug("annotation failed", "frame", f.Index, "error", aerr)
			}
		}
		v.Publish(out)
	}

	sample := est.Estimate(df)
	ev, ok := th.Offer(sessionID, sample)
	if !ok {
		return alert.Event{}, false
	}

	r.logger.Info("direction alert",
		"session", sessionID,
		"event", ev.ID,
		"direction", ev.Direction,
		"slope", fmt.Sprintf("%.3f", ev.Slope),
		"frame", f.Index,
	)
	if r.cfg.OnAlert != nil {
		r.cfg.OnAlert(ev)
	}
	if d := r.cfg.Dispatcher; d != nil {
		d.Dispatch(ev)
	}
	return ev, true
}

func (r *Runner) finish(ev SessionEvent) {
	if v := r.cfg.Viewer; v != nil {
		v.End(ev.Message)
	}
	r.announce(ev.Message)
	r.emit(ev)
}

func (r *Runner) announce(text string) {
	if d := r.cfg.Dispatcher; d != nil {
		d.Announce(text)
	}
}

func (r *Runner) emit(ev SessionEvent) {
	ev.Time = time.Now()
	if r.cfg.OnSession != nil {
		r.cfg.OnSession(ev)
	}
}

func (r *Runner) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("removing superseded upload", "path", path, "error", err)
	}
}

// sleepUntil waits for t or for ctx to end.
func sleepUntil(ctx context.Context, t time.Time) {
	d := time.Until(t)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

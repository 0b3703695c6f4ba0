package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-pathguide/internal/log"
	"github.com/teslashibe/go-pathguide/pkg/hub"
	"github.com/teslashibe/go-pathguide/pkg/inference"
	"github.com/teslashibe/go-pathguide/pkg/narration"
	"github.com/teslashibe/go-pathguide/pkg/settings"
	"github.com/teslashibe/go-pathguide/pkg/speech"
	"github.com/teslashibe/go-pathguide/pkg/stream"
	"github.com/teslashibe/go-pathguide/pkg/video"
)

type fakeRunner struct {
	mu      sync.Mutex
	started []string
}

func (r *fakeRunner) Start(path string, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, path)
}

func (r *fakeRunner) Current() string { return "session-1" }

type fakeProber struct{ err error }

func (p fakeProber) Probe(string) error { return p.err }

type fixture struct {
	server   *Server
	runner   *fakeRunner
	speaker  *speech.Mock
	settings *settings.Manager
	live     *narration.LiveText
	frames   *stream.Multiplexer
	events   *hub.Hub
	uploads  string
}

func newFixture(t *testing.T, prober Prober) *fixture {
	t.Helper()

	f := &fixture{
		runner:   &fakeRunner{},
		speaker:  speech.NewMock(),
		settings: settings.NewManager(settings.Default()),
		live:     narration.NewLiveText("hint"),
		frames: stream.NewMultiplexer(
			stream.WithRenderer(func(msg string) ([]byte, error) { return []byte("ph:" + msg), nil }),
			stream.WithLogger(log.Discard()),
		),
		events:  hub.New("events", log.Discard()),
		uploads: t.TempDir(),
	}

	cfg := narration.DefaultConfig()
	cfg.Provider = inference.NewMock("ok")
	cfg.Speaker = f.speaker
	cfg.Settings = f.settings
	cfg.Live = f.live
	cfg.Logger = log.Discard()
	d, err := narration.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.events.Run(ctx)

	f.server = NewServer(Config{
		UploadDir:      f.uploads,
		MaxUploadBytes: 1 << 20,
		TextInterval:   5 * time.Millisecond,
		Logger:         log.Discard(),
	}, Deps{
		Runner:   f.runner,
		Prober:   prober,
		Narrator: d,
		Settings: f.settings,
		Frames:   f.frames,
		Events:   f.events,
	})
	t.Cleanup(f.server.cancel)
	return f
}

func (f *fixture) do(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := f.server.App().Test(req, 3000)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func jsonRequest(method, target string, v interface{}) *http.Request {
	data, _ := json.Marshal(v)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload_video", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestSettingsRoutes(t *testing.T) {
	f := newFixture(t, fakeProber{})

	status, body := f.do(t, httptest.NewRequest(http.MethodGet, "/get_settings", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "guided", body["settings"].(map[string]interface{})["user_mode"])

	status, body = f.do(t, jsonRequest(http.MethodPost, "/update_settings", map[string]interface{}{
		"name":        "Lin",
		"user_mode":   "companion",
		"speech_rate": "fast",
	}))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Lin", f.settings.Get().Name)
	assert.Equal(t, settings.ModeCompanion, f.settings.Get().Mode)

	status, body = f.do(t, jsonRequest(http.MethodPost, "/update_settings", map[string]interface{}{
		"speech_rate": "warp",
	}))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, speech.RateFast, f.settings.Get().SpeechRate)

	status, _ = f.do(t, jsonRequest(http.MethodPost, "/update_settings", map[string]interface{}{}))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t, fakeProber{})

	status, _ := f.do(t, jsonRequest(http.MethodPost, "/send_message", SendMessageRequest{Message: "hello"}))
	assert.Equal(t, http.StatusForbidden, status, "guided mode rejects companion messages")

	s := f.settings.Get()
	s.Mode = settings.ModeCompanion
	f.settings.Set(s)

	status, _ = f.do(t, jsonRequest(http.MethodPost, "/send_message", SendMessageRequest{Message: "   "}))
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := f.do(t, jsonRequest(http.MethodPost, "/send_message", SendMessageRequest{Message: "Dinner is ready"}))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, narration.ManualPrefix+"Dinner is ready", body["text"])
	assert.Equal(t, narration.ManualPrefix+"Dinner is ready", f.live.Text())

	require.Eventually(t, func() bool { return len(f.speaker.Texts()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestTestVoice(t *testing.T) {
	f := newFixture(t, fakeProber{})

	status, _ := f.do(t, jsonRequest(http.MethodPost, "/test_voice", TestVoiceRequest{SpeechRate: "slow", SpeechVolume: "high"}))
	assert.Equal(t, http.StatusOK, status)

	require.Eventually(t, func() bool { return len(f.speaker.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	u := f.speaker.Calls()[0].Utterance
	assert.Equal(t, narration.TestSentence, u.Text)
	assert.Equal(t, speech.RateSlow, u.Rate)
	assert.Equal(t, speech.VolumeHigh, u.Volume)
	assert.Equal(t, speech.RateMedium, f.settings.Get().SpeechRate, "stored settings untouched")

	status, _ = f.do(t, jsonRequest(http.MethodPost, "/test_voice", TestVoiceRequest{SpeechRate: "warp"}))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUpload(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newFixture(t, fakeProber{})

		status, body := f.do(t, uploadRequest(t, "video", "My Walk.MP4", []byte("video")))
		require.Equal(t, http.StatusOK, status, body)

		require.Len(t, f.runner.started, 1)
		path := f.runner.started[0]
		assert.Equal(t, f.uploads, filepath.Dir(path))
		assert.Regexp(t, regexp.MustCompile(`^\d+_My_Walk\.mp4$`), filepath.Base(path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "video", string(data))
	})

	t.Run("missing file", func(t *testing.T) {
		f := newFixture(t, fakeProber{})
		status, _ := f.do(t, uploadRequest(t, "other", "walk.mp4", []byte("video")))
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("bad extension", func(t *testing.T) {
		f := newFixture(t, fakeProber{})
		status, body := f.do(t, uploadRequest(t, "video", "notes.txt", []byte("hello")))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, body["message"], "mp4")
		assert.Empty(t, f.runner.started)
	})

	t.Run("too large", func(t *testing.T) {
		f := newFixture(t, fakeProber{})
		f.server.cfg.MaxUploadBytes = 4
		status, _ := f.do(t, uploadRequest(t, "video", "walk.mp4", []byte("0123456789")))
		assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	})

	t.Run("undecodable file removed", func(t *testing.T) {
		f := newFixture(t, fakeProber{err: &video.OpenError{Path: "x", Err: video.ErrNoFrames}})

		status, body := f.do(t, uploadRequest(t, "video", "walk.mp4", []byte("garbage")))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, body["message"], "frames")
		assert.Empty(t, f.runner.started)

		entries, err := os.ReadDir(f.uploads)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("unreadable file", func(t *testing.T) {
		f := newFixture(t, fakeProber{err: errors.Join(video.ErrUnreadable)})
		status, body := f.do(t, uploadRequest(t, "video", "walk.webm", []byte("garbage")))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, body["message"], "opened")
	})
}

func TestVideoFeed(t *testing.T) {
	f := newFixture(t, fakeProber{})
	f.frames.Begin()

	go func() {
		for f.frames.Viewers() == 0 {
			time.Sleep(time.Millisecond)
		}
		f.frames.Publish([]byte("jpeg-1"))
		time.Sleep(20 * time.Millisecond)
		f.frames.End("Video ended")
	}()

	resp, err := f.server.App().Test(httptest.NewRequest(http.MethodGet, "/video_feed", nil), 3000)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, stream.MJPEGContentType, resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "\r\n\r\njpeg-1\r\n")
	assert.Equal(t, 3, strings.Count(string(body), "ph:Video ended"))
}

func TestSpeechTextFeed(t *testing.T) {
	f := newFixture(t, fakeProber{})

	go func() {
		time.Sleep(30 * time.Millisecond)
		f.live.Set("Turn left")
		time.Sleep(30 * time.Millisecond)
		f.server.cancel()
	}()

	resp, err := f.server.App().Test(httptest.NewRequest(http.MethodGet, "/stream_speech_text", nil), 3000)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, stream.SSEContentType, resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "data: hint\n\ndata: Turn left\n\n", string(body))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, fakeProber{})
	status, body := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "session-1", body["session"])
}

func TestEventsWebsocket(t *testing.T) {
	f := newFixture(t, fakeProber{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go f.server.App().Listener(ln)
	t.Cleanup(func() { f.server.App().Shutdown() })

	resp, err := http.Get("http://" + ln.Addr().String() + "/ws/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/events", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.events.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	f.events.Publish(hub.EventAlert, map[string]string{"direction": "left"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev hub.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, hub.EventAlert, ev.Type)
	assert.Equal(t, "left", ev.Data.(map[string]interface{})["direction"])
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"walk.mp4", "walk.mp4"},
		{"My Walk.MP4", "My_Walk.mp4"},
		{"../../etc/passwd.mp4", "passwd.mp4"},
		{`C:\videos\street.avi`, "street.avi"},
		{"视频.mp4", "video.mp4"},
		{".hidden.mov", "hidden.mov"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestAllowedFile(t *testing.T) {
	assert.True(t, allowedFile("a.MKV"))
	assert.True(t, allowedFile("a.b.webm"))
	assert.False(t, allowedFile("a.gif"))
	assert.False(t, allowedFile("mp4"))
}

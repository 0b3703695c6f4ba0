package web

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-pathguide/pkg/hub"
	"github.com/teslashibe/go-pathguide/pkg/narration"
	"github.com/teslashibe/go-pathguide/pkg/speech"
	"github.com/teslashibe/go-pathguide/pkg/stream"
	"github.com/teslashibe/go-pathguide/pkg/video"
)

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"status":  "error",
		"message": message,
	})
}

// handleVideoFeed streams processed frames as MJPEG.
func (s *Server) handleVideoFeed(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, stream.MJPEGContentType)
	c.Set(fiber.HeaderCacheControl, "no-cache")

	sub := s.deps.Frames.Subscribe()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer s.deps.Frames.Unsubscribe(sub)
		if err := stream.ServeMJPEG(s.ctx, w, sub); err != nil {
			s.logger.Debug("video viewer disconnected", "error", err)
		}
	})
	return nil
}

// handleSpeechText streams the live narration text as server-sent events.
func (s *Server) handleSpeechText(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, stream.SSEContentType)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	live := s.deps.Narrator.Live()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		err := stream.WatchText(s.ctx, live, s.cfg.TextInterval, func(text string) error {
			return stream.WriteEvent(w, text)
		})
		if err != nil {
			s.logger.Debug("text viewer disconnected", "error", err)
		}
	})
	return nil
}

// handleUpload saves, probes and starts a new video session.
func (s *Server) handleUpload(c *fiber.Ctx) error {
	fh, err := c.FormFile("video")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "No file uploaded")
	}
	if fh.Filename == "" {
		return fail(c, fiber.StatusBadRequest, "No file selected")
	}
	if !allowedFile(fh.Filename) {
		return fail(c, fiber.StatusBadRequest,
			"Unsupported file type, allowed types: "+strings.Join(AllowedExtensions, ", "))
	}
	if s.cfg.MaxUploadBytes > 0 && fh.Size > s.cfg.MaxUploadBytes {
		return fail(c, fiber.StatusRequestEntityTooLarge,
			fmt.Sprintf("File is larger than %d MB", s.cfg.MaxUploadBytes>>20))
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		s.logger.Error("creating upload directory", "dir", s.cfg.UploadDir, "error", err)
		return fail(c, fiber.StatusInternalServerError, "Upload failed")
	}

	name := fmt.Sprintf("%d_%s", time.Now().Unix(), SanitizeFilename(fh.Filename))
	path := filepath.Join(s.cfg.UploadDir, name)
	if err := c.SaveFile(fh, path); err != nil {
		s.logger.Error("saving upload", "path", path, "error", err)
		return fail(c, fiber.StatusInternalServerError, "Upload failed")
	}

	if err := s.deps.Prober.Probe(path); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("removing rejected upload", "path", path, "error", rmErr)
		}
		s.logger.Warn("upload rejected", "file", fh.Filename, "error", err)
		if errors.Is(err, video.ErrNoFrames) {
			return fail(c, fiber.StatusBadRequest, "The video frames could not be read, please try another video")
		}
		return fail(c, fiber.StatusBadRequest, "The video could not be opened, please check the format or try another video")
	}

	s.deps.Runner.Start(path, true)
	s.logger.Info("video uploaded", "path", path, "bytes", fh.Size)

	return c.JSON(fiber.Map{
		"status":    "success",
		"message":   "Video uploaded",
		"file_path": path,
	})
}

// SendMessageRequest is the body of /send_message.
type SendMessageRequest struct {
	Message string `json:"message" form:"message"`
}

// handleSendMessage speaks a companion message.
func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	full, err := s.deps.Narrator.SendManual(req.Message)
	switch {
	case err == nil:
	case errors.Is(err, narration.ErrGuidedMode):
		return fail(c, fiber.StatusForbidden, "Messages cannot be sent in guided mode")
	case errors.Is(err, narration.ErrEmptyMessage):
		return fail(c, fiber.StatusBadRequest, "Message is empty")
	case errors.Is(err, narration.ErrBusy), errors.Is(err, narration.ErrClosed):
		return fail(c, fiber.StatusServiceUnavailable, "Speech is busy, try again shortly")
	default:
		return fail(c, fiber.StatusInternalServerError, "Sending failed: "+err.Error())
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Message sent",
		"text":    full,
	})
}

func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "success",
		"settings": s.deps.Settings.Get(),
	})
}

func (s *Server) handleUpdateSettings(c *fiber.Ctx) error {
	var params map[string]interface{}
	if err := c.BodyParser(&params); err != nil || len(params) == 0 {
		return fail(c, fiber.StatusBadRequest, "No settings received")
	}

	updated, err := s.deps.Settings.Update(params)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	return c.JSON(fiber.Map{
		"status":   "success",
		"message":  "Settings updated",
		"settings": updated,
	})
}

// TestVoiceRequest is the body of /test_voice. Empty fields use the
// stored settings.
type TestVoiceRequest struct {
	SpeechRate   string `json:"speech_rate" form:"speech_rate"`
	SpeechVolume string `json:"speech_volume" form:"speech_volume"`
}

// handleTestVoice speaks a test sentence without changing stored settings.
func (s *Server) handleTestVoice(c *fiber.Ctx) error {
	var req TestVoiceRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fail(c, fiber.StatusBadRequest, "Invalid request body")
		}
	}

	current := s.deps.Settings.Get()
	rate, volume := current.SpeechRate, current.SpeechVolume

	if req.SpeechRate != "" {
		r, err := speech.ParseRate(req.SpeechRate)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, err.Error())
		}
		rate = r
	}
	if req.SpeechVolume != "" {
		v, err := speech.ParseVolume(req.SpeechVolume)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, err.Error())
		}
		volume = v
	}

	if err := s.deps.Narrator.SpeakTest(rate, volume); err != nil {
		return fail(c, fiber.StatusServiceUnavailable, "Voice test failed: "+err.Error())
	}
	return c.JSON(fiber.Map{"status": "success", "message": "Voice test started"})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":     "ok",
		"session":    s.deps.Runner.Current(),
		"viewers":    s.deps.Frames.Viewers(),
		"ws_clients": s.deps.Events.ClientCount(),
	})
}

// handleEventsWS attaches a websocket to the live event hub.
func (s *Server) handleEventsWS(conn *websocket.Conn) {
	client, err := hub.NewClient(s.deps.Events, conn)
	if err != nil {
		conn.Close()
		return
	}
	client.Run()
}

func allowedFile(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	return slices.Contains(AllowedExtensions, ext)
}

// SanitizeFilename reduces name to a safe base name of ASCII letters,
// digits, dots, dashes and underscores. The extension is kept.
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := filepath.Ext(base)

	stem := strings.Trim(clean(strings.TrimSuffix(base, ext)), "._")
	if stem == "" {
		stem = "video"
	}
	return stem + strings.ToLower(clean(ext))
}

func clean(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	return b.String()
}

package stream

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// Boundary separates parts of the MJPEG feed.
const Boundary = "frame"

// MJPEGContentType is the Content-Type of the frame feed.
const MJPEGContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// WriteFrame writes one multipart part and flushes it.
func WriteFrame(w *bufio.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

// ServeMJPEG writes frames from s until the stream ends, ctx is done or
// the viewer disconnects.
func ServeMJPEG(ctx context.Context, w *bufio.Writer, s *Subscriber) error {
	for {
		frame, ok := s.Next(ctx)
		if !ok {
			return nil
		}
		if err := WriteFrame(w, frame); err != nil {
			return err
		}
	}
}

// SSEContentType is the Content-Type of the text feed.
const SSEContentType = "text/event-stream"

// WriteEvent writes text as one server-sent event and flushes it.
// Multi-line text becomes several data lines.
func WriteEvent(w *bufio.Writer, text string) error {
	for _, line := range strings.Split(text, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", strings.TrimRight(line, "\r")); err != nil {
			return err
		}
	}
	if _, err := w.WriteString("\n"); err != nil {
		return err
	}
	return w.Flush()
}

package stream

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// Placeholder frame geometry.
const (
	PlaceholderWidth  = 640
	PlaceholderHeight = 480
	wrapColumns       = 38
)

// Renderer draws a status message into a JPEG frame.
type Renderer func(message string) ([]byte, error)

// RenderPlaceholder draws message in white on a black 640x480 frame.
func RenderPlaceholder(message string) ([]byte, error) {
	img := gocv.NewMatWithSize(PlaceholderHeight, PlaceholderWidth, gocv.MatTypeCV8UC3)
	defer img.Close()

	white := color.RGBA{255, 255, 255, 255}
	lines := wrap(message, wrapColumns)
	const lineHeight = 32
	y := PlaceholderHeight/2 - (len(lines)-1)*lineHeight/2

	for _, line := range lines {
		size := gocv.GetTextSize(line, gocv.FontHersheySimplex, 0.8, 2)
		x := (PlaceholderWidth - size.X) / 2
		if x < 10 {
			x = 10
		}
		gocv.PutText(&img, line, image.Pt(x, y), gocv.FontHersheySimplex, 0.8, white, 2)
		y += lineHeight
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// wrap breaks s into lines of at most width runes, on spaces where possible.
func wrap(s string, width int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return []string{""}
	}

	var lines []string
	var cur []rune
	for _, w := range words {
		r := []rune(w)
		for len(r) > width {
			if len(cur) > 0 {
				lines = append(lines, string(cur))
				cur = nil
			}
			lines = append(lines, string(r[:width]))
			r = r[width:]
		}
		switch {
		case len(cur) == 0:
			cur = r
		case len(cur)+1+len(r) <= width:
			cur = append(append(cur, ' '), r...)
		default:
			lines = append(lines, string(cur))
			cur = r
		}
	}
	if len(cur) > 0 {
		lines = append(lines, string(cur))
	}
	return lines
}

// placeholderCache renders each distinct message once.
type placeholderCache struct {
	render Renderer

	mu     sync.Mutex
	frames map[string][]byte
}

func newPlaceholderCache(r Renderer) *placeholderCache {
	return &placeholderCache{render: r, frames: make(map[string][]byte)}
}

func (c *placeholderCache) get(message string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.frames[message]; ok {
		return f, nil
	}
	f, err := c.render(message)
	if err != nil {
		return nil, err
	}
	c.frames[message] = f
	return f, nil
}

package detection

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	boxColor    = color.RGBA{0, 255, 0, 255}
	centerColor = color.RGBA{0, 0, 255, 255}
)

// Annotate draws boxes, labels and centers onto a JPEG frame and
// returns the re-encoded image.
func Annotate(jpeg []byte, f Frame) ([]byte, error) {
	if len(f.Boxes) == 0 {
		return jpeg, nil
	}

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	for _, b := range f.Boxes {
		rect := image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
		gocv.Rectangle(&img, rect, boxColor, 2)

		label := fmt.Sprintf("%s %.2f", b.Label, b.Confidence)
		labelPos := image.Pt(rect.Min.X, max(rect.Min.Y-5, 12))
		gocv.PutText(&img, label, labelPos, gocv.FontHersheySimplex, 0.5, boxColor, 1)
	}
	for _, c := range f.Centers {
		gocv.Circle(&img, image.Pt(int(c.X), int(c.Y)), 4, centerColor, -1)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

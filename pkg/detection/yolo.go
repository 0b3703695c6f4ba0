package detection

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// YOLODetector runs a YOLOv8 ONNX export through OpenCV DNN.
type YOLODetector struct {
	net       gocv.Net
	config    YOLOConfig
	logger    *slog.Logger
	mu        sync.Mutex
	inputSize image.Point
}

// YOLOConfig holds YOLO detector configuration.
type YOLOConfig struct {
	ModelPath        string
	Labels           []string // class names in model output order
	ConfidenceThresh float32
	NMSThresh        float32
	InputSize        int
	Logger           *slog.Logger
}

// DefaultYOLOConfig returns defaults for a single-class tactile paving model.
func DefaultYOLOConfig() YOLOConfig {
	return YOLOConfig{
		ModelPath:        "models/weights/best.onnx",
		Labels:           []string{"blind_path"},
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputSize:        640,
	}
}

// NewYOLO loads the model.
func NewYOLO(cfg YOLOConfig) (*YOLODetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	if len(cfg.Labels) == 0 {
		return nil, fmt.Errorf("at least one label is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLODetector{
		net:       net,
		config:    cfg,
		logger:    cfg.Logger.With("component", "detection.yolo"),
		inputSize: image.Pt(cfg.InputSize, cfg.InputSize),
	}, nil
}

// Detect implements Detector.
func (d *YOLODetector) Detect(jpeg []byte) ([]Box, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	boxes, err := d.parseOutput(output, float32(img.Cols()), float32(img.Rows()))
	if err != nil {
		return nil, err
	}

	if len(boxes) > 0 {
		d.logger.Debug("detections", "count", len(boxes))
	}
	return boxes, nil
}

// parseOutput decodes the [1, 4+classes, anchors] YOLOv8 tensor.
func (d *YOLODetector) parseOutput(output gocv.Mat, imgW, imgH float32) ([]Box, error) {
	dims := output.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	channels, anchors := dims[1], dims[2]

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	scaleX := imgW / float32(d.config.InputSize)
	scaleY := imgH / float32(d.config.InputSize)

	var rects []image.Rectangle
	var confidences []float32
	var classIDs []int

	for i := 0; i < anchors; i++ {
		maxScore := float32(0)
		maxClassID := 0
		for c := 4; c < channels; c++ {
			if score := data[c*anchors+i]; score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}

		if maxScore < d.config.ConfidenceThresh {
			continue
		}

		cx := data[0*anchors+i]
		cy := data[1*anchors+i]
		w := data[2*anchors+i]
		h := data[3*anchors+i]

		rects = append(rects, image.Rect(
			int((cx-w/2)*scaleX), int((cy-h/2)*scaleY),
			int((cx+w/2)*scaleX), int((cy+h/2)*scaleY),
		))
		confidences = append(confidences, maxScore)
		classIDs = append(classIDs, maxClassID)
	}

	if len(rects) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(rects, confidences, d.config.ConfidenceThresh, d.config.NMSThresh)

	boxes := make([]Box, 0, len(indices))
	for _, idx := range indices {
		r := rects[idx]
		boxes = append(boxes, Box{
			X1:         float64(r.Min.X),
			Y1:         float64(r.Min.Y),
			X2:         float64(r.Max.X),
			Y2:         float64(r.Max.Y),
			Label:      d.label(classIDs[idx]),
			Confidence: float64(confidences[idx]),
		})
	}
	return boxes, nil
}

func (d *YOLODetector) label(id int) string {
	if id >= 0 && id < len(d.config.Labels) {
		return d.config.Labels[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// Close releases the detector resources.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

var _ Detector = (*YOLODetector)(nil)

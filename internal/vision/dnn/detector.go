// Package dnn provides the object detection capability behind the
// pipeline. Detection is a black box to the rest of the system: a
// frame image goes in, a slice of detections comes out. Concrete
// backends (an OpenCV DNN net, a scripted playback detector) are
// interchangeable implementations selected at pipeline start.
package dnn

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/banshee-data/sightline/internal/vision"
)

// Detector is the external detection capability. Detect is synchronous
// and may be slow; the caller must tolerate frame dropping upstream
// rather than assume bounded latency.
type Detector interface {
	// Detect runs the model on one frame image and returns raw
	// detections in pixel space.
	Detect(ctx context.Context, img gocv.Mat) ([]vision.Detection, error)
	// Close releases model resources.
	Close() error
}

// ModelConfig describes an OpenCV DNN model to load.
type ModelConfig struct {
	// ModelPath is the weights file (e.g. frozen_inference_graph.pb,
	// yolov8n.onnx).
	ModelPath string
	// ConfigPath is the optional network description (e.g. the
	// .pbtxt for a TensorFlow SSD export). Empty for ONNX models.
	ConfigPath string
	// Classes maps class index to label. Indices absent from the map
	// are discarded.
	Classes map[int]string
	// InputSize is the square network input edge (default 300).
	InputSize int
	// Scale is the pixel scale factor (default 1/127.5).
	Scale float64
	// Mean is subtracted per channel before scaling (default 127.5).
	Mean float64
	// SwapRB swaps red/blue channels for the blob (default true).
	SwapRB bool
}

// NetDetector runs an OpenCV DNN network (SSD-style output layout:
// rows of [batch, class, score, left, top, right, bottom]).
type NetDetector struct {
	net gocv.Net
	cfg ModelConfig
}

// NewNetDetector loads the network described by cfg.
func NewNetDetector(cfg ModelConfig) (*NetDetector, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("dnn: model path required")
	}
	if cfg.InputSize == 0 {
		cfg.InputSize = 300
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1.0 / 127.5
	}
	if cfg.Mean == 0 {
		cfg.Mean = 127.5
	}
	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("dnn: failed to load model from %q", cfg.ModelPath)
	}
	return &NetDetector{net: net, cfg: cfg}, nil
}

// Detect implements Detector.
func (d *NetDetector) Detect(ctx context.Context, img gocv.Mat) ([]vision.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty frame image", vision.ErrDetectorFailure)
	}

	sz := d.cfg.InputSize
	blob := gocv.BlobFromImage(img, d.cfg.Scale, image.Pt(sz, sz),
		gocv.NewScalar(d.cfg.Mean, d.cfg.Mean, d.cfg.Mean, 0), d.cfg.SwapRB, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	imgW := float32(img.Cols())
	imgH := float32(img.Rows())

	var results []vision.Detection
	rows := out.Total() / 7
	for i := 0; i < rows; i++ {
		score := out.GetFloatAt(0, i*7+2)
		classID := int(out.GetFloatAt(0, i*7+1))
		label, known := d.cfg.Classes[classID]
		if !known {
			continue
		}

		// Coordinates are normalised [0, 1].
		left := out.GetFloatAt(0, i*7+3)
		top := out.GetFloatAt(0, i*7+4)
		right := out.GetFloatAt(0, i*7+5)
		bottom := out.GetFloatAt(0, i*7+6)

		results = append(results, vision.Detection{
			Box: vision.Box{
				X: int(left * imgW),
				Y: int(top * imgH),
				W: int((right - left) * imgW),
				H: int((bottom - top) * imgH),
			},
			Label:      label,
			Confidence: float64(score),
		})
	}
	return results, nil
}

// Close implements Detector.
func (d *NetDetector) Close() error {
	return d.net.Close()
}

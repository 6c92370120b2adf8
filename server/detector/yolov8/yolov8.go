// Package yolov8 runs a YOLOv8 ONNX model through the OpenCV DNN module
package yolov8

import (
	"fmt"
	"image"
	"sync"

	"github.com/cyclopcam/herdcount/pkg/nn"
	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"
)

// Detector is an nn.ObjectDetector backed by a gocv.Net.
// The input is resized to the model size without letterboxing, and boxes are scaled back.
type Detector struct {
	log    logs.Log
	lock   sync.Mutex // gocv.Net is not safe for concurrent use
	net    gocv.Net
	config nn.ModelConfig
}

// Load an ONNX model. If classes is empty, the model is assumed to be trained on COCO.
func New(log logs.Log, modelPath string, inputSize int, classes []string) (*Detector, error) {
	if len(classes) == 0 {
		classes = nn.COCOClasses
	}
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("Failed to load ONNX model %v", modelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, err
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, err
	}
	log.Infof("Loaded YOLOv8 model %v (%vx%v, %v classes)", modelPath, inputSize, inputSize, len(classes))
	return &Detector{
		log: log,
		net: net,
		config: nn.ModelConfig{
			Architecture: "yolov8",
			Width:        inputSize,
			Height:       inputSize,
			Classes:      classes,
		},
	}, nil
}

func (d *Detector) Close() {
	d.net.Close()
}

func (d *Detector) Config() *nn.ModelConfig {
	return &d.config
}

// DetectObjects expects a 24-bit RGB image
func (d *Detector) DetectObjects(img nn.ImageCrop, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	if img.NChan != 3 {
		return nil, fmt.Errorf("Expected 3 channel image, but got %v channels", img.NChan)
	}
	mat, err := gocv.NewMatFromBytes(img.CropHeight, img.CropWidth, gocv.MatTypeCV8UC3, img.ToBytes())
	if err != nil {
		return nil, fmt.Errorf("Failed to create Mat: %w", err)
	}
	defer mat.Close()

	// Image is already RGB, so no channel swap
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(d.config.Width, d.config.Height), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	d.lock.Lock()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	d.lock.Unlock()
	defer out.Close()

	// [1, 4+nc, anchors]
	sizes := out.Size()
	nClasses := len(d.config.Classes)
	if len(sizes) != 3 || sizes[1] != 4+nClasses {
		return nil, fmt.Errorf("%w: unexpected YOLOv8 output shape %v for %v classes", nn.ErrInvalidTensor, sizes, nClasses)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, err
	}

	xScale := float32(img.CropWidth) / float32(d.config.Width)
	yScale := float32(img.CropHeight) / float32(d.config.Height)
	objects, err := nn.DecodeYOLOv8(data, nClasses, params, xScale, yScale, img.CropWidth, img.CropHeight)
	if err != nil {
		return nil, err
	}
	return nn.NonMaxSuppression(objects, params.NmsIou()), nil
}

package detector

import (
	"errors"
	"testing"
	"time"

	"github.com/cyclopcam/herdcount/pkg/counting"
	"github.com/cyclopcam/herdcount/pkg/nn"
	"github.com/cyclopcam/herdcount/server/config"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	objects []nn.ObjectDetection
	err     error
	closed  bool
	params  *nn.DetectionParams
	config  nn.ModelConfig
}

func (f *fakeModel) Close() {
	f.closed = true
}

func (f *fakeModel) DetectObjects(img nn.ImageCrop, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	f.params = params
	return f.objects, f.err
}

func (f *fakeModel) Config() *nn.ModelConfig {
	return &f.config
}

func newFakeModel(objects ...nn.ObjectDetection) *fakeModel {
	return &fakeModel{
		objects: objects,
		config:  nn.ModelConfig{Architecture: "yolov8", Width: 640, Height: 640, Classes: nn.COCOClasses},
	}
}

func testClasses() []config.AnimalClass {
	return []config.AnimalClass{
		{Name: "horse", COCOID: nn.COCOHorse},
		{Name: "cow", COCOID: nn.COCOCow},
	}
}

func TestAnimalDetector(t *testing.T) {
	box := nn.MakeRect(10, 10, 50, 50)
	model := newFakeModel(
		nn.ObjectDetection{Class: nn.COCOHorse, Confidence: 0.9, Box: box},
		nn.ObjectDetection{Class: nn.COCOHorse, Confidence: 0.8, Box: box},
		nn.ObjectDetection{Class: nn.COCOCow, Confidence: 0.7, Box: box},
		nn.ObjectDetection{Class: nn.COCODog, Confidence: 0.95, Box: box},   // Not configured
		nn.ObjectDetection{Class: nn.COCOSheep, Confidence: 0.95, Box: box}, // Not configured
	)
	params := nn.NewDetectionParams()
	params.ProbabilityThreshold = 0.6
	d, err := NewAnimalDetector(logs.NewTestingLog(t), model, testClasses(), params)
	require.NoError(t, err)
	require.Equal(t, []string{"horse", "cow"}, d.ClassNames())

	now := time.Now()
	dets, obs, err := d.Detect(nn.WholeImage(3, make([]byte, 12), 2, 2), now)
	require.NoError(t, err)
	require.Len(t, dets, 3)
	require.Equal(t, counting.Observation{"horse": 2, "cow": 1}, obs)
	require.Equal(t, "horse", dets[0].ClassName)
	require.Equal(t, nn.COCOHorse, dets[0].COCOID)
	require.Equal(t, now, dets[0].Timestamp)
	require.Equal(t, float32(0.6), model.params.ProbabilityThreshold)

	d.Close()
	require.True(t, model.closed)
}

// The COCO id and the model's class name must both match the configuration
func TestAnimalDetectorNameMismatch(t *testing.T) {
	model := newFakeModel(nn.ObjectDetection{Class: nn.COCOHorse, Confidence: 0.9})
	classes := []config.AnimalClass{{Name: "pony", COCOID: nn.COCOHorse}}
	d, err := NewAnimalDetector(logs.NewTestingLog(t), model, classes, nil)
	require.NoError(t, err)
	dets, obs, err := d.Detect(nn.ImageCrop{}, time.Now())
	require.NoError(t, err)
	require.Empty(t, dets)
	require.Empty(t, obs)
}

func TestAnimalDetectorError(t *testing.T) {
	model := newFakeModel()
	model.err = errors.New("inference failed")
	d, err := NewAnimalDetector(logs.NewTestingLog(t), model, testClasses(), nil)
	require.NoError(t, err)
	_, _, err = d.Detect(nn.ImageCrop{}, time.Now())
	require.Error(t, err)

	_, err = NewAnimalDetector(logs.NewTestingLog(t), model, nil, nil)
	require.Error(t, err)
}

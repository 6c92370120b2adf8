// Package detector turns raw object detections into counts of the configured animal classes.
package detector

import (
	"fmt"
	"time"

	"github.com/cyclopcam/herdcount/pkg/counting"
	"github.com/cyclopcam/herdcount/pkg/nn"
	"github.com/cyclopcam/herdcount/server/config"
	"github.com/cyclopcam/logs"
)

// Detection is an animal found in a frame
type Detection struct {
	ClassName  string    `json:"className"`
	Confidence float32   `json:"confidence"`
	COCOID     int       `json:"cocoID"`
	Box        nn.Rect   `json:"box"`
	Timestamp  time.Time `json:"timestamp"`
}

// AnimalDetector runs an object detector, and keeps only the configured animal classes.
// A detection is kept only if its class index is one of the configured COCO ids, and
// the model's name for that index is the configured class name.
type AnimalDetector struct {
	log     logs.Log
	model   nn.ObjectDetector
	params  *nn.DetectionParams
	classes []config.AnimalClass
	byID    map[int]*config.AnimalClass
	names   []string // Model class names
}

func NewAnimalDetector(log logs.Log, model nn.ObjectDetector, classes []config.AnimalClass, params *nn.DetectionParams) (*AnimalDetector, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("No animal classes configured")
	}
	if params == nil {
		params = nn.NewDetectionParams()
	}
	d := &AnimalDetector{
		log:     log,
		model:   model,
		params:  params,
		classes: classes,
		byID:    map[int]*config.AnimalClass{},
		names:   model.Config().Classes,
	}
	for i := range classes {
		c := &classes[i]
		d.byID[c.COCOID] = c
		if c.COCOID >= len(d.names) || d.names[c.COCOID] != c.Name {
			modelName := ""
			if c.COCOID < len(d.names) {
				modelName = d.names[c.COCOID]
			}
			log.Warnf("Animal class '%v' has coco_id %v, but the model calls that class '%v'. It will never be counted.", c.Name, c.COCOID, modelName)
		}
	}
	return d, nil
}

// Class names, in configuration order
func (d *AnimalDetector) ClassNames() []string {
	names := make([]string, len(d.classes))
	for i, c := range d.classes {
		names[i] = c.Name
	}
	return names
}

// Return the configuration of the class with the given COCO id, or nil
func (d *AnimalDetector) Class(cocoID int) *config.AnimalClass {
	return d.byID[cocoID]
}

func (d *AnimalDetector) Close() {
	d.model.Close()
}

// Detect runs the model on img, and returns the animals found, along with their per-class counts
func (d *AnimalDetector) Detect(img nn.ImageCrop, now time.Time) ([]Detection, counting.Observation, error) {
	objects, err := d.model.DetectObjects(img, d.params)
	if err != nil {
		return nil, nil, err
	}
	dets := d.Filter(objects, now)
	return dets, Observe(dets), nil
}

// Filter keeps only the configured animal classes
func (d *AnimalDetector) Filter(objects []nn.ObjectDetection, now time.Time) []Detection {
	dets := []Detection{}
	for _, obj := range objects {
		c := d.byID[obj.Class]
		if c == nil {
			continue
		}
		if obj.ClassName(d.names) != c.Name {
			continue
		}
		dets = append(dets, Detection{
			ClassName:  c.Name,
			Confidence: obj.Confidence,
			COCOID:     obj.Class,
			Box:        obj.Box,
			Timestamp:  now,
		})
	}
	return dets
}

// Observe counts detections per class
func Observe(dets []Detection) counting.Observation {
	labels := make([]counting.ClassLabel, len(dets))
	for i, d := range dets {
		labels[i] = d.ClassName
	}
	return counting.ObservationFromLabels(labels)
}

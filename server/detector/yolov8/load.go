package yolov8

import (
	"github.com/cyclopcam/herdcount/pkg/nn"
	"github.com/cyclopcam/herdcount/server/config"
	"github.com/cyclopcam/herdcount/server/detector"
	"github.com/cyclopcam/logs"
)

// LoadAnimalDetector loads the model named in the config, and wraps it with the configured classes
func LoadAnimalDetector(log logs.Log, cfg *config.Config) (*detector.AnimalDetector, error) {
	var classes []string
	if cfg.Model.ClassesPath != "" {
		var err error
		classes, err = nn.LoadClassFile(cfg.Model.ClassesPath)
		if err != nil {
			return nil, err
		}
	}
	model, err := New(log, cfg.Model.Path, cfg.Model.InputSize, classes)
	if err != nil {
		return nil, err
	}
	params := &nn.DetectionParams{
		ProbabilityThreshold: cfg.Model.ConfidenceThreshold,
		NmsIouThreshold:      cfg.Model.NmsThreshold,
	}
	det, err := detector.NewAnimalDetector(log, model, cfg.Animals.Classes, params)
	if err != nil {
		model.Close()
		return nil, err
	}
	return det, nil
}

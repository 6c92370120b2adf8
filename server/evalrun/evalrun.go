// Package evalrun scores the counting pipeline against a set of labelled videos.
package evalrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cyclopcam/herdcount/pkg/evaluation"
	"github.com/cyclopcam/herdcount/server/config"
	"github.com/cyclopcam/herdcount/server/metrics"
	"github.com/cyclopcam/herdcount/server/monitor"
	"github.com/cyclopcam/logs"
)

var ErrVideoNotFound = errors.New("Video not found")

// OpenFunc opens a video file
type OpenFunc func(path string) (monitor.FrameSource, error)

type Options struct {
	Open        OpenFunc
	Detector    monitor.Detector
	Classes     []config.AnimalClass
	GroundTruth evaluation.GroundTruthFile
	VideosDir   string           // Relative ground truth keys are resolved against this
	Metrics     *metrics.Metrics // Optional
}

// Run every video in the ground truth through the detector, and score the
// maximum count of each class against the labelled count.
// Videos that are missing or can't be opened are skipped, and listed in the report.
func Run(ctx context.Context, log logs.Log, opt Options) (*evaluation.Report, error) {
	if opt.Open == nil || opt.Detector == nil {
		return nil, fmt.Errorf("Evaluation requires a video opener and a detector")
	}
	classes := make([]string, 0, len(opt.Classes))
	for _, c := range opt.Classes {
		classes = append(classes, c.Name)
	}
	// A class the detector is not configured for can never be counted
	if err := opt.GroundTruth.Validate(classes); err != nil {
		return nil, err
	}
	ev := evaluation.NewEvaluator()
	for _, key := range opt.GroundTruth.Videos() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := evaluation.ResolveVideoPath(opt.VideosDir, key)
		result, err := runVideo(ctx, log, opt, path, opt.GroundTruth[key])
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			log.Warnf("Skipping %v: %v", path, err)
			ev.Skip(key, err)
			if opt.Metrics != nil {
				opt.Metrics.VideosSkipped.Add(1)
			}
			continue
		}
		log.Infof("%v: MAE %.2f, MAPE %.2f%%, Accuracy %.2f%% over %v frames", result.Video, result.MAE, result.MAPE, result.Accuracy, result.Frames)
		ev.Add(result)
		if opt.Metrics != nil {
			opt.Metrics.VideosEvaluated.Add(1)
		}
	}
	return ev.Report(), nil
}

func runVideo(ctx context.Context, log logs.Log, opt Options, path string, gt evaluation.GroundTruth) (*evaluation.Result, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVideoNotFound, path)
	}
	source, err := opt.Open(path)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	log.Infof("Evaluating %v", path)
	session := monitor.NewSession(log, source, opt.Detector, monitor.Options{
		Classes: opt.Classes,
		Metrics: opt.Metrics,
		Stdout:  io.Discard,
	})
	if err := session.Run(ctx); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		// A partially processed video would produce a misleading score
		return nil, ctx.Err()
	}

	result, err := evaluation.ScoreVideo(session.Summary().Maximum, gt, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	result.Frames = int(session.Frames())
	return result, nil
}

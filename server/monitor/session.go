package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/herdcount/pkg/counting"
	"github.com/cyclopcam/herdcount/pkg/perfstats"
	"github.com/cyclopcam/herdcount/server/config"
	"github.com/cyclopcam/herdcount/server/detector"
	"github.com/cyclopcam/herdcount/server/metrics"
	"github.com/cyclopcam/herdcount/server/tsdb"
	"github.com/cyclopcam/logs"
)

// Options of a live session. Everything except Classes is optional.
type Options struct {
	Classes     []config.AnimalClass
	Persistence config.Persistence
	Zone        *time.Location   // Timezone of stored detection times
	Store       tsdb.Store       // nil = don't persist
	Metrics     *metrics.Metrics // nil = don't publish metrics
	Display     Display          // nil = headless
	Stdout      io.Writer        // Where the 's' and 'i' keys print. Default os.Stdout.
	Now         func() time.Time // Clock. Default time.Now.
}

// Session reads frames from a source, counts the animals in each frame, and
// periodically persists the counts. A Session runs once.
type Session struct {
	Log        logs.Log
	source     FrameSource
	detector   Detector
	opt        Options
	aggregator *counting.Aggregator
	recorder   *Recorder
	fps        *perfstats.FPSCounter
	inference  perfstats.TimeAccumulator
	perFrame   perfstats.Accumulator // Detections per frame
	mustStop   atomic.Bool
	frames     atomic.Int64
	lastDets   []detector.Detection
}

func NewSession(log logs.Log, source FrameSource, det Detector, opt Options) *Session {
	if opt.Stdout == nil {
		opt.Stdout = os.Stdout
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	names := []string{}
	for _, c := range opt.Classes {
		names = append(names, c.Name)
	}
	return &Session{
		Log:        log,
		source:     source,
		detector:   det,
		opt:        opt,
		aggregator: counting.NewAggregator(names),
		fps:        perfstats.NewFPSCounter(perfstats.DefaultFPSWindow),
	}
}

// Stop asks the session to exit after the current frame
func (s *Session) Stop() {
	s.mustStop.Store(true)
}

// Summary of the counts so far. Only call this after Run has returned.
func (s *Session) Summary() counting.Summary {
	return s.aggregator.Summary()
}

// Number of frames read from the source
func (s *Session) Frames() int64 {
	return s.frames.Load()
}

// Run processes frames until the source is exhausted, the user presses 'q',
// Stop is called, or ctx is cancelled. None of these is an error.
func (s *Session) Run(ctx context.Context) error {
	start := s.opt.Now()
	s.recorder = NewRecorder(s.Log, s.opt.Store, s.opt.Metrics, s.opt.Persistence, s.opt.Zone, start)
	s.fps.Tick(start)

	s.Log.Infof("Counting %v", s.aggregator.Classes())
	err := s.loop(ctx)

	s.Log.Infof("Frames processed: %v", s.Frames())
	s.Log.Infof("Average FPS: %.1f", s.fps.OverallFPS())
	s.Log.Infof("Average processing time: %v, detections per frame: %.2f", s.inference.Average(), s.perFrame.Average())
	FormatStats(s.opt.Stdout, s.opt.Classes, s.aggregator.Summary(), s.Frames())
	return err
}

func (s *Session) loop(ctx context.Context) error {
	lastErrorLog := time.Time{}
	for !s.mustStop.Load() {
		if ctx.Err() != nil {
			return nil
		}
		frame, err := s.source.Next()
		if errors.Is(err, io.EOF) {
			s.Log.Infof("End of video stream")
			return nil
		} else if err != nil {
			return fmt.Errorf("Failed to read frame: %w", err)
		}
		key := s.processFrame(ctx, frame, &lastErrorLog)
		frame.Close()
		s.handleKey(key)
	}
	return nil
}

func (s *Session) processFrame(ctx context.Context, frame Frame, lastErrorLog *time.Time) rune {
	frameStart := s.opt.Now()
	s.frames.Add(1)

	dets, obs, err := s.detect(frame, frameStart)
	if err != nil {
		if s.opt.Metrics != nil {
			s.opt.Metrics.FramesFailed.Add(1)
		}
		// Don't flood the log if every frame fails
		if time.Since(*lastErrorLog) > 10*time.Second {
			s.Log.Errorf("Detection failed on frame %v: %v", s.Frames(), err)
			*lastErrorLog = time.Now()
		}
		return s.show(frame, nil)
	}
	if err := s.aggregator.Update(obs); err != nil {
		s.Log.Errorf("Rejected observation on frame %v: %v", s.Frames(), err)
		return s.show(frame, nil)
	}
	s.lastDets = dets

	now := s.opt.Now()
	elapsed := now.Sub(frameStart)
	s.inference.AddSample(elapsed)
	s.perFrame.AddSample(float64(len(dets)))
	s.fps.Tick(now)
	summary := s.aggregator.Summary()

	if m := s.opt.Metrics; m != nil {
		m.FramesProcessed.Add(1)
		m.Detections.Add(uint64(len(dets)))
		m.SetFPS(s.fps.FPS())
		m.SetCounts(s.aggregator.Classes(), summary.Current, summary.Maximum)
	}

	s.recorder.Record(ctx, now, obs, dets, tsdb.PerformancePoint{
		FPS:            s.fps.FPS(),
		ProcessingTime: elapsed,
		FrameCount:     s.Frames(),
	})

	return s.show(frame, BuildOverlay(s.opt.Classes, dets, summary, s.fps.FPS(), s.Frames()))
}

func (s *Session) detect(frame Frame, now time.Time) ([]detector.Detection, counting.Observation, error) {
	img, err := frame.Image()
	if err != nil {
		return nil, nil, err
	}
	return s.detector.Detect(img, now)
}

func (s *Session) show(frame Frame, overlay *Overlay) rune {
	if s.opt.Display == nil {
		return 0
	}
	if overlay == nil {
		overlay = BuildOverlay(s.opt.Classes, nil, s.aggregator.Summary(), s.fps.FPS(), s.Frames())
	}
	key, err := s.opt.Display.Show(frame, overlay)
	if err != nil {
		s.Log.Warnf("Display failed: %v", err)
	}
	return key
}

func (s *Session) handleKey(key rune) {
	switch key {
	case KeyQuit:
		s.Log.Infof("Quit requested")
		s.Stop()
	case KeyStats:
		FormatStats(s.opt.Stdout, s.opt.Classes, s.aggregator.Summary(), s.Frames())
	case KeyDetections:
		FormatDetections(s.opt.Stdout, s.lastDets)
	}
}

// Average time spent per frame, from reading the image to counting
func (s *Session) AverageProcessingTime() time.Duration {
	return s.inference.Average()
}

// Average number of animals detected per frame
func (s *Session) AverageDetections() float64 {
	return s.perFrame.Average()
}

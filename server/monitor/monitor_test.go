package monitor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/cyclopcam/herdcount/pkg/counting"
	"github.com/cyclopcam/herdcount/pkg/nn"
	"github.com/cyclopcam/herdcount/server/config"
	"github.com/cyclopcam/herdcount/server/detector"
	"github.com/cyclopcam/herdcount/server/metrics"
	"github.com/cyclopcam/herdcount/server/tsdb"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

type fakeFrame struct {
	closed *int
}

func (f *fakeFrame) Image() (nn.ImageCrop, error) {
	return nn.WholeImage(3, make([]byte, 2*2*3), 2, 2), nil
}

func (f *fakeFrame) Close() {
	*f.closed++
}

type fakeSource struct {
	remaining int
	closed    int // Number of frames closed
}

func (s *fakeSource) Next() (Frame, error) {
	if s.remaining == 0 {
		return nil, io.EOF
	}
	s.remaining--
	return &fakeFrame{closed: &s.closed}, nil
}

func (s *fakeSource) Close() {}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

// fakeDetector returns scripted observations, and advances the clock by 'step' on every frame
type fakeDetector struct {
	clock  *fakeClock
	step   time.Duration
	script []counting.Observation
	frame  int
	err    error
}

func (d *fakeDetector) Detect(img nn.ImageCrop, now time.Time) ([]detector.Detection, counting.Observation, error) {
	d.clock.now = d.clock.now.Add(d.step)
	if d.err != nil {
		return nil, nil, d.err
	}
	obs := counting.Observation{}
	if d.frame < len(d.script) {
		obs = d.script[d.frame]
	}
	d.frame++
	dets := []detector.Detection{}
	for name, n := range obs {
		for i := 0; i < n; i++ {
			dets = append(dets, detector.Detection{ClassName: name, Confidence: 0.9, COCOID: nn.COCOClassIndex(name), Timestamp: now})
		}
	}
	return dets, obs, nil
}

type fakeStore struct {
	tsdb.Store
	counts      []tsdb.CountSnapshot
	detections  int
	performance int
	err         error
}

func (s *fakeStore) WriteCounts(ctx context.Context, snap tsdb.CountSnapshot) error {
	if s.err != nil {
		return s.err
	}
	s.counts = append(s.counts, snap)
	return nil
}

func (s *fakeStore) WriteDetections(ctx context.Context, t time.Time, source, location string, detections []tsdb.DetectionPoint) error {
	s.detections += len(detections)
	return nil
}

func (s *fakeStore) WritePerformance(ctx context.Context, source string, p tsdb.PerformancePoint) error {
	s.performance++
	return nil
}

type fakeDisplay struct {
	keys     map[int]rune // Key to press on the Nth call to Show (1-based)
	calls    int
	overlays []*Overlay
}

func (d *fakeDisplay) Show(frame Frame, overlay *Overlay) (rune, error) {
	d.calls++
	d.overlays = append(d.overlays, overlay)
	return d.keys[d.calls], nil
}

func testClasses() []config.AnimalClass {
	return []config.AnimalClass{
		{Name: "horse", COCOID: nn.COCOHorse, Color: []int{0, 255, 0}},
		{Name: "cow", COCOID: nn.COCOCow, Color: []int{255, 0, 0}},
	}
}

func newTestSession(t *testing.T, frames int, script []counting.Observation, opt Options) (*Session, *fakeSource, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	src := &fakeSource{remaining: frames}
	det := &fakeDetector{clock: clock, step: 5 * time.Second, script: script}
	opt.Classes = testClasses()
	opt.Now = clock.Now
	if opt.Persistence.IntervalSeconds == 0 {
		opt.Persistence.IntervalSeconds = 15
	}
	opt.Persistence.Source = "camera_1"
	opt.Persistence.Location = "detection_area"
	if opt.Stdout == nil {
		opt.Stdout = &bytes.Buffer{}
	}
	return NewSession(logs.NewTestingLog(t), src, det, opt), src, clock
}

func TestSessionCountsUntilEOF(t *testing.T) {
	script := []counting.Observation{
		{"horse": 2, "cow": 1},
		{"horse": 1},
		{"cow": 3},
	}
	m := metrics.New()
	s, src, _ := newTestSession(t, 3, script, Options{Metrics: m})
	require.NoError(t, s.Run(context.Background()))

	sum := s.Summary()
	require.Equal(t, map[string]int{"cow": 3}, sum.Current)
	require.Equal(t, map[string]int{"horse": 2, "cow": 3}, sum.Maximum)
	require.Equal(t, 5, sum.TotalMax)
	require.EqualValues(t, 3, s.Frames())
	require.Equal(t, 3, src.closed)
	require.EqualValues(t, 3, m.FramesProcessed.Load())
	require.EqualValues(t, 7, m.Detections.Load())
	require.InDelta(t, 0.2, m.FPS(), 1e-9)
	require.InDelta(t, 7.0/3, s.AverageDetections(), 1e-9)
	require.Equal(t, 5*time.Second, s.AverageProcessingTime())
}

func TestSessionPersistenceGate(t *testing.T) {
	// Frames complete at 5s, 10s, 15s, ... after start
	script := []counting.Observation{
		{"horse": 1},
		{"horse": 2},
		{}, // 15s: interval elapsed, but nothing to save. The interval still restarts.
		{"cow": 1},
		{"cow": 2},
		{"horse": 1, "cow": 1}, // 30s: saved
		{"horse": 3},
	}
	store := &fakeStore{}
	m := metrics.New()
	s, _, _ := newTestSession(t, len(script), script, Options{Store: store, Metrics: m})
	require.NoError(t, s.Run(context.Background()))

	require.Len(t, store.counts, 1)
	snap := store.counts[0]
	require.Equal(t, map[string]int{"horse": 1, "cow": 1}, snap.Counts)
	require.Equal(t, time.Date(2025, 3, 1, 12, 0, 30, 0, time.UTC), snap.Time)
	require.Equal(t, "camera_1", snap.Source)
	require.Equal(t, "detection_area", snap.Location)
	require.EqualValues(t, 1, m.SnapshotsWritten.Load())
	require.Equal(t, time.Date(2025, 3, 1, 12, 0, 30, 0, time.UTC), s.recorder.LastSave())
}

func TestSessionPersistenceOptionalSeries(t *testing.T) {
	script := []counting.Observation{{"horse": 1}, {"horse": 1}, {"horse": 2, "cow": 1}}
	store := &fakeStore{}
	opt := Options{Store: store}
	opt.Persistence.DetectionDetails = true
	opt.Persistence.Performance = true
	s, _, _ := newTestSession(t, len(script), script, opt)
	require.NoError(t, s.Run(context.Background()))
	require.Len(t, store.counts, 1)
	require.Equal(t, 3, store.detections)
	require.Equal(t, 1, store.performance)
}

func TestSessionPersistenceFailureContinues(t *testing.T) {
	script := []counting.Observation{{"horse": 1}, {"horse": 1}, {"horse": 1}, {"horse": 1}, {"horse": 1}, {"horse": 1}}
	store := &fakeStore{err: errors.New("connection refused")}
	m := metrics.New()
	s, _, _ := newTestSession(t, len(script), script, Options{Store: store, Metrics: m})
	require.NoError(t, s.Run(context.Background()))
	require.EqualValues(t, 6, s.Frames())
	require.EqualValues(t, 2, m.PersistenceErrors.Load())
	require.EqualValues(t, 0, m.SnapshotsWritten.Load())
}

func TestSessionKeys(t *testing.T) {
	script := []counting.Observation{{"horse": 2}, {"cow": 1}, {"cow": 1}, {"cow": 1}}
	display := &fakeDisplay{keys: map[int]rune{1: KeyDetections, 2: KeyQuit}}
	out := &bytes.Buffer{}
	s, src, _ := newTestSession(t, len(script), script, Options{Display: display, Stdout: out})
	require.NoError(t, s.Run(context.Background()))

	// 'q' on the second frame stops the session
	require.EqualValues(t, 2, s.Frames())
	require.Equal(t, 2, src.remaining)
	require.Contains(t, out.String(), "Current Frame Detections (2 animals)")
	require.Contains(t, out.String(), "1. horse - Confidence: 90.0% - COCO ID: 17")
	// Final stats are always printed on exit
	require.Contains(t, out.String(), "cow [COCO 19]: 1 (Max: 1)")
	require.Contains(t, out.String(), "Max Total Ever: 3")

	require.Len(t, display.overlays, 2)
	o := display.overlays[0]
	require.Equal(t, "Animal Detection", o.Title)
	require.Len(t, o.Boxes, 2)
	require.Equal(t, "horse: 90.0%", o.Boxes[0].Label)
	require.Equal(t, "COCO ID: 17", o.Boxes[0].IDLabel)
	require.Equal(t, Color{0, 255, 0}, o.Boxes[0].Color)
	require.Equal(t, "horse: 2 (Max: 2)", o.Stats[0].Text)
	require.Equal(t, "cow: 0 (Max: 0)", o.Stats[1].Text)
	require.Equal(t, "Total: 2 (Max Total: 2)", o.Total)
}

func TestSessionDetectionErrorSkipsFrame(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	det := &fakeDetector{clock: clock, step: time.Second, err: errors.New("bad tensor")}
	m := metrics.New()
	s := NewSession(logs.NewTestingLog(t), &fakeSource{remaining: 4}, det, Options{
		Classes: testClasses(),
		Metrics: m,
		Now:     clock.Now,
		Stdout:  &bytes.Buffer{},
	})
	require.NoError(t, s.Run(context.Background()))
	require.EqualValues(t, 4, s.Frames())
	require.EqualValues(t, 4, m.FramesFailed.Load())
	require.EqualValues(t, 0, m.FramesProcessed.Load())
	require.Empty(t, s.Summary().Maximum)
}

func TestSessionStopAndCancel(t *testing.T) {
	s, _, _ := newTestSession(t, 10, nil, Options{})
	s.Stop()
	require.NoError(t, s.Run(context.Background()))
	require.EqualValues(t, 0, s.Frames())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, _, _ = newTestSession(t, 10, nil, Options{})
	require.NoError(t, s.Run(ctx))
	require.EqualValues(t, 0, s.Frames())
}

func TestFormatDetectionsEmpty(t *testing.T) {
	out := &bytes.Buffer{}
	FormatDetections(out, nil)
	require.Equal(t, "No animals detected in current frame\n", out.String())
}

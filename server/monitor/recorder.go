package monitor

import (
	"context"
	"time"

	"github.com/cyclopcam/herdcount/pkg/counting"
	"github.com/cyclopcam/herdcount/server/config"
	"github.com/cyclopcam/herdcount/server/detector"
	"github.com/cyclopcam/herdcount/server/metrics"
	"github.com/cyclopcam/herdcount/server/tsdb"
	"github.com/cyclopcam/logs"
)

// Recorder decides when a frame's counts are written to the time series store.
// A snapshot is considered at most once per interval. When the interval has elapsed,
// the current frame is written if it saw any animals, and the interval restarts either way.
type Recorder struct {
	log      logs.Log
	store    tsdb.Store // nil = no persistence
	metrics  *metrics.Metrics
	cfg      config.Persistence
	interval time.Duration
	zone     *time.Location
	lastSave time.Time
}

func NewRecorder(log logs.Log, store tsdb.Store, m *metrics.Metrics, cfg config.Persistence, zone *time.Location, start time.Time) *Recorder {
	return &Recorder{
		log:      log,
		store:    store,
		metrics:  m,
		cfg:      cfg,
		interval: time.Duration(cfg.IntervalSeconds * float64(time.Second)),
		zone:     zone,
		lastSave: start,
	}
}

// LastSave is the time at which the interval last restarted
func (r *Recorder) LastSave() time.Time {
	return r.lastSave
}

// Record is called once per frame. Returns true if a snapshot was written.
func (r *Recorder) Record(ctx context.Context, now time.Time, obs counting.Observation, dets []detector.Detection, perf tsdb.PerformancePoint) bool {
	if now.Sub(r.lastSave) < r.interval {
		return false
	}
	r.lastSave = now
	if r.store == nil || len(obs) == 0 {
		return false
	}

	snap := tsdb.CountSnapshot{
		Time:     now,
		Source:   r.cfg.Source,
		Location: r.cfg.Location,
		Zone:     r.zone,
		Counts:   obs,
	}
	if err := r.store.WriteCounts(ctx, snap); err != nil {
		r.failed("counts", err)
		return false
	}
	if r.metrics != nil {
		r.metrics.SnapshotsWritten.Add(1)
	}
	r.log.Infof("Saved counts %v", obs)

	if r.cfg.DetectionDetails && len(dets) != 0 {
		points := make([]tsdb.DetectionPoint, 0, len(dets))
		for _, d := range dets {
			points = append(points, tsdb.DetectionPoint{
				AnimalType: d.ClassName,
				COCOID:     d.COCOID,
				Confidence: d.Confidence,
				Box:        d.Box,
			})
		}
		if err := r.store.WriteDetections(ctx, now, r.cfg.Source, r.cfg.Location, points); err != nil {
			r.failed("detections", err)
		}
	}
	if r.cfg.Performance {
		perf.Time = now
		if err := r.store.WritePerformance(ctx, r.cfg.Source, perf); err != nil {
			r.failed("performance", err)
		}
	}
	return true
}

func (r *Recorder) failed(what string, err error) {
	r.log.Errorf("Failed to save %v: %v", what, err)
	if r.metrics != nil {
		r.metrics.PersistenceErrors.Add(1)
	}
}

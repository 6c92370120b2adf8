// Package tsdb stores count snapshots and detections as time series, and queries them back
// for the dashboard. There are two backends: InfluxDB v2 and an embedded SQLite table.
package tsdb

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/cyclopcam/herdcount/pkg/nn"
	"github.com/cyclopcam/herdcount/server/config"
	"github.com/cyclopcam/logs"
)

// Measurement names
const (
	MeasurementCounts      = "animal_counts"
	MeasurementTotals      = "total_animals"
	MeasurementDetections  = "detection_details"
	MeasurementPerformance = "system_performance"
	MeasurementConnTest    = "connection_test"
)

// Field names
const (
	FieldCount            = "count"
	FieldDetectionTime    = "detection_time"
	FieldTotalCount       = "total_count"
	FieldUniqueTypes      = "unique_types"
	FieldConfidence       = "confidence"
	FieldFPS              = "fps"
	FieldProcessingTimeMS = "processing_time_ms"
	FieldFrameCount       = "frame_count"
)

// Tag names
const (
	TagAnimalType = "animal_type"
	TagSource     = "source"
	TagLocation   = "location"
)

// Default aggregation windows
const (
	DefaultCountWindow       = 2 * time.Minute
	DefaultPerformanceWindow = 5 * time.Minute
)

var ErrUnknownDriver = errors.New("Unknown database driver")

// CountSnapshot is the per-class count of a single frame, at a moment in time
type CountSnapshot struct {
	Time     time.Time
	Source   string
	Location string
	Zone     *time.Location // Timezone of the detection_time field. nil = UTC.
	Counts   map[string]int
}

// Classes returns the classes of the snapshot, sorted
func (s *CountSnapshot) Classes() []string {
	return slices.Sorted(maps.Keys(s.Counts))
}

func (s *CountSnapshot) Total() int {
	total := 0
	for _, c := range s.Counts {
		total += c
	}
	return total
}

// Format the time the way the detection_time field is stored
func (s *CountSnapshot) DetectionTime() string {
	zone := s.Zone
	if zone == nil {
		zone = time.UTC
	}
	return s.Time.In(zone).Format("2006-01-02T15:04:05.000000-07:00")
}

// DetectionPoint is a single detected animal
type DetectionPoint struct {
	AnimalType string
	COCOID     int
	Confidence float32
	Box        nn.Rect
}

// PerformancePoint is a sample of pipeline throughput
type PerformancePoint struct {
	Time           time.Time
	FPS            float64
	ProcessingTime time.Duration // Time spent on the most recent frame
	FrameCount     int64
}

// SeriesQuery selects a time range of a series
type SeriesQuery struct {
	Since      time.Duration // How far back from now to query
	AnimalType string        // Optional filter on the animal_type tag
	Window     time.Duration // Aggregation window. Zero means the default of the query.
}

func (q SeriesQuery) window(def time.Duration) time.Duration {
	if q.Window <= 0 {
		return def
	}
	return q.Window
}

func (q SeriesQuery) since() time.Duration {
	if q.Since <= 0 {
		return time.Hour
	}
	return q.Since
}

// SeriesPoint is one aggregated value of a series
type SeriesPoint struct {
	Time  time.Time         `json:"time"`
	Field string            `json:"field"`
	Tags  map[string]string `json:"tags,omitempty"`
	Value float64           `json:"value"`
}

// Store is a time series database
type Store interface {
	// Write one animal_counts point per class, and one total_animals point. An empty snapshot writes nothing.
	WriteCounts(ctx context.Context, snap CountSnapshot) error

	// Write one detection_details point per detection
	WriteDetections(ctx context.Context, t time.Time, source, location string, detections []DetectionPoint) error

	// Write a system_performance point
	WritePerformance(ctx context.Context, source string, p PerformancePoint) error

	// Write a connection_test point
	TestConnection(ctx context.Context) error

	// Windowed mean of animal_counts.count, per animal type
	QueryCounts(ctx context.Context, q SeriesQuery) ([]SeriesPoint, error)

	// Windowed mean of total_animals.total_count
	QueryTotals(ctx context.Context, q SeriesQuery) ([]SeriesPoint, error)

	// Number of detections per animal type in the last 'since'
	QueryDetectionSummary(ctx context.Context, since time.Duration) (map[string]int, error)

	// Windowed mean of system_performance fps and processing_time_ms
	QueryPerformance(ctx context.Context, q SeriesQuery) ([]SeriesPoint, error)

	Ping(ctx context.Context) error
	Close()
}

// Open the store selected by cfg.Driver
func Open(log logs.Log, cfg config.Database) (Store, error) {
	switch cfg.Driver {
	case config.DriverInfluxDB, "":
		return NewInfluxStore(log, cfg)
	case config.DriverSQLite:
		return NewSQLiteStore(log, cfg.SQLitePath)
	}
	return nil, fmt.Errorf("%w '%v'", ErrUnknownDriver, cfg.Driver)
}

// rawPoint is a single un-aggregated field value
type rawPoint struct {
	Time  time.Time
	Field string
	Tags  map[string]string
	Value float64
}

func seriesKey(field string, tags map[string]string) string {
	sb := strings.Builder{}
	sb.WriteString(field)
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		sb.WriteString(",")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(tags[k])
	}
	return sb.String()
}

// windowMean averages points into fixed windows aligned to the unix epoch.
// Each output point is stamped with the end of its window, and empty windows are omitted.
// This matches the behaviour of Flux's aggregateWindow(fn: mean, createEmpty: false).
func windowMean(points []rawPoint, every time.Duration) []SeriesPoint {
	type bucket struct {
		field string
		tags  map[string]string
		start time.Time
		sum   float64
		n     int
	}
	buckets := map[string]*bucket{}
	for _, p := range points {
		start := p.Time.UTC().Truncate(every)
		key := seriesKey(p.Field, p.Tags) + "@" + start.Format(time.RFC3339Nano)
		b := buckets[key]
		if b == nil {
			b = &bucket{field: p.Field, tags: p.Tags, start: start}
			buckets[key] = b
		}
		b.sum += p.Value
		b.n++
	}

	out := make([]SeriesPoint, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, SeriesPoint{
			Time:  b.start.Add(every),
			Field: b.field,
			Tags:  b.tags,
			Value: b.sum / float64(b.n),
		})
	}
	sortSeries(out)
	return out
}

// Sort by series, then by time
func sortSeries(points []SeriesPoint) {
	slices.SortFunc(points, func(a, b SeriesPoint) int {
		if c := strings.Compare(seriesKey(a.Field, a.Tags), seriesKey(b.Field, b.Tags)); c != 0 {
			return c
		}
		return a.Time.Compare(b.Time)
	})
}

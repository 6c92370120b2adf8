package tsdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyclopcam/herdcount/server/config"
	"github.com/cyclopcam/logs"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// InfluxStore writes to and queries an InfluxDB v2 bucket
type InfluxStore struct {
	log    logs.Log
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	org    string
	bucket string
}

// NewInfluxStore creates a client, and checks that the server is reachable
func NewInfluxStore(log logs.Log, cfg config.Database) (*InfluxStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("InfluxDB URL is empty")
	}
	opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(10)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	s := &InfluxStore{
		log:    log,
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  client.QueryAPI(cfg.Org),
		org:    cfg.Org,
		bucket: cfg.Bucket,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	log.Infof("Connected to InfluxDB at %v (org %v, bucket %v)", cfg.URL, cfg.Org, cfg.Bucket)
	return s, nil
}

func (s *InfluxStore) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("Failed to reach InfluxDB: %w", err)
	}
	if !ok {
		return errors.New("InfluxDB is not ready")
	}
	return nil
}

func (s *InfluxStore) Close() {
	s.client.Close()
}

func (s *InfluxStore) WriteCounts(ctx context.Context, snap CountSnapshot) error {
	if len(snap.Counts) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(snap.Counts)+1)
	detectionTime := snap.DetectionTime()
	for _, class := range snap.Classes() {
		points = append(points, influxdb2.NewPoint(MeasurementCounts,
			map[string]string{
				TagAnimalType: class,
				TagSource:     snap.Source,
				TagLocation:   snap.Location,
			},
			map[string]any{
				FieldCount:         snap.Counts[class],
				FieldDetectionTime: detectionTime,
			},
			snap.Time))
	}
	points = append(points, influxdb2.NewPoint(MeasurementTotals,
		map[string]string{
			TagSource:   snap.Source,
			TagLocation: snap.Location,
		},
		map[string]any{
			FieldTotalCount:  snap.Total(),
			FieldUniqueTypes: len(snap.Counts),
		},
		snap.Time))
	if err := s.write.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("Failed to write counts: %w", err)
	}
	return nil
}

func (s *InfluxStore) WriteDetections(ctx context.Context, t time.Time, source, location string, detections []DetectionPoint) error {
	if len(detections) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(detections))
	for i, d := range detections {
		points = append(points, influxdb2.NewPoint(MeasurementDetections,
			map[string]string{
				TagAnimalType: d.AnimalType,
				TagSource:     source,
				TagLocation:   location,
			},
			map[string]any{
				FieldConfidence: float64(d.Confidence),
				"coco_id":       d.COCOID,
				"bbox_x1":       int(d.Box.X),
				"bbox_y1":       int(d.Box.Y),
				"bbox_x2":       int(d.Box.X2()),
				"bbox_y2":       int(d.Box.Y2()),
				"detection_id":  i,
			},
			// InfluxDB overwrites points with identical series and timestamp, so offset each detection
			t.Add(time.Duration(i)*time.Microsecond)))
	}
	if err := s.write.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("Failed to write detections: %w", err)
	}
	return nil
}

func (s *InfluxStore) WritePerformance(ctx context.Context, source string, p PerformancePoint) error {
	pt := influxdb2.NewPoint(MeasurementPerformance,
		map[string]string{TagSource: source},
		map[string]any{
			FieldFPS:              p.FPS,
			FieldProcessingTimeMS: float64(p.ProcessingTime) / float64(time.Millisecond),
			FieldFrameCount:       p.FrameCount,
			"timestamp":           p.Time.UTC().Format(time.RFC3339Nano),
		},
		p.Time)
	if err := s.write.WritePoint(ctx, pt); err != nil {
		return fmt.Errorf("Failed to write performance: %w", err)
	}
	return nil
}

func (s *InfluxStore) TestConnection(ctx context.Context) error {
	pt := influxdb2.NewPoint(MeasurementConnTest, nil, map[string]any{"test_value": 1}, time.Now().UTC())
	if err := s.write.WritePoint(ctx, pt); err != nil {
		return fmt.Errorf("Connection test failed: %w", err)
	}
	return nil
}

func (s *InfluxStore) QueryCounts(ctx context.Context, q SeriesQuery) ([]SeriesPoint, error) {
	return s.querySeries(ctx, fluxCounts(s.bucket, q), TagAnimalType)
}

func (s *InfluxStore) QueryTotals(ctx context.Context, q SeriesQuery) ([]SeriesPoint, error) {
	return s.querySeries(ctx, fluxTotals(s.bucket, q))
}

func (s *InfluxStore) QueryPerformance(ctx context.Context, q SeriesQuery) ([]SeriesPoint, error) {
	return s.querySeries(ctx, fluxPerformance(s.bucket, q))
}

func (s *InfluxStore) QueryDetectionSummary(ctx context.Context, since time.Duration) (map[string]int, error) {
	result, err := s.query.Query(ctx, fluxDetectionSummary(s.bucket, since))
	if err != nil {
		return nil, fmt.Errorf("Detection summary query failed: %w", err)
	}
	defer result.Close()
	summary := map[string]int{}
	for result.Next() {
		rec := result.Record()
		animal, _ := rec.ValueByKey(TagAnimalType).(string)
		summary[animal] += int(toFloat(rec.Value()))
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("Detection summary query failed: %w", result.Err())
	}
	return summary, nil
}

// Run a Flux query and collect the records. tagKeys are copied from each record into SeriesPoint.Tags.
func (s *InfluxStore) querySeries(ctx context.Context, flux string, tagKeys ...string) ([]SeriesPoint, error) {
	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("Query failed: %w", err)
	}
	defer result.Close()
	points := []SeriesPoint{}
	for result.Next() {
		rec := result.Record()
		p := SeriesPoint{
			Time:  rec.Time(),
			Field: rec.Field(),
			Value: toFloat(rec.Value()),
		}
		for _, k := range tagKeys {
			if v, ok := rec.ValueByKey(k).(string); ok {
				if p.Tags == nil {
					p.Tags = map[string]string{}
				}
				p.Tags[k] = v
			}
		}
		points = append(points, p)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("Query failed: %w", result.Err())
	}
	sortSeries(points)
	return points, nil
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case int:
		return float64(x)
	}
	return 0
}

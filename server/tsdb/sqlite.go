package tsdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// SQLiteStore keeps time series in a single SQLite table.
// Aggregation happens in Go after fetching the raw points, which is fine for the volume
// produced by one camera writing every few seconds.
type SQLiteStore struct {
	log logs.Log
	db  *gorm.DB
	now func() time.Time
}

// Open or create an SQLite series database
func NewSQLiteStore(log logs.Log, dbFilename string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbFilename); dir != "" {
		if err := os.MkdirAll(dir, 0770); err != nil {
			return nil, fmt.Errorf("Failed to create database directory '%v': %w", dir, err)
		}
	}
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbFilename), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", dbFilename, err)
	}
	log.Infof("Opened series database %v", dbFilename)
	return &SQLiteStore{
		log: log,
		db:  db,
		now: time.Now,
	}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func makePoint(measurement string, t time.Time, source, location, animalType string, fields map[string]any) (*Point, error) {
	j, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return &Point{
		Measurement: measurement,
		Time:        dbh.MakeIntTime(t),
		Source:      source,
		Location:    location,
		AnimalType:  animalType,
		Fields:      string(j),
	}, nil
}

func (s *SQLiteStore) insert(ctx context.Context, points []*Point) error {
	if len(points) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(points).Error
}

func (s *SQLiteStore) WriteCounts(ctx context.Context, snap CountSnapshot) error {
	if len(snap.Counts) == 0 {
		return nil
	}
	points := []*Point{}
	detectionTime := snap.DetectionTime()
	for _, class := range snap.Classes() {
		p, err := makePoint(MeasurementCounts, snap.Time, snap.Source, snap.Location, class, map[string]any{
			FieldCount:         snap.Counts[class],
			FieldDetectionTime: detectionTime,
		})
		if err != nil {
			return err
		}
		points = append(points, p)
	}
	total, err := makePoint(MeasurementTotals, snap.Time, snap.Source, snap.Location, "", map[string]any{
		FieldTotalCount:  snap.Total(),
		FieldUniqueTypes: len(snap.Counts),
	})
	if err != nil {
		return err
	}
	points = append(points, total)
	if err := s.insert(ctx, points); err != nil {
		return fmt.Errorf("Failed to write counts: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WriteDetections(ctx context.Context, t time.Time, source, location string, detections []DetectionPoint) error {
	points := []*Point{}
	for i, d := range detections {
		p, err := makePoint(MeasurementDetections, t, source, location, d.AnimalType, map[string]any{
			FieldConfidence: d.Confidence,
			"coco_id":       d.COCOID,
			"bbox_x1":       d.Box.X,
			"bbox_y1":       d.Box.Y,
			"bbox_x2":       d.Box.X2(),
			"bbox_y2":       d.Box.Y2(),
			"detection_id":  i,
		})
		if err != nil {
			return err
		}
		points = append(points, p)
	}
	if err := s.insert(ctx, points); err != nil {
		return fmt.Errorf("Failed to write detections: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WritePerformance(ctx context.Context, source string, perf PerformancePoint) error {
	p, err := makePoint(MeasurementPerformance, perf.Time, source, "", "", map[string]any{
		FieldFPS:              perf.FPS,
		FieldProcessingTimeMS: float64(perf.ProcessingTime) / float64(time.Millisecond),
		FieldFrameCount:       perf.FrameCount,
	})
	if err != nil {
		return err
	}
	if err := s.insert(ctx, []*Point{p}); err != nil {
		return fmt.Errorf("Failed to write performance: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TestConnection(ctx context.Context) error {
	p, err := makePoint(MeasurementConnTest, s.now(), "", "", "", map[string]any{"test_value": 1})
	if err != nil {
		return err
	}
	if err := s.insert(ctx, []*Point{p}); err != nil {
		return fmt.Errorf("Connection test failed: %w", err)
	}
	return nil
}

// Fetch the raw points of a measurement since 'since' ago
func (s *SQLiteStore) fetch(ctx context.Context, measurement string, since time.Duration, animalType string) ([]Point, error) {
	start := dbh.MakeIntTime(s.now().Add(-since))
	q := s.db.WithContext(ctx).Where("measurement = ? AND time >= ?", measurement, start)
	if animalType != "" {
		q = q.Where("animal_type = ?", animalType)
	}
	rows := []Point{}
	if err := q.Order("time").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("Query of %v failed: %w", measurement, err)
	}
	return rows, nil
}

// Extract numeric fields from points. If withAnimalType is true, then the animal_type tag is retained.
func (s *SQLiteStore) extract(rows []Point, fields []string, withAnimalType bool) []rawPoint {
	raw := []rawPoint{}
	for _, r := range rows {
		values := map[string]any{}
		if err := json.Unmarshal([]byte(r.Fields), &values); err != nil {
			s.log.Warnf("Skipping point %v with invalid fields: %v", r.ID, err)
			continue
		}
		for _, f := range fields {
			v, ok := values[f].(float64)
			if !ok {
				continue
			}
			p := rawPoint{
				Time:  r.Time.Get(),
				Field: f,
				Value: v,
			}
			if withAnimalType {
				p.Tags = map[string]string{TagAnimalType: r.AnimalType}
			}
			raw = append(raw, p)
		}
	}
	return raw
}

func (s *SQLiteStore) QueryCounts(ctx context.Context, q SeriesQuery) ([]SeriesPoint, error) {
	rows, err := s.fetch(ctx, MeasurementCounts, q.since(), q.AnimalType)
	if err != nil {
		return nil, err
	}
	return windowMean(s.extract(rows, []string{FieldCount}, true), q.window(DefaultCountWindow)), nil
}

func (s *SQLiteStore) QueryTotals(ctx context.Context, q SeriesQuery) ([]SeriesPoint, error) {
	rows, err := s.fetch(ctx, MeasurementTotals, q.since(), "")
	if err != nil {
		return nil, err
	}
	return windowMean(s.extract(rows, []string{FieldTotalCount, FieldUniqueTypes}, false), q.window(DefaultCountWindow)), nil
}

func (s *SQLiteStore) QueryPerformance(ctx context.Context, q SeriesQuery) ([]SeriesPoint, error) {
	rows, err := s.fetch(ctx, MeasurementPerformance, q.since(), "")
	if err != nil {
		return nil, err
	}
	return windowMean(s.extract(rows, []string{FieldFPS, FieldProcessingTimeMS}, false), q.window(DefaultPerformanceWindow)), nil
}

func (s *SQLiteStore) QueryDetectionSummary(ctx context.Context, since time.Duration) (map[string]int, error) {
	type row struct {
		AnimalType string
		N          int
	}
	rows := []row{}
	start := dbh.MakeIntTime(s.now().Add(-since))
	err := s.db.WithContext(ctx).Raw("SELECT animal_type, count(*) AS n FROM point WHERE measurement = ? AND time >= ? GROUP BY animal_type",
		MeasurementDetections, start).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("Detection summary query failed: %w", err)
	}
	summary := map[string]int{}
	for _, r := range rows {
		summary[r.AnimalType] = r.N
	}
	return summary, nil
}

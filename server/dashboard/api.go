package dashboard

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/cyclopcam/herdcount/pkg/evaluation"
	"github.com/cyclopcam/herdcount/pkg/storage"
	"github.com/cyclopcam/herdcount/server/tsdb"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
	"gonum.org/v1/gonum/stat"
)

// Time ranges offered by the dashboard, in hours
var TimeRanges = []int{1, 6, 24}

const DefaultHours = 6

// Maximum connection tests per client per minute
const TestConnectionLimit = 5

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()
	handle := func(method, route string, h httprouter.Handle) {
		www.Handle(s.Log, router, method, route, h)
	}

	// Each call writes a point to the database, so limit how often a client can do it
	ratelimited := func(method, route string, h httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				h(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/", s.httpIndex)
	handle("GET", "/api/ping", s.httpPing)
	handle("GET", "/api/config", s.httpConfig)
	handle("GET", "/api/counts", s.httpCounts)
	handle("GET", "/api/totals", s.httpTotals)
	handle("GET", "/api/summary", s.httpSummary)
	handle("GET", "/api/performance", s.httpPerformance)
	ratelimited("POST", "/api/testConnection", s.httpTestConnection, TestConnectionLimit, time.Minute)
	handle("GET", "/api/evaluation", s.httpEvaluation)
	if s.metrics != nil {
		router.Handler("GET", "/metrics", s.metrics.Handler())
	}
	s.httpRouter = router
}

// Parse the 'hours' query parameter, which must be one of TimeRanges
func parseHours(r *http.Request) int {
	v := www.QueryValue(r, "hours")
	if v == "" {
		return DefaultHours
	}
	hours, err := strconv.Atoi(v)
	if err != nil || !slices.Contains(TimeRanges, hours) {
		www.PanicBadRequestf("Invalid hours '%v'. Must be one of %v", v, TimeRanges)
	}
	return hours
}

func (s *Server) parseAnimal(r *http.Request) string {
	animal := www.QueryValue(r, "animal")
	if animal != "" && s.config.Class(animal) == nil {
		www.PanicBadRequestf("Unknown animal '%v'", animal)
	}
	return animal
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type pingJSON struct {
		Time int64 `json:"time"`
	}
	www.SendJSON(w, &pingJSON{Time: time.Now().Unix()})
}

type classJSON struct {
	Name   string `json:"name"`
	COCOID int    `json:"cocoId"`
	Color  []int  `json:"color"`
}

type databaseJSON struct {
	Driver string `json:"driver"`
	URL    string `json:"url,omitempty"`
	Org    string `json:"org,omitempty"`
	Bucket string `json:"bucket,omitempty"`
}

type configJSON struct {
	Classes    []classJSON  `json:"classes"`
	Database   databaseJSON `json:"database"`
	Source     string       `json:"source"`
	Location   string       `json:"location"`
	TimeRanges []int        `json:"timeRanges"`
}

// The database token is never sent
func (s *Server) httpConfig(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cfg := configJSON{
		Database: databaseJSON{
			Driver: s.config.Database.Driver,
			URL:    s.config.Database.URL,
			Org:    s.config.Database.Org,
			Bucket: s.config.Database.Bucket,
		},
		Source:     s.config.Persistence.Source,
		Location:   s.config.Persistence.Location,
		TimeRanges: TimeRanges,
	}
	for _, c := range s.config.Animals.Classes {
		cfg.Classes = append(cfg.Classes, classJSON{Name: c.Name, COCOID: c.COCOID, Color: c.Color})
	}
	www.SendJSON(w, &cfg)
}

func (s *Server) httpCounts(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	q := tsdb.SeriesQuery{
		Since:      time.Duration(parseHours(r)) * time.Hour,
		AnimalType: s.parseAnimal(r),
	}
	points, err := s.store.QueryCounts(r.Context(), q)
	www.Check(err)
	www.SendJSON(w, nonNil(points))
}

func (s *Server) httpTotals(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	q := tsdb.SeriesQuery{Since: time.Duration(parseHours(r)) * time.Hour}
	points, err := s.store.QueryTotals(r.Context(), q)
	www.Check(err)
	www.SendJSON(w, nonNil(points))
}

func (s *Server) httpPerformance(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	q := tsdb.SeriesQuery{Since: time.Duration(parseHours(r)) * time.Hour}
	points, err := s.store.QueryPerformance(r.Context(), q)
	www.Check(err)
	www.SendJSON(w, nonNil(points))
}

type summaryJSON struct {
	Hours         int            `json:"hours"`
	Counts        map[string]int `json:"counts"` // Number of detections of each configured class
	Total         int            `json:"total"`
	ActiveClasses int            `json:"activeClasses"` // Classes with at least one detection
	ClassCount    int            `json:"classCount"`
	AverageFPS    float64        `json:"averageFPS"` // Over the last hour. Zero if unknown.
	Online        bool           `json:"online"`
}

func (s *Server) httpSummary(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	hours := parseHours(r)
	sum, err := s.buildSummary(r, hours)
	www.Check(err)
	www.SendJSON(w, sum)
}

func (s *Server) buildSummary(r *http.Request, hours int) (*summaryJSON, error) {
	ctx := r.Context()
	detected, err := s.store.QueryDetectionSummary(ctx, time.Duration(hours)*time.Hour)
	if err != nil {
		return nil, err
	}
	sum := &summaryJSON{
		Hours:      hours,
		Counts:     map[string]int{},
		ClassCount: len(s.config.Animals.Classes),
		Online:     s.store.Ping(ctx) == nil,
	}
	for _, name := range s.config.ClassNames() {
		n := detected[name]
		sum.Counts[name] = n
		sum.Total += n
		if n > 0 {
			sum.ActiveClasses++
		}
	}
	perf, err := s.store.QueryPerformance(ctx, tsdb.SeriesQuery{Since: time.Hour})
	if err != nil {
		s.Log.Warnf("Failed to query performance: %v", err)
	} else {
		sum.AverageFPS = averageField(perf, tsdb.FieldFPS)
	}
	return sum, nil
}

func averageField(points []tsdb.SeriesPoint, field string) float64 {
	values := []float64{}
	for _, p := range points {
		if p.Field == field {
			values = append(values, p.Value)
		}
	}
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

func (s *Server) httpTestConnection(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type resultJSON struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}
	res := resultJSON{Connected: true}
	if err := s.store.TestConnection(r.Context()); err != nil {
		s.Log.Warnf("Connection test failed: %v", err)
		res = resultJSON{Connected: false, Error: err.Error()}
	}
	www.SendJSON(w, &res)
}

func (s *Server) httpEvaluation(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.reports == nil {
		www.PanicNotFound()
	}
	report, err := evaluation.ReadReport(s.reports, s.config.Evaluation.ReportPath)
	if errors.Is(err, storage.ErrNotFound) {
		www.PanicNotFound()
	}
	www.Check(err)
	www.SendJSON(w, report)
}

func nonNil(points []tsdb.SeriesPoint) []tsdb.SeriesPoint {
	if points == nil {
		return []tsdb.SeriesPoint{}
	}
	return points
}

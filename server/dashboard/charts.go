package dashboard

import (
	"bytes"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/cyclopcam/herdcount/server/tsdb"
	"github.com/cyclopcam/www"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/julienschmidt/httprouter"
)

// timeTable is a set of series laid out on a shared time axis.
// A series with no value at some time has a zero there.
type timeTable struct {
	Times  []time.Time
	Series map[string][]float64
}

// Group points into one series per value of the 'key' tag. If key is empty, group by field.
func makeTimeTable(points []tsdb.SeriesPoint, key string) timeTable {
	seriesName := func(p tsdb.SeriesPoint) string {
		if key == "" {
			return p.Field
		}
		return p.Tags[key]
	}
	timeIdx := map[time.Time]int{}
	for _, p := range points {
		timeIdx[p.Time] = 0
	}
	t := timeTable{
		Times:  slices.SortedFunc(maps.Keys(timeIdx), func(a, b time.Time) int { return a.Compare(b) }),
		Series: map[string][]float64{},
	}
	for i, tm := range t.Times {
		timeIdx[tm] = i
	}
	for _, p := range points {
		name := seriesName(p)
		if t.Series[name] == nil {
			t.Series[name] = make([]float64, len(t.Times))
		}
		t.Series[name][timeIdx[p.Time]] = p.Value
	}
	return t
}

func (t *timeTable) labels(loc *time.Location) []string {
	labels := make([]string, len(t.Times))
	for i, tm := range t.Times {
		labels[i] = tm.In(loc).Format("01-02 15:04")
	}
	return labels
}

func lineData(values []float64) []opts.LineData {
	data := make([]opts.LineData, len(values))
	for i, v := range values {
		data[i] = opts.LineData{Value: v}
	}
	return data
}

func hexColor(bgr []int) string {
	if len(bgr) != 3 {
		return ""
	}
	return fmt.Sprintf("#%02x%02x%02x", bgr[2], bgr[1], bgr[0])
}

func (s *Server) newLine(title, subtitle string, t timeTable, order []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Animal Detection Dashboard", Width: "100%", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30px"}),
	)
	line.SetXAxis(t.labels(s.config.Location()))
	for _, name := range order {
		values, ok := t.Series[name]
		if !ok {
			continue
		}
		seriesOpts := []charts.SeriesOpts{charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)})}
		if c := s.config.Class(name); c != nil {
			if clr := hexColor(c.Color); clr != "" {
				seriesOpts = append(seriesOpts, charts.WithItemStyleOpts(opts.ItemStyle{Color: clr}))
			}
		}
		line.AddSeries(name, lineData(values), seriesOpts...)
	}
	return line
}

func (s *Server) httpIndex(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	hours := parseHours(r)
	since := time.Duration(hours) * time.Hour
	ctx := r.Context()

	counts, err := s.store.QueryCounts(ctx, tsdb.SeriesQuery{Since: since})
	www.Check(err)
	totals, err := s.store.QueryTotals(ctx, tsdb.SeriesQuery{Since: since})
	www.Check(err)
	perf, err := s.store.QueryPerformance(ctx, tsdb.SeriesQuery{Since: since})
	www.Check(err)
	sum, err := s.buildSummary(r, hours)
	www.Check(err)

	status := "Offline"
	if sum.Online {
		status = "Online"
	}
	subtitle := fmt.Sprintf("Last %v hours. Total %v, active classes %v/%v, average FPS %.1f, %v",
		hours, sum.Total, sum.ActiveClasses, sum.ClassCount, sum.AverageFPS, status)

	classes := s.config.ClassNames()
	trends := s.newLine("Detection Trends Over Time", subtitle, makeTimeTable(counts, tsdb.TagAnimalType), classes)
	totalLine := s.newLine("Total Animals", "", makeTimeTable(totals, ""), []string{tsdb.FieldTotalCount, tsdb.FieldUniqueTypes})
	perfLine := s.newLine("System Performance", "", makeTimeTable(perf, ""), []string{tsdb.FieldFPS, tsdb.FieldProcessingTimeMS})

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Detections per Class", Subtitle: fmt.Sprintf("Last %v hours", hours)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	barData := []opts.BarData{}
	for _, name := range classes {
		item := opts.BarData{Value: sum.Counts[name]}
		if clr := hexColor(s.config.Class(name).Color); clr != "" {
			item.ItemStyle = &opts.ItemStyle{Color: clr}
		}
		barData = append(barData, item)
	}
	bar.SetXAxis(classes).AddSeries("detections", barData,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Share of Detections"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	pieData := []opts.PieData{}
	for _, name := range classes {
		if sum.Counts[name] > 0 {
			pieData = append(pieData, opts.PieData{Name: name, Value: sum.Counts[name]})
		}
	}
	pie.AddSeries("share", pieData)

	page := components.NewPage()
	page.PageTitle = "Animal Detection Dashboard"
	page.AddCharts(trends, bar, pie, totalLine, perfLine)

	var buf bytes.Buffer
	www.Check(page.Render(&buf))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

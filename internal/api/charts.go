package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/roadsense/internal/httputil"
	"github.com/banshee-data/roadsense/internal/units"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// speedChart renders the retained self-state speeds as a line chart. Debug
// only; the rendering collaborator uses /api/path and /ws.
func (s *Server) speedChart(w http.ResponseWriter, r *http.Request) {
	history := s.engine.History()
	if len(history) == 0 {
		httputil.NotFound(w, "no self-states yet")
		return
	}

	start := history[0].TimestampMs
	x := make([]string, 0, len(history))
	speed := make([]opts.LineData, 0, len(history))
	heading := make([]opts.LineData, 0, len(history))
	for _, st := range history {
		x = append(x, fmt.Sprintf("%.1f", float64(st.TimestampMs-start)/1000))
		speed = append(speed, opts.LineData{Value: units.Round1(st.SpeedKmh)})
		if st.HeadingDeg != nil {
			heading = append(heading, opts.LineData{Value: units.Round1(*st.HeadingDeg)})
		} else {
			heading = append(heading, opts.LineData{Value: "-"})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Self speed", Width: "100%", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Self speed and heading", Subtitle: time.UnixMilli(start).UTC().Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "km/h | deg"}),
	)
	line.SetXAxis(x).
		AddSeries("speed_kmh", speed).
		AddSeries("heading_deg", heading)

	writeChart(w, line.Render)
}

// alertChart renders journaled alert counts per hazard class.
func (s *Server) alertChart(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		httputil.NotFound(w, "journal disabled")
		return
	}
	counts, err := s.journal.AlertCounts()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to count alerts: %v", err))
		return
	}

	classes := make([]string, 0, len(counts))
	for c := range counts {
		classes = append(classes, string(c))
	}
	sort.Strings(classes)
	bars := make([]opts.BarData, 0, len(classes))
	for _, c := range classes {
		bars = append(bars, opts.BarData{Value: counts[vehicle.HazardClass(c)]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Alerts", Width: "100%", Height: "480px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Journaled alerts by class"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(classes).
		AddSeries("alerts", bars, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	writeChart(w, bar.Render)
}

func writeChart(w http.ResponseWriter, render func(w io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

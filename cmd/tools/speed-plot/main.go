// Command speed-plot renders the journaled self-state speed trace, with
// alerts marked on it, to a PNG or SVG.
//
//	speed-plot -db roadsense.db -from 2026-10-18T08:00:00Z -out drive.png
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"math"
	"sort"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/roadsense/internal/db"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

var (
	dbPath = flag.String("db", "roadsense.db", "Journal database path")
	from   = flag.String("from", "", "Start time (RFC3339); default is the beginning of the journal")
	to     = flag.String("to", "", "End time (RFC3339); default is now")
	limit  = flag.Int("limit", 100000, "Maximum number of self-states to plot")
	out    = flag.String("out", "speed.png", "Output file; the extension picks the format")
	width  = flag.Float64("width", 14, "Width in inches")
	height = flag.Float64("height", 5, "Height in inches")
)

func parseWindow(fromStr, toStr string, now time.Time) (int64, int64, error) {
	fromMs, toMs := int64(0), now.UnixMilli()
	if fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid -from: %w", err)
		}
		fromMs = t.UnixMilli()
	}
	if toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid -to: %w", err)
		}
		toMs = t.UnixMilli()
	}
	if toMs < fromMs {
		return 0, 0, fmt.Errorf("-to is before -from")
	}
	return fromMs, toMs, nil
}

// speedAt returns the speed of the last state at or before ms.
func speedAt(states []vehicle.SelfState, ms int64) float64 {
	i := sort.Search(len(states), func(i int) bool { return states[i].TimestampMs > ms })
	if i == 0 {
		return 0
	}
	return states[i-1].SpeedKmh
}

// buildPlot draws speed against minutes since the first state. Alerts within
// the trace are drawn as markers on the line.
func buildPlot(states []vehicle.SelfState, alerts []vehicle.Alert) (*plot.Plot, error) {
	if len(states) == 0 {
		return nil, fmt.Errorf("no self-states to plot")
	}
	t0 := states[0].TimestampMs
	last := states[len(states)-1].TimestampMs
	minutes := func(ms int64) float64 { return float64(ms-t0) / 60000 }

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Speed from %s", time.UnixMilli(t0).UTC().Format(time.RFC3339))
	p.X.Label.Text = "Minutes"
	p.Y.Label.Text = "Speed (km/h)"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(states))
	maxSpeed := 0.0
	for i, s := range states {
		pts[i] = plotter.XY{X: minutes(s.TimestampMs), Y: s.SpeedKmh}
		maxSpeed = math.Max(maxSpeed, s.SpeedKmh)
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("speed", line)

	var marks plotter.XYs
	for _, a := range alerts {
		if a.TimestampMs < t0 || a.TimestampMs > last {
			continue
		}
		marks = append(marks, plotter.XY{X: minutes(a.TimestampMs), Y: speedAt(states, a.TimestampMs)})
	}
	if len(marks) > 0 {
		sc, err := plotter.NewScatter(marks)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		sc.GlyphStyle.Shape = draw.TriangleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(4)
		p.Add(sc)
		p.Legend.Add(fmt.Sprintf("alerts (%d)", len(marks)), sc)
	}

	p.Y.Min = 0
	p.Y.Max = math.Max(10, maxSpeed*1.1)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

func main() {
	flag.Parse()

	fromMs, toMs, err := parseWindow(*from, *to, time.Now())
	if err != nil {
		log.Fatal(err)
	}

	journal, err := db.OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open journal: %v", err)
	}
	defer journal.Close()

	states, err := journal.SelfStates(fromMs, toMs, *limit)
	if err != nil {
		log.Fatalf("failed to read self-states: %v", err)
	}
	alerts, err := journal.Alerts(10000)
	if err != nil {
		log.Fatalf("failed to read alerts: %v", err)
	}

	p, err := buildPlot(states, alerts)
	if err != nil {
		log.Fatal(err)
	}
	if err := p.Save(vg.Length(*width)*vg.Inch, vg.Length(*height)*vg.Inch, *out); err != nil {
		log.Fatalf("failed to save %s: %v", *out, err)
	}
	log.Printf("wrote %s (%d states)", *out, len(states))
}

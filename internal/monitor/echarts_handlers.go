package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/gridmap/internal/httputil"
)

// echartsAssetsPrefix points the chart pages at the public go-echarts asset
// mirror so the debug charts work without bundling echarts.min.js.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// viridis palette for visual maps, dark-to-bright with increasing value.
var viridisColors = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// handleOccupancyChart renders the classified cells of the grid as a scatter
// chart in world coordinates, colored by occupancy probability. Unknown
// cells are skipped so the carved structure stays visible.
// Query params:
//
//	max_points (optional, default 20000) - downsample above this count
func (ws *WebServer) handleOccupancyChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.manager == nil {
		httputil.InternalServerError(w, "no map manager configured")
		return
	}

	maxPoints := 20000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 0 {
			maxPoints = v
		}
	}

	snap := ws.manager.Snapshot()

	// Collect classified cell indices first so the stride downsample is
	// even across the grid.
	var classified []int
	for i := range snap.Cells {
		c := &snap.Cells[i]
		if c.IsOccupied(snap.OccupiedThreshold) || c.IsFree(snap.FreeThreshold) {
			classified = append(classified, i)
		}
	}
	if len(classified) == 0 {
		httputil.NotFound(w, "no classified cells yet")
		return
	}

	// Downsample by stride to stay within maxPoints
	stride := 1
	if len(classified) > maxPoints {
		stride = int(math.Ceil(float64(len(classified)) / float64(maxPoints)))
	}

	data := make([]opts.ScatterData, 0, len(classified)/stride+1)
	for n := 0; n < len(classified); n += stride {
		i := classified[n]
		ix, iy := snap.CellXY(i)
		world, _ := snap.IndexToWorld(ix, iy)
		data = append(data, opts.ScatterData{Value: []interface{}{world.X, world.Y, snap.Cells[i].Prob()}})
	}

	// Frame the chart on the grid window with a small padding so border
	// cells stay visible.
	padX := snap.Resolution * float64(snap.Width) * 0.05
	padY := snap.Resolution * float64(snap.Height) * 0.05
	xMin := snap.Origin.X - padX
	xMax := snap.Origin.X + snap.Resolution*float64(snap.Width) + padX
	yMin := snap.Origin.Y - padY
	yMax := snap.Origin.Y + snap.Resolution*float64(snap.Height) + padY

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Occupancy Grid", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Occupancy Grid", Subtitle: fmt.Sprintf("map=%s cells=%d stride=%d", ws.manager.MapID, len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: xMin, Max: xMax, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: yMin, Max: yMax, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridisColors},
		}),
	)

	scatter.AddSeries("cells", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleLogOddsChart renders a histogram of cell log-odds values. Cells
// still at the unknown prior are excluded so the accumulated evidence
// doesn't disappear next to the untouched bulk of the grid.
func (ws *WebServer) handleLogOddsChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.manager == nil {
		httputil.InternalServerError(w, "no map manager configured")
		return
	}

	snap := ws.manager.Snapshot()

	minVal := math.Inf(1)
	maxVal := math.Inf(-1)
	var touched []float64
	for i := range snap.Cells {
		v := snap.Cells[i].LogOdds
		if v == 0 {
			continue
		}
		touched = append(touched, v)
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	if len(touched) == 0 {
		httputil.NotFound(w, "no cells with evidence yet")
		return
	}
	if minVal == maxVal {
		minVal -= 0.5
		maxVal += 0.5
	}

	const buckets = 24
	width := (maxVal - minVal) / buckets
	counts := make([]int, buckets)
	for _, v := range touched {
		b := int((v - minVal) / width)
		if b >= buckets {
			b = buckets - 1
		}
		counts[b]++
	}

	x := make([]string, buckets)
	y := make([]opts.BarData, buckets)
	for b := 0; b < buckets; b++ {
		x[b] = fmt.Sprintf("%.1f", minVal+width*(float64(b)+0.5))
		y[b] = opts.BarData{Value: counts[b]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Cell Log-Odds Distribution", Subtitle: fmt.Sprintf("map=%s cells=%d (unknown prior excluded)", ws.manager.MapID, len(touched))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "log-odds", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Name: "cells"}),
	)
	bar.SetXAxis(x).
		AddSeries("cells", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/hesai-decode/internal/httputil"
)

// handleFrameChart renders a top-down scatter of the latest frame, coloured
// by intensity.
// Query params:
//   - max_points (optional; default and ceiling MaxChartPoints)
func (s *Server) handleFrameChart(w http.ResponseWriter, r *http.Request) {
	maxPoints := s.cfg.MaxChartPoints
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 0 && v < maxPoints {
			maxPoints = v
		}
	}

	s.mu.Lock()
	meta := s.latestMeta
	points := s.latest
	s.mu.Unlock()
	if len(points) == 0 {
		httputil.NotFound(w, "no frame decoded yet")
		return
	}

	stride := 1
	if len(points) > maxPoints {
		stride = int(math.Ceil(float64(len(points)) / float64(maxPoints)))
	}
	data := make([]opts.ScatterData, 0, len(points)/stride+1)
	maxAbs := 0.0
	for i := 0; i < len(points); i += stride {
		p := points[i]
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(float64(p.X)), math.Abs(float64(p.Y))))
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y, p.Intensity}})
	}
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Pandar40P frame", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Frame %d", meta.Index),
			Subtitle: fmt.Sprintf("sensor=%s packets=%d points=%d shown=%d", s.cfg.SensorID, meta.Packets, meta.Points, len(data)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        255,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("points", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleLossPlot renders lost packets and packets per frame over the
// history window as a PNG.
func (s *Server) handleLossPlot(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	history := make([]frameSample, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Packet loss per frame (%s)", s.cfg.SensorID)
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Packets"
	p.Add(plotter.NewGrid())

	if len(history) > 0 {
		lost := make(plotter.XYs, len(history))
		packets := make(plotter.XYs, len(history))
		for i, h := range history {
			lost[i] = plotter.XY{X: float64(h.Index), Y: float64(h.Lost)}
			packets[i] = plotter.XY{X: float64(h.Index), Y: float64(h.Packets)}
		}
		if err := plotutil.AddLines(p, "lost", lost, "received", packets); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to build plot: %v", err))
			return
		}
	}

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to encode plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

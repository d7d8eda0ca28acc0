package monitor

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/banshee-data/hesai-decode/internal/httputil"
	"github.com/banshee-data/hesai-decode/internal/lidar/pipeline"
	"github.com/banshee-data/hesai-decode/internal/version"
)

// Status is the /api/status document.
type Status struct {
	SensorID    string          `json:"sensor_id"`
	Source      string          `json:"source"`
	Version     string          `json:"version"`
	Uptime      string          `json:"uptime"`
	LastFrameAt *time.Time      `json:"last_frame_at,omitempty"`
	Pipeline    *pipeline.Stats `json:"pipeline,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":    "ok",
		"service":   "pandar-decode",
		"timestamp": s.cfg.Clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) status() Status {
	st := Status{
		SensorID: s.cfg.SensorID,
		Source:   s.cfg.Source,
		Version:  version.Version,
		Uptime:   s.cfg.Clock.Since(s.started).Round(time.Second).String(),
	}
	if last := s.LastFrameAt(); !last.IsZero() {
		st.LastFrameAt = &last
	}
	if s.cfg.Stats != nil {
		ps := s.cfg.Stats.Stats()
		st.Pipeline = &ps
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.status())
}

// handleLatestFrame returns the decimated points of the newest frame.
func (s *Server) handleLatestFrame(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	meta, seen := s.latestMeta, !s.lastFrame.IsZero()
	points := make([][4]float32, len(s.latest))
	for i, p := range s.latest {
		points[i] = [4]float32{p.X, p.Y, p.Z, float32(p.Intensity)}
	}
	s.mu.Unlock()

	if !seen {
		httputil.NotFound(w, "no frame decoded yet")
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"index":   meta.Index,
		"packets": meta.Packets,
		"points":  meta.Points,
		"xyzi":    points,
	})
}

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html><head><title>pandar-decode {{.SensorID}}</title></head>
<body>
<h1>pandar-decode {{.SensorID}}</h1>
<p>Source: {{.Source}} &middot; version {{.Version}} &middot; up {{.Uptime}}</p>
{{with .Pipeline}}<table>
<tr><td>Packets received</td><td>{{.Received}}</td></tr>
<tr><td>Frames completed</td><td>{{.Decoder.FramesCompleted}}</td></tr>
<tr><td>Points written</td><td>{{.Decoder.PointsWritten}}</td></tr>
<tr><td>Malformed packets</td><td>{{.Decoder.Malformed}}</td></tr>
<tr><td>Packets lost</td><td>{{.Decoder.Loss.LostPackets}}</td></tr>
<tr><td>Time-loss events</td><td>{{.Decoder.Loss.TimeLossEvents}}</td></tr>
<tr><td>Split phase</td><td>{{.Decoder.SplitPhase}}</td></tr>
</table>{{end}}
<ul>
<li><a href="/charts/frame">Latest frame</a></li>
<li><a href="/charts/loss.png">Loss history</a></li>
<li><a href="/metrics">Metrics</a></li>
<li><a href="/debug/">Debug</a></li>
</ul>
</body></html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.status()); err != nil {
		http.Error(w, fmt.Sprintf("render status: %v", err), http.StatusInternalServerError)
	}
}

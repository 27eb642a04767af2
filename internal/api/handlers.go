package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/discfield/internal/field"
	"github.com/banshee-data/discfield/internal/measure"
	"github.com/banshee-data/discfield/internal/render"
)

// cornerResponse reports a corner pick. Region is set once both corners are
// in.
type cornerResponse struct {
	Complete bool          `json:"complete"`
	Picks    int           `json:"picks"`
	Region   *field.Region `json:"region,omitempty"`
}

func (s *Server) setCorner(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	var p field.DisplayPoint
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid corner: %v", err))
		return
	}
	region, done, err := s.ctrl.SetCorner(p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := cornerResponse{Complete: done, Picks: s.ctrl.Snapshot().CornerPicks}
	if done {
		resp.Region = &region
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) resetCalibration(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.ctrl.ResetCalibration(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) captureBaseline(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.ctrl.CaptureBaseline(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, baselineResponse(s.ctrl.Snapshot()))
}

// baselineResponse summarises a capture. A reset may land between the
// capture and the snapshot, so the region can already be gone.
func baselineResponse(st measure.State) map[string]any {
	regionLen := 0
	if st.Region != nil {
		regionLen = st.Region.Len()
	}
	return map[string]any{
		"region":         st.Region,
		"baseline_valid": st.BaselineValid,
		"region_len":     regionLen,
	}
}

func (s *Server) compare(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	report, err := s.ctrl.Compare(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"report": report,
		"ratio":  report.Ratio(),
	})
}

func (s *Server) startLoop(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	started, err := s.ctrl.Start()
	if err != nil {
		s.writeError(w, err)
		return
	}
	st := s.ctrl.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"started": started,
		"loop":    st.Loop,
		"run_id":  st.RunID,
	})
}

func (s *Server) stopLoop(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	stopping := s.ctrl.Stop()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"stopping": stopping,
		"loop":     s.ctrl.LoopState(),
	})
}

func (s *Server) toggleLoop(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	state, err := s.ctrl.Toggle()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"loop": state})
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) readDistance(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	x, errX := strconv.Atoi(q.Get("x"))
	y, errY := strconv.Atoi(q.Get("y"))
	if errX != nil || errY != nil {
		s.writeJSONError(w, http.StatusBadRequest, "x and y must be integers")
		return
	}
	d, err := s.ctrl.ReadDistance(r.Context(), x, y)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"x": x, "y": y, "distance": d})
}

func (s *Server) listCalibrations(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.db == nil {
		http.NotFound(w, r)
		return
	}
	limit, err := limitParam(r, 20, 500)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.db.ListCalibrations(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) showActuator(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.link == nil {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"connected": s.link.IsConnected()})
}

func (s *Server) connectActuator(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.link == nil {
		http.NotFound(w, r)
		return
	}
	// the link outlives this request; it is closed by Disconnect or shutdown
	if err := s.link.Connect(context.WithoutCancel(r.Context())); err != nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"connected": true})
}

func (s *Server) disconnectActuator(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.link == nil {
		http.NotFound(w, r)
		return
	}
	if err := s.link.Disconnect(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"connected": false})
}

func (s *Server) sendActuatorCommand(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.link == nil {
		http.NotFound(w, r)
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing command")
		return
	}
	if err := s.link.SendCommand(command); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sent": true, "command": command})
}

func (s *Server) listActuatorLog(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.db == nil {
		http.NotFound(w, r)
		return
	}
	limit, err := limitParam(r, 100, 1000)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmds, err := s.db.ListCommands(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cmds)
}

func (s *Server) listSerialPorts(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	ports, err := s.listPorts()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ports == nil {
		ports = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"ports": ports})
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.scene == nil {
		http.NotFound(w, r)
		return
	}
	var buf bytes.Buffer
	if err := render.ChartPage(s.scene.Snapshot(), &buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func (s *Server) showChartPNG(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.scene == nil {
		http.NotFound(w, r)
		return
	}
	width, height := 6*vg.Inch, 4.5*vg.Inch
	var buf bytes.Buffer
	if err := render.PlotPNG(s.scene.Snapshot(), &buf, width, height); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	buf.WriteTo(w)
}

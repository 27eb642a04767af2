// Package api exposes the measurement controller over HTTP: calibration
// clicks, loop control, state, the renderer stream and the trajectory charts.
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/discfield/internal/db"
	"github.com/banshee-data/discfield/internal/field"
	"github.com/banshee-data/discfield/internal/measure"
	"github.com/banshee-data/discfield/internal/render"
	"github.com/banshee-data/discfield/internal/serialmux"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server routes HTTP requests to the controller and its collaborators. Any of
// scene, hub, link and store may be nil; their routes then answer 404.
type Server struct {
	ctrl  *measure.Controller
	scene *render.Scene
	hub   *render.Hub
	link  *serialmux.Link
	db    *db.DB

	listPorts func() ([]string, error)
}

func NewServer(ctrl *measure.Controller, scene *render.Scene, hub *render.Hub, link *serialmux.Link, store *db.DB) *Server {
	return &Server{
		ctrl:      ctrl,
		scene:     scene,
		hub:       hub,
		link:      link,
		db:        store,
		listPorts: serialmux.AvailablePorts,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack passes through so /ws can upgrade behind the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes. Admin routes are attached separately.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/calibration/corner", s.setCorner)
	mux.HandleFunc("/api/calibration/reset", s.resetCalibration)
	mux.HandleFunc("/api/calibrations", s.listCalibrations)
	mux.HandleFunc("/api/baseline", s.captureBaseline)
	mux.HandleFunc("/api/compare", s.compare)
	mux.HandleFunc("/api/loop/start", s.startLoop)
	mux.HandleFunc("/api/loop/stop", s.stopLoop)
	mux.HandleFunc("/api/loop/toggle", s.toggleLoop)
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/distance", s.readDistance)
	mux.HandleFunc("/api/actuator", s.showActuator)
	mux.HandleFunc("/api/actuator/connect", s.connectActuator)
	mux.HandleFunc("/api/actuator/disconnect", s.disconnectActuator)
	mux.HandleFunc("/api/actuator/send", s.sendActuatorCommand)
	mux.HandleFunc("/api/actuator/log", s.listActuatorLog)
	mux.HandleFunc("/api/ports", s.listSerialPorts)
	mux.HandleFunc("/chart", s.showChart)
	mux.HandleFunc("/chart.png", s.showChartPNG)
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeError maps controller errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSONError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, measure.ErrInvalidRegion),
		errors.Is(err, measure.ErrLoopBusy),
		errors.Is(err, field.ErrFieldMismatch):
		return http.StatusConflict
	case errors.Is(err, measure.ErrDegenerateGeometry):
		return http.StatusUnprocessableEntity
	case errors.Is(err, measure.ErrUncalibrated):
		return http.StatusPreconditionFailed
	case errors.Is(err, measure.ErrDepthSourceUnavailable),
		errors.Is(err, measure.ErrClosed),
		errors.Is(err, serialmux.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, measure.ErrOutOfFrame):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// limitParam parses ?limit= with a default and an upper bound.
func limitParam(r *http.Request, def, upper int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, upper), nil
}

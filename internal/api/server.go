// Package api exposes the HTTP control surface for the pipeline:
// lifecycle commands, status and counters, session history, a live
// websocket event stream and per-session reports.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/sightline/internal/config"
	"github.com/banshee-data/sightline/internal/eventlog"
	"github.com/banshee-data/sightline/internal/pipeline"
	"github.com/banshee-data/sightline/internal/vision"
)

// ANSI escape codes for request logging.
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Controller is the slice of the pipeline controller the API needs.
type Controller interface {
	Pause() error
	Resume() error
	Stop() error
	StartRecording(path string) error
	StopRecording() error
	Status() pipeline.Status
	Snapshot() (data []byte, at time.Time, ok bool)
}

// StartRequest is the JSON body of POST /api/start. It mirrors the CLI
// surface: source selection, model selection and the voice/mirror
// toggles.
type StartRequest struct {
	Source      string   `json:"source"` // camera | external | file
	CameraIndex int      `json:"camera_index,omitempty"`
	File        string   `json:"file,omitempty"`
	Model       string   `json:"model,omitempty"`
	ModelConfig string   `json:"model_config,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Voice       *bool    `json:"voice,omitempty"`
	Mirror      *bool    `json:"mirror,omitempty"`
}

// StartFunc builds the session collaborators from a start request and
// starts the pipeline. Wired up by the main package, which knows how
// to open cameras and load models.
type StartFunc func(req StartRequest) error

// Server serves the control API.
type Server struct {
	ctrl   Controller
	start  StartFunc
	db     *eventlog.DB
	hub    *Hub
	tuning *config.TuningConfig
}

// NewServer creates an API server. db and hub may be nil; start may be
// nil when the binary autostarts its only session.
func NewServer(ctrl Controller, start StartFunc, db *eventlog.DB, hub *Hub, tuning *config.TuningConfig) *Server {
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	return &Server{ctrl: ctrl, start: start, db: db, hub: hub, tuning: tuning}
}

// Tuning returns the server's current tuning config (applied to the
// next session start).
func (s *Server) Tuning() *config.TuningConfig {
	return s.tuning
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

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration.
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

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/pause", s.handlePause)
	mux.HandleFunc("/api/resume", s.handleResume)
	mux.HandleFunc("/api/record/start", s.handleRecordStart)
	mux.HandleFunc("/api/record/stop", s.handleRecordStop)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionSubpath)
	if s.hub != nil {
		mux.HandleFunc("/api/events/ws", s.hub.HandleWS)
	}
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.ctrl.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if s.start == nil {
		s.writeJSONError(w, http.StatusNotImplemented, "start not supported on this instance")
		return
	}
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.start(req); err != nil {
		if errors.Is(err, vision.ErrAlreadyRunning) {
			s.writeJSONError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, s.ctrl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.ctrl.Stop(); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, s.ctrl.Status())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.ctrl.Pause(); err != nil {
		s.writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, s.ctrl.Status())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.ctrl.Resume(); err != nil {
		s.writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, s.ctrl.Status())
}

func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		s.writeJSONError(w, http.StatusBadRequest, "path required")
		return
	}
	if err := s.ctrl.StartRecording(req.Path); err != nil {
		s.writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, s.ctrl.Status())
}

func (s *Server) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.ctrl.StopRecording(); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, s.ctrl.Status())
}

// handleSnapshot serves the latest annotated still frame.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, at, ok := s.ctrl.Snapshot()
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "no frame available")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Last-Modified", at.UTC().Format(http.TimeFormat))
	_, _ = w.Write(data)
}

// handleConfig serves the tuning config. GET returns the active
// config; PUT validates and stores a replacement that applies to the
// next session start.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, s.tuning)
	case http.MethodPut, http.MethodPost:
		cfg := config.EmptyTuningConfig()
		if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "invalid config JSON: "+err.Error())
			return
		}
		if err := cfg.Validate(); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		*s.tuning = *cfg
		s.writeJSON(w, s.tuning)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "GET or PUT required")
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.writeJSONError(w, http.StatusNotImplemented, "event log disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	sessions, err := s.db.ListSessions(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, sessions)
}

// handleSessionSubpath dispatches /api/sessions/{id}/{events,errors,report}.
func (s *Server) handleSessionSubpath(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.writeJSONError(w, http.StatusNotImplemented, "event log disabled")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		s.writeJSONError(w, http.StatusNotFound, "expected /api/sessions/{id}/{events|errors|report}")
		return
	}
	id := parts[0]
	switch parts[1] {
	case "events":
		events, err := s.db.ListNotifications(id)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, events)
	case "errors":
		events, err := s.db.ListStageErrors(id)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, events)
	case "report":
		s.handleSessionReport(w, r, id)
	default:
		s.writeJSONError(w, http.StatusNotFound, "unknown session resource "+parts[1])
	}
}

// Package api serves the HTTP surface: the sensor registry, on-demand
// readings and the attempt journal.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/vibration.report/internal/acquisition"
	"github.com/banshee-data/vibration.report/internal/db"
	"github.com/banshee-data/vibration.report/internal/httputil"
	"github.com/banshee-data/vibration.report/internal/monitoring"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Acquirer runs readings. *acquisition.Orchestrator implements it.
type Acquirer interface {
	AcquireReading(ctx context.Context, target acquisition.Target) (*acquisition.Result, error)
	State() acquisition.State
	Subscribed() bool
	Timeouts() acquisition.Timeouts
}

// Store is the persistence the handlers need. *db.DB implements it.
type Store interface {
	ListSensors() ([]db.Sensor, error)
	GetSensor(serial string) (*db.Sensor, error)
	UpsertSensor(s *db.Sensor) error
	DeleteSensor(serial string) error
	RecentAttempts(serial string, limit int) ([]acquisition.Attempt, error)
}

type Server struct {
	acq   Acquirer
	store Store
}

func NewServer(acq Acquirer, store Store) *Server {
	return &Server{
		acq:   acq,
		store: store,
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
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/sensors", s.handleSensors)
	mux.HandleFunc("/api/sensors/{serial}", s.handleSensor)
	mux.HandleFunc("/api/readings", s.takeReading)
	mux.HandleFunc("/api/attempts", s.listAttempts)
	return mux
}

type statusResponse struct {
	State       string `json:"state"`
	Subscribed  bool   `json:"subscribed"`
	Started     string `json:"started_timeout"`
	Data        string `json:"data_timeout"`
	Temperature string `json:"temperature_timeout"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	t := s.acq.Timeouts()
	httputil.WriteJSONOK(w, statusResponse{
		State:       s.acq.State().String(),
		Subscribed:  s.acq.Subscribed(),
		Started:     t.Started.String(),
		Data:        t.Data.String(),
		Temperature: t.Temperature.String(),
	})
}

func (s *Server) listAttempts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	limit := db.DefaultAttemptLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	attempts, err := s.store.RecentAttempts(r.URL.Query().Get("serial"), limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve attempts: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, attempts)
}

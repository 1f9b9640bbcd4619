// Package api is the HTTP façade over the acquisition controller.
package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/spectrometer/internal/config"
	"github.com/banshee-data/spectrometer/internal/httputil"
	"github.com/banshee-data/spectrometer/internal/pipeline"
	"github.com/banshee-data/spectrometer/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Controller is the acquisition surface the façade drives.
type Controller interface {
	Start() error
	Stop()
	Status() pipeline.Status
	LatestReading() (pipeline.Reading, bool)
}

type Server struct {
	ctrl Controller
}

func NewServer(ctrl Controller) *Server {
	return &Server{ctrl: ctrl}
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
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/spectrometer/start", s.handleStart)
	mux.HandleFunc("/api/spectrometer/stop", s.handleStop)
	mux.HandleFunc("/api/spectrometer/status", s.handleStatus)
	mux.HandleFunc("/api/spectrometer/latest", s.handleLatest)
	mux.HandleFunc("/api/version", s.handleVersion)
	return mux
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.ctrl.Start(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrConfig) {
			status = http.StatusBadRequest
		}
		httputil.WriteJSONError(w, status, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.ctrl.Stop()
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	reading, ok := s.ctrl.LatestReading()
	if !ok {
		httputil.NotFound(w, "no reading yet")
		return
	}
	httputil.WriteJSONOK(w, reading)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Info())
}

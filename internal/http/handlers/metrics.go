package handlers

import (
	"net/http"
	"time"
)

// statusRecorder captures the status written by an action handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument counts the action and its latency.
func (a *App) instrument(action string, w http.ResponseWriter, fn func(w http.ResponseWriter)) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	fn(rec)
	a.metrics.ObserveRequest(action, rec.status, time.Since(start))
}

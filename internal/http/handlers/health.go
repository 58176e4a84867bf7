package handlers

import (
	"net/http"
	"time"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// liveness answers gateway calls that name no known action.
func (a *App) liveness(w http.ResponseWriter) {
	a.json(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "media-gateway",
		"time":    a.now().UTC().Format(time.RFC3339),
	})
}

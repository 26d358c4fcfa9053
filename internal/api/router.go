package api

import (
	"net/http"
)

// NewRouter creates a new http.ServeMux and registers the API handlers.
func NewRouter(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()
	h := NewHandlers(deps)

	mux.HandleFunc("GET /v1/stats", h.Stats)
	mux.HandleFunc("GET /v1/models", h.ListModels)
	mux.HandleFunc("GET /v1/models/available", h.AvailableModels)
	mux.HandleFunc("GET /v1/models/{model_id}/results", h.ListResults)
	mux.HandleFunc("POST /v1/tests/run", h.RunAll)
	mux.HandleFunc("POST /v1/tests/run/{model_id}", h.RunOne)
	mux.HandleFunc("GET /v1/scheduler", h.SchedulerInfo)
	mux.HandleFunc("GET /healthz", h.Healthz)

	return mux
}

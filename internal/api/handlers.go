package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"modelwatch/internal/models"
	"modelwatch/internal/probe"
	"modelwatch/internal/scheduler"
	"modelwatch/internal/stats"
	"modelwatch/internal/storage"
)

// Catalog lists the models the upstream API offers, used by the operator to
// verify endpoint configuration.
type Catalog interface {
	ListAvailableModels(ctx context.Context, ep probe.Endpoint) ([]probe.AvailableModel, error)
}

// Deps holds dependencies for the API handlers.
type Deps struct {
	Store     storage.Storer
	Scheduler *scheduler.Scheduler
	Stats     *stats.Aggregator
	Catalog   Catalog
	Endpoint  probe.Endpoint
}

// Handlers serves the monitoring core's read and trigger surface.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

// runResponse is the wire form of one immediate probe result.
type runResponse struct {
	ModelID      string    `json:"model_id"`
	ModelName    string    `json:"model_name"`
	DisplayName  string    `json:"display_name"`
	Success      bool      `json:"success"`
	Provisional  bool      `json:"provisional"`
	ErrorCode    int       `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	TestedAt     time.Time `json:"tested_at"`
}

func toRunResponse(run scheduler.ModelRun) runResponse {
	o := run.Result.Outcome
	resp := runResponse{
		ModelID:      run.Model.ID,
		ModelName:    run.Model.ModelID,
		DisplayName:  run.Model.DisplayName,
		Success:      o.Success,
		Provisional:  run.Result.Provisional,
		ErrorCode:    o.HTTPStatus,
		ErrorMessage: o.Message,
		TestedAt:     o.TestedAt,
	}
	if run.Err != nil {
		resp.ErrorMessage = run.Err.Error()
	}
	return resp
}

// Stats serves the per-model hourly slots and windowed availability rates.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	result, err := h.deps.Stats.AllStats(r.Context())
	if err != nil {
		log.Printf("stats error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListModels serves the monitored-model registry.
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	items, err := h.deps.Store.ListModels(r.Context())
	if err != nil {
		log.Printf("list models error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Items []models.Model `json:"items"`
	}{Items: items})
}

// AvailableModels fetches the upstream model catalog.
func (h *Handlers) AvailableModels(w http.ResponseWriter, r *http.Request) {
	items, err := h.deps.Catalog.ListAvailableModels(r.Context(), h.deps.Endpoint)
	if err != nil {
		if errors.Is(err, probe.ErrNotConfigured) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("available models error: %v", err)
		http.Error(w, "failed to fetch models from upstream", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Items []probe.AvailableModel `json:"items"`
	}{Items: items})
}

// ListResults serves recent committed outcomes for one model.
func (h *Handlers) ListResults(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("model_id")
	if _, err := h.deps.Store.GetModelByID(r.Context(), modelID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "model not found", http.StatusNotFound)
			return
		}
		log.Printf("get model error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	hours := 24
	if v := q.Get("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 2160 {
			hours = n
		}
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	results, err := h.deps.Store.ListOutcomes(r.Context(), storage.ListOutcomesParams{
		ModelID:    modelID,
		Since:      &since,
		Limit:      limit,
		Descending: true,
	})
	if err != nil {
		log.Printf("list results error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Items []models.Outcome `json:"items"`
	}{Items: results})
}

// RunAll triggers an immediate probe of every enabled model.
func (h *Handlers) RunAll(w http.ResponseWriter, r *http.Request) {
	runs, err := h.deps.Scheduler.RunAllNow(r.Context())
	if err != nil {
		log.Printf("run all error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	items := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, toRunResponse(run))
	}
	writeJSON(w, http.StatusOK, struct {
		Items []runResponse `json:"items"`
	}{Items: items})
}

// RunOne triggers an immediate probe of a single model.
func (h *Handlers) RunOne(w http.ResponseWriter, r *http.Request) {
	run, err := h.deps.Scheduler.RunModelNow(r.Context(), r.PathValue("model_id"))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "model not found", http.StatusNotFound)
		case errors.Is(err, probe.ErrNotConfigured):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			log.Printf("run model error: %v", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(*run))
}

// SchedulerInfo reports the last completed and next scheduled cycle.
func (h *Handlers) SchedulerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Scheduler.Info())
}

// Healthz is a simple health check endpoint.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/harrier/internal/alerts"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/scoring"
)

// Pipeline stages whose processed counters the stats endpoint reports.
var pipelineStages = []string{"features", "scoring", "alerts"}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *features.Engine
	scorer  *scoring.Scorer
	alerts  *alerts.Manager
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *features.Engine, scorer *scoring.Scorer, alertMgr *alerts.Manager, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  engine,
		scorer:  scorer,
		alerts:  alertMgr,
		version: version,
	}
}

// FeaturesResponse is the response for the feature endpoints.
type FeaturesResponse struct {
	TxnID    string               `json:"txn_id,omitempty"`
	Features domain.FeatureVector `json:"features"`
}

// GetFeatures handles GET /features/{txnId}. Served from cache when the
// pipeline computed the vector recently, recomputed from the stored
// transaction otherwise.
func (h *Handler) GetFeatures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txnID := chi.URLParam(r, "txnId")

	if txnID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if fv := h.engine.Cached(ctx, txnID); fv != nil {
		writeJSON(w, http.StatusOK, FeaturesResponse{TxnID: txnID, Features: fv})
		return
	}

	txn, err := h.repo.GetTransaction(ctx, txnID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("failed to load transaction", "txn_id", txnID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load transaction",
		})
		return
	}

	fv := h.engine.Compute(ctx, txn)
	writeJSON(w, http.StatusOK, FeaturesResponse{TxnID: txnID, Features: fv})
}

// ComputeFeatures handles POST /features/compute. The transaction in the
// request body is featurized without being persisted, so the endpoint can be
// used for what-if evaluation.
func (h *Handler) ComputeFeatures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var txn domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&txn); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if txn.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}

	// Stateless evaluation: never write the probe into the feature cache.
	probe := txn
	probe.TxnID = ""

	fv := h.engine.Compute(ctx, &probe)
	writeJSON(w, http.StatusOK, FeaturesResponse{TxnID: txn.TxnID, Features: fv})
}

// ListAlerts handles GET /alerts with optional status, risk_threshold,
// limit and offset query parameters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := domain.AlertQuery{
		Status: r.URL.Query().Get("status"),
	}

	if raw := r.URL.Query().Get("risk_threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "risk_threshold must be a number",
			})
			return
		}
		q.RiskThreshold = v
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be an integer",
			})
			return
		}
		q.Limit = v
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "offset must be an integer",
			})
			return
		}
		q.Offset = v
	}

	if q.Status != "" && !domain.ValidAlertStatus(q.Status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid status filter",
		})
		return
	}

	page, err := h.alerts.ListAlerts(ctx, q)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alertID := chi.URLParam(r, "id")

	alert, err := h.alerts.GetAlert(ctx, alertID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
			return
		}
		slog.Error("failed to get alert", "alert_id", alertID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get alert",
		})
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// UpdateAlert handles PATCH /alerts/{id}. Only status, investigation notes
// and assignee are patchable; absent fields are left unchanged.
func (h *Handler) UpdateAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alertID := chi.URLParam(r, "id")

	var patch domain.AlertPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	alert, err := h.alerts.UpdateAlert(ctx, alertID, patch)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		case errors.Is(err, repository.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
		default:
			slog.Error("failed to update alert", "alert_id", alertID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to update alert",
			})
		}
		return
	}

	slog.Info("alert updated", "alert_id", alertID)
	writeJSON(w, http.StatusOK, alert)
}

// AlertStats handles GET /alerts/stats.
func (h *Handler) AlertStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.alerts.Stats(r.Context())
	if err != nil {
		slog.Error("failed to aggregate alert stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to aggregate alert stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// PipelineStats handles GET /pipeline/stats, reporting the cache-backed
// processed-event counters per stage.
func (h *Handler) PipelineStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stages := make(map[string]int64, len(pipelineStages))
	for _, stage := range pipelineStages {
		count, err := h.cache.GetCounter(ctx, "stage:"+stage)
		if err != nil {
			slog.Error("failed to read stage counter", "stage", stage, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to read stage counters",
			})
			return
		}
		stages[stage] = count
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stages":  stages,
		"version": h.version,
	})
}

// ModelMetrics handles GET /model/metrics.
func (h *Handler) ModelMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scorer.Metrics())
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic. Unlike
// Health, a failing dependency makes readiness fail outright.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checks := map[string]func() error{
		"repository": func() error { return h.repo.Ping(ctx) },
		"cache":      func() error { return h.cache.Ping(ctx) },
		"bus":        func() error { return h.bus.Ping(ctx) },
	}

	for name, check := range checks {
		if err := check(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": name + " unavailable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

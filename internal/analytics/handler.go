package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

const (
	defaultTopLimit = 10
	maxTopLimit     = 1000
)

// Handler exposes an Aggregator over HTTP.
type Handler struct {
	aggregator *Aggregator
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

// Register mounts the analytics routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/top/{kind}", h.Top)
}

// Stats serves GET /api/v1/analytics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.aggregator.Stats())
}

// Top serves GET /api/v1/analytics/top/{seeds|recommended}?limit=N.
func (h *Handler) Top(w http.ResponseWriter, r *http.Request) {
	limit := defaultTopLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTopLimit {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be an integer in [1, 1000]",
			})
			return
		}
		limit = n
	}
	kind := r.PathValue("kind")
	items, ok := h.aggregator.Top(kind, limit)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "unknown ranking " + strconv.Quote(kind) + ", want seeds or recommended",
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "items": items})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}

// Package handler exposes the recommendation service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/recommender"
	apperrors "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Catalog lists persisted rule tables. *catalog.Catalog implements it.
type Catalog interface {
	List(ctx context.Context, limit int) ([]catalog.Entry, error)
}

type Handler struct {
	service *recommender.Service
	catalog Catalog
	version string
	port    int
	logger  *slog.Logger
}

// New builds the HTTP handlers. cat may be nil when PostgreSQL is disabled.
func New(service *recommender.Service, cat Catalog, version string, port int) *Handler {
	return &Handler{
		service: service,
		catalog: cat,
		version: version,
		port:    port,
		logger:  slog.Default().With("component", "recommend-handler"),
	}
}

// Register mounts the recommendation API on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/recommend", h.Recommend)
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /api/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/tables", h.Tables)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// recommendRequest keeps fields raw so each can be validated on its own
// terms: songs must be a list, an unusable top_n falls back to the default.
type recommendRequest struct {
	Songs         json.RawMessage `json:"songs"`
	TopN          json.RawMessage `json:"top_n"`
	MinConfidence json.RawMessage `json:"min_confidence"`
	MinLift       json.RawMessage `json:"min_lift"`
}

type recommendResponse struct {
	Songs     []string `json:"songs"`
	Version   string   `json:"version"`
	ModelDate string   `json:"model_date"`
}

// Recommend serves POST /api/recommend.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	var raw recommendRequest
	if err := json.Unmarshal(body, &raw); err != nil || raw.Songs == nil {
		h.writeError(w, http.StatusBadRequest, `Invalid request format. Expected JSON with "songs" field.`)
		return
	}
	req, err := parseRequest(raw)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), errorMessage(err))
		return
	}

	resp, err := h.service.Recommend(r.Context(), req)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError && !errors.Is(err, apperrors.ErrTableNotLoaded) {
			log.Error("recommend failed", "error", err)
		}
		h.writeError(w, status, errorMessage(err))
		return
	}

	h.writeJSON(w, http.StatusOK, recommendResponse{
		Songs:     resp.Songs,
		Version:   h.version,
		ModelDate: formatDate(resp.ModelDate),
	})
}

func parseRequest(raw recommendRequest) (recommender.Request, error) {
	var req recommender.Request
	if err := json.Unmarshal(raw.Songs, &req.Songs); err != nil || req.Songs == nil {
		return req, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, `"songs" field must be a list.`)
	}
	if n, ok := parseInt(raw.TopN); ok {
		req.TopN = &n
	}
	var err error
	if req.MinConfidence, err = parseFloat("min_confidence", raw.MinConfidence); err != nil {
		return req, err
	}
	if req.MinLift, err = parseFloat("min_lift", raw.MinLift); err != nil {
		return req, err
	}
	return req, nil
}

// parseInt accepts a JSON integer, or a string holding one. Anything else
// reports false so the default applies.
func parseInt(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
	}
	return 0, false
}

func parseFloat(name string, raw json.RawMessage) (*float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%s must be a number", name)
	}
	return &f, nil
}

type healthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version,omitempty"`
	ModelDate  string `json:"model_date,omitempty"`
	ModelRules int    `json:"model_rules,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Health serves GET /api/health: 200 once a table is loaded, 503 before.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	table := h.service.Table()
	if table == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Reason: "Model not loaded"})
		return
	}
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:     "healthy",
		Version:    h.version,
		ModelDate:  formatDate(table.GeneratedAt()),
		ModelRules: table.Len(),
	})
}

type statsResponse struct {
	Version       string  `json:"version"`
	ModelDate     string  `json:"model_date"`
	Generation    string  `json:"generation"`
	TotalRules    int     `json:"total_rules"`
	AvgConfidence float64 `json:"avg_confidence"`
	AvgLift       float64 `json:"avg_lift"`
	Port          int     `json:"port"`
	TableSwaps    int64   `json:"table_swaps"`
	LastSwap      string  `json:"last_swap,omitempty"`
}

// Stats serves GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	table := h.service.Table()
	if table == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Model not loaded")
		return
	}
	s := table.Stats()
	swaps, lastSwap := h.service.Swaps()
	h.writeJSON(w, http.StatusOK, statsResponse{
		Version:       h.version,
		ModelDate:     formatDate(table.GeneratedAt()),
		Generation:    table.Generation(),
		TotalRules:    s.TotalRules,
		AvgConfidence: s.AvgConfidence,
		AvgLift:       s.AvgLift,
		Port:          h.port,
		TableSwaps:    swaps,
		LastSwap:      formatDate(lastSwap),
	})
}

// Tables serves GET /api/v1/tables?limit=N from the catalog.
func (h *Handler) Tables(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		h.writeError(w, http.StatusServiceUnavailable, "rule table catalog is disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}
	entries, err := h.catalog.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing rule tables failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "listing rule tables failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tables": entries})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	c := h.service.Cache()
	if c == nil || !c.Enabled() {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := c.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		"breaker":  c.BreakerState().String(),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	c := h.service.Cache()
	if c == nil || !c.Enabled() {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := c.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// errorMessage prefers the user-facing message of an AppError.
func errorMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

package handlers

import (
	"net/http"
	"time"

	"github.com/wonny/aegis/weightgov/internal/governor"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/redis"
)

// WeightsHandler handles weight read and rollback endpoints
// ⭐ SSOT: 가중치 API 핸들러는 이 구조체에서만
type WeightsHandler struct {
	governor *governor.Governor
	limiter  *redis.RateLimiter
	logger   *logger.Logger
}

// NewWeightsHandler creates a new weights handler
func NewWeightsHandler(g *governor.Governor, limiter *redis.RateLimiter, log *logger.Logger) *WeightsHandler {
	return &WeightsHandler{
		governor: g,
		limiter:  limiter,
		logger:   log,
	}
}

// WeightsResponse is the effective vector served to scorers
type WeightsResponse struct {
	Provider  string             `json:"provider"`
	Available bool               `json:"available"`
	Weights   map[string]float64 `json:"weights"`
	Sum       float64            `json:"sum"`
	Timestamp time.Time          `json:"timestamp"`
}

// GetWeights returns the current effective weights
// GET /api/weights
func (h *WeightsHandler) GetWeights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := h.governor.Provider()
	v := p.GetWeights(ctx)

	respondJSON(w, http.StatusOK, WeightsResponse{
		Provider:  p.Name(),
		Available: p.IsAvailable(ctx),
		Weights:   v.ToMap(),
		Sum:       v.Sum(),
		Timestamp: time.Now().UTC(),
	})
}

// GetHistory returns the change history, newest first
// GET /api/weights/history?limit=20
func (h *WeightsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 20)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid 'limit' (expected non-negative integer)")
		return
	}

	history := h.governor.Engine().History(limit)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(history),
		"records": history,
	})
}

// ChangeRequest is the body of rollback and reset
type ChangeRequest struct {
	Steps  int    `json:"steps"`
	Reason string `json:"reason"`
}

// Rollback restores the vector from N changes ago
// POST /api/weights/rollback {"steps": 1, "reason": "..."}
func (h *WeightsHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := ChangeRequest{Steps: 1}
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Steps < 1 {
		respondError(w, http.StatusBadRequest, "'steps' must be >= 1")
		return
	}
	if !allow(w, r, h.limiter, redis.ManualWeightChangeLimit, h.logger) {
		return
	}

	rec, err := h.governor.Rollback(ctx, req.Steps, req.Reason)
	if err != nil {
		h.logger.WithError(err).Warn("Rollback failed")
		respondError(w, statusFor(err), err.Error())
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"steps":     req.Steps,
		"change_id": rec.ID,
	}).Info("Weights rolled back via API")
	respondJSON(w, http.StatusOK, rec)
}

// Reset returns the dynamic vector to the safe default
// POST /api/weights/reset {"reason": "..."}
func (h *WeightsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ChangeRequest
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !allow(w, r, h.limiter, redis.ManualWeightChangeLimit, h.logger) {
		return
	}

	rec := h.governor.Reset(r.Context(), req.Reason)
	respondJSON(w, http.StatusOK, rec)
}

// allow applies a Redis rate limit; a limiter error lets the request through
func allow(w http.ResponseWriter, r *http.Request, limiter *redis.RateLimiter, cfg redis.RateLimitConfig, log *logger.Logger) bool {
	if limiter == nil {
		return true
	}
	ok, _, err := limiter.Allow(r.Context(), cfg)
	if err != nil {
		log.WithError(err).Warn("Rate limiter unavailable, allowing request")
		return true
	}
	if !ok {
		respondError(w, http.StatusTooManyRequests, "Rate limit exceeded for "+cfg.Key)
		return false
	}
	return true
}


package handlers

import (
	"net/http"

	"github.com/wonny/aegis/weightgov/internal/governor"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/redis"
)

// RegimeHandler handles regime endpoints
type RegimeHandler struct {
	governor *governor.Governor
	limiter  *redis.RateLimiter
	logger   *logger.Logger
}

// NewRegimeHandler creates a new regime handler
func NewRegimeHandler(g *governor.Governor, limiter *redis.RateLimiter, log *logger.Logger) *RegimeHandler {
	return &RegimeHandler{
		governor: g,
		limiter:  limiter,
		logger:   log,
	}
}

// GetRegime returns the classifier and mapper state
// GET /api/regime
func (h *RegimeHandler) GetRegime(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.governor.Status(r.Context()))
}

// CheckRequest represents a manual regime check
type CheckRequest struct {
	ForceRefresh   bool `json:"force_refresh"`
	ForceImmediate bool `json:"force_immediate"`
}

// Check runs a regime check now
// POST /api/regime/check
func (h *RegimeHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !allow(w, r, h.limiter, redis.ManualRegimeCheckLimit, h.logger) {
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"force_refresh":   req.ForceRefresh,
		"force_immediate": req.ForceImmediate,
	}).Info("Regime check triggered")

	res, err := h.governor.RunRegimeCheck(r.Context(), governor.RegimeCheckOptions{
		ForceRefresh:   req.ForceRefresh,
		ForceImmediate: req.ForceImmediate,
	})
	if err != nil {
		h.logger.WithError(err).Error("Regime check failed")
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, res)
}

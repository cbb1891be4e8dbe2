package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis/weightgov/internal/governor"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/redis"
)

// VersionsHandler handles weight version endpoints
type VersionsHandler struct {
	governor *governor.Governor
	limiter  *redis.RateLimiter
	logger   *logger.Logger
}

// NewVersionsHandler creates a new versions handler
func NewVersionsHandler(g *governor.Governor, limiter *redis.RateLimiter, log *logger.Logger) *VersionsHandler {
	return &VersionsHandler{
		governor: g,
		limiter:  limiter,
		logger:   log,
	}
}

// storeOr404 writes 404 when no version store is configured
func (h *VersionsHandler) storeOr404(w http.ResponseWriter) bool {
	if h.governor.Store() == nil {
		respondError(w, http.StatusNotFound, "Version store not configured")
		return false
	}
	return true
}

// List returns stored versions, newest first
// GET /api/versions?limit=50
func (h *VersionsHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.storeOr404(w) {
		return
	}
	limit, ok := queryInt(r, "limit", 50)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid 'limit' (expected non-negative integer)")
		return
	}

	versions, err := h.governor.Store().ListVersions(r.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list versions")
		respondError(w, http.StatusInternalServerError, "Failed to list versions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(versions),
		"versions": versions,
	})
}

// Integrity verifies every stored checksum
// GET /api/versions/integrity
func (h *VersionsHandler) Integrity(w http.ResponseWriter, r *http.Request) {
	if !h.storeOr404(w) {
		return
	}

	reports, err := h.governor.Store().VerifyAll(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to verify versions")
		respondError(w, http.StatusInternalServerError, "Failed to verify versions")
		return
	}

	failed := 0
	for _, rep := range reports {
		if !rep.Verified {
			failed++
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":   len(reports),
		"failed":  failed,
		"reports": reports,
	})
}

// Get returns one version. A checksum mismatch is reported as 422.
// GET /api/versions/{id}
func (h *VersionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.storeOr404(w) {
		return
	}
	id := mux.Vars(r)["id"]

	v, err := h.governor.Store().LoadVersion(r.Context(), id)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// Activate makes a version active and adopts its weights
// POST /api/versions/{id}/activate
func (h *VersionsHandler) Activate(w http.ResponseWriter, r *http.Request) {
	if !h.storeOr404(w) {
		return
	}
	if !allow(w, r, h.limiter, redis.ManualWeightChangeLimit, h.logger) {
		return
	}
	id := mux.Vars(r)["id"]

	rec, err := h.governor.ActivateVersion(r.Context(), id)
	if err != nil {
		h.logger.WithError(err).WithField("version_id", id).Warn("Activation failed")
		respondError(w, statusFor(err), err.Error())
		return
	}

	h.logger.WithField("version_id", id).Info("Version activated via API")
	respondJSON(w, http.StatusOK, rec)
}

// Delete removes an inactive version
// DELETE /api/versions/{id}
func (h *VersionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.storeOr404(w) {
		return
	}
	id := mux.Vars(r)["id"]

	if err := h.governor.Store().DeleteVersion(r.Context(), id); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis/weightgov/internal/api/handlers"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/metrics"
)

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(
	weightsHandler *handlers.WeightsHandler,
	regimeHandler *handlers.RegimeHandler,
	versionsHandler *handlers.VersionsHandler,
	streamHandler *handlers.StreamHandler,
	m *metrics.Registry,
	log *logger.Logger,
) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")
	r.Handle("/metrics", m.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// Weight endpoints
	api.HandleFunc("/weights", weightsHandler.GetWeights).Methods("GET")
	api.HandleFunc("/weights/history", weightsHandler.GetHistory).Methods("GET")
	api.HandleFunc("/weights/rollback", weightsHandler.Rollback).Methods("POST")
	api.HandleFunc("/weights/reset", weightsHandler.Reset).Methods("POST")
	api.HandleFunc("/weights/stream", streamHandler.Stream).Methods("GET")

	// Regime endpoints
	api.HandleFunc("/regime", regimeHandler.GetRegime).Methods("GET")
	api.HandleFunc("/regime/check", regimeHandler.Check).Methods("POST")

	// Version endpoints (integrity before {id})
	api.HandleFunc("/versions", versionsHandler.List).Methods("GET")
	api.HandleFunc("/versions/integrity", versionsHandler.Integrity).Methods("GET")
	api.HandleFunc("/versions/{id}", versionsHandler.Get).Methods("GET")
	api.HandleFunc("/versions/{id}/activate", versionsHandler.Activate).Methods("POST")
	api.HandleFunc("/versions/{id}", versionsHandler.Delete).Methods("DELETE")

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "weightgov-api",
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

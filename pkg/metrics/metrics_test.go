package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.RecordRegime("bull", "bear", 0.8, true, []string{"bull", "bear"})
		r.RecordDeferred("confidence")
		r.SetTransitionProgress(0.5)
		r.SetWeights(map[string]float64{"momentum": 0.2})
		r.RecordWeightUpdate("update")
		r.RecordIntegrityFailure()
		r.RecordPersistenceFailure("version")
		r.SetQueueDepth(3)
		r.RecordNotificationFailure("webhook")
		r.ObserveJob("regime_check", 0.1, nil)
	})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordRegime(t *testing.T) {
	r := New()

	r.RecordRegime("sideways", "bull", 0.9, true, []string{"bull", "bear", "sideways"})
	r.RecordRegime("bull", "bull", 0.7, false, []string{"bull", "bear", "sideways"})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.RegimeSwitches.WithLabelValues("sideways", "bull")))
	assert.Equal(t, 0.7, testutil.ToFloat64(r.RegimeConfidence))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ActiveRegime.WithLabelValues("bull")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.ActiveRegime.WithLabelValues("sideways")))
}

func TestCounters(t *testing.T) {
	r := New()

	r.RecordWeightUpdate("rollback")
	r.RecordWeightUpdate("rollback")
	r.RecordIntegrityFailure()
	r.RecordPersistenceFailure("history")
	r.RecordNotificationFailure("telegram")
	r.SetWeights(map[string]float64{"value": 0.2})
	r.ObserveJob("cleanup", 0.2, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.WeightUpdates.WithLabelValues("rollback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.IntegrityFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PersistenceFailures.WithLabelValues("history")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.NotificationFailures.WithLabelValues("telegram")))
	assert.Equal(t, 0.2, testutil.ToFloat64(r.FactorWeight.WithLabelValues("value")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.JobDuration))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.RecordWeightUpdate("update")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `weightgov_weight_updates_total{kind="update"} 1`))
}

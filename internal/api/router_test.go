package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/weightgov/internal/api/handlers"
	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/internal/dynamic"
	"github.com/wonny/aegis/weightgov/internal/governor"
	"github.com/wonny/aegis/weightgov/internal/provider"
	"github.com/wonny/aegis/weightgov/internal/regime"
	"github.com/wonny/aegis/weightgov/internal/safety"
	"github.com/wonny/aegis/weightgov/internal/storage"
	"github.com/wonny/aegis/weightgov/internal/strategy"
	"github.com/wonny/aegis/weightgov/internal/strategyconfig"
	"github.com/wonny/aegis/weightgov/pkg/config"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/metrics"
	"github.com/wonny/aegis/weightgov/pkg/redis"
)

type staticCollector struct{}

func (staticCollector) Collect(ctx context.Context, forceRefresh bool) (*contracts.MarketIndicatorSnapshot, error) {
	return &contracts.MarketIndicatorSnapshot{
		Return20D:            0.08,
		Return60D:            0.05,
		MA20Offset:           0.03,
		MA60Offset:           0.05,
		MA200Offset:          0.10,
		AdvanceDeclineRatio:  1.8,
		FearGreed:            75,
		VolatilityPercentile: 50,
	}, nil
}

type testAPI struct {
	handler http.Handler
	gov     *governor.Governor
	store   *storage.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := logger.Nop()

	state := storage.NewMemoryStateRepository()
	engine := safety.NewEngine(safety.DefaultConfig(), safety.NewMemoryHistoryRepository(), nil, log, nil)
	store := storage.NewStore(storage.NewMemoryRepository(), log, nil)
	mapper, err := strategy.NewMapper(strategy.Config{SmoothTransition: true}, strategyconfig.Default(), engine, state, nil, log, nil)
	require.NoError(t, err)
	calc := dynamic.NewCalculator(dynamic.DefaultConfig(), engine, store, state, nil, log, nil)

	p, err := provider.New(provider.ModeHybrid, engine, calc, mapper, 0.5)
	require.NoError(t, err)
	pub := provider.NewPublisher(p, nil, nil, log, nil)

	gov, err := governor.New(governor.DefaultConfig(), governor.Deps{
		Engine:      engine,
		Store:       store,
		Classifier:  regime.NewClassifier(regime.DefaultConfig(), state, nil, log, nil),
		Mapper:      mapper,
		Calculator:  calc,
		Collector:   staticCollector{},
		Outcomes:    dynamic.NewMemoryOutcomeRepository(),
		Comparisons: state,
		Publisher:   pub,
	}, log, nil)
	require.NoError(t, err)
	require.NoError(t, gov.Restore(context.Background()))

	rc, err := redis.New(&config.Config{Redis: config.RedisConfig{Enabled: false}})
	require.NoError(t, err)
	limiter := redis.NewRateLimiter(rc, "weightgov")

	router := NewRouter(
		handlers.NewWeightsHandler(gov, limiter, log),
		handlers.NewRegimeHandler(gov, limiter, log),
		handlers.NewVersionsHandler(gov, limiter, log),
		handlers.NewStreamHandler(pub, log),
		metrics.New(),
		log,
	)
	return &testAPI{handler: router, gov: gov, store: store}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = a.do(t, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetWeights(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, "GET", "/api/weights", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.WeightsResponse
	decode(t, rec, &resp)
	assert.Equal(t, "hybrid", resp.Provider)
	assert.False(t, resp.Available, "nothing adopted yet")
	assert.Len(t, resp.Weights, len(contracts.AllFactors))
	assert.InDelta(t, 1.0, resp.Sum, 1e-6)
}

func TestRegimeCheckAndStatus(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, "POST", "/api/regime/check", `{"force_refresh": true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res governor.RegimeCheckResult
	decode(t, rec, &res)
	assert.Equal(t, contracts.RegimeBull, res.Result.Regime)
	assert.Equal(t, strategy.DecisionBootstrap, res.Decision)

	rec = a.do(t, "GET", "/api/regime", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status governor.Status
	decode(t, rec, &status)
	assert.Equal(t, contracts.RegimeBull, status.Mapper.Current)
	assert.True(t, status.Available)

	rec = a.do(t, "POST", "/api/regime/check", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRollbackAndHistory(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"no history", "", http.StatusBadRequest},
		{"bad steps", `{"steps": 0}`, http.StatusBadRequest},
		{"bad body", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, "POST", "/api/weights/rollback", tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := a.do(t, "POST", "/api/weights/reset", `{"reason": "operator"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, "POST", "/api/weights/rollback", `{"steps": 1, "reason": "undo reset"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var change contracts.WeightChangeRecord
	decode(t, rec, &change)
	assert.Equal(t, contracts.ChangeRollback, change.Kind)
	assert.Equal(t, "undo reset", change.Reason)

	rec = a.do(t, "GET", "/api/weights/history?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Count   int                            `json:"count"`
		Records []contracts.WeightChangeRecord `json:"records"`
	}
	decode(t, rec, &history)
	assert.Equal(t, 1, history.Count)
	assert.Equal(t, contracts.ChangeRollback, history.Records[0].Kind)

	rec = a.do(t, "GET", "/api/weights/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVersionEndpoints(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()

	bull := strategyconfig.Default().Preset(contracts.RegimeBull)
	v1, err := a.store.SaveVersion(ctx, bull, "bull", nil)
	require.NoError(t, err)
	v2, err := a.store.SaveVersion(ctx, contracts.UniformWeights(), "uniform", nil)
	require.NoError(t, err)

	rec := a.do(t, "GET", "/api/versions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)

	rec = a.do(t, "GET", "/api/versions/"+v1.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got contracts.WeightVersion
	decode(t, rec, &got)
	assert.True(t, got.Verified)
	assert.Equal(t, v1.Checksum, got.Checksum)

	rec = a.do(t, "GET", "/api/versions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, "POST", "/api/versions/"+v1.ID+"/activate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, a.gov.Status(ctx).DynamicWeights.Equal(bull, 1e-9))

	rec = a.do(t, "DELETE", "/api/versions/"+v1.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, "DELETE", "/api/versions/"+v2.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, "GET", "/api/versions/integrity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"failed":0`)
	assert.Contains(t, rec.Body.String(), `"total":1`)
}

func TestWeightStream(t *testing.T) {
	a := newTestAPI(t)
	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/weights/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	// 연결 직후 마지막 스냅샷 수신
	var first provider.Snapshot
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "hybrid", first.Provider)
	assert.False(t, first.Available)

	a.gov.Reset(context.Background(), "stream test")

	var next provider.Snapshot
	require.NoError(t, conn.ReadJSON(&next))
	assert.True(t, next.Available)
}

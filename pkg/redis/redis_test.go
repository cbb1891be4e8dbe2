package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/weightgov/pkg/config"
)

func disabledClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(&config.Config{Redis: config.RedisConfig{Enabled: false}})
	require.NoError(t, err)
	return client
}

func TestNewClient_Disabled(t *testing.T) {
	client := disabledClient(t)
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(disabledClient(t), "weightgov")

	allowed, remaining, err := limiter.Allow(context.Background(), ManualRegimeCheckLimit)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, ManualRegimeCheckLimit.Limit, remaining)
}

func TestCache_Disabled(t *testing.T) {
	cache := NewCache(disabledClient(t), "weightgov")
	ctx := context.Background()

	var result string
	found, err := cache.Get(ctx, "key", &result)
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, cache.Set(ctx, "key", "v", TTLShort))
	assert.NoError(t, cache.Publish(ctx, "weights", "v"))
}

func TestCache_SetGet(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cache := NewCache(NewFromClient(rdb), "weightgov")
	ctx := context.Background()

	payload := map[string]float64{"momentum": 0.25}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	mock.ExpectSet("weightgov:cache:"+CurrentWeightsKey(), data, TTLShort).SetVal("OK")
	mock.ExpectGet("weightgov:cache:" + CurrentWeightsKey()).SetVal(string(data))

	require.NoError(t, cache.Set(ctx, CurrentWeightsKey(), payload, TTLShort))

	var got map[string]float64
	found, err := cache.Get(ctx, CurrentWeightsKey(), &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, payload, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_GetMiss(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cache := NewCache(NewFromClient(rdb), "weightgov")

	mock.ExpectGet("weightgov:cache:" + IndicatorSnapshotKey()).RedisNil()

	var got string
	found, err := cache.Get(context.Background(), IndicatorSnapshotKey(), &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_GetOrSet(t *testing.T) {
	type snapshot struct {
		Level float64 `json:"level"`
	}
	key := "weightgov:cache:" + IndicatorSnapshotKey()
	stored, err := json.Marshal(snapshot{Level: 2650})
	require.NoError(t, err)
	filled, err := json.Marshal(snapshot{Level: 1})
	require.NoError(t, err)

	tests := []struct {
		name      string
		setup     func(mock redismock.ClientMock)
		fillErr   error
		wantHit   bool
		wantLevel float64
		wantCalls int
		wantErr   error
	}{
		{
			name:      "hit",
			setup:     func(mock redismock.ClientMock) { mock.ExpectGet(key).SetVal(string(stored)) },
			wantHit:   true,
			wantLevel: 2650,
		},
		{
			name: "miss fills and stores",
			setup: func(mock redismock.ClientMock) {
				mock.ExpectGet(key).RedisNil()
				mock.ExpectSet(key, filled, TTLMedium).SetVal("OK")
			},
			wantLevel: 1,
			wantCalls: 1,
		},
		{
			name: "corrupt entry is refilled",
			setup: func(mock redismock.ClientMock) {
				mock.ExpectGet(key).SetVal("{not json")
				mock.ExpectSet(key, filled, TTLMedium).SetVal("OK")
			},
			wantLevel: 1,
			wantCalls: 1,
		},
		{
			name: "store failure keeps value",
			setup: func(mock redismock.ClientMock) {
				mock.ExpectGet(key).RedisNil()
				mock.ExpectSet(key, filled, TTLMedium).SetErr(errors.New("READONLY"))
			},
			wantLevel: 1,
			wantCalls: 1,
			wantErr:   ErrCacheWrite,
		},
		{
			name:      "fill failure",
			setup:     func(mock redismock.ClientMock) { mock.ExpectGet(key).RedisNil() },
			fillErr:   errors.New("upstream down"),
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rdb, mock := redismock.NewClientMock()
			cache := NewCache(NewFromClient(rdb), "weightgov")
			tt.setup(mock)

			calls := 0
			var got snapshot
			hit, err := cache.GetOrSet(context.Background(), IndicatorSnapshotKey(), &got, TTLMedium, func(ctx context.Context) (interface{}, error) {
				calls++
				if tt.fillErr != nil {
					return nil, tt.fillErr
				}
				return snapshot{Level: 1}, nil
			})

			switch {
			case tt.fillErr != nil:
				assert.ErrorIs(t, err, tt.fillErr)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantHit, hit)
			assert.Equal(t, tt.wantLevel, got.Level)
			assert.Equal(t, tt.wantCalls, calls)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCache_Publish(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cache := NewCache(NewFromClient(rdb), "weightgov")

	data, _ := json.Marshal("bull")
	mock.ExpectPublish("weightgov:events:regime", data).SetVal(1)

	require.NoError(t, cache.Publish(context.Background(), "regime", "bull"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheKeys(t *testing.T) {
	cache := NewCache(disabledClient(t), "weightgov")

	assert.Equal(t, "indicators:latest", IndicatorSnapshotKey())
	assert.Equal(t, "weights:current", CurrentWeightsKey())
	assert.Equal(t, "weightgov:events:weights", cache.ChannelKey("weights"))
}

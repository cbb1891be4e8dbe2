package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/pkg/logger"
)

func preset() contracts.WeightVector {
	return contracts.WeightVector{
		contracts.FactorMomentum:       0.25,
		contracts.FactorValue:          0.10,
		contracts.FactorQuality:        0.10,
		contracts.FactorVolume:         0.15,
		contracts.FactorVolatility:     0.05,
		contracts.FactorTechnical:      0.20,
		contracts.FactorMarketStrength: 0.15,
	}
}

func newTestStore(t *testing.T) (*Store, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	s := NewStore(repo, logger.Nop(), nil)

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	var n int
	s.SetClock(func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	})
	return s, repo
}

func TestCanonicalSerialize(t *testing.T) {
	data, err := CanonicalSerialize(contracts.WeightVector{
		contracts.FactorValue:    0.1,
		contracts.FactorMomentum: 0.30000000000000004,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"momentum":0.30000000000000004,"value":0.1}`, string(data))

	_, err = CanonicalSerialize(contracts.WeightVector{contracts.FactorValue: 0.1, contracts.FactorMomentum: nanValue()})
	assert.True(t, errors.Is(err, contracts.ErrValidation))
}

func nanValue() float64 {
	zero := 0.0
	return zero / zero
}

func TestChecksumOrderIndependent(t *testing.T) {
	a := preset()
	b := make(contracts.WeightVector)
	for i := len(contracts.AllFactors) - 1; i >= 0; i-- {
		f := contracts.AllFactors[i]
		b[f] = a[f]
	}

	ca, err := Checksum(a)
	require.NoError(t, err)
	cb, err := Checksum(b)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
	assert.Len(t, ca, 64)
}

func TestChecksumRoundTrip(t *testing.T) {
	vectors := []contracts.WeightVector{
		preset(),
		contracts.UniformWeights(),
		{contracts.FactorMomentum: 1.0 / 3.0, contracts.FactorValue: 2.0 / 3.0},
	}

	for i, v := range vectors {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			data, err := CanonicalSerialize(v)
			require.NoError(t, err)
			back, err := DeserializeVector(data)
			require.NoError(t, err)

			want, _ := Checksum(v)
			got, _ := Checksum(back)
			assert.Equal(t, want, got)
		})
	}
}

func TestSaveVersionDoesNotActivate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	v, err := s.SaveVersion(ctx, preset(), "initial", &contracts.PerformanceMetrics{WinRate: 0.55})
	require.NoError(t, err)
	assert.Regexp(t, `^\d{8}T\d{6}\.\d{6}Z-[0-9a-f]{8}$`, v.ID)
	assert.True(t, v.Verified)
	assert.False(t, v.Active)

	_, err = s.GetActive(ctx)
	assert.True(t, errors.Is(err, contracts.ErrNotFound))

	loaded, err := s.LoadVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Verified)
	assert.Equal(t, 0.55, loaded.Metrics.WinRate)
	assert.True(t, loaded.Weights.Equal(preset(), 0))
}

func TestLoadVersionDetectsTampering(t *testing.T) {
	s, repo := newTestStore(t)
	ctx := context.Background()

	v, err := s.SaveVersion(ctx, preset(), "to tamper", nil)
	require.NoError(t, err)

	// 외부에서 저장된 벡터 변조
	stored := repo.versions[v.ID]
	stored.Weights[contracts.FactorMomentum] = 0.26
	stored.Weights[contracts.FactorValue] = 0.09
	repo.versions[v.ID] = stored

	loaded, err := s.LoadVersion(ctx, v.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrIntegrity))
	require.NotNil(t, loaded)
	assert.False(t, loaded.Verified)

	var ie *contracts.IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, v.ID, ie.VersionID)

	// 변조된 버전은 활성화 불가
	assert.True(t, errors.Is(s.SetActive(ctx, v.ID), contracts.ErrIntegrity))

	reports, err := s.VerifyAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Verified)
}

func TestSetActiveExactlyOne(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, err := s.SaveVersion(ctx, preset(), "a", nil)
	require.NoError(t, err)
	b, err := s.SaveVersion(ctx, contracts.UniformWeights(), "b", nil)
	require.NoError(t, err)

	require.NoError(t, s.SetActive(ctx, a.ID))
	require.NoError(t, s.SetActive(ctx, b.ID))

	active, err := s.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, active.ID)

	versions, err := s.ListVersions(ctx, 0)
	require.NoError(t, err)
	count := 0
	for _, v := range versions {
		if v.Active {
			count++
		}
		assert.True(t, v.Verified)
	}
	assert.Equal(t, 1, count)

	assert.True(t, errors.Is(s.SetActive(ctx, "missing"), contracts.ErrNotFound))
}

func TestSetActiveConcurrentReaders(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		v, err := s.SaveVersion(ctx, contracts.UniformWeights(), fmt.Sprint(i), nil)
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}
	require.NoError(t, s.SetActive(ctx, ids[0]))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	var readErr error
	var errMu sync.Mutex

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := s.GetActive(ctx); err != nil {
				errMu.Lock()
				readErr = err
				errMu.Unlock()
			}
		}
	}()

	for i := 0; i < 200; i++ {
		require.NoError(t, s.SetActive(ctx, ids[i%len(ids)]))
	}
	close(stop)
	wg.Wait()

	assert.NoError(t, readErr)
}

func TestDeleteVersion(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, _ := s.SaveVersion(ctx, preset(), "a", nil)
	b, _ := s.SaveVersion(ctx, preset(), "b", nil)
	require.NoError(t, s.SetActive(ctx, a.ID))

	assert.True(t, errors.Is(s.DeleteVersion(ctx, a.ID), contracts.ErrActiveVersion))
	require.NoError(t, s.DeleteVersion(ctx, b.ID))
	assert.True(t, errors.Is(s.DeleteVersion(ctx, b.ID), contracts.ErrNotFound))
}

func TestCleanupKeepsNewestInactive(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 6; i++ {
		v, err := s.SaveVersion(ctx, preset(), fmt.Sprint(i), nil)
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}
	// 가장 오래된 버전이 활성
	require.NoError(t, s.SetActive(ctx, ids[0]))

	deleted, err := s.Cleanup(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	versions, err := s.ListVersions(ctx, 0)
	require.NoError(t, err)
	got := make([]string, 0, len(versions))
	for _, v := range versions {
		got = append(got, v.ID)
	}
	assert.ElementsMatch(t, []string{ids[0], ids[4], ids[5]}, got)
	assert.Equal(t, ids[5], versions[0].ID)
}

func TestLatestVerifiedSkipsCorrupt(t *testing.T) {
	s, repo := newTestStore(t)
	ctx := context.Background()

	good, _ := s.SaveVersion(ctx, preset(), "good", nil)
	bad, _ := s.SaveVersion(ctx, contracts.UniformWeights(), "bad", nil)

	stored := repo.versions[bad.ID]
	stored.Checksum = "deadbeef"
	repo.versions[bad.ID] = stored

	v, err := s.LatestVerified(ctx)
	require.NoError(t, err)
	assert.Equal(t, good.ID, v.ID)

	stored = repo.versions[good.ID]
	stored.Checksum = "deadbeef"
	repo.versions[good.ID] = stored

	_, err = s.LatestVerified(ctx)
	assert.True(t, errors.Is(err, contracts.ErrNotFound))
}

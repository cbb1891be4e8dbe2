package safety

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/pkg/logger"
)

// testPool connects to TEST_DATABASE_URL; schema is expected to exist
// (weightgov migrate)
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" || testing.Short() {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(), `TRUNCATE governance.weight_changes`)
	require.NoError(t, err)
	return pool
}

func TestRepositoryKeepsNewestRecords(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.HistorySize = 4
	e := NewEngine(cfg, repo, nil, logger.Nop(), nil)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		e.SetClock(func() time.Time { return at })
		e.RecordChange(ctx, contracts.UniformWeights(), contracts.UniformWeights(), fmt.Sprintf("r%d", i), contracts.ChangeUpdate)
	}

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM governance.weight_changes`).Scan(&count))
	assert.Equal(t, 4, count)

	recent, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	assert.Equal(t, "r6", recent[0].Reason)
	assert.Equal(t, "r3", recent[3].Reason)
	assert.True(t, recent[0].New.Equal(contracts.UniformWeights(), 1e-12))
}

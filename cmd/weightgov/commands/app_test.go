package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/weightgov/internal/strategyconfig"
	"github.com/wonny/aegis/weightgov/pkg/config"
	"github.com/wonny/aegis/weightgov/pkg/logger"
)

func governorDefaults() config.GovernorConfig {
	return config.GovernorConfig{
		MinWeight:              0.05,
		MaxWeight:              0.40,
		SumTolerance:           0.001,
		MaxChangeRate:          0.10,
		HistorySize:            100,
		DefaultTransitionSpeed: 0.5,
		DefaultMinConfidence:   0.75,
	}
}

func TestLoadStrategyBuiltin(t *testing.T) {
	sc, err := loadStrategy(governorDefaults())
	require.NoError(t, err)

	assert.Equal(t, strategyconfig.DefaultStrategyID, sc.Meta.StrategyID)
	assert.Equal(t, 0.5, sc.Defaults.Speed)
	assert.Equal(t, 0.75, sc.Defaults.MinConfidence)
}

func TestLoadStrategyFile(t *testing.T) {
	gc := governorDefaults()

	t.Run("missing file", func(t *testing.T) {
		gc.StrategyFile = filepath.Join(t.TempDir(), "missing.yaml")
		_, err := loadStrategy(gc)
		assert.Error(t, err)
	})

	t.Run("unknown field", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "strategy.yaml")
		require.NoError(t, os.WriteFile(path, []byte("meta:\n  strategy_id: x\nbogus: 1\n"), 0o600))
		gc.StrategyFile = path
		_, err := loadStrategy(gc)
		assert.Error(t, err)
	})
}

func TestOpenStore(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		wantErr bool
	}{
		{"memory", "memory", false},
		{"unknown", "sqlite", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &app{cfg: &config.Config{Store: tt.backend}, log: logger.Nop()}
			repos, err := a.openStore()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, repos.history)
			assert.NotNil(t, repos.versions)
			assert.NotNil(t, repos.outcomes)
			assert.Nil(t, a.db)
		})
	}
}

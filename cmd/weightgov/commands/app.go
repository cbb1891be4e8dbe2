package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/wonny/aegis/weightgov/internal/collector"
	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/internal/dynamic"
	"github.com/wonny/aegis/weightgov/internal/governor"
	"github.com/wonny/aegis/weightgov/internal/notify"
	"github.com/wonny/aegis/weightgov/internal/persist"
	"github.com/wonny/aegis/weightgov/internal/provider"
	"github.com/wonny/aegis/weightgov/internal/regime"
	"github.com/wonny/aegis/weightgov/internal/safety"
	"github.com/wonny/aegis/weightgov/internal/scheduler"
	"github.com/wonny/aegis/weightgov/internal/storage"
	"github.com/wonny/aegis/weightgov/internal/strategy"
	"github.com/wonny/aegis/weightgov/internal/strategyconfig"
	"github.com/wonny/aegis/weightgov/pkg/config"
	"github.com/wonny/aegis/weightgov/pkg/database"
	"github.com/wonny/aegis/weightgov/pkg/httputil"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/metrics"
	"github.com/wonny/aegis/weightgov/pkg/redis"
)

// redisPrefix namespaces every key this binary writes
const redisPrefix = "weightgov"

// app holds the wired components of one CLI invocation
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Registry

	db     *database.DB
	redis  *redis.Client
	writer *persist.Writer
	delay  *scheduler.DelayQueue

	limiter  *redis.RateLimiter
	outcomes contracts.OutcomeRepository
	gov      *governor.Governor
}

// repositories groups the store backend implementations
type repositories struct {
	history  contracts.ChangeHistoryRepository
	versions contracts.VersionRepository
	regime   contracts.RegimeStateRepository
	mapper   contracts.MapperStateRepository
	dynamic  contracts.WeightStateRepository
	compare  contracts.ComparisonRepository
	outcomes contracts.OutcomeRepository
}

// loadConfig loads config and applies the global flag overrides
func loadConfig() (*config.Config, error) {
	// --store는 검증 전에 반영 (memory 모드는 DATABASE_URL 불필요)
	if storeBackend != "" {
		if err := os.Setenv("STORE_BACKEND", storeBackend); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if snapshotFile != "" {
		cfg.Governor.SnapshotFile = snapshotFile
	}
	return cfg, nil
}

// newApp wires the governor and restores its state.
// ⭐ SSOT: 컴포넌트 조립은 이 함수에서만
func newApp(ctx context.Context) (*app, error) {
	// 1. Load config
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	// 2. Initialize logger and metrics
	log := logger.New(cfg)
	var m *metrics.Registry
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	a := &app{cfg: cfg, log: log, metrics: m}

	// 3. Store backend
	repos, err := a.openStore()
	if err != nil {
		return nil, err
	}
	a.outcomes = repos.outcomes

	// 4. Redis (disabled client when REDIS_ENABLED=false)
	a.redis, err = redis.New(cfg)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	cache := redis.NewCache(a.redis, redisPrefix)
	a.limiter = redis.NewRateLimiter(a.redis, redisPrefix)

	// 5. Async persistence
	a.writer = persist.NewWriter(persist.DefaultConfig(), log, m)

	// 6. Strategy presets
	sc, err := loadStrategy(cfg.Governor)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	// 7. Notifier
	httpClient := httputil.New(log).WithRateLimiter(a.limiter, redis.WebhookRateLimit)
	notifier, err := notify.FromConfig(cfg.Notify, httpClient, log, m)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	// 8. Components
	gc := cfg.Governor
	engine := safety.NewEngine(safety.ConfigFromBounds(gc.SafetyBounds()), repos.history, a.writer, log, m)
	store := storage.NewStore(repos.versions, log, m)

	classifier := regime.NewClassifier(regime.Config{
		NotifyMinConfidence: cfg.Notify.MinConfidence,
		NotifyTimeout:       regime.DefaultConfig().NotifyTimeout,
	}, repos.regime, notifier, log, m)

	mapper, err := strategy.NewMapper(strategy.Config{SmoothTransition: gc.SmoothTransition}, sc, engine, repos.mapper, a.writer, log, m)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("create strategy mapper: %w", err)
	}

	calc := dynamic.NewCalculator(dynamic.Config{
		Alpha:        gc.EMAAlpha,
		MinSamples:   gc.MinSamples,
		LookbackDays: gc.LookbackDays,
	}, engine, store, repos.dynamic, a.writer, log, m)

	p, err := provider.New(provider.Mode(gc.ProviderMode), engine, calc, mapper, gc.HybridDynamicRatio)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("create provider: %w", err)
	}
	pub := provider.NewPublisher(p, cache, a.writer, log, m)

	col := collector.NewCached(collector.NewFileSource(gc.SnapshotFile), gc.SnapshotTTL, cache, log)
	a.delay = scheduler.NewDelayQueue(log)

	// 9. Governor
	a.gov, err = governor.New(governor.Config{
		RollbackMinWinRate:   gc.RollbackMinWinRate,
		RollbackMinAvgReturn: gc.RollbackMinAvgReturn,
		RollbackMinSamples:   gc.MinSamples,
		ComparisonDelay:      gc.ComparisonDelay,
		VersionKeep:          gc.VersionKeep,
	}, governor.Deps{
		Engine:      engine,
		Store:       store,
		Classifier:  classifier,
		Mapper:      mapper,
		Calculator:  calc,
		Collector:   col,
		Outcomes:    repos.outcomes,
		Comparisons: repos.compare,
		Publisher:   pub,
		Delay:       a.delay,
		Writer:      a.writer,
	}, log, m)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	// 10. Restore persisted state
	if err := a.gov.Restore(ctx); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("restore governor: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"store":    cfg.Store,
		"provider": gc.ProviderMode,
		"redis":    a.redis.Enabled(),
	}).Info("Weight governor ready")

	return a, nil
}

// openStore returns the repositories for the configured backend
func (a *app) openStore() (*repositories, error) {
	switch a.cfg.Store {
	case "memory":
		a.log.Warn("Memory store selected, state is lost on exit")
		state := storage.NewMemoryStateRepository()
		return &repositories{
			history:  safety.NewMemoryHistoryRepository(),
			versions: storage.NewMemoryRepository(),
			regime:   state,
			mapper:   state,
			dynamic:  state,
			compare:  state,
			outcomes: dynamic.NewMemoryOutcomeRepository(),
		}, nil

	case "postgres":
		db, err := database.New(a.cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
		a.log.Info("Connected to database")

		state := storage.NewStateRepository(db.Pool)
		return &repositories{
			history:  safety.NewRepository(db.Pool),
			versions: storage.NewRepository(db.Pool),
			regime:   state,
			mapper:   state,
			dynamic:  state,
			compare:  state,
			outcomes: dynamic.NewRepository(db.Pool),
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", a.cfg.Store)
	}
}

// loadStrategy loads the strategy file, or the built-in presets with the
// configured transition defaults
func loadStrategy(gc config.GovernorConfig) (*strategyconfig.Config, error) {
	if gc.StrategyFile != "" {
		sc, err := strategyconfig.LoadOrDefault(gc.StrategyFile, gc.SafetyBounds())
		if err != nil {
			return nil, fmt.Errorf("load strategy: %w", err)
		}
		return sc, nil
	}

	sc := strategyconfig.Default()
	sc.Defaults.Speed = gc.DefaultTransitionSpeed
	sc.Defaults.MinConfidence = gc.DefaultMinConfidence
	if err := strategyconfig.Validate(sc, gc.SafetyBounds()); err != nil {
		return nil, fmt.Errorf("built-in presets: %w", err)
	}
	return sc, nil
}

// Close stops background work and drains pending writes
func (a *app) Close(ctx context.Context) {
	if a.delay != nil {
		a.delay.Stop()
	}
	if a.writer != nil {
		drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.writer.Close(drainCtx); err != nil {
			a.log.WithError(err).Warn("Pending writes dropped on close")
		}
		cancel()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close redis")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

package contracts

import (
	"context"
	"time"
)

// IndicatorCollector supplies market indicator snapshots
// ⭐ SSOT: 지표 수집 인터페이스 (수집 자체는 외부 책임)
type IndicatorCollector interface {
	Collect(ctx context.Context, forceRefresh bool) (*MarketIndicatorSnapshot, error)
}

// WeightProvider is the single read surface for scoring code.
// GetWeights always returns a valid vector and never blocks on a recompute
type WeightProvider interface {
	Name() string
	GetWeights(ctx context.Context) WeightVector
	IsAvailable(ctx context.Context) bool
}

// Notifier delivers regime transition events
type Notifier interface {
	NotifyRegimeChange(ctx context.Context, event RegimeTransitionEvent) error
}

// VersionRepository stores raw weight versions.
// Integrity checks are the caller's (storage.Store) job
type VersionRepository interface {
	Insert(ctx context.Context, v WeightVersion) error
	Get(ctx context.Context, id string) (*WeightVersion, error)
	List(ctx context.Context, limit int) ([]WeightVersion, error) // newest first
	Delete(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string) error // atomic flag flip
	Active(ctx context.Context) (*WeightVersion, error)
}

// ChangeHistoryRepository mirrors the change history ring buffer
type ChangeHistoryRepository interface {
	// Append stores rec and prunes all but the newest keep records
	Append(ctx context.Context, rec WeightChangeRecord, keep int) error
	Recent(ctx context.Context, limit int) ([]WeightChangeRecord, error) // newest first
}

// RegimeStateRepository persists the classifier state
type RegimeStateRepository interface {
	SaveRegimeState(ctx context.Context, s RegimeState) error
	LoadRegimeState(ctx context.Context) (*RegimeState, error)
}

// MapperStateRepository persists the strategy mapper state
type MapperStateRepository interface {
	SaveMapperState(ctx context.Context, s MapperState) error
	LoadMapperState(ctx context.Context) (*MapperState, error)
}

// WeightStateRepository persists the dynamic calculator state
type WeightStateRepository interface {
	SaveDynamicState(ctx context.Context, s DynamicState) error
	LoadDynamicState(ctx context.Context) (*DynamicState, error)
}

// OutcomeRepository reads committed trade outcomes
type OutcomeRepository interface {
	SaveOutcomes(ctx context.Context, outcomes []TradeOutcome) error
	OutcomesSince(ctx context.Context, since time.Time) ([]TradeOutcome, error)
}

// ComparisonRepository records delayed comparison results
type ComparisonRepository interface {
	SaveComparison(ctx context.Context, r ComparisonResult) error
}

package dynamic

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wonny/aegis/weightgov/internal/contracts"
)

// MemoryOutcomeRepository is an in-process OutcomeRepository
type MemoryOutcomeRepository struct {
	mu       sync.RWMutex
	outcomes map[string]contracts.TradeOutcome // code|entry date
}

// NewMemoryOutcomeRepository creates an empty repository
func NewMemoryOutcomeRepository() *MemoryOutcomeRepository {
	return &MemoryOutcomeRepository{outcomes: make(map[string]contracts.TradeOutcome)}
}

func outcomeKey(o contracts.TradeOutcome) string {
	return o.Code + "|" + o.EntryDate.UTC().Format("2006-01-02")
}

// SaveOutcomes upserts outcomes by (code, entry date)
func (r *MemoryOutcomeRepository) SaveOutcomes(ctx context.Context, outcomes []contracts.TradeOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range outcomes {
		scores := make(contracts.FactorScores, len(o.Scores))
		for f, s := range o.Scores {
			scores[f] = s
		}
		o.Scores = scores
		r.outcomes[outcomeKey(o)] = o
	}
	return nil
}

// OutcomesSince returns outcomes that exited at or after since, oldest first
func (r *MemoryOutcomeRepository) OutcomesSince(ctx context.Context, since time.Time) ([]contracts.TradeOutcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]contracts.TradeOutcome, 0, len(r.outcomes))
	for _, o := range r.outcomes {
		if !o.ExitDate.Before(since) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExitDate.Equal(out[j].ExitDate) {
			return out[i].Code < out[j].Code
		}
		return out[i].ExitDate.Before(out[j].ExitDate)
	})
	return out, nil
}

package safety

import (
	"context"
	"sort"
	"sync"

	"github.com/wonny/aegis/weightgov/internal/contracts"
)

// MemoryHistoryRepository keeps change records in process memory
type MemoryHistoryRepository struct {
	mu      sync.Mutex
	records []contracts.WeightChangeRecord
}

// NewMemoryHistoryRepository creates an empty repository
func NewMemoryHistoryRepository() *MemoryHistoryRepository {
	return &MemoryHistoryRepository{}
}

// Append stores rec and keeps only the newest keep records (keep<=0 → all)
func (r *MemoryHistoryRepository) Append(ctx context.Context, rec contracts.WeightChangeRecord, keep int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if keep > 0 && len(r.records) > keep {
		sort.SliceStable(r.records, func(i, j int) bool { return r.records[i].At.Before(r.records[j].At) })
		r.records = append([]contracts.WeightChangeRecord(nil), r.records[len(r.records)-keep:]...)
	}
	return nil
}

// Len returns the number of stored records
func (r *MemoryHistoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Recent returns up to limit records, newest first
func (r *MemoryHistoryRepository) Recent(ctx context.Context, limit int) ([]contracts.WeightChangeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]contracts.WeightChangeRecord, len(r.records))
	copy(out, r.records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

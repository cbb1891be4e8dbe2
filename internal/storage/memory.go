package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wonny/aegis/weightgov/internal/contracts"
)

// MemoryRepository is an in-process VersionRepository
type MemoryRepository struct {
	mu       sync.RWMutex
	versions map[string]contracts.WeightVersion
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{versions: make(map[string]contracts.WeightVersion)}
}

func copyVersion(v contracts.WeightVersion) contracts.WeightVersion {
	v.Weights = v.Weights.Clone()
	if v.Metrics != nil {
		m := *v.Metrics
		v.Metrics = &m
	}
	return v
}

// Insert stores v (inactive)
func (r *MemoryRepository) Insert(ctx context.Context, v contracts.WeightVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.versions[v.ID]; exists {
		return fmt.Errorf("version %s already exists", v.ID)
	}
	v.Active = false
	r.versions[v.ID] = copyVersion(v)
	return nil
}

// Get returns a copy of the stored version
func (r *MemoryRepository) Get(ctx context.Context, id string) (*contracts.WeightVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.versions[id]
	if !ok {
		return nil, fmt.Errorf("version %s: %w", id, contracts.ErrNotFound)
	}
	out := copyVersion(v)
	return &out, nil
}

// List returns up to limit versions, newest first (limit<=0 → all)
func (r *MemoryRepository) List(ctx context.Context, limit int) ([]contracts.WeightVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]contracts.WeightVersion, 0, len(r.versions))
	for _, v := range r.versions {
		out = append(out, copyVersion(v))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a non-active version
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.versions[id]
	if !ok {
		return fmt.Errorf("version %s: %w", id, contracts.ErrNotFound)
	}
	if v.Active {
		return fmt.Errorf("version %s: %w", id, contracts.ErrActiveVersion)
	}
	delete(r.versions, id)
	return nil
}

// SetActive deactivates the current active version and activates id
// under one lock
func (r *MemoryRepository) SetActive(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.versions[id]
	if !ok {
		return fmt.Errorf("version %s: %w", id, contracts.ErrNotFound)
	}
	for k, v := range r.versions {
		if v.Active {
			v.Active = false
			r.versions[k] = v
		}
	}
	target.Active = true
	r.versions[id] = target
	return nil
}

// Active returns the active version
func (r *MemoryRepository) Active(ctx context.Context) (*contracts.WeightVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.versions {
		if v.Active {
			out := copyVersion(v)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("active version: %w", contracts.ErrNotFound)
}

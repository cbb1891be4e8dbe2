package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/metrics"
)

// Store manages versioned, checksummed weight vectors.
// ⭐ SSOT: 버전 저장/검증/활성화는 이 구조체에서만
type Store struct {
	repo    contracts.VersionRepository
	logger  *logger.Logger
	metrics *metrics.Registry
	now     func() time.Time

	// SetActive는 GetActive와 원자적이어야 함
	mu sync.RWMutex
}

// IntegrityReport is one row of VerifyAll
type IntegrityReport struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
	Verified  bool      `json:"verified"`
	Error     string    `json:"error,omitempty"`
}

// NewStore creates a store over repo
func NewStore(repo contracts.VersionRepository, log *logger.Logger, m *metrics.Registry) *Store {
	return &Store{
		repo:    repo,
		logger:  log.WithComponent("storage"),
		metrics: m,
		now:     time.Now,
	}
}

// SetClock overrides the time source (tests)
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// newVersionID returns "<UTC timestamp>-<random suffix>"
func (s *Store) newVersionID(at time.Time) string {
	return at.Format("20060102T150405.000000Z") + "-" + uuid.NewString()[:8]
}

// SaveVersion writes a new inactive version
func (s *Store) SaveVersion(ctx context.Context, v contracts.WeightVector, description string, pm *contracts.PerformanceMetrics) (*contracts.WeightVersion, error) {
	checksum, err := Checksum(v)
	if err != nil {
		return nil, fmt.Errorf("checksum: %w", err)
	}

	at := s.now().UTC()
	version := contracts.WeightVersion{
		ID:          s.newVersionID(at),
		Weights:     v.Clone(),
		Checksum:    checksum,
		CreatedAt:   at,
		Description: description,
		Metrics:     pm,
		Verified:    true,
	}

	if err := s.repo.Insert(ctx, version); err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"version_id": version.ID,
		"checksum":   checksum[:12],
	}).Info("Weight version saved")

	return &version, nil
}

// LoadVersion reads a version and verifies its checksum.
// On mismatch the version is returned with Verified=false together with
// an *IntegrityError; it must not be used.
func (s *Store) LoadVersion(ctx context.Context, id string) (*contracts.WeightVersion, error) {
	v, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.checked(v)
}

func (s *Store) checked(v *contracts.WeightVersion) (*contracts.WeightVersion, error) {
	if err := verify(v); err != nil {
		v.Verified = false
		s.metrics.RecordIntegrityFailure()
		s.logger.WithError(err).WithField("version_id", v.ID).Error("Weight version failed integrity check")
		return v, err
	}
	v.Verified = true
	return v, nil
}

// SetActive re-verifies the version then flips the active flag atomically
func (s *Store) SetActive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.LoadVersion(ctx, id); err != nil {
		return fmt.Errorf("activate %s: %w", id, err)
	}
	if err := s.repo.SetActive(ctx, id); err != nil {
		return fmt.Errorf("activate %s: %w", id, err)
	}

	s.logger.WithField("version_id", id).Info("Weight version activated")
	return nil
}

// GetActive returns the active version (ErrNotFound when none).
// An active version that fails its checksum is returned with the error.
func (s *Store) GetActive(ctx context.Context) (*contracts.WeightVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, err := s.repo.Active(ctx)
	if err != nil {
		return nil, err
	}
	return s.checked(v)
}

// ListVersions returns up to limit versions, newest first, each with its
// integrity status
func (s *Store) ListVersions(ctx context.Context, limit int) ([]contracts.WeightVersion, error) {
	versions, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i := range versions {
		versions[i].Verified = verify(&versions[i]) == nil
	}
	return versions, nil
}

// DeleteVersion removes a non-active version
func (s *Store) DeleteVersion(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if v.Active {
		return fmt.Errorf("delete %s: %w", id, contracts.ErrActiveVersion)
	}
	return s.repo.Delete(ctx, id)
}

// Cleanup prunes the oldest inactive versions beyond keep.
// Returns the number of deleted versions.
func (s *Store) Cleanup(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.repo.List(ctx, 0)
	if err != nil {
		return 0, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	kept, deleted := 0, 0
	for _, v := range all {
		if v.Active {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		if err := s.repo.Delete(ctx, v.ID); err != nil && !errors.Is(err, contracts.ErrNotFound) {
			return deleted, fmt.Errorf("delete %s: %w", v.ID, err)
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.WithFields(map[string]interface{}{
			"deleted": deleted,
			"kept":    kept,
		}).Info("Weight versions cleaned up")
	}
	return deleted, nil
}

// VerifyAll checks every stored version
func (s *Store) VerifyAll(ctx context.Context) ([]IntegrityReport, error) {
	all, err := s.repo.List(ctx, 0)
	if err != nil {
		return nil, err
	}

	reports := make([]IntegrityReport, 0, len(all))
	for i := range all {
		r := IntegrityReport{ID: all[i].ID, CreatedAt: all[i].CreatedAt, Active: all[i].Active, Verified: true}
		if err := verify(&all[i]); err != nil {
			r.Verified = false
			r.Error = err.Error()
			s.metrics.RecordIntegrityFailure()
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// LatestVerified returns the newest version whose checksum verifies
func (s *Store) LatestVerified(ctx context.Context) (*contracts.WeightVersion, error) {
	all, err := s.repo.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	for i := range all {
		if verify(&all[i]) == nil {
			all[i].Verified = true
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("no verified version: %w", contracts.ErrNotFound)
}

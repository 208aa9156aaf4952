// Package family stores family groups: keyed records of people who check on
// each other during a crisis.
package family

import (
	"context"
	"log/slog"
	"sync"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Repository persists family groups by group code.
type Repository interface {
	Upsert(ctx context.Context, g domain.FamilyGroup) error
	Get(ctx context.Context, code string) (domain.FamilyGroup, error)
}

// Service validates group writes and delegates storage to a Repository.
type Service struct {
	repo   Repository
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewService creates a family group service.
func NewService(repo Repository, clock clockwork.Clock, logger *slog.Logger) *Service {
	return &Service{repo: repo, clock: clock, logger: logger}
}

// Save upserts the group under code, replacing any previous record.
func (s *Service) Save(ctx context.Context, code string, g domain.FamilyGroup) (domain.FamilyGroup, error) {
	c, err := domain.NormalizeGroupCode(code)
	if err != nil {
		return domain.FamilyGroup{}, err
	}
	if err := g.Validate(); err != nil {
		return domain.FamilyGroup{}, err
	}
	g.GroupCode = c
	if g.Status == "" {
		g.Status = "active"
	}
	if g.Members == nil {
		g.Members = []domain.FamilyMember{}
	}
	g.UpdatedAt = s.clock.Now().UTC()

	if err := s.repo.Upsert(ctx, g); err != nil {
		return domain.FamilyGroup{}, err
	}
	s.logger.Info("family group saved", "group_code", c, "members", len(g.Members))
	return g, nil
}

// Get returns the group stored under code, or domain.ErrNotFound.
func (s *Service) Get(ctx context.Context, code string) (domain.FamilyGroup, error) {
	c, err := domain.NormalizeGroupCode(code)
	if err != nil {
		return domain.FamilyGroup{}, err
	}
	return s.repo.Get(ctx, c)
}

// MemoryRepository keeps groups in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	groups map[string]domain.FamilyGroup
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{groups: make(map[string]domain.FamilyGroup)}
}

func (r *MemoryRepository) Upsert(_ context.Context, g domain.FamilyGroup) error {
	g.Members = append([]domain.FamilyMember(nil), g.Members...)
	r.mu.Lock()
	r.groups[g.GroupCode] = g
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, code string) (domain.FamilyGroup, error) {
	r.mu.RLock()
	g, ok := r.groups[code]
	r.mu.RUnlock()
	if !ok {
		return domain.FamilyGroup{}, domain.ErrNotFound
	}
	g.Members = append([]domain.FamilyMember{}, g.Members...)
	return g, nil
}

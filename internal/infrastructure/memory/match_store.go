package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

// MatchStore реализует MatchRepository.
type MatchStore struct {
	mu         sync.RWMutex
	matches    map[uuid.UUID]*entity.MatchResult
	byShipment map[uuid.UUID][]uuid.UUID
}

func NewMatchStore() *MatchStore {
	return &MatchStore{
		matches:    make(map[uuid.UUID]*entity.MatchResult),
		byShipment: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (s *MatchStore) CreateBatch(ctx context.Context, matches []*entity.MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range matches {
		if _, exists := s.matches[m.ID]; exists {
			return apperror.New(apperror.ErrCodeDuplicateDetected, "предложение с таким идентификатором уже существует")
		}
	}
	for _, m := range matches {
		s.matches[m.ID] = m.Clone()
		s.byShipment[m.ShipmentID] = append(s.byShipment[m.ShipmentID], m.ID)
	}
	return nil
}

func (s *MatchStore) Get(ctx context.Context, id uuid.UUID) (*entity.MatchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, apperror.ErrMatchNotFound
	}
	return m.Clone(), nil
}

func (s *MatchStore) ListByShipment(ctx context.Context, shipmentID uuid.UUID) ([]*entity.MatchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byShipment[shipmentID]
	out := make([]*entity.MatchResult, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.matches[id].Clone())
	}
	return out, nil
}

func (s *MatchStore) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to valueobject.MatchStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return false, apperror.ErrMatchNotFound
	}
	if m.Status != from {
		return false, nil
	}
	m.Status = to
	m.UpdatedAt = at
	return true, nil
}

func (s *MatchStore) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return apperror.ErrMatchNotFound
	}
	t := at
	m.NotifiedAt = &t
	return nil
}

func (s *MatchStore) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, m := range s.matches {
		if m.IsExpiredAt(now) {
			m.Status = valueobject.MatchStatusExpired
			m.UpdatedAt = now
			expired++
		}
	}
	return expired, nil
}

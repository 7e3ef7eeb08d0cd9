// Package memory хранит записи в памяти процесса. Используется в тестах
// и при STORAGE=memory. Индексы по отправке и платежу производные и
// перестраиваются из основной таблицы.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/repository"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

// EscrowStore реализует EscrowRepository и DisputeRepository.
type EscrowStore struct {
	mu         sync.RWMutex
	escrows    map[uuid.UUID]*entity.Escrow
	disputes   map[uuid.UUID]*entity.Dispute
	byShipment map[uuid.UUID][]uuid.UUID
	byPayment  map[string][]uuid.UUID

	audit  *AuditLog
	outbox *Outbox
}

func NewEscrowStore(audit *AuditLog, outbox *Outbox) *EscrowStore {
	return &EscrowStore{
		escrows:    make(map[uuid.UUID]*entity.Escrow),
		disputes:   make(map[uuid.UUID]*entity.Dispute),
		byShipment: make(map[uuid.UUID][]uuid.UUID),
		byPayment:  make(map[string][]uuid.UUID),
		audit:      audit,
		outbox:     outbox,
	}
}

func (s *EscrowStore) Get(ctx context.Context, id uuid.UUID) (*entity.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.escrows[id]
	if !ok {
		return nil, apperror.ErrEscrowNotFound
	}
	return e.Clone(), nil
}

// Put проверяет версию и уникальность, затем применяет изменение целиком.
func (s *EscrowStore) Put(ctx context.Context, change repository.EscrowChange) error {
	if change.Escrow == nil {
		return apperror.New(apperror.ErrCodeInternal, "пустое изменение эскроу")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := change.Escrow
	current, exists := s.escrows[next.ID]

	if change.ExpectedVersion == 0 {
		if exists {
			return apperror.New(apperror.ErrCodeDuplicateDetected, "эскроу с таким идентификатором уже существует")
		}
		if next.State.IsNonTerminal() {
			if s.activeByShipmentLocked(next.ShipmentID) != nil {
				return apperror.New(apperror.ErrCodeDuplicateDetected, "по отправке уже есть активный эскроу")
			}
			if s.activeByPaymentLocked(next.PaymentID) != nil {
				return apperror.New(apperror.ErrCodeDuplicateDetected, "по платежу уже есть активный эскроу")
			}
		}
	} else {
		if !exists {
			return apperror.ErrEscrowNotFound
		}
		if current.Version != change.ExpectedVersion {
			return apperror.ErrVersionConflict
		}
		if len(next.StateHistory) < len(current.StateHistory) {
			return apperror.New(apperror.ErrCodeInternal, "история состояний не может сокращаться")
		}
	}

	s.escrows[next.ID] = next.Clone()
	if !exists {
		s.byShipment[next.ShipmentID] = append(s.byShipment[next.ShipmentID], next.ID)
		s.byPayment[next.PaymentID] = append(s.byPayment[next.PaymentID], next.ID)
	}
	if change.Dispute != nil {
		s.disputes[change.Dispute.EscrowID] = change.Dispute.Clone()
	}
	if change.Audit != nil && s.audit != nil {
		s.audit.append(change.Audit)
	}
	if len(change.Events) > 0 && s.outbox != nil {
		s.outbox.append(change.Events...)
	}
	return nil
}

func (s *EscrowStore) FindByShipment(ctx context.Context, shipmentID uuid.UUID) ([]*entity.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byShipment[shipmentID]
	out := make([]*entity.Escrow, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.escrows[id].Clone())
	}
	sortByCreated(out)
	return out, nil
}

func (s *EscrowStore) FindNonTerminalByPayment(ctx context.Context, paymentID string) (*entity.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeByPaymentLocked(paymentID).Clone(), nil
}

func (s *EscrowStore) List(ctx context.Context, filter repository.EscrowFilter) ([]*entity.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.Escrow, 0, len(s.escrows))
	for _, e := range s.escrows {
		if len(filter.States) > 0 && !containsState(filter.States, e) {
			continue
		}
		if filter.UpdatedSince != nil && e.UpdatedAt.Before(*filter.UpdatedSince) {
			continue
		}
		out = append(out, e.Clone())
	}
	sortByCreated(out)
	return out, nil
}

func (s *EscrowStore) GetByEscrow(ctx context.Context, escrowID uuid.UUID) (*entity.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.disputes[escrowID]
	if !ok {
		return nil, apperror.ErrDisputeNotFound
	}
	return d.Clone(), nil
}

// Reindex перестраивает производные индексы по основной таблице.
func (s *EscrowStore) Reindex() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byShipment = make(map[uuid.UUID][]uuid.UUID, len(s.escrows))
	s.byPayment = make(map[string][]uuid.UUID, len(s.escrows))
	all := make([]*entity.Escrow, 0, len(s.escrows))
	for _, e := range s.escrows {
		all = append(all, e)
	}
	sortByCreated(all)
	for _, e := range all {
		s.byShipment[e.ShipmentID] = append(s.byShipment[e.ShipmentID], e.ID)
		s.byPayment[e.PaymentID] = append(s.byPayment[e.PaymentID], e.ID)
	}
}

func (s *EscrowStore) activeByShipmentLocked(shipmentID uuid.UUID) *entity.Escrow {
	for _, id := range s.byShipment[shipmentID] {
		if e := s.escrows[id]; e.State.IsNonTerminal() {
			return e
		}
	}
	return nil
}

func (s *EscrowStore) activeByPaymentLocked(paymentID string) *entity.Escrow {
	for _, id := range s.byPayment[paymentID] {
		if e := s.escrows[id]; e.State.IsNonTerminal() {
			return e
		}
	}
	return nil
}

func containsState(states []valueobject.EscrowState, e *entity.Escrow) bool {
	for _, st := range states {
		if st == e.State {
			return true
		}
	}
	return false
}

func sortByCreated(list []*entity.Escrow) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

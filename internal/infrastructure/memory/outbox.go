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

// Outbox очередь исходящих событий в памяти.
type Outbox struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*entity.OutboxEvent
	order  []uuid.UUID
}

func NewOutbox() *Outbox {
	return &Outbox{events: make(map[uuid.UUID]*entity.OutboxEvent)}
}

func (o *Outbox) Append(ctx context.Context, events ...*entity.OutboxEvent) error {
	o.append(events...)
	return nil
}

func (o *Outbox) ListPending(ctx context.Context, limit int) ([]*entity.OutboxEvent, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var out []*entity.OutboxEvent
	for _, id := range o.order {
		e := o.events[id]
		if e.Status != valueobject.OutboxStatusPending {
			continue
		}
		out = append(out, e.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (o *Outbox) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.events[id]
	if !ok {
		return apperror.New(apperror.ErrCodeNotFound, "событие не найдено")
	}
	t := at
	e.Status = valueobject.OutboxStatusPublished
	e.PublishedAt = &t
	e.Attempts++
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxAttempts int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.events[id]
	if !ok {
		return apperror.New(apperror.ErrCodeNotFound, "событие не найдено")
	}
	e.Attempts++
	e.LastError = &reason
	if maxAttempts > 0 && e.Attempts >= maxAttempts {
		e.Status = valueobject.OutboxStatusFailed
	}
	return nil
}

// Events возвращает все события в порядке добавления.
func (o *Outbox) Events() []*entity.OutboxEvent {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*entity.OutboxEvent, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.events[id].Clone())
	}
	return out
}

func (o *Outbox) append(events ...*entity.OutboxEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, e := range events {
		if _, exists := o.events[e.ID]; exists {
			continue
		}
		o.events[e.ID] = e.Clone()
		o.order = append(o.order, e.ID)
	}
}

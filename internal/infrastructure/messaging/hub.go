package messaging

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
)

// Broadcaster рассылка по WebSocket, реализуется ws.Hub.
type Broadcaster interface {
	BroadcastToUser(userID uuid.UUID, event string, data any) error
}

// HubPublisher отправляет событие каждому получателю, если тот подключён.
type HubPublisher struct {
	hub Broadcaster
}

func NewHubPublisher(hub Broadcaster) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Name() string { return "ws" }

func (p *HubPublisher) Publish(ctx context.Context, ev *entity.OutboxEvent) error {
	var errs []error
	for _, userID := range ev.Recipients {
		if err := p.hub.BroadcastToUser(userID, string(ev.EventType), NewEnvelope(ev)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

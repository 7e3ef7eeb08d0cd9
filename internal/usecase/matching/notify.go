package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
)

const notifyTimeout = 5 * time.Second

type matchFoundPayload struct {
	MatchID     uuid.UUID             `json:"match_id"`
	ShipmentID  uuid.UUID             `json:"shipment_id"`
	MatchScore  int                   `json:"match_score"`
	Channels    []valueobject.Channel `json:"channels"`
	GrossPrice  string                `json:"gross_price"`
	NetEarnings string                `json:"net_earnings"`
	ExpiresAt   time.Time             `json:"expires_at"`
	Summary     string                `json:"summary"`
}

func (e *Engine) priority(s *entity.Shipment, m *entity.MatchResult) valueobject.EventType {
	if s.Urgent || m.MatchScore >= e.cfg.HighPriorityScore {
		return valueobject.EventMatchFoundHighPriority
	}
	return valueobject.EventMatchFoundNormalPriority
}

func channelsFor(t valueobject.EventType) []valueobject.Channel {
	if t == valueobject.EventMatchFoundHighPriority {
		return []valueobject.Channel{valueobject.ChannelSMS, valueobject.ChannelPush, valueobject.ChannelUSSD}
	}
	return []valueobject.Channel{valueobject.ChannelPush}
}

// notify ставит уведомления в outbox в фоне. Ошибка только логируется.
func (e *Engine) notify(s *entity.Shipment, results []*entity.MatchResult) {
	type item struct {
		match     *entity.MatchResult
		eventType valueobject.EventType
	}
	items := make([]item, len(results))
	for i, m := range results {
		items[i] = item{match: m.Clone(), eventType: e.priority(s, m)}
	}
	origin, destination := s.Origin.Region, s.Destination.Region

	e.bg.SafeGo("matching.notify", func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		for _, it := range items {
			m := it.match
			ev, err := entity.NewOutboxEvent(it.eventType, m.ID, []uuid.UUID{m.TransporterID}, matchFoundPayload{
				MatchID:     m.ID,
				ShipmentID:  m.ShipmentID,
				MatchScore:  m.MatchScore,
				Channels:    channelsFor(it.eventType),
				GrossPrice:  m.Pricing.Gross.StringFixed(2),
				NetEarnings: m.Pricing.Net.StringFixed(2),
				ExpiresAt:   m.ExpiresAt,
				Summary:     fmt.Sprintf("Новый груз %s → %s, оценка %d, выплата %s", origin, destination, m.MatchScore, m.Pricing.Net.StringFixed(2)),
			}, e.now())
			if err == nil {
				err = e.outbox.Append(ctx, ev)
			}
			if err != nil {
				e.log.WithFields(logrus.Fields{"match_id": m.ID, "error": err}).Warn("matching: уведомление не поставлено в очередь")
				continue
			}
			if err := e.matches.MarkNotified(ctx, m.ID, e.now()); err != nil {
				e.log.WithFields(logrus.Fields{"match_id": m.ID, "error": err}).Warn("matching: не удалось отметить уведомление")
			}
		}
	})
}

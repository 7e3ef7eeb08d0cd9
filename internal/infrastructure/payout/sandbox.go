package payout

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Transfer операция, выполненная песочницей.
type Transfer struct {
	Kind          string
	RecipientID   uuid.UUID
	Amount        decimal.Decimal
	Key           string
	TransactionID string
}

// Sandbox провайдер для разработки: ничего не отправляет, повтор по ключу возвращает ту же транзакцию.
type Sandbox struct {
	mu    sync.Mutex
	byKey map[string]Transfer
	order []string
	log   logrus.FieldLogger
}

func NewSandbox(log logrus.FieldLogger) *Sandbox {
	return &Sandbox{byKey: make(map[string]Transfer), log: log}
}

func (s *Sandbox) Disburse(ctx context.Context, transporterID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (string, error) {
	return s.record("disburse", transporterID, amount, idempotencyKey), nil
}

func (s *Sandbox) Refund(ctx context.Context, shipperID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (string, error) {
	return s.record("refund", shipperID, amount, idempotencyKey), nil
}

func (s *Sandbox) record(kind string, recipient uuid.UUID, amount decimal.Decimal, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.byKey[key]; ok {
		return t.TransactionID
	}

	t := Transfer{
		Kind:          kind,
		RecipientID:   recipient,
		Amount:        amount,
		Key:           key,
		TransactionID: "sbx-" + uuid.NewString(),
	}
	s.byKey[key] = t
	s.order = append(s.order, key)

	s.log.WithFields(logrus.Fields{
		"kind":      kind,
		"recipient": recipient,
		"amount":    amount.StringFixed(2),
		"key":       key,
	}).Info("payout sandbox: операция записана")
	return t.TransactionID
}

// Transfers операции в порядке выполнения, без повторов.
func (s *Sandbox) Transfers() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Transfer, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byKey[k])
	}
	return out
}

package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Locker выдаёт эксклюзивный доступ к ключу. unlock нужно вызвать ровно один раз.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// PayoutPort контракт провайдера мобильных денег.
// Повтор с тем же idempotencyKey не должен приводить к повторной выплате.
type PayoutPort interface {
	Disburse(ctx context.Context, transporterID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (string, error)
	Refund(ctx context.Context, shipperID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (string, error)
}

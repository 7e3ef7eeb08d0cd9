package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/repository"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/memory"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newEscrow(t *testing.T, shipmentID uuid.UUID, paymentID string) *entity.Escrow {
	t.Helper()
	e, err := entity.NewEscrow(entity.NewEscrowParams{
		ShipmentID: shipmentID,
		PaymentID:  paymentID,
		ShipperID:  uuid.New(),
		Amount:     decimal.NewFromInt(10000),
		FeeRate:    valueobject.DefaultFeeRate,
	}, now)
	require.NoError(t, err)
	return e
}

func TestEscrowStore_PutWritesAuditAndEventsTogether(t *testing.T) {
	audit, outbox := memory.NewAuditLog(), memory.NewOutbox()
	store := memory.NewEscrowStore(audit, outbox)
	ctx := context.Background()

	e := newEscrow(t, uuid.New(), "pay-1")
	ev, err := entity.NewOutboxEvent(valueobject.EventPaymentUpdate, e.ID, nil, map[string]string{"state": "pending"}, now)
	require.NoError(t, err)

	err = store.Put(ctx, repository.EscrowChange{
		Escrow: e,
		Audit:  entity.NewAuditChange(e.ShipperID, "create", entity.EntityTypeEscrow, e.ID, nil, e.State, now),
		Events: []*entity.OutboxEvent{ev},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, audit.Len())
	assert.Len(t, outbox.Events(), 1)
}

func TestEscrowStore_RejectsSecondActiveForShipmentOrPayment(t *testing.T) {
	store := memory.NewEscrowStore(memory.NewAuditLog(), memory.NewOutbox())
	ctx := context.Background()
	shipment := uuid.New()

	require.NoError(t, store.Put(ctx, repository.EscrowChange{Escrow: newEscrow(t, shipment, "pay-1")}))

	err := store.Put(ctx, repository.EscrowChange{Escrow: newEscrow(t, shipment, "pay-2")})
	assert.True(t, apperror.IsDuplicate(err))

	err = store.Put(ctx, repository.EscrowChange{Escrow: newEscrow(t, uuid.New(), "pay-1")})
	assert.True(t, apperror.IsDuplicate(err))
}

func TestEscrowStore_VersionConflict(t *testing.T) {
	store := memory.NewEscrowStore(nil, nil)
	ctx := context.Background()
	e := newEscrow(t, uuid.New(), "pay-1")
	require.NoError(t, store.Put(ctx, repository.EscrowChange{Escrow: e}))

	first, _ := store.Get(ctx, e.ID)
	second, _ := store.Get(ctx, e.ID)

	first.Version++
	require.NoError(t, store.Put(ctx, repository.EscrowChange{Escrow: first, ExpectedVersion: 1}))

	second.Version++
	err := store.Put(ctx, repository.EscrowChange{Escrow: second, ExpectedVersion: 1})
	assert.True(t, apperror.IsInvalidTransition(err))
}

func TestEscrowStore_GetReturnsCopy(t *testing.T) {
	store := memory.NewEscrowStore(nil, nil)
	ctx := context.Background()
	e := newEscrow(t, uuid.New(), "pay-1")
	require.NoError(t, store.Put(ctx, repository.EscrowChange{Escrow: e}))

	got, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	got.State = valueobject.EscrowStateReleased

	again, _ := store.Get(ctx, e.ID)
	assert.Equal(t, valueobject.EscrowStatePending, again.State)
}

func TestEscrowStore_ReindexKeepsLookups(t *testing.T) {
	store := memory.NewEscrowStore(nil, nil)
	ctx := context.Background()
	shipment := uuid.New()
	e := newEscrow(t, shipment, "pay-9")
	require.NoError(t, store.Put(ctx, repository.EscrowChange{Escrow: e}))

	store.Reindex()

	list, err := store.FindByShipment(ctx, shipment)
	require.NoError(t, err)
	require.Len(t, list, 1)
	found, err := store.FindNonTerminalByPayment(ctx, "pay-9")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, e.ID, found.ID)

	none, err := store.FindNonTerminalByPayment(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMatchStore_CompareAndSetHasSingleWinner(t *testing.T) {
	store := memory.NewMatchStore()
	ctx := context.Background()
	m := &entity.MatchResult{ID: uuid.New(), ShipmentID: uuid.New(), Status: valueobject.MatchStatusPending, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, store.CreateBatch(ctx, []*entity.MatchResult{m}))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.CompareAndSetStatus(ctx, m.ID, valueobject.MatchStatusPending, valueobject.MatchStatusAccepted, now)
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestMatchStore_ExpirePending(t *testing.T) {
	store := memory.NewMatchStore()
	ctx := context.Background()
	stale := &entity.MatchResult{ID: uuid.New(), ShipmentID: uuid.New(), Status: valueobject.MatchStatusPending, ExpiresAt: now.Add(-time.Minute)}
	fresh := &entity.MatchResult{ID: uuid.New(), ShipmentID: stale.ShipmentID, Status: valueobject.MatchStatusPending, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, store.CreateBatch(ctx, []*entity.MatchResult{stale, fresh}))

	n, err := store.ExpirePending(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := store.Get(ctx, stale.ID)
	assert.Equal(t, valueobject.MatchStatusExpired, got.Status)
}

func TestOutbox_MarkFailedAfterMaxAttempts(t *testing.T) {
	outbox := memory.NewOutbox()
	ctx := context.Background()
	ev, err := entity.NewOutboxEvent(valueobject.EventEscrowStateChanged, uuid.New(), nil, struct{}{}, now)
	require.NoError(t, err)
	require.NoError(t, outbox.Append(ctx, ev))

	require.NoError(t, outbox.MarkFailed(ctx, ev.ID, "broker down", 2))
	pending, _ := outbox.ListPending(ctx, 10)
	assert.Len(t, pending, 1)

	require.NoError(t, outbox.MarkFailed(ctx, ev.ID, "broker down", 2))
	pending, _ = outbox.ListPending(ctx, 10)
	assert.Empty(t, pending)
}

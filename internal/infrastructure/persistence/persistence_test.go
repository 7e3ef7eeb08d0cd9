package persistence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freight-escrow/internal/db"
	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/repository"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newEscrow(t *testing.T, shipmentID uuid.UUID, paymentID string) *entity.Escrow {
	t.Helper()
	e, err := entity.NewEscrow(entity.NewEscrowParams{
		ShipmentID: shipmentID,
		PaymentID:  paymentID,
		ShipperID:  uuid.New(),
		Amount:     decimal.RequireFromString("12500.50"),
		FeeRate:    valueobject.DefaultFeeRate,
	}, testNow)
	require.NoError(t, err)
	return e
}

func TestDBError_UniqueViolationIsDuplicate(t *testing.T) {
	err := dbError(&pq.Error{Code: pgUniqueViolation, Constraint: "escrows_active_payment_uniq"}, "insert escrow")

	assert.True(t, apperror.IsDuplicate(err))
	assert.Contains(t, err.Error(), "по платежу")
}

func TestDBError_KeepsDomainErrorsAndWrapsOthers(t *testing.T) {
	assert.Same(t, apperror.ErrVersionConflict, dbError(apperror.ErrVersionConflict, "update"))
	assert.Nil(t, dbError(nil, "noop"))

	err := dbError(errors.New("connection reset"), "select escrows")
	assert.Equal(t, apperror.ErrCodeDatabaseError, apperror.CodeOf(err))
}

func TestEscrowRow_KeepsOptionalFields(t *testing.T) {
	e := newEscrow(t, uuid.New(), "pay-1")
	_, err := e.AssignTransporter(uuid.New(), testNow)
	require.NoError(t, err)
	e.RecordSettlementFailure(valueobject.ActionReleaseFunds, 3, errors.New("timeout"), testNow)

	row, err := newEscrowRow(e)
	require.NoError(t, err)
	assert.True(t, row.TransporterID.Valid)
	assert.True(t, row.Settlement.Valid)

	back, err := row.toEntity()
	require.NoError(t, err)
	assert.Equal(t, *e.TransporterID, *back.TransporterID)
	assert.Equal(t, 3, back.Settlement.Attempts)
	assert.True(t, back.Amount.Equal(e.Amount))
	assert.Len(t, back.StateHistory, len(e.StateHistory))
}

func TestOutboxRow_RejectsBadRecipient(t *testing.T) {
	row := outboxRow{ID: uuid.New(), Recipients: pq.StringArray{"not-a-uuid"}, Payload: "{}"}

	_, err := row.toEntity()
	assert.Error(t, err)
}

// Интеграционные тесты требуют PostgreSQL: FREIGHT_TEST_DATABASE_DSN.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("FREIGHT_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("FREIGHT_TEST_DATABASE_DSN не задан")
	}
	ctx := context.Background()
	conn, err := db.NewPostgres(ctx, dsn, db.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, file, _, _ := runtime.Caller(0)
	migrations := filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
	log, _ := test.NewNullLogger()
	_, err = db.RunMigrations(ctx, conn, migrations, log)
	require.NoError(t, err)
	return conn
}

func TestEscrowRepository_PutIsVersionedAndAtomic(t *testing.T) {
	conn := openTestDB(t)
	repo := NewEscrowRepository(conn)
	audit := NewAuditRepository(conn)
	outbox := NewOutboxRepository(conn)
	ctx := context.Background()

	e := newEscrow(t, uuid.New(), "pay-"+uuid.NewString())
	ev, err := entity.NewOutboxEvent(valueobject.EventPaymentUpdate, e.ID, []uuid.UUID{e.ShipperID}, map[string]string{"state": "pending"}, testNow)
	require.NoError(t, err)
	require.NoError(t, repo.Put(ctx, repository.EscrowChange{
		Escrow: e,
		Audit:  entity.NewAuditChange(e.ShipperID, "create", entity.EntityTypeEscrow, e.ID, nil, e.State, testNow),
		Events: []*entity.OutboxEvent{ev},
	}))

	got, err := repo.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(e.Amount))

	next := got.Clone()
	tr, _ := valueobject.LookupTransition(valueobject.EscrowStatePending, valueobject.ActionShipperCancels)
	require.NoError(t, next.Apply(tr, e.ShipperID, nil, testNow.Add(time.Minute)))
	next.Version = 2
	require.NoError(t, repo.Put(ctx, repository.EscrowChange{Escrow: next, ExpectedVersion: 1}))

	stale := got.Clone()
	stale.Version = 2
	err = repo.Put(ctx, repository.EscrowChange{
		Escrow:          stale,
		ExpectedVersion: 1,
		Audit:           entity.NewAuditChange(e.ShipperID, "stale", entity.EntityTypeEscrow, e.ID, nil, nil, testNow),
	})
	assert.True(t, apperror.IsInvalidTransition(err))

	records, err := audit.ListByEntity(ctx, entity.EntityTypeEscrow, e.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1, "отклонённая запись не оставляет аудит")

	pending, err := outbox.ListPending(ctx, 1000)
	require.NoError(t, err)
	var found bool
	for _, p := range pending {
		if p.ID == ev.ID {
			found = true
			assert.Equal(t, []uuid.UUID{e.ShipperID}, p.Recipients)
		}
	}
	assert.True(t, found)
}

func TestEscrowRepository_SecondActiveEscrowIsDuplicate(t *testing.T) {
	conn := openTestDB(t)
	repo := NewEscrowRepository(conn)
	ctx := context.Background()
	shipment := uuid.New()

	require.NoError(t, repo.Put(ctx, repository.EscrowChange{Escrow: newEscrow(t, shipment, "pay-"+uuid.NewString())}))
	err := repo.Put(ctx, repository.EscrowChange{Escrow: newEscrow(t, shipment, "pay-"+uuid.NewString())})

	assert.True(t, apperror.IsDuplicate(err))
}

func TestMatchRepository_CompareAndSet(t *testing.T) {
	conn := openTestDB(t)
	repo := NewMatchRepository(conn)
	ctx := context.Background()

	m := &entity.MatchResult{
		ID:            uuid.New(),
		ShipmentID:    uuid.New(),
		ShipperID:     uuid.New(),
		TransporterID: uuid.New(),
		DeclaredPrice: decimal.NewFromInt(1000),
		MatchScore:    77,
		Pricing:       valueobject.Pricing{Gross: decimal.NewFromInt(1000), PlatformFee: decimal.NewFromInt(100), Net: decimal.NewFromInt(900)},
		Status:        valueobject.MatchStatusPending,
		AvailableFrom: testNow,
		ExpiresAt:     testNow.Add(30 * time.Minute),
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
	require.NoError(t, repo.CreateBatch(ctx, []*entity.MatchResult{m}))

	ok, err := repo.CompareAndSetStatus(ctx, m.ID, valueobject.MatchStatusPending, valueobject.MatchStatusAccepted, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CompareAndSetStatus(ctx, m.ID, valueobject.MatchStatusPending, valueobject.MatchStatusRejected, testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.MatchStatusAccepted, got.Status)
	assert.Empty(t, got.ReviewReasons)
}

package escrow_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/invariant"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/lock"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/memory"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freight-escrow/internal/usecase/escrow"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type mockPayout struct {
	mock.Mock
}

func (m *mockPayout) Disburse(ctx context.Context, transporterID uuid.UUID, amount decimal.Decimal, key string) (string, error) {
	args := m.Called(ctx, transporterID, amount, key)
	return args.String(0), args.Error(1)
}

func (m *mockPayout) Refund(ctx context.Context, shipperID uuid.UUID, amount decimal.Decimal, key string) (string, error) {
	args := m.Called(ctx, shipperID, amount, key)
	return args.String(0), args.Error(1)
}

func amountOf(v int64) interface{} {
	want := decimal.NewFromInt(v)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}

type fixture struct {
	ledger *escrow.Ledger
	store  *memory.EscrowStore
	audit  *memory.AuditLog
	outbox *memory.Outbox
	payout *mockPayout

	shipper     uuid.UUID
	transporter uuid.UUID
	admin       uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	audit, outbox := memory.NewAuditLog(), memory.NewOutbox()
	store := memory.NewEscrowStore(audit, outbox)
	payout := new(mockPayout)
	settler := escrow.NewSettler(payout, escrow.SettlementConfig{MaxAttempts: 3, BackoffBase: time.Millisecond}, log)

	ledger := escrow.NewLedger(store, audit, store, lock.NewLocal(2*time.Second), settler,
		escrow.Config{FeeRate: decimal.RequireFromString("0.10")},
		escrow.WithClock(func() time.Time { return testNow }),
		escrow.WithLogger(log),
	)

	return &fixture{
		ledger:      ledger,
		store:       store,
		audit:       audit,
		outbox:      outbox,
		payout:      payout,
		shipper:     uuid.New(),
		transporter: uuid.New(),
		admin:       uuid.New(),
	}
}

func (f *fixture) create(t *testing.T) *entity.Escrow {
	t.Helper()
	res, err := f.ledger.Create(context.Background(), escrow.CreateInput{
		ShipmentID: uuid.New(),
		PaymentID:  "pay-" + uuid.NewString(),
		ShipperID:  f.shipper,
		Amount:     decimal.NewFromInt(10000),
	})
	require.NoError(t, err)
	return res.Escrow
}

func (f *fixture) inTransit(t *testing.T) *entity.Escrow {
	t.Helper()
	e := f.create(t)
	_, err := f.ledger.AssignTransporter(context.Background(), escrow.AssignInput{
		EscrowID: e.ID, TransporterID: f.transporter, ActorID: f.shipper, Role: valueobject.RoleShipper,
	})
	require.NoError(t, err)
	e, err = f.ledger.Transition(context.Background(), escrow.TransitionInput{
		EscrowID: e.ID, Action: valueobject.ActionTransporterAccepts, UserID: f.transporter, Role: valueobject.RoleTransporter,
	})
	require.NoError(t, err)
	return e
}

func TestLedger_HappyPathReleasesNetAmountOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.create(t)
	assert.True(t, e.PlatformFee.Equal(decimal.NewFromInt(1000)))
	assert.True(t, e.NetAmount.Equal(decimal.NewFromInt(9000)))

	e = f.inTransit(t)
	f.payout.On("Disburse", mock.Anything, f.transporter, amountOf(9000), e.ID.String()+":disburse").Return("tx-1", nil).Once()

	e, err := f.ledger.Transition(ctx, escrow.TransitionInput{
		EscrowID: e.ID, Action: valueobject.ActionConfirmDelivery, UserID: f.shipper, Role: valueobject.RoleShipper,
	})
	require.NoError(t, err)
	assert.Equal(t, valueobject.EscrowStateCompleted, e.State)

	e, err = f.ledger.Transition(ctx, escrow.TransitionInput{
		EscrowID: e.ID, Action: valueobject.ActionReleaseFunds, Role: valueobject.RoleSystem,
	})
	require.NoError(t, err)

	assert.Equal(t, valueobject.EscrowStateReleased, e.State)
	require.Len(t, e.StateHistory, 4)
	assert.Equal(t, "tx-1", e.StateHistory[3].Metadata["transaction_id"])
	f.payout.AssertNumberOfCalls(t, "Disburse", 1)
	f.payout.AssertExpectations(t)

	records, err := f.audit.ListByEntity(ctx, entity.EntityTypeEscrow, e.ID)
	require.NoError(t, err)
	assert.Len(t, records, 5, "create, assign и три перехода")

	var payments int
	for _, ev := range f.outbox.Events() {
		if ev.AggregateID == e.ID && ev.EventType == valueobject.EventPaymentUpdate {
			payments++
		}
	}
	assert.Equal(t, 2, payments)
}

func TestLedger_DisputeResolvedForShipperRefundsFullAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.inTransit(t)

	e, err := f.ledger.Transition(ctx, escrow.TransitionInput{
		EscrowID: e.ID, Action: valueobject.ActionRaiseDispute, UserID: f.shipper, Role: valueobject.RoleShipper,
		Metadata: map[string]string{"reason": "груз повреждён"},
	})
	require.NoError(t, err)
	assert.Equal(t, valueobject.EscrowStateDisputed, e.State)

	d, err := f.ledger.GetDispute(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusOpen, d.Status)
	assert.Equal(t, "груз повреждён", d.Reason)

	f.payout.On("Refund", mock.Anything, f.shipper, amountOf(10000), e.ID.String()+":refund").Return("tx-r", nil).Once()

	e, err = f.ledger.ResolveDispute(ctx, escrow.ResolveInput{
		EscrowID: e.ID, ReviewerID: f.admin, Resolution: "перевозчик признал повреждение", Outcome: valueobject.DisputeOutcomeForShipper,
	})
	require.NoError(t, err)

	assert.Equal(t, valueobject.EscrowStateRefunded, e.State)
	f.payout.AssertExpectations(t)

	d, err = f.ledger.GetDispute(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusResolved, d.Status)
	require.NotNil(t, d.ReviewerID)
	assert.Equal(t, f.admin, *d.ReviewerID)
}

func TestLedger_ResolveRequiresWrittenResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.inTransit(t)
	_, err := f.ledger.Transition(ctx, escrow.TransitionInput{
		EscrowID: e.ID, Action: valueobject.ActionRaiseDispute, UserID: f.transporter, Role: valueobject.RoleTransporter,
	})
	require.NoError(t, err)

	_, err = f.ledger.ResolveDispute(ctx, escrow.ResolveInput{
		EscrowID: e.ID, ReviewerID: f.admin, Outcome: valueobject.DisputeOutcomeForTransporter,
	})

	assert.Equal(t, invariant.RuleDisputeResolution, apperror.RuleOf(err))
	got, _ := f.store.Get(ctx, e.ID)
	assert.Equal(t, valueobject.EscrowStateDisputed, got.State)
	f.payout.AssertNotCalled(t, "Disburse", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLedger_CreateDetectsDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := escrow.CreateInput{
		ShipmentID: uuid.New(),
		PaymentID:  "pay-1",
		ShipperID:  f.shipper,
		Amount:     decimal.NewFromInt(10000),
	}

	first, err := f.ledger.Create(ctx, input)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	again, err := f.ledger.Create(ctx, input)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Escrow.ID, again.Escrow.ID)

	conflicting := input
	conflicting.Amount = decimal.NewFromInt(12000)
	_, err = f.ledger.Create(ctx, conflicting)
	assert.True(t, apperror.IsDuplicate(err))

	otherPayment := input
	otherPayment.PaymentID = "pay-2"
	_, err = f.ledger.Create(ctx, otherPayment)
	assert.True(t, apperror.IsDuplicate(err))

	list, err := f.ledger.ListByShipment(ctx, input.ShipmentID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestLedger_CreateRejectsFeeAboveCap(t *testing.T) {
	f := newFixture(t)
	rate := decimal.RequireFromString("0.12")

	_, err := f.ledger.Create(context.Background(), escrow.CreateInput{
		ShipmentID: uuid.New(),
		PaymentID:  "pay-1",
		ShipperID:  f.shipper,
		Amount:     decimal.NewFromInt(10000),
		FeeRate:    &rate,
	})

	assert.True(t, apperror.IsValidation(err))
	assert.Equal(t, invariant.RulePlatformFeeCap, apperror.RuleOf(err))
	assert.Equal(t, 1, f.audit.Len(), "отказ записан в аудит")
}

func TestLedger_CreateRejectsRateAboveCapHiddenByRounding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		rate string
		rule string
	}{
		// с суммы 1.00 комиссия 0.104 округляется до 0.10 и в предел укладывается
		{"rate above cap", "0.104", invariant.RulePlatformFeeCap},
		{"rate with five decimals", "0.05005", invariant.RuleFeeRate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rate := decimal.RequireFromString(tc.rate)
			_, err := f.ledger.Create(ctx, escrow.CreateInput{
				ShipmentID: uuid.New(),
				PaymentID:  "pay-" + uuid.NewString(),
				ShipperID:  f.shipper,
				Amount:     decimal.NewFromInt(1),
				FeeRate:    &rate,
			})

			assert.True(t, apperror.IsValidation(err))
			assert.Equal(t, tc.rule, apperror.RuleOf(err))
		})
	}
}

func TestLedger_TransitionGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t)

	cases := []struct {
		name  string
		input escrow.TransitionInput
		check func(error) bool
	}{
		{"unknown action", escrow.TransitionInput{EscrowID: e.ID, Action: "teleport", UserID: f.shipper, Role: valueobject.RoleShipper}, apperror.IsInvalidTransition},
		{"unknown role", escrow.TransitionInput{EscrowID: e.ID, Action: valueobject.ActionShipperCancels, UserID: f.shipper, Role: "guest"}, apperror.IsValidation},
		{"missing escrow", escrow.TransitionInput{EscrowID: uuid.New(), Action: valueobject.ActionShipperCancels, UserID: f.shipper, Role: valueobject.RoleShipper}, apperror.IsNotFound},
		{"not in table", escrow.TransitionInput{EscrowID: e.ID, Action: valueobject.ActionReleaseFunds, Role: valueobject.RoleSystem}, apperror.IsInvalidTransition},
		{"role not allowed", escrow.TransitionInput{EscrowID: e.ID, Action: valueobject.ActionTransporterAccepts, UserID: f.shipper, Role: valueobject.RoleShipper}, apperror.IsForbidden},
		{"no transporter", escrow.TransitionInput{EscrowID: e.ID, Action: valueobject.ActionTransporterAccepts, UserID: f.transporter, Role: valueobject.RoleTransporter}, apperror.IsPreconditionFailed},
		{"foreign shipper", escrow.TransitionInput{EscrowID: e.ID, Action: valueobject.ActionShipperCancels, UserID: uuid.New(), Role: valueobject.RoleShipper}, apperror.IsForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ledger.Transition(ctx, tc.input)
			assert.True(t, tc.check(err), "неожиданная ошибка: %v", err)
		})
	}

	got, err := f.ledger.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.EscrowStatePending, got.State)
	assert.Len(t, got.StateHistory, 1)
}

func TestLedger_AdminCancelsPending(t *testing.T) {
	f := newFixture(t)
	e := f.create(t)

	got, err := f.ledger.Transition(context.Background(), escrow.TransitionInput{
		EscrowID: e.ID, Action: valueobject.ActionShipperCancels, UserID: f.admin, Role: valueobject.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, valueobject.EscrowStateCancelled, got.State)
}

func TestLedger_ConcurrentTransitionsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.inTransit(t)

	var wins, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Transition(ctx, escrow.TransitionInput{
				EscrowID: e.ID, Action: valueobject.ActionConfirmDelivery, UserID: f.shipper, Role: valueobject.RoleShipper,
			})
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case apperror.IsInvalidTransition(err):
				atomic.AddInt32(&conflicts, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(9), conflicts)

	got, _ := f.ledger.Get(ctx, e.ID)
	assert.Len(t, got.StateHistory, 3)
}

func TestLedger_SettlementFailureKeepsStateAndFlags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.inTransit(t)
	_, err := f.ledger.Transition(ctx, escrow.TransitionInput{
		EscrowID: e.ID, Action: valueobject.ActionConfirmDelivery, UserID: f.shipper, Role: valueobject.RoleShipper,
	})
	require.NoError(t, err)

	f.payout.On("Disburse", mock.Anything, f.transporter, amountOf(9000), mock.Anything).Return("", errors.New("timeout")).Times(3)
	f.payout.On("Disburse", mock.Anything, f.transporter, amountOf(9000), mock.Anything).Return("tx-2", nil).Once()

	release := escrow.TransitionInput{EscrowID: e.ID, Action: valueobject.ActionReleaseFunds, UserID: f.admin, Role: valueobject.RoleAdmin}

	_, err = f.ledger.Transition(ctx, release)
	assert.True(t, apperror.IsUpstream(err))

	got, _ := f.ledger.Get(ctx, e.ID)
	assert.Equal(t, valueobject.EscrowStateCompleted, got.State)
	require.NotNil(t, got.Settlement)
	assert.Equal(t, 3, got.Settlement.Attempts)
	assert.Len(t, got.StateHistory, 3)

	got, err = f.ledger.Transition(ctx, release)
	require.NoError(t, err)
	assert.Equal(t, valueobject.EscrowStateReleased, got.State)
	assert.Nil(t, got.Settlement)
	f.payout.AssertNumberOfCalls(t, "Disburse", 4)
}

func TestLedger_NonRetryablePayoutErrorStopsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t)
	_, err := f.ledger.Transition(ctx, escrow.TransitionInput{
		EscrowID: e.ID, Action: valueobject.ActionShipperCancels, UserID: f.shipper, Role: valueobject.RoleShipper,
	})
	require.NoError(t, err)

	rejected := apperror.Upstream(errors.New("422"), "провайдер отклонил операцию")
	rejected.Retryable = false
	f.payout.On("Refund", mock.Anything, f.shipper, amountOf(10000), e.ID.String()+":refund").Return("", rejected)

	_, err = f.ledger.Transition(ctx, escrow.TransitionInput{
		EscrowID: e.ID, Action: valueobject.ActionProcessRefund, Role: valueobject.RoleSystem,
	})

	assert.True(t, apperror.IsUpstream(err))
	f.payout.AssertNumberOfCalls(t, "Refund", 1)
}

func TestLedger_AssignTransporter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t)
	assign := escrow.AssignInput{EscrowID: e.ID, TransporterID: f.transporter, ActorID: f.shipper, Role: valueobject.RoleShipper}

	first, err := f.ledger.AssignTransporter(ctx, assign)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Version)

	same, err := f.ledger.AssignTransporter(ctx, assign)
	require.NoError(t, err)
	assert.Equal(t, 2, same.Version, "повторная привязка ничего не пишет")

	other := assign
	other.TransporterID = uuid.New()
	_, err = f.ledger.AssignTransporter(ctx, other)
	assert.True(t, apperror.IsInvalidTransition(err))

	foreign := assign
	foreign.ActorID = uuid.New()
	_, err = f.ledger.AssignTransporter(ctx, foreign)
	assert.True(t, apperror.IsForbidden(err))
}

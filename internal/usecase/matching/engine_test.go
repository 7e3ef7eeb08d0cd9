package matching_test

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/invariant"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/goroutine"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/lock"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/memory"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/payout"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freight-escrow/internal/usecase/escrow"
	"github.com/ignatzorin/freight-escrow/internal/usecase/matching"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine  *matching.Engine
	ledger  *escrow.Ledger
	matches *memory.MatchStore
	outbox  *memory.Outbox
	bg      *goroutine.RecoveryHandler
	clock   *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	c := &clock{now: testNow}
	audit, outbox := memory.NewAuditLog(), memory.NewOutbox()
	escrows := memory.NewEscrowStore(audit, outbox)
	matches := memory.NewMatchStore()
	locker := lock.NewLocal(2 * time.Second)
	bg := goroutine.NewRecoveryHandler(log)

	settler := escrow.NewSettler(payout.NewSandbox(log), escrow.SettlementConfig{}, log)
	ledger := escrow.NewLedger(escrows, audit, escrows, locker, settler, escrow.Config{},
		escrow.WithClock(c.Now), escrow.WithLogger(log))

	engine := matching.NewEngine(matches, outbox, audit, locker, ledger, matching.DefaultConfig(),
		matching.WithClock(c.Now), matching.WithLogger(log), matching.WithRecovery(bg))

	return &fixture{engine: engine, ledger: ledger, matches: matches, outbox: outbox, bg: bg, clock: c}
}

func ptr[T any](v T) *T { return &v }

func shipment() *entity.Shipment {
	return &entity.Shipment{
		ID:            uuid.New(),
		ShipperID:     uuid.New(),
		Origin:        entity.Location{Region: "Nairobi", Lat: ptr(-1.2921), Lon: ptr(36.8219)},
		Destination:   entity.Location{Region: "Mombasa", Lat: ptr(-4.0435), Lon: ptr(39.6682)},
		WeightKg:      6000,
		DeclaredPrice: decimal.NewFromInt(100000),
		PickupDate:    testNow.Add(24 * time.Hour),
		DeliveryDate:  testNow.Add(48 * time.Hour),
	}
}

// pool: сильный кандидат, дорогой, слабый непроверенный, маленький и некорректный.
func pool(s *entity.Shipment) (strong, pricey, weak entity.Candidate, all []entity.Candidate) {
	strong = entity.Candidate{
		TransporterID:      uuid.New(),
		Rating:             5,
		VerificationLevel:  valueobject.VerificationIdentity,
		CapacityKg:         10000,
		CurrentLocation:    s.Origin,
		ResponsivenessRate: ptr(1.0),
		AvailableFrom:      testNow,
	}
	pricey = entity.Candidate{
		TransporterID:     uuid.New(),
		Rating:            4.5,
		VerificationLevel: valueobject.VerificationPhone,
		CapacityKg:        10000,
		CurrentLocation:   entity.Location{Region: "Nairobi"},
		QuotedPrice:       ptr(decimal.NewFromInt(160000)),
		AvailableFrom:     testNow,
	}
	weak = entity.Candidate{
		TransporterID:     uuid.New(),
		Rating:            2.5,
		VerificationLevel: valueobject.VerificationUnverified,
		CapacityKg:        20000,
		CurrentLocation:   entity.Location{Region: "Nakuru"},
		AvailableFrom:     testNow,
	}
	small := entity.Candidate{TransporterID: uuid.New(), Rating: 5, CapacityKg: 3000, CurrentLocation: s.Origin}
	broken := entity.Candidate{TransporterID: uuid.New(), Rating: 7, CapacityKg: 10000}
	return strong, pricey, weak, []entity.Candidate{weak, small, pricey, broken, strong}
}

func TestEngine_ProposeRanksFlagsAndNotifies(t *testing.T) {
	f := newFixture(t)
	s := shipment()
	strong, pricey, weak, candidates := pool(s)

	results, err := f.engine.Propose(context.Background(), matching.ProposeInput{Shipment: s, Candidates: candidates})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, strong.TransporterID, results[0].TransporterID)
	assert.Equal(t, pricey.TransporterID, results[1].TransporterID)
	assert.Equal(t, weak.TransporterID, results[2].TransporterID)
	assert.Equal(t, []int{100, 90, 43}, []int{results[0].MatchScore, results[1].MatchScore, results[2].MatchScore})

	for _, m := range results {
		assert.NoError(t, invariant.ValidateMatchScore(m.MatchScore))
		assert.Equal(t, valueobject.MatchStatusPending, m.Status)
		assert.Equal(t, testNow.Add(30*time.Minute), m.ExpiresAt)
	}

	assert.False(t, results[0].NeedsReview)
	assert.True(t, results[0].Pricing.PlatformFee.Equal(decimal.NewFromInt(10000)))
	assert.True(t, results[0].Pricing.Net.Equal(decimal.NewFromInt(90000)))
	assert.Equal(t, []string{"price exceeds 150% of declared price"}, results[1].ReviewReasons)
	assert.ElementsMatch(t, []string{"score below review threshold", "transporter not verified"}, results[2].ReviewReasons)

	f.bg.Wait()
	events := f.outbox.Events()
	require.Len(t, events, 3)
	types := map[valueobject.EventType]int{}
	for _, ev := range events {
		types[ev.EventType]++
	}
	assert.Equal(t, 2, types[valueobject.EventMatchFoundHighPriority])
	assert.Equal(t, 1, types[valueobject.EventMatchFoundNormalPriority])

	stored, err := f.matches.Get(context.Background(), results[0].ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.NotifiedAt)
}

func TestEngine_UrgentShipmentIsHighPriority(t *testing.T) {
	f := newFixture(t)
	s := shipment()
	s.Urgent = true
	_, _, weak, _ := pool(s)

	_, err := f.engine.Propose(context.Background(), matching.ProposeInput{Shipment: s, Candidates: []entity.Candidate{weak}})
	require.NoError(t, err)
	f.bg.Wait()

	events := f.outbox.Events()
	require.Len(t, events, 1)
	assert.Equal(t, valueobject.EventMatchFoundHighPriority, events[0].EventType)
	assert.Contains(t, string(events[0].Payload), `"ussd"`)
}

func TestEngine_ProposeWithoutEligibleCandidates(t *testing.T) {
	f := newFixture(t)
	s := shipment()

	results, err := f.engine.Propose(context.Background(), matching.ProposeInput{
		Shipment:   s,
		Candidates: []entity.Candidate{{TransporterID: uuid.New(), Rating: 5, CapacityKg: 100}},
	})

	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestEngine_ProposeRejectsInvalidShipment(t *testing.T) {
	f := newFixture(t)
	s := shipment()
	s.WeightKg = 0

	_, err := f.engine.Propose(context.Background(), matching.ProposeInput{Shipment: s})

	assert.True(t, apperror.IsValidation(err))
	assert.Equal(t, invariant.RuleShipmentWeight, apperror.RuleOf(err))
}

func TestEngine_ProposeBatch(t *testing.T) {
	f := newFixture(t)
	a, b := shipment(), shipment()
	_, _, _, poolA := pool(a)
	_, _, _, poolB := pool(b)

	out, err := f.engine.ProposeBatch(context.Background(), []matching.ProposeInput{
		{Shipment: a, Candidates: poolA},
		{Shipment: b, Candidates: poolB},
	})
	require.NoError(t, err)

	assert.Len(t, out[a.ID], 3)
	assert.Len(t, out[b.ID], 3)
	f.bg.Wait()
}

func TestEngine_AcceptRejectsPriceAboveCap(t *testing.T) {
	f := newFixture(t)
	s := shipment()
	_, pricey, _, candidates := pool(s)
	results, err := f.engine.Propose(context.Background(), matching.ProposeInput{Shipment: s, Candidates: candidates})
	require.NoError(t, err)
	f.bg.Wait()

	_, err = f.engine.Accept(context.Background(), matching.AcceptInput{
		MatchID: results[1].ID, ActorID: pricey.TransporterID, Role: valueobject.RoleTransporter,
	})

	assert.True(t, apperror.IsValidation(err))
	assert.Equal(t, invariant.RuleMatchPriceCap, apperror.RuleOf(err))

	got, err := f.engine.Get(context.Background(), results[1].ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.MatchStatusPending, got.Status)
}

func TestEngine_ConcurrentAcceptsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	s := shipment()
	_, _, _, candidates := pool(s)
	results, err := f.engine.Propose(context.Background(), matching.ProposeInput{Shipment: s, Candidates: candidates})
	require.NoError(t, err)
	f.bg.Wait()

	admin := uuid.New()
	targets := []uuid.UUID{results[0].ID, results[2].ID}

	var wins, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := f.engine.Accept(context.Background(), matching.AcceptInput{MatchID: id, ActorID: admin, Role: valueobject.RoleAdmin})
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case apperror.IsInvalidTransition(err):
				atomic.AddInt32(&conflicts, 1)
			}
		}(targets[i%2])
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(9), conflicts)

	list, err := f.engine.ListByShipment(context.Background(), s.ID)
	require.NoError(t, err)
	accepted := 0
	for _, m := range list {
		if m.Status == valueobject.MatchStatusAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestEngine_AcceptAfterExpiry(t *testing.T) {
	f := newFixture(t)
	s := shipment()
	strong, _, _, candidates := pool(s)
	results, err := f.engine.Propose(context.Background(), matching.ProposeInput{Shipment: s, Candidates: candidates})
	require.NoError(t, err)
	f.bg.Wait()

	f.clock.Advance(31 * time.Minute)

	_, err = f.engine.Accept(context.Background(), matching.AcceptInput{
		MatchID: results[0].ID, ActorID: strong.TransporterID, Role: valueobject.RoleTransporter,
	})
	require.Error(t, err)
	assert.True(t, apperror.IsInvalidTransition(err))
	assert.Contains(t, err.Error(), "match already expired")

	got, err := f.matches.Get(context.Background(), results[0].ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.MatchStatusExpired, got.Status)

	n, err := f.engine.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEngine_AcceptCreatesEscrowForPayment(t *testing.T) {
	f := newFixture(t)
	s := shipment()
	strong, _, _, candidates := pool(s)
	results, err := f.engine.Propose(context.Background(), matching.ProposeInput{Shipment: s, Candidates: candidates})
	require.NoError(t, err)
	f.bg.Wait()

	res, err := f.engine.Accept(context.Background(), matching.AcceptInput{
		MatchID: results[0].ID, ActorID: strong.TransporterID, Role: valueobject.RoleTransporter, PaymentID: "pay-77",
	})
	require.NoError(t, err)

	assert.Equal(t, valueobject.MatchStatusAccepted, res.Match.Status)
	require.NotNil(t, res.Escrow)
	assert.True(t, res.Escrow.IsTransporter(strong.TransporterID))
	assert.True(t, res.Escrow.Amount.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, s.ShipperID, res.Escrow.ShipperID)
}

func TestEngine_AcceptBindsExistingEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := shipment()
	strong, _, _, candidates := pool(s)

	created, err := f.ledger.Create(ctx, escrow.CreateInput{
		ShipmentID: s.ID, PaymentID: "pay-1", ShipperID: s.ShipperID, Amount: decimal.NewFromInt(100000),
	})
	require.NoError(t, err)

	results, err := f.engine.Propose(ctx, matching.ProposeInput{Shipment: s, Candidates: candidates})
	require.NoError(t, err)
	f.bg.Wait()

	res, err := f.engine.Accept(ctx, matching.AcceptInput{
		MatchID: results[0].ID, ActorID: strong.TransporterID, Role: valueobject.RoleTransporter,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Escrow)
	assert.Equal(t, created.Escrow.ID, res.Escrow.ID)
	assert.True(t, res.Escrow.IsTransporter(strong.TransporterID))
}

func TestEngine_AcceptWithPaymentOfAnotherShipmentKeepsMatchPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := shipment()
	strong, _, _, candidates := pool(s)

	_, err := f.ledger.Create(ctx, escrow.CreateInput{
		ShipmentID: uuid.New(), PaymentID: "pay-used", ShipperID: uuid.New(), Amount: decimal.NewFromInt(5000),
	})
	require.NoError(t, err)

	results, err := f.engine.Propose(ctx, matching.ProposeInput{Shipment: s, Candidates: candidates})
	require.NoError(t, err)
	f.bg.Wait()

	_, err = f.engine.Accept(ctx, matching.AcceptInput{
		MatchID: results[0].ID, ActorID: strong.TransporterID, Role: valueobject.RoleTransporter, PaymentID: "pay-used",
	})
	assert.True(t, apperror.IsDuplicate(err))

	stored, err := f.matches.Get(ctx, results[0].ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.MatchStatusPending, stored.Status)
	list, err := f.ledger.ListByShipment(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	res, err := f.engine.Accept(ctx, matching.AcceptInput{
		MatchID: results[0].ID, ActorID: strong.TransporterID, Role: valueobject.RoleTransporter, PaymentID: "pay-fresh",
	})
	require.NoError(t, err)
	assert.Equal(t, valueobject.MatchStatusAccepted, res.Match.Status)
	require.NotNil(t, res.Escrow)
	assert.Equal(t, "pay-fresh", res.Escrow.PaymentID)
}

// paymentLockFails отказывает в блокировке платежа, остальные ключи берёт у next.
type paymentLockFails struct {
	next *lock.Local
}

func (l paymentLockFails) Lock(ctx context.Context, key string) (func(), error) {
	if strings.HasPrefix(key, "payment:") {
		return nil, apperror.ErrLockBusy
	}
	return l.next.Lock(ctx, key)
}

func TestEngine_AcceptRevertsWhenEscrowBindingFails(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	ctx := context.Background()

	audit, outbox := memory.NewAuditLog(), memory.NewOutbox()
	escrows := memory.NewEscrowStore(audit, outbox)
	matches := memory.NewMatchStore()
	locker := lock.NewLocal(time.Second)
	bg := goroutine.NewRecoveryHandler(log)

	settler := escrow.NewSettler(payout.NewSandbox(log), escrow.SettlementConfig{}, log)
	ledger := escrow.NewLedger(escrows, audit, escrows, paymentLockFails{next: locker}, settler, escrow.Config{},
		escrow.WithClock(func() time.Time { return testNow }), escrow.WithLogger(log))
	engine := matching.NewEngine(matches, outbox, audit, locker, ledger, matching.DefaultConfig(),
		matching.WithClock(func() time.Time { return testNow }), matching.WithLogger(log), matching.WithRecovery(bg))

	s := shipment()
	strong, _, _, candidates := pool(s)
	results, err := engine.Propose(ctx, matching.ProposeInput{Shipment: s, Candidates: candidates})
	require.NoError(t, err)
	bg.Wait()
	auditBefore := audit.Len()

	_, err = engine.Accept(ctx, matching.AcceptInput{
		MatchID: results[0].ID, ActorID: strong.TransporterID, Role: valueobject.RoleTransporter, PaymentID: "pay-1",
	})
	assert.True(t, apperror.IsInvalidTransition(err))

	stored, err := matches.Get(ctx, results[0].ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.MatchStatusPending, stored.Status)
	assert.Equal(t, auditBefore+2, audit.Len(), "принятие и его откат записаны в аудит")
}

func TestEngine_DecisionPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := shipment()
	strong, _, _, candidates := pool(s)
	results, err := f.engine.Propose(ctx, matching.ProposeInput{Shipment: s, Candidates: candidates})
	require.NoError(t, err)
	f.bg.Wait()

	_, err = f.engine.Accept(ctx, matching.AcceptInput{MatchID: results[0].ID, ActorID: s.ShipperID, Role: valueobject.RoleShipper})
	assert.True(t, apperror.IsForbidden(err))

	_, err = f.engine.Accept(ctx, matching.AcceptInput{MatchID: results[0].ID, ActorID: uuid.New(), Role: valueobject.RoleTransporter})
	assert.True(t, apperror.IsForbidden(err))

	rejected, err := f.engine.Reject(ctx, results[0].ID, strong.TransporterID, valueobject.RoleTransporter)
	require.NoError(t, err)
	assert.Equal(t, valueobject.MatchStatusRejected, rejected.Status)

	_, err = f.engine.Accept(ctx, matching.AcceptInput{MatchID: results[0].ID, ActorID: strong.TransporterID, Role: valueobject.RoleTransporter})
	assert.True(t, apperror.IsInvalidTransition(err))
	assert.Contains(t, err.Error(), "match already rejected")

	_, err = f.engine.Get(ctx, uuid.New())
	assert.True(t, apperror.IsNotFound(err))
}

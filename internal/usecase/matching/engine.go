// Package matching подбирает перевозчиков для отправки и ведёт решения по предложениям.
package matching

import (
	"context"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/invariant"
	"github.com/ignatzorin/freight-escrow/internal/domain/repository"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/goroutine"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/metrics"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freight-escrow/internal/usecase/escrow"
)

const (
	reasonLowScore    = "score below review threshold"
	reasonPriceCap    = "price exceeds 150% of declared price"
	reasonUnverified  = "transporter not verified"
	defaultParallelAt = 64
)

type Config struct {
	Validity          time.Duration
	ReviewThreshold   int
	HighPriorityScore int
	FeeRate           decimal.Decimal
	Scoring           ScoringConfig
	// ParallelThreshold пул больше этого размера оценивается параллельно.
	ParallelThreshold int
}

func DefaultConfig() Config {
	return Config{
		Validity:          30 * time.Minute,
		ReviewThreshold:   50,
		HighPriorityScore: 80,
		FeeRate:           valueobject.DefaultFeeRate,
		Scoring:           DefaultScoringConfig(),
		ParallelThreshold: defaultParallelAt,
	}
}

// EscrowBinder операции реестра эскроу, нужные при принятии предложения.
type EscrowBinder interface {
	ListByShipment(ctx context.Context, shipmentID uuid.UUID) ([]*entity.Escrow, error)
	ActiveByPayment(ctx context.Context, paymentID string) (*entity.Escrow, error)
	Create(ctx context.Context, input escrow.CreateInput) (*escrow.CreateResult, error)
	AssignTransporter(ctx context.Context, input escrow.AssignInput) (*entity.Escrow, error)
}

type Engine struct {
	matches repository.MatchRepository
	outbox  repository.OutboxRepository
	audit   repository.AuditRepository
	locker  repository.Locker
	escrows EscrowBinder
	bg      *goroutine.RecoveryHandler
	cfg     Config
	now     func() time.Time
	log     logrus.FieldLogger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

// WithRecovery задаёт обработчик фоновых уведомлений.
func WithRecovery(bg *goroutine.RecoveryHandler) Option {
	return func(e *Engine) { e.bg = bg }
}

func NewEngine(
	matches repository.MatchRepository,
	outbox repository.OutboxRepository,
	audit repository.AuditRepository,
	locker repository.Locker,
	escrows EscrowBinder,
	cfg Config,
	opts ...Option,
) *Engine {
	if cfg.Validity <= 0 {
		cfg.Validity = 30 * time.Minute
	}
	if cfg.FeeRate.IsZero() {
		cfg.FeeRate = valueobject.DefaultFeeRate
	}
	if cfg.ParallelThreshold <= 0 {
		cfg.ParallelThreshold = defaultParallelAt
	}
	if cfg.Scoring.MaxDeadheadKm <= 0 {
		cfg.Scoring = DefaultScoringConfig()
	}

	e := &Engine{
		matches: matches,
		outbox:  outbox,
		audit:   audit,
		locker:  locker,
		escrows: escrows,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bg == nil {
		e.bg = goroutine.NewRecoveryHandler(e.log)
	}
	return e
}

type ProposeInput struct {
	Shipment   *entity.Shipment
	Candidates []entity.Candidate
}

// Propose оценивает пул кандидатов, сохраняет предложения и ставит уведомления в очередь.
// Пустой результат без ошибки означает, что подходящих перевозчиков нет.
func (e *Engine) Propose(ctx context.Context, input ProposeInput) ([]*entity.MatchResult, error) {
	if input.Shipment == nil {
		return nil, apperror.Violation(invariant.RuleRequiredField, "shipment обязателен")
	}
	now := e.now()
	if err := input.Shipment.Validate(now); err != nil {
		return nil, err
	}

	results, err := e.scorePool(ctx, input.Shipment, input.Candidates, now)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		e.log.WithField("shipment_id", input.Shipment.ID).Info("matching: подходящих перевозчиков нет")
		return []*entity.MatchResult{}, nil
	}
	rank(results)

	if err := e.matches.CreateBatch(ctx, results); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось сохранить предложения")
	}

	for _, m := range results {
		metrics.MatchScore.Observe(float64(m.MatchScore))
		metrics.MatchesProposed.WithLabelValues(string(e.priority(input.Shipment, m))).Inc()
	}
	e.notify(input.Shipment, results)

	e.log.WithFields(logrus.Fields{
		"shipment_id": input.Shipment.ID,
		"candidates":  len(input.Candidates),
		"matches":     len(results),
	}).Info("matching: предложения сформированы")

	out := make([]*entity.MatchResult, len(results))
	for i, m := range results {
		out[i] = m.Clone()
	}
	return out, nil
}

// ProposeBatch подбирает перевозчиков для независимых отправок параллельно.
func (e *Engine) ProposeBatch(ctx context.Context, inputs []ProposeInput) (map[uuid.UUID][]*entity.MatchResult, error) {
	var mu sync.Mutex
	out := make(map[uuid.UUID][]*entity.MatchResult, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, in := range inputs {
		g.Go(func() error {
			res, err := e.Propose(gctx, in)
			if err != nil {
				return err
			}
			mu.Lock()
			out[in.Shipment.ID] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) scorePool(ctx context.Context, s *entity.Shipment, pool []entity.Candidate, now time.Time) ([]*entity.MatchResult, error) {
	scored := make([]*entity.MatchResult, len(pool))

	if len(pool) <= e.cfg.ParallelThreshold {
		for i, c := range pool {
			scored[i] = e.evaluate(s, c, now)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i, c := range pool {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				scored[i] = e.evaluate(s, c, now)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	out := scored[:0]
	for _, m := range scored {
		if m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// evaluate возвращает nil для некорректных и неподходящих кандидатов.
func (e *Engine) evaluate(s *entity.Shipment, c entity.Candidate, now time.Time) *entity.MatchResult {
	if reason := malformed(c); reason != "" {
		e.log.WithFields(logrus.Fields{
			"shipment_id":    s.ID,
			"transporter_id": c.TransporterID,
			"reason":         reason,
		}).Warn("matching: кандидат исключён")
		return nil
	}
	if c.CapacityKg < s.WeightKg {
		return nil
	}

	score, breakdown := Score(e.cfg.Scoring, s, c)
	if err := invariant.ValidateMatchScore(score); err != nil {
		e.log.WithFields(logrus.Fields{"transporter_id": c.TransporterID, "error": err}).Error("matching: оценка вне диапазона")
		return nil
	}

	gross := s.DeclaredPrice
	if c.QuotedPrice != nil {
		gross = *c.QuotedPrice
	}

	m := &entity.MatchResult{
		ID:            uuid.New(),
		ShipmentID:    s.ID,
		ShipperID:     s.ShipperID,
		TransporterID: c.TransporterID,
		DeclaredPrice: s.DeclaredPrice,
		MatchScore:    score,
		Breakdown:     breakdown,
		Pricing:       valueobject.SplitFee(valueobject.RoundMoney(gross), e.cfg.FeeRate),
		Status:        valueobject.MatchStatusPending,
		Rating:        c.Rating,
		AvailableFrom: c.AvailableFrom,
		ExpiresAt:     now.Add(e.cfg.Validity),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if score < e.cfg.ReviewThreshold {
		m.FlagForReview(reasonLowScore)
	}
	if invariant.ValidateMatchPrice(gross, s.DeclaredPrice) != nil {
		m.FlagForReview(reasonPriceCap)
	}
	if c.VerificationLevel.Rank() == 0 {
		m.FlagForReview(reasonUnverified)
	}
	return m
}

func malformed(c entity.Candidate) string {
	switch {
	case c.TransporterID == uuid.Nil:
		return "нет идентификатора перевозчика"
	case math.IsNaN(c.CapacityKg) || c.CapacityKg <= 0:
		return "вместимость должна быть больше нуля"
	case math.IsNaN(c.Rating) || c.Rating < 0 || c.Rating > maxRating:
		return "рейтинг вне диапазона 0..5"
	case c.ResponsivenessRate != nil && (math.IsNaN(*c.ResponsivenessRate) || *c.ResponsivenessRate < 0 || *c.ResponsivenessRate > 1):
		return "доля ответов вне диапазона 0..1"
	case !c.VerificationLevel.IsValid():
		return "неизвестный уровень верификации"
	case c.QuotedPrice != nil && !c.QuotedPrice.IsPositive():
		return "предложенная цена должна быть больше нуля"
	}
	return ""
}

// rank: оценка по убыванию, рейтинг по убыванию, раньше доступен, затем идентификатор.
func rank(list []*entity.MatchResult) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.MatchScore != b.MatchScore {
			return a.MatchScore > b.MatchScore
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if !a.AvailableFrom.Equal(b.AvailableFrom) {
			return a.AvailableFrom.Before(b.AvailableFrom)
		}
		return a.TransporterID.String() < b.TransporterID.String()
	})
}

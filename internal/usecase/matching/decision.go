package matching

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/invariant"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/metrics"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freight-escrow/internal/usecase/escrow"
)

type AcceptInput struct {
	MatchID uuid.UUID
	ActorID uuid.UUID
	Role    valueobject.Role
	// PaymentID если у отправки ещё нет эскроу, он создаётся на цену предложения.
	PaymentID string
}

type AcceptResult struct {
	Match  *entity.MatchResult
	Escrow *entity.Escrow
}

// Accept принимает предложение. По отправке может быть принято не больше одного.
func (e *Engine) Accept(ctx context.Context, input AcceptInput) (*AcceptResult, error) {
	m, unlock, err := e.lockPending(ctx, input.MatchID, input.ActorID, input.Role)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := invariant.ValidateMatchPrice(m.Pricing.Gross, m.DeclaredPrice); err != nil {
		return nil, err
	}

	siblings, err := e.matches.ListByShipment(ctx, m.ShipmentID)
	if err != nil {
		return nil, err
	}
	for _, other := range siblings {
		if other.Status == valueobject.MatchStatusAccepted {
			return nil, apperror.New(apperror.ErrCodeInvalidTransition, "shipment already matched")
		}
	}

	active, err := e.activeEscrow(ctx, m.ShipmentID)
	if err != nil {
		return nil, err
	}
	if active != nil && active.HasTransporter() && !active.IsTransporter(m.TransporterID) {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition, "к эскроу отправки уже привязан другой перевозчик")
	}
	if active != nil && active.State != valueobject.EscrowStatePending && !active.HasTransporter() {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition, "эскроу отправки уже не в состоянии pending")
	}

	if active == nil && input.PaymentID != "" && e.escrows != nil {
		held, err := e.escrows.ActiveByPayment(ctx, input.PaymentID)
		if err != nil {
			return nil, err
		}
		if held != nil {
			return nil, apperror.New(apperror.ErrCodeDuplicateDetected, "по платежу уже есть активный эскроу другой отправки")
		}
	}

	now := e.now()
	if err := e.decide(ctx, m, valueobject.MatchStatusAccepted, input.ActorID, now); err != nil {
		return nil, err
	}

	bound, err := e.bind(ctx, m, active, input)
	if err != nil {
		e.revertAccept(ctx, m, input.ActorID, err)
		return nil, err
	}
	return &AcceptResult{Match: m, Escrow: bound}, nil
}

// revertAccept возвращает предложение в pending, если перевозчика не удалось привязать к эскроу.
func (e *Engine) revertAccept(ctx context.Context, m *entity.MatchResult, actorID uuid.UUID, cause error) {
	ctx = context.WithoutCancel(ctx)
	now := e.now()
	fields := logrus.Fields{
		"match_id":    m.ID,
		"shipment_id": m.ShipmentID,
		"error":       cause,
	}

	ok, err := e.matches.CompareAndSetStatus(ctx, m.ID, valueobject.MatchStatusAccepted, valueobject.MatchStatusPending, now)
	if err != nil || !ok {
		e.log.WithFields(fields).WithField("revert_error", err).Error("matching: не удалось вернуть предложение в pending")
		return
	}
	m.Status = valueobject.MatchStatusPending
	m.UpdatedAt = now
	metrics.MatchDecisions.WithLabelValues("reverted").Inc()
	e.log.WithFields(fields).Warn("matching: эскроу не привязан, предложение возвращено в pending")

	if e.audit != nil {
		record := entity.NewAuditRejection(actorID, string(valueobject.MatchStatusAccepted), entity.EntityTypeMatch, m.ID, cause.Error(), now)
		if err := e.audit.Append(ctx, record); err != nil {
			e.log.WithFields(logrus.Fields{"match_id": m.ID, "error": err}).Error("matching: не удалось записать аудит")
		}
	}
}

// Reject отклоняет ожидающее предложение.
func (e *Engine) Reject(ctx context.Context, matchID, actorID uuid.UUID, role valueobject.Role) (*entity.MatchResult, error) {
	m, unlock, err := e.lockPending(ctx, matchID, actorID, role)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := e.decide(ctx, m, valueobject.MatchStatusRejected, actorID, e.now()); err != nil {
		return nil, err
	}
	return m, nil
}

// Get возвращает предложение, просроченное переводится в expired.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*entity.MatchResult, error) {
	m, err := e.matches.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.expireIfStale(ctx, m, e.now()); err != nil {
		return nil, err
	}
	return m, nil
}

// ListByShipment предложения по отправке в порядке ранжирования.
func (e *Engine) ListByShipment(ctx context.Context, shipmentID uuid.UUID) ([]*entity.MatchResult, error) {
	list, err := e.matches.ListByShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	for _, m := range list {
		if err := e.expireIfStale(ctx, m, now); err != nil {
			return nil, err
		}
	}
	rank(list)
	return list, nil
}

// ExpireStale переводит все просроченные pending в expired.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	n, err := e.matches.ExpirePending(ctx, e.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.MatchDecisions.WithLabelValues(string(valueobject.MatchStatusExpired)).Add(float64(n))
		e.log.WithField("expired", n).Info("matching: просроченные предложения закрыты")
	}
	return n, nil
}

// lockPending проверяет права, берёт блокировку отправки и убеждается, что предложение ещё ожидает решения.
func (e *Engine) lockPending(ctx context.Context, matchID, actorID uuid.UUID, role valueobject.Role) (*entity.MatchResult, func(), error) {
	if role != valueobject.RoleTransporter && role != valueobject.RoleAdmin {
		return nil, nil, apperror.ErrForbidden
	}

	m, err := e.matches.Get(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	if role == valueobject.RoleTransporter && m.TransporterID != actorID {
		return nil, nil, apperror.New(apperror.ErrCodeForbidden, "предложение адресовано другому перевозчику")
	}

	unlock, err := e.locker.Lock(ctx, "matches:"+m.ShipmentID.String())
	if err != nil {
		return nil, nil, err
	}

	// повторное чтение под блокировкой
	m, err = e.matches.Get(ctx, matchID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	now := e.now()
	if err := e.expireIfStale(ctx, m, now); err != nil {
		unlock()
		return nil, nil, err
	}
	if !m.IsPending() {
		unlock()
		return nil, nil, entity.AlreadyDecided(m.Status)
	}
	return m, unlock, nil
}

// decide атомарно меняет статус pending на to.
func (e *Engine) decide(ctx context.Context, m *entity.MatchResult, to valueobject.MatchStatus, actorID uuid.UUID, now time.Time) error {
	ok, err := e.matches.CompareAndSetStatus(ctx, m.ID, valueobject.MatchStatusPending, to, now)
	if err != nil {
		return err
	}
	if !ok {
		current, err := e.matches.Get(ctx, m.ID)
		if err != nil {
			return err
		}
		return entity.AlreadyDecided(current.Status)
	}

	from := m.Status
	if err := m.TransitionTo(to, now); err != nil {
		return err
	}
	metrics.MatchDecisions.WithLabelValues(string(to)).Inc()

	if e.audit != nil {
		record := entity.NewAuditChange(actorID, string(to), entity.EntityTypeMatch, m.ID,
			map[string]any{"status": from}, map[string]any{"status": to}, now)
		if err := e.audit.Append(ctx, record); err != nil {
			e.log.WithFields(logrus.Fields{"match_id": m.ID, "error": err}).Error("matching: не удалось записать аудит")
		}
	}
	return nil
}

func (e *Engine) expireIfStale(ctx context.Context, m *entity.MatchResult, now time.Time) error {
	if !m.IsExpiredAt(now) {
		return nil
	}
	ok, err := e.matches.CompareAndSetStatus(ctx, m.ID, valueobject.MatchStatusPending, valueobject.MatchStatusExpired, now)
	if err != nil {
		return err
	}
	if ok {
		metrics.MatchDecisions.WithLabelValues(string(valueobject.MatchStatusExpired)).Inc()
		m.Status = valueobject.MatchStatusExpired
		m.UpdatedAt = now
		return nil
	}
	current, err := e.matches.Get(ctx, m.ID)
	if err != nil {
		return err
	}
	*m = *current
	return nil
}

func (e *Engine) activeEscrow(ctx context.Context, shipmentID uuid.UUID) (*entity.Escrow, error) {
	if e.escrows == nil {
		return nil, nil
	}
	list, err := e.escrows.ListByShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	for _, es := range list {
		if es.State.IsNonTerminal() {
			return es, nil
		}
	}
	return nil, nil
}

// bind привязывает перевозчика к активному эскроу отправки или создаёт новый по PaymentID.
func (e *Engine) bind(ctx context.Context, m *entity.MatchResult, active *entity.Escrow, input AcceptInput) (*entity.Escrow, error) {
	if e.escrows == nil {
		return nil, nil
	}
	if active == nil {
		if input.PaymentID == "" {
			return nil, nil
		}
		created, err := e.escrows.Create(ctx, escrow.CreateInput{
			ShipmentID: m.ShipmentID,
			PaymentID:  input.PaymentID,
			ShipperID:  m.ShipperID,
			Amount:     m.Pricing.Gross,
		})
		if err != nil {
			return nil, err
		}
		active = created.Escrow
	}

	return e.escrows.AssignTransporter(ctx, escrow.AssignInput{
		EscrowID:      active.ID,
		TransporterID: m.TransporterID,
		ActorID:       input.ActorID,
		Role:          input.Role,
	})
}

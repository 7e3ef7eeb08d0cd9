package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
)

type escrowRow struct {
	ID            uuid.UUID       `db:"id"`
	ShipmentID    uuid.UUID       `db:"shipment_id"`
	PaymentID     string          `db:"payment_id"`
	ShipperID     uuid.UUID       `db:"shipper_id"`
	TransporterID uuid.NullUUID   `db:"transporter_id"`
	Amount        decimal.Decimal `db:"amount"`
	FeeRate       decimal.Decimal `db:"fee_rate"`
	PlatformFee   decimal.Decimal `db:"platform_fee"`
	NetAmount     decimal.Decimal `db:"net_amount"`
	State         string          `db:"state"`
	StateHistory  string          `db:"state_history"`
	Settlement    sql.NullString  `db:"settlement"`
	Version       int             `db:"version"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

const escrowColumns = `id, shipment_id, payment_id, shipper_id, transporter_id, amount, fee_rate,
	platform_fee, net_amount, state, state_history, settlement, version, created_at, updated_at`

func newEscrowRow(e *entity.Escrow) (escrowRow, error) {
	history, err := json.Marshal(e.StateHistory)
	if err != nil {
		return escrowRow{}, fmt.Errorf("escrow %s: history: %w", e.ID, err)
	}
	row := escrowRow{
		ID:           e.ID,
		ShipmentID:   e.ShipmentID,
		PaymentID:    e.PaymentID,
		ShipperID:    e.ShipperID,
		Amount:       e.Amount,
		FeeRate:      e.FeeRate,
		PlatformFee:  e.PlatformFee,
		NetAmount:    e.NetAmount,
		State:        string(e.State),
		StateHistory: string(history),
		Version:      e.Version,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	if e.TransporterID != nil {
		row.TransporterID = uuid.NullUUID{UUID: *e.TransporterID, Valid: true}
	}
	if e.Settlement != nil {
		raw, err := json.Marshal(e.Settlement)
		if err != nil {
			return escrowRow{}, fmt.Errorf("escrow %s: settlement: %w", e.ID, err)
		}
		row.Settlement = sql.NullString{String: string(raw), Valid: true}
	}
	return row, nil
}

func (r escrowRow) toEntity() (*entity.Escrow, error) {
	e := &entity.Escrow{
		ID:          r.ID,
		ShipmentID:  r.ShipmentID,
		PaymentID:   r.PaymentID,
		ShipperID:   r.ShipperID,
		Amount:      r.Amount,
		FeeRate:     r.FeeRate,
		PlatformFee: r.PlatformFee,
		NetAmount:   r.NetAmount,
		State:       valueobject.EscrowState(r.State),
		Version:     r.Version,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.TransporterID.Valid {
		id := r.TransporterID.UUID
		e.TransporterID = &id
	}
	if err := json.Unmarshal([]byte(r.StateHistory), &e.StateHistory); err != nil {
		return nil, fmt.Errorf("escrow %s: history: %w", r.ID, err)
	}
	if r.Settlement.Valid {
		e.Settlement = &entity.SettlementFailure{}
		if err := json.Unmarshal([]byte(r.Settlement.String), e.Settlement); err != nil {
			return nil, fmt.Errorf("escrow %s: settlement: %w", r.ID, err)
		}
	}
	return e, nil
}

type disputeRow struct {
	ID         uuid.UUID      `db:"id"`
	EscrowID   uuid.UUID      `db:"escrow_id"`
	RaisedBy   uuid.UUID      `db:"raised_by"`
	Reason     string         `db:"reason"`
	ReviewerID uuid.NullUUID  `db:"reviewer_id"`
	Resolution sql.NullString `db:"resolution"`
	Outcome    sql.NullString `db:"outcome"`
	Status     string         `db:"status"`
	CreatedAt  time.Time      `db:"created_at"`
	ResolvedAt sql.NullTime   `db:"resolved_at"`
}

func newDisputeRow(d *entity.Dispute) disputeRow {
	row := disputeRow{
		ID:        d.ID,
		EscrowID:  d.EscrowID,
		RaisedBy:  d.RaisedBy,
		Reason:    d.Reason,
		Status:    string(d.Status),
		CreatedAt: d.CreatedAt,
	}
	if d.ReviewerID != nil {
		row.ReviewerID = uuid.NullUUID{UUID: *d.ReviewerID, Valid: true}
	}
	if d.Resolution != nil {
		row.Resolution = sql.NullString{String: *d.Resolution, Valid: true}
	}
	if d.Outcome != nil {
		row.Outcome = sql.NullString{String: string(*d.Outcome), Valid: true}
	}
	if d.ResolvedAt != nil {
		row.ResolvedAt = sql.NullTime{Time: *d.ResolvedAt, Valid: true}
	}
	return row
}

func (r disputeRow) toEntity() *entity.Dispute {
	d := &entity.Dispute{
		ID:        r.ID,
		EscrowID:  r.EscrowID,
		RaisedBy:  r.RaisedBy,
		Reason:    r.Reason,
		Status:    valueobject.DisputeStatus(r.Status),
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.ReviewerID.Valid {
		id := r.ReviewerID.UUID
		d.ReviewerID = &id
	}
	if r.Resolution.Valid {
		s := r.Resolution.String
		d.Resolution = &s
	}
	if r.Outcome.Valid {
		o := valueobject.DisputeOutcome(r.Outcome.String)
		d.Outcome = &o
	}
	if r.ResolvedAt.Valid {
		t := r.ResolvedAt.Time.UTC()
		d.ResolvedAt = &t
	}
	return d
}

type matchRow struct {
	ID            uuid.UUID       `db:"id"`
	ShipmentID    uuid.UUID       `db:"shipment_id"`
	ShipperID     uuid.UUID       `db:"shipper_id"`
	TransporterID uuid.UUID       `db:"transporter_id"`
	DeclaredPrice decimal.Decimal `db:"declared_price"`
	MatchScore    int             `db:"match_score"`
	Breakdown     string          `db:"breakdown"`
	GrossPrice    decimal.Decimal `db:"gross_price"`
	PlatformFee   decimal.Decimal `db:"platform_fee"`
	NetEarnings   decimal.Decimal `db:"net_earnings"`
	Status        string          `db:"status"`
	NeedsReview   bool            `db:"needs_review"`
	ReviewReasons pq.StringArray  `db:"review_reasons"`
	Rating        float64         `db:"rating"`
	AvailableFrom time.Time       `db:"available_from"`
	ExpiresAt     time.Time       `db:"expires_at"`
	NotifiedAt    sql.NullTime    `db:"notified_at"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

const matchColumns = `id, shipment_id, shipper_id, transporter_id, declared_price, match_score, breakdown,
	gross_price, platform_fee, net_earnings, status, needs_review, review_reasons, rating,
	available_from, expires_at, notified_at, created_at, updated_at`

func newMatchRow(m *entity.MatchResult) (matchRow, error) {
	breakdown, err := json.Marshal(m.Breakdown)
	if err != nil {
		return matchRow{}, fmt.Errorf("match %s: breakdown: %w", m.ID, err)
	}
	reasons := pq.StringArray(m.ReviewReasons)
	if reasons == nil {
		reasons = pq.StringArray{}
	}
	row := matchRow{
		ID:            m.ID,
		ShipmentID:    m.ShipmentID,
		ShipperID:     m.ShipperID,
		TransporterID: m.TransporterID,
		DeclaredPrice: m.DeclaredPrice,
		MatchScore:    m.MatchScore,
		Breakdown:     string(breakdown),
		GrossPrice:    m.Pricing.Gross,
		PlatformFee:   m.Pricing.PlatformFee,
		NetEarnings:   m.Pricing.Net,
		Status:        string(m.Status),
		NeedsReview:   m.NeedsReview,
		ReviewReasons: reasons,
		Rating:        m.Rating,
		AvailableFrom: m.AvailableFrom,
		ExpiresAt:     m.ExpiresAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.NotifiedAt != nil {
		row.NotifiedAt = sql.NullTime{Time: *m.NotifiedAt, Valid: true}
	}
	return row, nil
}

func (r matchRow) toEntity() (*entity.MatchResult, error) {
	m := &entity.MatchResult{
		ID:            r.ID,
		ShipmentID:    r.ShipmentID,
		ShipperID:     r.ShipperID,
		TransporterID: r.TransporterID,
		DeclaredPrice: r.DeclaredPrice,
		MatchScore:    r.MatchScore,
		Pricing: valueobject.Pricing{
			Gross:       r.GrossPrice,
			PlatformFee: r.PlatformFee,
			Net:         r.NetEarnings,
		},
		Status:        valueobject.MatchStatus(r.Status),
		NeedsReview:   r.NeedsReview,
		ReviewReasons: []string(r.ReviewReasons),
		Rating:        r.Rating,
		AvailableFrom: r.AvailableFrom.UTC(),
		ExpiresAt:     r.ExpiresAt.UTC(),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.Breakdown), &m.Breakdown); err != nil {
		return nil, fmt.Errorf("match %s: breakdown: %w", r.ID, err)
	}
	if r.NotifiedAt.Valid {
		t := r.NotifiedAt.Time.UTC()
		m.NotifiedAt = &t
	}
	return m, nil
}

type auditRow struct {
	ID         uuid.UUID      `db:"id"`
	UserID     uuid.NullUUID  `db:"user_id"`
	Action     string         `db:"action"`
	EntityType string         `db:"entity_type"`
	EntityID   uuid.UUID      `db:"entity_id"`
	Before     sql.NullString `db:"before"`
	After      sql.NullString `db:"after"`
	Reason     sql.NullString `db:"reason"`
	CreatedAt  time.Time      `db:"created_at"`
}

func newAuditRow(a *entity.AuditRecord) auditRow {
	row := auditRow{
		ID:         a.ID,
		Action:     a.Action,
		EntityType: a.EntityType,
		EntityID:   a.EntityID,
		Before:     jsonText(a.Before),
		After:      jsonText(a.After),
		CreatedAt:  a.Timestamp,
	}
	if a.UserID != nil {
		row.UserID = uuid.NullUUID{UUID: *a.UserID, Valid: true}
	}
	if a.Reason != nil {
		row.Reason = sql.NullString{String: *a.Reason, Valid: true}
	}
	return row
}

func (r auditRow) toEntity() *entity.AuditRecord {
	a := &entity.AuditRecord{
		ID:         r.ID,
		Action:     r.Action,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Before:     rawJSON(r.Before),
		After:      rawJSON(r.After),
		Timestamp:  r.CreatedAt.UTC(),
	}
	if r.UserID.Valid {
		id := r.UserID.UUID
		a.UserID = &id
	}
	if r.Reason.Valid {
		s := r.Reason.String
		a.Reason = &s
	}
	return a
}

type outboxRow struct {
	ID          uuid.UUID      `db:"id"`
	EventType   string         `db:"event_type"`
	AggregateID uuid.UUID      `db:"aggregate_id"`
	Recipients  pq.StringArray `db:"recipients"`
	Payload     string         `db:"payload"`
	Status      string         `db:"status"`
	Attempts    int            `db:"attempts"`
	LastError   sql.NullString `db:"last_error"`
	CreatedAt   time.Time      `db:"created_at"`
	PublishedAt sql.NullTime   `db:"published_at"`
}

const outboxColumns = `id, event_type, aggregate_id, recipients, payload, status, attempts, last_error, created_at, published_at`

func newOutboxRow(e *entity.OutboxEvent) outboxRow {
	recipients := make(pq.StringArray, 0, len(e.Recipients))
	for _, id := range e.Recipients {
		recipients = append(recipients, id.String())
	}
	row := outboxRow{
		ID:          e.ID,
		EventType:   string(e.EventType),
		AggregateID: e.AggregateID,
		Recipients:  recipients,
		Payload:     string(e.Payload),
		Status:      string(e.Status),
		Attempts:    e.Attempts,
		CreatedAt:   e.CreatedAt,
	}
	if e.LastError != nil {
		row.LastError = sql.NullString{String: *e.LastError, Valid: true}
	}
	if e.PublishedAt != nil {
		row.PublishedAt = sql.NullTime{Time: *e.PublishedAt, Valid: true}
	}
	return row
}

func (r outboxRow) toEntity() (*entity.OutboxEvent, error) {
	e := &entity.OutboxEvent{
		ID:          r.ID,
		EventType:   valueobject.EventType(r.EventType),
		AggregateID: r.AggregateID,
		Recipients:  make([]uuid.UUID, 0, len(r.Recipients)),
		Payload:     json.RawMessage(r.Payload),
		Status:      valueobject.OutboxStatus(r.Status),
		Attempts:    r.Attempts,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	for _, s := range r.Recipients {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("outbox %s: recipient %q: %w", r.ID, s, err)
		}
		e.Recipients = append(e.Recipients, id)
	}
	if r.LastError.Valid {
		s := r.LastError.String
		e.LastError = &s
	}
	if r.PublishedAt.Valid {
		t := r.PublishedAt.Time.UTC()
		e.PublishedAt = &t
	}
	return e, nil
}

// jsonText JSON передаётся в pq строкой: []byte ушёл бы как bytea. Пустой снимок хранится как NULL.
func jsonText(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func rawJSON(s sql.NullString) json.RawMessage {
	if !s.Valid {
		return nil
	}
	return json.RawMessage(s.String)
}

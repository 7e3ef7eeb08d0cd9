package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/validation"
)

// CreateEscrowRequest ShipperID учитывается только для admin, иначе отправитель это автор запроса.
type CreateEscrowRequest struct {
	ShipmentID uuid.UUID        `json:"shipment_id" binding:"required"`
	PaymentID  string           `json:"payment_id" binding:"required"`
	ShipperID  *uuid.UUID       `json:"shipper_id"`
	Amount     decimal.Decimal  `json:"amount"`
	FeeRate    *decimal.Decimal `json:"fee_rate"`
}

func (r CreateEscrowRequest) Validate() error {
	return validation.ValidatePaymentID(r.PaymentID)
}

type AssignTransporterRequest struct {
	TransporterID uuid.UUID `json:"transporter_id" binding:"required"`
}

type TransitionRequest struct {
	Action     string            `json:"action" binding:"required"`
	Reason     string            `json:"reason"`
	Resolution string            `json:"resolution"`
	Metadata   map[string]string `json:"metadata"`
}

func (r TransitionRequest) Validate() error {
	return validation.First(
		validation.ValidateOptionalText("reason", r.Reason, validation.MaxReasonLength),
		validation.ValidateOptionalText("resolution", r.Resolution, validation.MaxResolutionLength),
		validation.ValidateMetadata(r.Metadata),
	)
}

// ToMetadata собирает метаданные перехода; явные поля важнее metadata.
func (r TransitionRequest) ToMetadata() map[string]string {
	out := make(map[string]string, len(r.Metadata)+2)
	for k, v := range r.Metadata {
		out[k] = v
	}
	if r.Reason != "" {
		out["reason"] = r.Reason
	}
	if r.Resolution != "" {
		out["resolution"] = r.Resolution
	}
	return out
}

type ResolveDisputeRequest struct {
	Outcome    string `json:"outcome" binding:"required"`
	Resolution string `json:"resolution" binding:"required"`
}

func (r ResolveDisputeRequest) Validate() error {
	return validation.ValidateOptionalText("resolution", r.Resolution, validation.MaxResolutionLength)
}

type EscrowResponse struct {
	ID            uuid.UUID                 `json:"id"`
	ShipmentID    uuid.UUID                 `json:"shipment_id"`
	PaymentID     string                    `json:"payment_id"`
	ShipperID     uuid.UUID                 `json:"shipper_id"`
	TransporterID *uuid.UUID                `json:"transporter_id"`
	Amount        decimal.Decimal           `json:"amount"`
	FeeRate       decimal.Decimal           `json:"fee_rate"`
	PlatformFee   decimal.Decimal           `json:"platform_fee"`
	NetAmount     decimal.Decimal           `json:"net_amount"`
	State         valueobject.EscrowState   `json:"state"`
	StateHistory  []entity.HistoryEntry     `json:"state_history"`
	Settlement    *entity.SettlementFailure `json:"settlement_failure,omitempty"`
	Version       int                       `json:"version"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

func NewEscrowResponse(e *entity.Escrow) EscrowResponse {
	return EscrowResponse{
		ID:            e.ID,
		ShipmentID:    e.ShipmentID,
		PaymentID:     e.PaymentID,
		ShipperID:     e.ShipperID,
		TransporterID: e.TransporterID,
		Amount:        e.Amount,
		FeeRate:       e.FeeRate,
		PlatformFee:   e.PlatformFee,
		NetAmount:     e.NetAmount,
		State:         e.State,
		StateHistory:  e.StateHistory,
		Settlement:    e.Settlement,
		Version:       e.Version,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func NewEscrowList(list []*entity.Escrow) []EscrowResponse {
	out := make([]EscrowResponse, 0, len(list))
	for _, e := range list {
		out = append(out, NewEscrowResponse(e))
	}
	return out
}

type DisputeResponse struct {
	ID         uuid.UUID                   `json:"id"`
	EscrowID   uuid.UUID                   `json:"escrow_id"`
	RaisedBy   uuid.UUID                   `json:"raised_by"`
	Reason     string                      `json:"reason"`
	ReviewerID *uuid.UUID                  `json:"reviewer_id"`
	Resolution *string                     `json:"resolution"`
	Outcome    *valueobject.DisputeOutcome `json:"outcome"`
	Status     valueobject.DisputeStatus   `json:"status"`
	CreatedAt  time.Time                   `json:"created_at"`
	ResolvedAt *time.Time                  `json:"resolved_at"`
}

func NewDisputeResponse(d *entity.Dispute) DisputeResponse {
	return DisputeResponse{
		ID:         d.ID,
		EscrowID:   d.EscrowID,
		RaisedBy:   d.RaisedBy,
		Reason:     d.Reason,
		ReviewerID: d.ReviewerID,
		Resolution: d.Resolution,
		Outcome:    d.Outcome,
		Status:     d.Status,
		CreatedAt:  d.CreatedAt,
		ResolvedAt: d.ResolvedAt,
	}
}

package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/validation"
)

type ShipmentRequest struct {
	ShipperID     *uuid.UUID      `json:"shipper_id"`
	Origin        entity.Location `json:"origin"`
	Destination   entity.Location `json:"destination"`
	WeightKg      float64         `json:"weight_kg"`
	DeclaredPrice decimal.Decimal `json:"declared_price"`
	CargoType     string          `json:"cargo_type"`
	PickupDate    time.Time       `json:"pickup_date"`
	DeliveryDate  time.Time       `json:"delivery_date"`
	Urgent        bool            `json:"urgent"`
}

type CandidateRequest struct {
	TransporterID      uuid.UUID         `json:"transporter_id"`
	Rating             float64           `json:"rating"`
	VerificationLevel  string            `json:"verification_level"`
	CapacityKg         float64           `json:"capacity_kg"`
	CurrentLocation    entity.Location   `json:"current_location"`
	ReturnLeg          *entity.ReturnLeg `json:"return_leg"`
	ResponsivenessRate *float64          `json:"responsiveness_rate"`
	AvailableFrom      time.Time         `json:"available_from"`
	QuotedPrice        *decimal.Decimal  `json:"quoted_price"`
}

type ProposeMatchesRequest struct {
	Shipment   ShipmentRequest    `json:"shipment"`
	Candidates []CandidateRequest `json:"candidates"`
}

func (r ProposeMatchesRequest) Validate() error {
	return validation.First(
		validation.ValidateCandidateCount(len(r.Candidates)),
		validation.ValidateRegion("origin.region", r.Shipment.Origin.Region),
		validation.ValidateRegion("destination.region", r.Shipment.Destination.Region),
		validation.ValidateOptionalText("cargo_type", r.Shipment.CargoType, validation.MaxCargoTypeLength),
	)
}

// ToShipment id берётся из пути, отправитель из токена, если его не задал admin.
func (r ShipmentRequest) ToShipment(id, shipperID uuid.UUID) *entity.Shipment {
	return &entity.Shipment{
		ID:            id,
		ShipperID:     shipperID,
		Origin:        r.Origin,
		Destination:   r.Destination,
		WeightKg:      r.WeightKg,
		DeclaredPrice: r.DeclaredPrice,
		CargoType:     r.CargoType,
		PickupDate:    r.PickupDate,
		DeliveryDate:  r.DeliveryDate,
		Urgent:        r.Urgent,
	}
}

func (r CandidateRequest) ToCandidate() entity.Candidate {
	return entity.Candidate{
		TransporterID:      r.TransporterID,
		Rating:             r.Rating,
		VerificationLevel:  valueobject.VerificationLevel(r.VerificationLevel),
		CapacityKg:         r.CapacityKg,
		CurrentLocation:    r.CurrentLocation,
		ReturnLeg:          r.ReturnLeg,
		ResponsivenessRate: r.ResponsivenessRate,
		AvailableFrom:      r.AvailableFrom,
		QuotedPrice:        r.QuotedPrice,
	}
}

type AcceptMatchRequest struct {
	PaymentID string `json:"payment_id"`
}

func (r AcceptMatchRequest) Validate() error {
	if r.PaymentID == "" {
		return nil
	}
	return validation.ValidatePaymentID(r.PaymentID)
}

type MatchResponse struct {
	ID            uuid.UUID               `json:"id"`
	ShipmentID    uuid.UUID               `json:"shipment_id"`
	TransporterID uuid.UUID               `json:"transporter_id"`
	MatchScore    int                     `json:"match_score"`
	Breakdown     entity.ScoreBreakdown   `json:"breakdown"`
	Pricing       valueobject.Pricing     `json:"pricing"`
	Status        valueobject.MatchStatus `json:"status"`
	NeedsReview   bool                    `json:"needs_review"`
	ReviewReasons []string                `json:"review_reasons"`
	Rating        float64                 `json:"rating"`
	AvailableFrom time.Time               `json:"available_from"`
	ExpiresAt     time.Time               `json:"expires_at"`
	NotifiedAt    *time.Time              `json:"notified_at"`
}

func NewMatchResponse(m *entity.MatchResult) MatchResponse {
	reasons := m.ReviewReasons
	if reasons == nil {
		reasons = []string{}
	}
	return MatchResponse{
		ID:            m.ID,
		ShipmentID:    m.ShipmentID,
		TransporterID: m.TransporterID,
		MatchScore:    m.MatchScore,
		Breakdown:     m.Breakdown,
		Pricing:       m.Pricing,
		Status:        m.Status,
		NeedsReview:   m.NeedsReview,
		ReviewReasons: reasons,
		Rating:        m.Rating,
		AvailableFrom: m.AvailableFrom,
		ExpiresAt:     m.ExpiresAt,
		NotifiedAt:    m.NotifiedAt,
	}
}

func NewMatchList(list []*entity.MatchResult) []MatchResponse {
	out := make([]MatchResponse, 0, len(list))
	for _, m := range list {
		out = append(out, NewMatchResponse(m))
	}
	return out
}

type AcceptMatchResponse struct {
	Match  MatchResponse   `json:"match"`
	Escrow *EscrowResponse `json:"escrow,omitempty"`
}

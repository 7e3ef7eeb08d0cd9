package entity

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freight-escrow/internal/domain/invariant"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
)

// Location точка маршрута: регион и, если известны, координаты.
type Location struct {
	Region string   `json:"region"`
	Lat    *float64 `json:"lat,omitempty"`
	Lon    *float64 `json:"lon,omitempty"`
}

func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lon != nil
}

// SameRegion сравнивает регионы без учёта регистра.
func (l Location) SameRegion(other Location) bool {
	a, b := strings.TrimSpace(l.Region), strings.TrimSpace(other.Region)
	return a != "" && strings.EqualFold(a, b)
}

const earthRadiusKm = 6371.0

// DistanceKm расстояние по большому кругу. ok=false без координат.
func (l Location) DistanceKm(other Location) (float64, bool) {
	if !l.HasCoordinates() || !other.HasCoordinates() {
		return 0, false
	}
	lat1, lat2 := *l.Lat*math.Pi/180, *other.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLon := (*other.Lon - *l.Lon) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a))), true
}

// Shipment отправка, для которой подбирается перевозчик. Ядро её не изменяет.
type Shipment struct {
	ID            uuid.UUID
	ShipperID     uuid.UUID
	Origin        Location
	Destination   Location
	WeightKg      float64
	DeclaredPrice decimal.Decimal
	CargoType     string
	PickupDate    time.Time
	DeliveryDate  time.Time
	Urgent        bool
}

// Validate проверяет поля отправки.
func (s *Shipment) Validate(now time.Time) error {
	return invariant.First(
		invariant.ValidateRequiredID("shipment_id", s.ID),
		invariant.ValidateShipment(invariant.ShipmentFields{
			WeightKg:      s.WeightKg,
			DeclaredPrice: s.DeclaredPrice,
			PickupDate:    s.PickupDate,
			DeliveryDate:  s.DeliveryDate,
			Origin:        s.Origin.Region,
			Destination:   s.Destination.Region,
		}, now),
	)
}

// ReturnLeg запланированный обратный рейс перевозчика.
type ReturnLeg struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Candidate перевозчик из пула кандидатов.
type Candidate struct {
	TransporterID      uuid.UUID
	Rating             float64
	VerificationLevel  valueobject.VerificationLevel
	CapacityKg         float64
	CurrentLocation    Location
	ReturnLeg          *ReturnLeg
	ResponsivenessRate *float64
	AvailableFrom      time.Time
	QuotedPrice        *decimal.Decimal
}

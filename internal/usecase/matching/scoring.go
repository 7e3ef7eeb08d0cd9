package matching

import (
	"fmt"
	"math"

	"github.com/BurntSushi/toml"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
)

// Weights веса составляющих оценки. Сумма должна быть равна 1.
type Weights struct {
	Route          float64 `toml:"route"`
	Capacity       float64 `toml:"capacity"`
	Rating         float64 `toml:"rating"`
	Responsiveness float64 `toml:"responsiveness"`
}

type ScoringConfig struct {
	Weights       Weights `toml:"weights"`
	BackhaulBonus float64 `toml:"backhaul_bonus"`
	MaxDeadheadKm float64 `toml:"max_deadhead_km"`
}

const (
	weightsTolerance = 0.001

	// fullUtilization загрузка, начиная с которой вместимость считается идеальной.
	fullUtilization        = 0.6
	regionMismatchRouteFit = 0.3
	defaultResponsiveness  = 0.5
	maxRating              = 5.0
)

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights: Weights{
			Route:          0.35,
			Capacity:       0.25,
			Rating:         0.25,
			Responsiveness: 0.15,
		},
		BackhaulBonus: 0.10,
		MaxDeadheadKm: 300,
	}
}

// LoadScoringConfig читает веса из TOML. Отсутствующие ключи берутся по умолчанию.
func LoadScoringConfig(path string) (ScoringConfig, error) {
	cfg := DefaultScoringConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("matching: не удалось прочитать веса из %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c ScoringConfig) Validate() error {
	w := c.Weights
	for name, v := range map[string]float64{
		"route":          w.Route,
		"capacity":       w.Capacity,
		"rating":         w.Rating,
		"responsiveness": w.Responsiveness,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("matching: вес %s не может быть отрицательным", name)
		}
	}
	sum := w.Route + w.Capacity + w.Rating + w.Responsiveness
	if math.Abs(sum-1) > weightsTolerance {
		return fmt.Errorf("matching: сумма весов должна быть равна 1, получено %.3f", sum)
	}
	if c.BackhaulBonus < 0 || c.BackhaulBonus > 1 {
		return fmt.Errorf("matching: бонус обратного рейса должен быть от 0 до 1")
	}
	if c.MaxDeadheadKm <= 0 {
		return fmt.Errorf("matching: max_deadhead_km должен быть больше нуля")
	}
	return nil
}

// Score считает оценку кандидата. Чистая функция, безопасна для параллельного вызова.
func Score(cfg ScoringConfig, s *entity.Shipment, c entity.Candidate) (int, entity.ScoreBreakdown) {
	b := entity.ScoreBreakdown{
		Route:          routeFit(cfg, s, c),
		Capacity:       capacityFit(s.WeightKg, c.CapacityKg),
		Rating:         clamp01(c.Rating / maxRating),
		Responsiveness: defaultResponsiveness,
		Backhaul:       backhaulBonus(cfg, s, c),
	}
	if c.ResponsivenessRate != nil {
		b.Responsiveness = clamp01(*c.ResponsivenessRate)
	}

	w := cfg.Weights
	composite := w.Route*b.Route +
		w.Capacity*b.Capacity +
		w.Rating*b.Rating +
		w.Responsiveness*b.Responsiveness +
		b.Backhaul

	return int(math.Round(100 * clamp01(composite))), b
}

// routeFit холостой пробег до точки погрузки; без координат сравниваются регионы.
func routeFit(cfg ScoringConfig, s *entity.Shipment, c entity.Candidate) float64 {
	if d, ok := c.CurrentLocation.DistanceKm(s.Origin); ok {
		return clamp01(1 - d/cfg.MaxDeadheadKm)
	}
	if c.CurrentLocation.SameRegion(s.Origin) {
		return 1
	}
	return regionMismatchRouteFit
}

func capacityFit(weightKg, capacityKg float64) float64 {
	if capacityKg <= 0 {
		return 0
	}
	u := weightKg / capacityKg
	if u >= fullUtilization {
		return 1
	}
	return clamp01(u / fullUtilization)
}

// backhaulBonus полный бонус, если обратный рейс совпадает с маршрутом, половина при частичном совпадении.
func backhaulBonus(cfg ScoringConfig, s *entity.Shipment, c entity.Candidate) float64 {
	if c.ReturnLeg == nil {
		return 0
	}
	from := entity.Location{Region: c.ReturnLeg.From}
	to := entity.Location{Region: c.ReturnLeg.To}

	matches := 0
	if from.SameRegion(s.Origin) {
		matches++
	}
	if to.SameRegion(s.Destination) {
		matches++
	}
	switch matches {
	case 2:
		return cfg.BackhaulBonus
	case 1:
		return cfg.BackhaulBonus / 2
	}
	return 0
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Package reconciliation сверяет эскроу и находит записи, требующие вмешательства.
package reconciliation

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/repository"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
)

const (
	ReasonDisputed         = "dispute awaiting review"
	ReasonStuckInTransit   = "stuck in transit"
	ReasonStuckPending     = "stuck pending"
	ReasonRefundPending    = "refund not processed"
	ReasonReleasePending   = "release not processed"
	ReasonSettlementFailed = "settlement failed after retries"
)

type Config struct {
	PendingStale   time.Duration
	InTransitStale time.Duration
	// Location часовой пояс, по которому считается начало дня для итогов.
	Location *time.Location
}

func DefaultConfig() Config {
	return Config{
		PendingStale:   24 * time.Hour,
		InTransitStale: 7 * 24 * time.Hour,
		Location:       time.UTC,
	}
}

// Flag запись, требующая внимания.
type Flag struct {
	EscrowID uuid.UUID               `json:"escrow_id"`
	State    valueobject.EscrowState `json:"state"`
	Reason   string                  `json:"reason"`
	AgeHours float64                 `json:"age_hours"`
}

type Report struct {
	GeneratedAt   time.Time                       `json:"generated_at"`
	Counts        map[valueobject.EscrowState]int `json:"counts"`
	ReleasedToday decimal.Decimal                 `json:"released_today"`
	RefundedToday decimal.Decimal                 `json:"refunded_today"`
	Flagged       []Flag                          `json:"flagged"`
}

// Sweeper только читает хранилище и не берёт блокировок.
type Sweeper struct {
	repo repository.EscrowRepository
	cfg  Config
	now  func() time.Time
	log  logrus.FieldLogger
}

func NewSweeper(repo repository.EscrowRepository, cfg Config, now func() time.Time, log logrus.FieldLogger) *Sweeper {
	def := DefaultConfig()
	if cfg.PendingStale <= 0 {
		cfg.PendingStale = def.PendingStale
	}
	if cfg.InTransitStale <= 0 {
		cfg.InTransitStale = def.InTransitStale
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Sweeper{repo: repo, cfg: cfg, now: now, log: log}
}

func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	all, err := s.repo.List(ctx, repository.EscrowFilter{})
	if err != nil {
		return nil, err
	}

	now := s.now()
	local := now.In(s.cfg.Location)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.cfg.Location)

	report := &Report{
		GeneratedAt:   now,
		Counts:        make(map[valueobject.EscrowState]int, len(valueobject.AllEscrowStates)),
		ReleasedToday: decimal.Zero,
		RefundedToday: decimal.Zero,
		Flagged:       []Flag{},
	}
	for _, st := range valueobject.AllEscrowStates {
		report.Counts[st] = 0
	}

	for _, e := range all {
		report.Counts[e.State]++

		if !e.UpdatedAt.Before(dayStart) {
			switch e.State {
			case valueobject.EscrowStateReleased:
				report.ReleasedToday = report.ReleasedToday.Add(e.NetAmount)
			case valueobject.EscrowStateRefunded:
				report.RefundedToday = report.RefundedToday.Add(e.Amount)
			}
		}

		report.Flagged = append(report.Flagged, s.flags(e, now)...)
	}

	sort.SliceStable(report.Flagged, func(i, j int) bool {
		return report.Flagged[i].AgeHours > report.Flagged[j].AgeHours
	})
	return report, nil
}

func (s *Sweeper) flags(e *entity.Escrow, now time.Time) []Flag {
	var out []Flag
	add := func(reason string, since time.Time) {
		out = append(out, Flag{
			EscrowID: e.ID,
			State:    e.State,
			Reason:   reason,
			AgeHours: now.Sub(since).Hours(),
		})
	}

	sinceUpdate := now.Sub(e.UpdatedAt)
	switch e.State {
	case valueobject.EscrowStateDisputed:
		add(ReasonDisputed, e.UpdatedAt)
	case valueobject.EscrowStateInTransit:
		if sinceUpdate > s.cfg.InTransitStale {
			add(ReasonStuckInTransit, e.UpdatedAt)
		}
	case valueobject.EscrowStatePending:
		if now.Sub(e.CreatedAt) > s.cfg.PendingStale {
			add(ReasonStuckPending, e.CreatedAt)
		}
	case valueobject.EscrowStateCancelled:
		if sinceUpdate > s.cfg.PendingStale {
			add(ReasonRefundPending, e.UpdatedAt)
		}
	case valueobject.EscrowStateCompleted:
		if sinceUpdate > s.cfg.PendingStale {
			add(ReasonReleasePending, e.UpdatedAt)
		}
	}
	if e.Settlement != nil {
		add(ReasonSettlementFailed, e.Settlement.FailedAt)
	}
	return out
}

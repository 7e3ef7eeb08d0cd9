package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/repository"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

type MatchRepository struct {
	db *sqlx.DB
}

func NewMatchRepository(db *sqlx.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

var _ repository.MatchRepository = (*MatchRepository)(nil)

// CreateBatch вставляет пачку одним запросом.
func (r *MatchRepository) CreateBatch(ctx context.Context, matches []*entity.MatchResult) error {
	if len(matches) == 0 {
		return nil
	}
	rows := make([]matchRow, 0, len(matches))
	for _, m := range matches {
		row, err := newMatchRow(m)
		if err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сериализовать предложение")
		}
		rows = append(rows, row)
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO match_results (`+matchColumns+`)
		VALUES (:id, :shipment_id, :shipper_id, :transporter_id, :declared_price, :match_score, :breakdown,
			:gross_price, :platform_fee, :net_earnings, :status, :needs_review, :review_reasons, :rating,
			:available_from, :expires_at, :notified_at, :created_at, :updated_at)
	`, rows)
	return dbError(err, "insert matches")
}

func (r *MatchRepository) Get(ctx context.Context, id uuid.UUID) (*entity.MatchResult, error) {
	var row matchRow
	err := r.db.GetContext(ctx, &row, `SELECT `+matchColumns+` FROM match_results WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrMatchNotFound
	}
	if err != nil {
		return nil, dbError(err, "get match")
	}
	return row.toEntity()
}

func (r *MatchRepository) ListByShipment(ctx context.Context, shipmentID uuid.UUID) ([]*entity.MatchResult, error) {
	var rows []matchRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT `+matchColumns+` FROM match_results WHERE shipment_id = $1 ORDER BY created_at
	`, shipmentID); err != nil {
		return nil, dbError(err, "list matches")
	}
	out := make([]*entity.MatchResult, 0, len(rows))
	for _, row := range rows {
		m, err := row.toEntity()
		if err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "повреждённая запись предложения")
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *MatchRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to valueobject.MatchStatus, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE match_results SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2
	`, id, string(from), string(to), at)
	if err != nil {
		return false, dbError(err, "update match status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbError(err, "update match status")
	}
	return n == 1, nil
}

func (r *MatchRepository) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE match_results SET notified_at = $2 WHERE id = $1`, id, at)
	return dbError(err, "mark match notified")
}

func (r *MatchRepository) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE match_results SET status = $1, updated_at = $3
		WHERE status = $2 AND expires_at < $3
	`, string(valueobject.MatchStatusExpired), string(valueobject.MatchStatusPending), now)
	if err != nil {
		return 0, dbError(err, "expire matches")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError(err, "expire matches")
	}
	return int(n), nil
}

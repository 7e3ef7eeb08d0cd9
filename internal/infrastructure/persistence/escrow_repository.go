package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/repository"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

// EscrowRepository реализует EscrowRepository и DisputeRepository.
// Put пишет эскроу, спор, аудит и события outbox одной транзакцией.
type EscrowRepository struct {
	db *sqlx.DB
}

func NewEscrowRepository(db *sqlx.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

var (
	_ repository.EscrowRepository  = (*EscrowRepository)(nil)
	_ repository.DisputeRepository = (*EscrowRepository)(nil)
)

func (r *EscrowRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Escrow, error) {
	var row escrowRow
	err := r.db.GetContext(ctx, &row, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrEscrowNotFound
	}
	if err != nil {
		return nil, dbError(err, "get escrow")
	}
	return row.toEntity()
}

func (r *EscrowRepository) Put(ctx context.Context, change repository.EscrowChange) error {
	if change.Escrow == nil {
		return apperror.New(apperror.ErrCodeInternal, "пустое изменение эскроу")
	}
	row, err := newEscrowRow(change.Escrow)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сериализовать эскроу")
	}

	return withTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if change.ExpectedVersion == 0 {
			if _, err := tx.NamedExecContext(ctx, `
				INSERT INTO escrows (`+escrowColumns+`)
				VALUES (:id, :shipment_id, :payment_id, :shipper_id, :transporter_id, :amount, :fee_rate,
					:platform_fee, :net_amount, :state, :state_history, :settlement, :version, :created_at, :updated_at)
			`, row); err != nil {
				return dbError(err, "insert escrow")
			}
		} else if err := updateEscrow(ctx, tx, row, change.ExpectedVersion); err != nil {
			return err
		}

		if change.Dispute != nil {
			if err := upsertDispute(ctx, tx, change.Dispute); err != nil {
				return err
			}
		}
		if change.Audit != nil {
			if err := insertAudit(ctx, tx, change.Audit); err != nil {
				return err
			}
		}
		return insertOutbox(ctx, tx, change.Events...)
	})
}

func updateEscrow(ctx context.Context, tx *sqlx.Tx, row escrowRow, expected int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE escrows SET
			transporter_id = $3, state = $4, state_history = $5, settlement = $6,
			version = $7, updated_at = $8
		WHERE id = $1 AND version = $2
			AND jsonb_array_length($5::jsonb) >= jsonb_array_length(state_history)
	`, row.ID, expected, row.TransporterID, row.State, row.StateHistory, row.Settlement, row.Version, row.UpdatedAt)
	if err != nil {
		return dbError(err, "update escrow")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err, "update escrow")
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM escrows WHERE id = $1)`, row.ID); err != nil {
		return dbError(err, "check escrow")
	}
	if !exists {
		return apperror.ErrEscrowNotFound
	}
	return apperror.ErrVersionConflict
}

func upsertDispute(ctx context.Context, tx *sqlx.Tx, d *entity.Dispute) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO disputes (id, escrow_id, raised_by, reason, reviewer_id, resolution, outcome, status, created_at, resolved_at)
		VALUES (:id, :escrow_id, :raised_by, :reason, :reviewer_id, :resolution, :outcome, :status, :created_at, :resolved_at)
		ON CONFLICT (escrow_id) DO UPDATE SET
			reviewer_id = EXCLUDED.reviewer_id,
			resolution  = EXCLUDED.resolution,
			outcome     = EXCLUDED.outcome,
			status      = EXCLUDED.status,
			resolved_at = EXCLUDED.resolved_at
	`, newDisputeRow(d))
	return dbError(err, "upsert dispute")
}

func (r *EscrowRepository) FindByShipment(ctx context.Context, shipmentID uuid.UUID) ([]*entity.Escrow, error) {
	return r.selectEscrows(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE shipment_id = $1 ORDER BY created_at`, shipmentID)
}

func (r *EscrowRepository) FindNonTerminalByPayment(ctx context.Context, paymentID string) (*entity.Escrow, error) {
	list, err := r.selectEscrows(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE payment_id = $1 AND state = ANY($2)
		LIMIT 1
	`, paymentID, pq.Array(stateStrings(valueobject.NonTerminalEscrowStates)))
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func (r *EscrowRepository) List(ctx context.Context, filter repository.EscrowFilter) ([]*entity.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE TRUE`
	var args []any
	if len(filter.States) > 0 {
		args = append(args, pq.Array(stateStrings(filter.States)))
		query += ` AND state = ANY($1)`
	}
	if filter.UpdatedSince != nil {
		args = append(args, *filter.UpdatedSince)
		query += ` AND updated_at >= $` + placeholder(len(args))
	}
	query += ` ORDER BY created_at`
	return r.selectEscrows(ctx, query, args...)
}

func (r *EscrowRepository) GetByEscrow(ctx context.Context, escrowID uuid.UUID) (*entity.Dispute, error) {
	var row disputeRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, escrow_id, raised_by, reason, reviewer_id, resolution, outcome, status, created_at, resolved_at
		FROM disputes WHERE escrow_id = $1
	`, escrowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrDisputeNotFound
	}
	if err != nil {
		return nil, dbError(err, "get dispute")
	}
	return row.toEntity(), nil
}

func (r *EscrowRepository) selectEscrows(ctx context.Context, query string, args ...any) ([]*entity.Escrow, error) {
	var rows []escrowRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, dbError(err, "select escrows")
	}
	out := make([]*entity.Escrow, 0, len(rows))
	for _, row := range rows {
		e, err := row.toEntity()
		if err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "повреждённая запись эскроу")
		}
		out = append(out, e)
	}
	return out, nil
}

func stateStrings(states []valueobject.EscrowState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

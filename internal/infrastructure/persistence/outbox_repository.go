package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/repository"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

type OutboxRepository struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

var _ repository.OutboxRepository = (*OutboxRepository)(nil)

func (r *OutboxRepository) Append(ctx context.Context, events ...*entity.OutboxEvent) error {
	return insertOutbox(ctx, r.db, events...)
}

func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]*entity.OutboxEvent, error) {
	var rows []outboxRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT `+outboxColumns+` FROM outbox_events
		WHERE status = $1 ORDER BY created_at LIMIT $2
	`, string(valueobject.OutboxStatusPending), limit); err != nil {
		return nil, dbError(err, "list outbox")
	}
	out := make([]*entity.OutboxEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toEntity()
		if err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "повреждённое событие outbox")
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = $2, published_at = $3, attempts = attempts + 1 WHERE id = $1
	`, id, string(valueobject.OutboxStatusPublished), at)
	return affectedOne(res, err, "mark outbox published")
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxAttempts int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events SET
			attempts = attempts + 1,
			last_error = $2,
			status = CASE WHEN $3 > 0 AND attempts + 1 >= $3 THEN $4 ELSE status END
		WHERE id = $1
	`, id, reason, maxAttempts, string(valueobject.OutboxStatusFailed))
	return affectedOne(res, err, "mark outbox failed")
}

func insertOutbox(ctx context.Context, db sqlx.ExtContext, events ...*entity.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]outboxRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, newOutboxRow(ev))
	}
	_, err := sqlx.NamedExecContext(ctx, db, `
		INSERT INTO outbox_events (`+outboxColumns+`)
		VALUES (:id, :event_type, :aggregate_id, :recipients, :payload, :status, :attempts, :last_error, :created_at, :published_at)
		ON CONFLICT (id) DO NOTHING
	`, rows)
	return dbError(err, "insert outbox")
}

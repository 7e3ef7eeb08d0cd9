package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/repository"
)

// AuditRepository журнал аудита, только INSERT и SELECT.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

var _ repository.AuditRepository = (*AuditRepository)(nil)

func (r *AuditRepository) Append(ctx context.Context, record *entity.AuditRecord) error {
	return insertAudit(ctx, r.db, record)
}

func (r *AuditRepository) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*entity.AuditRecord, error) {
	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, action, entity_type, entity_id, before, after, reason, created_at
		FROM audit_log WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at
	`, entityType, entityID); err != nil {
		return nil, dbError(err, "list audit")
	}
	out := make([]*entity.AuditRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

func insertAudit(ctx context.Context, db sqlx.ExtContext, record *entity.AuditRecord) error {
	_, err := sqlx.NamedExecContext(ctx, db, `
		INSERT INTO audit_log (id, user_id, action, entity_type, entity_id, before, after, reason, created_at)
		VALUES (:id, :user_id, :action, :entity_type, :entity_id, :before, :after, :reason, :created_at)
	`, newAuditRow(record))
	return dbError(err, "insert audit")
}

package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
)

// AuditLog журнал аудита в памяти, только дополняется.
type AuditLog struct {
	mu      sync.RWMutex
	records []*entity.AuditRecord
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (l *AuditLog) Append(ctx context.Context, record *entity.AuditRecord) error {
	l.append(record)
	return nil
}

func (l *AuditLog) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*entity.AuditRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*entity.AuditRecord
	for _, r := range l.records {
		if r.EntityType == entityType && r.EntityID == entityID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

// Len количество записей в журнале.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func (l *AuditLog) append(record *entity.AuditRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := *record
	l.records = append(l.records, &c)
}

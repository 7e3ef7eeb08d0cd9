// Package persistence реализует репозитории домена поверх PostgreSQL (sqlx + lib/pq).
package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

const pgUniqueViolation = "23505"

var constraintMessages = map[string]string{
	"escrows_active_shipment_uniq": "по отправке уже есть активный эскроу",
	"escrows_active_payment_uniq":  "по платежу уже есть активный эскроу",
	"escrows_pkey":                 "эскроу с таким идентификатором уже существует",
	"match_results_pkey":           "предложение с таким идентификатором уже существует",
}

// withTransaction выполняет fn в транзакции; при ошибке или панике откатывает её.
func withTransaction(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return dbError(err, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return dbError(err, "commit transaction")
	}
	return nil
}

// dbError переводит ошибки драйвера в ошибки домена. Нарушение уникальности
// частичного индекса означает вторую активную запись.
func dbError(err error, op string) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		msg, ok := constraintMessages[pqErr.Constraint]
		if !ok {
			msg = "запись уже существует"
		}
		return apperror.Wrap(err, apperror.ErrCodeDuplicateDetected, msg)
	}
	return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "postgres: "+op)
}

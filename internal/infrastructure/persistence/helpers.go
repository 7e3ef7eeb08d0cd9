package persistence

import (
	"database/sql"
	"strconv"

	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

func placeholder(n int) string {
	return strconv.Itoa(n)
}

func affectedOne(res sql.Result, err error, op string) error {
	if err != nil {
		return dbError(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err, op)
	}
	if n == 0 {
		return apperror.New(apperror.ErrCodeNotFound, "событие не найдено")
	}
	return nil
}

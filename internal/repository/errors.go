package repository

import (
	"errors"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound запись не найдена
	ErrNotFound = domain.ErrNotFound

	// ErrDuplicate дубликат записи (нарушение уникального ограничения)
	ErrDuplicate = domain.ErrDuplicate
)

// pgUniqueViolation SQLSTATE unique_violation
const pgUniqueViolation = "23505"

// isUniqueViolation распознает нарушение уникальности у обоих драйверов.
// Остальные ошибки ограничений (CHECK, FOREIGN KEY) сюда не попадают.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

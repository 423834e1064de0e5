package database

import (
	"errors"

	"github.com/BradenHooton/tokenwarden/internal/models"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapPostgresError translates driver errors into model sentinels
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation:
			return models.ErrConflict
		case pgerrcode.IsIntegrityConstraintViolation(pgErr.Code):
			return models.ErrBadRequest
		}
	}

	return err
}

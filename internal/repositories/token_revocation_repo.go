package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/tokenwarden/internal/database"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TokenRevocationRepository keeps the jti blacklist for session tokens
type TokenRevocationRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRevocationRepository(db *database.DB) *TokenRevocationRepository {
	return &TokenRevocationRepository{pool: db.Pool}
}

// RevokeToken adds a jti to the blacklist. Revoking the same jti twice returns
// models.ErrConflict, which makes refresh token rotation single use.
func (r *TokenRevocationRepository) RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error {
	query := `
		INSERT INTO revoked_tokens (jti, user_id, token_type, expires_at, reason)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.pool.Exec(ctx, query, jti, userID, tokenType, expiresAt, reason); err != nil {
		return fmt.Errorf("failed to revoke token: %w", database.MapPostgresError(err))
	}

	return nil
}

// IsTokenRevoked checks if a jti is on the blacklist
func (r *TokenRevocationRepository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, jti).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", database.MapPostgresError(err))
	}

	return exists, nil
}

// DeleteExpiredBefore drops entries whose token could no longer validate anyway
func (r *TokenRevocationRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM revoked_tokens WHERE expires_at < $1`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune revoked tokens: %w", database.MapPostgresError(err))
	}

	return result.RowsAffected(), nil
}

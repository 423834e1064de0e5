package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/tokenwarden/internal/database"
	"github.com/BradenHooton/tokenwarden/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxCodeCandidates bounds how many rows share one code hash in a lookup.
// Six digit codes collide across subjects, so a lookup can return several.
const maxCodeCandidates = 20

// TokenRepository stores issued tokens in Postgres
type TokenRepository struct {
	pool *pgxpool.Pool
}

// NewTokenRepository creates a new TokenRepository
func NewTokenRepository(db *database.DB) *TokenRepository {
	return &TokenRepository{pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTokenRow(row rowScanner) (*models.Token, error) {
	var token models.Token
	var kind string
	var consumedAt *time.Time

	err := row.Scan(
		&token.ID, &kind, &token.SubjectKey, &token.CodeHash,
		&token.Active, &token.CreatedAt, &consumedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	token.Kind = models.TokenKind(kind)
	token.ConsumedAt = consumedAt
	return &token, nil
}

func scanTokenRows(rows pgx.Rows) ([]*models.Token, error) {
	defer rows.Close()

	tokens := make([]*models.Token, 0)

	for rows.Next() {
		token, err := scanTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating token rows: %w", err)
	}

	return tokens, nil
}

// Insert persists a new token record. CreatedAt must be set by the caller.
func (r *TokenRepository) Insert(ctx context.Context, token *models.Token) (*models.Token, error) {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}

	query := `
		INSERT INTO issued_tokens (id, kind, subject_key, code_hash, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, kind, subject_key, code_hash, active, created_at, consumed_at
	`

	stored, err := scanTokenRow(r.pool.QueryRow(ctx, query,
		token.ID, string(token.Kind), token.SubjectKey, token.CodeHash, token.Active, token.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert token: %w", err)
	}

	stored.Code = token.Code
	return stored, nil
}

// DeactivateActive flips every active token of kind for subject to inactive
func (r *TokenRepository) DeactivateActive(ctx context.Context, kind models.TokenKind, subjectKey string) (int64, error) {
	query := `
		UPDATE issued_tokens
		SET active = false
		WHERE kind = $1 AND subject_key = $2 AND active = true
	`

	result, err := r.pool.Exec(ctx, query, string(kind), subjectKey)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate tokens: %w", err)
	}

	return result.RowsAffected(), nil
}

// ConsumeToken deactivates token and stamps consumed_at, provided it is still active.
// Row locks make concurrent callers serialize; only the first gets true.
func (r *TokenRepository) ConsumeToken(ctx context.Context, token *models.Token, at time.Time) (bool, error) {
	query := `
		UPDATE issued_tokens
		SET active = false, consumed_at = $2
		WHERE id = $1 AND active = true
	`

	result, err := r.pool.Exec(ctx, query, token.ID, at)
	if err != nil {
		return false, fmt.Errorf("failed to consume token: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// RestoreToken reactivates a token consumed at consumedAt. It refuses when the
// subject has an active token or one issued later, so at most one stays active.
func (r *TokenRepository) RestoreToken(ctx context.Context, token *models.Token, consumedAt time.Time) (bool, error) {
	query := `
		UPDATE issued_tokens
		SET active = true, consumed_at = NULL
		WHERE id = $1 AND active = false AND consumed_at = $2
		  AND NOT EXISTS (
			SELECT 1 FROM issued_tokens newer
			WHERE newer.kind = $3 AND newer.subject_key = $4
			  AND (newer.active = true OR newer.created_at > $5)
		  )
	`

	result, err := r.pool.Exec(ctx, query, token.ID, consumedAt, string(token.Kind), token.SubjectKey, token.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to restore token: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// CountCreatedBetween counts tokens with from < created_at < to
func (r *TokenRepository) CountCreatedBetween(ctx context.Context, kind models.TokenKind, subjectKey string, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM issued_tokens
		WHERE kind = $1 AND subject_key = $2 AND created_at > $3 AND created_at < $4
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, string(kind), subjectKey, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tokens: %w", err)
	}

	return count, nil
}

// OldestCreatedBetween returns the earliest created_at with from < created_at < to, or nil
func (r *TokenRepository) OldestCreatedBetween(ctx context.Context, kind models.TokenKind, subjectKey string, from, to time.Time) (*time.Time, error) {
	query := `
		SELECT created_at FROM issued_tokens
		WHERE kind = $1 AND subject_key = $2 AND created_at > $3 AND created_at < $4
		ORDER BY created_at ASC
		LIMIT 1
	`

	var createdAt time.Time
	err := r.pool.QueryRow(ctx, query, string(kind), subjectKey, from, to).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find oldest token: %w", err)
	}

	return &createdAt, nil
}

// FindByCodeHash returns tokens of kind sharing the code hash, active and newest first
func (r *TokenRepository) FindByCodeHash(ctx context.Context, kind models.TokenKind, codeHash string) ([]*models.Token, error) {
	query := `
		SELECT id, kind, subject_key, code_hash, active, created_at, consumed_at
		FROM issued_tokens
		WHERE kind = $1 AND code_hash = $2
		ORDER BY active DESC, created_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, string(kind), codeHash, maxCodeCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens by code: %w", err)
	}

	return scanTokenRows(rows)
}

// DeleteCreatedBefore prunes history older than cutoff
func (r *TokenRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM issued_tokens WHERE created_at < $1`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune tokens: %w", err)
	}

	return result.RowsAffected(), nil
}

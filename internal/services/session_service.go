package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/tokenwarden/internal/models"
	pkglogger "github.com/BradenHooton/tokenwarden/pkg/logger"
)

const tokenTypeRefresh = "refresh"

// SessionTokens signs and validates session JWTs
type SessionTokens interface {
	SessionEstablisher
	ValidateToken(tokenString string) (*models.TokenClaims, error)
}

// TokenRevoker records revoked session token ids
type TokenRevoker interface {
	RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error
}

// SessionService exchanges refresh tokens and ends sessions
type SessionService struct {
	accounts AccountRepository
	tokens   SessionTokens
	revoker  TokenRevoker
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

// NewSessionService creates a new SessionService
func NewSessionService(accounts AccountRepository, tokens SessionTokens, revoker TokenRevoker, logger *slog.Logger) *SessionService {
	return &SessionService{
		accounts: accounts,
		tokens:   tokens,
		revoker:  revoker,
		logger:   logger,
		audit:    pkglogger.NewAuditLogger(logger),
	}
}

// Refresh trades a refresh token for a new session. Each refresh token works
// once; its jti is revoked before the new pair is signed.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	claims, err := s.refreshClaims(refreshToken)
	if err != nil {
		s.audit.LogSessionRefresh("", false, "invalid_token")
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, claims.UserID)
	if errors.Is(err, models.ErrNotFound) {
		s.audit.LogSessionRefresh(claims.UserID, false, "account_not_found")
		return nil, models.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	if !account.Active {
		s.audit.LogSessionRefresh(account.ID, false, "account_inactive")
		return nil, models.ErrUnauthorized
	}

	// iat has second precision
	if account.PasswordChangedAt != nil && claims.IssuedAt != nil &&
		claims.IssuedAt.Time.Before(account.PasswordChangedAt.Truncate(time.Second)) {
		s.audit.LogSessionRefresh(account.ID, false, "password_changed")
		return nil, models.ErrUnauthorized
	}

	if err := s.revoke(ctx, claims, "rotated"); err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.audit.LogSessionRefresh(account.ID, false, "token_reused")
			return nil, models.ErrUnauthorized
		}
		return nil, err
	}

	session, err := s.tokens.GenerateSession(account)
	if err != nil {
		return nil, fmt.Errorf("failed to establish session: %w", err)
	}

	s.audit.LogSessionRefresh(account.ID, true, "")
	return session, nil
}

// Logout revokes the caller's access token and, when given, the refresh token
// of the same session owner.
func (s *SessionService) Logout(ctx context.Context, access *models.TokenClaims, refreshToken string) error {
	if access == nil {
		return models.ErrUnauthorized
	}

	var refresh *models.TokenClaims
	if refreshToken != "" {
		claims, err := s.refreshClaims(refreshToken)
		if err != nil {
			return err
		}
		if claims.UserID != access.UserID {
			return models.ErrUnauthorized
		}
		refresh = claims
	}

	if err := s.revoke(ctx, access, "logout"); err != nil && !errors.Is(err, models.ErrConflict) {
		return err
	}
	if refresh != nil {
		if err := s.revoke(ctx, refresh, "logout"); err != nil && !errors.Is(err, models.ErrConflict) {
			return err
		}
	}

	s.audit.LogLogout(access.UserID)
	return nil
}

func (s *SessionService) refreshClaims(token string) (*models.TokenClaims, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		s.logger.Debug("refresh token rejected", slog.String("error", err.Error()))
		return nil, models.ErrUnauthorized
	}
	if claims.Type != tokenTypeRefresh || claims.ID == "" {
		return nil, models.ErrUnauthorized
	}
	return claims, nil
}

func (s *SessionService) revoke(ctx context.Context, claims *models.TokenClaims, reason string) error {
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := s.revoker.RevokeToken(ctx, claims.ID, claims.UserID, claims.Type, expiresAt, reason); err != nil {
		return fmt.Errorf("failed to revoke %s token: %w", claims.Type, err)
	}
	return nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/tokenwarden/internal/models"
	"github.com/BradenHooton/tokenwarden/pkg/auth"
	pkglogger "github.com/BradenHooton/tokenwarden/pkg/logger"
)

// ForgotPasswordResult tells the caller whether the address belonged to nobody
// and an invitation went out instead of a reset code
type ForgotPasswordResult struct {
	IsNewUser bool `json:"isNewUser"`
}

// PasswordResetService drives the reset code flow
type PasswordResetService struct {
	accounts AccountRepository
	limiter  *RateLimitService
	issuer   *TokenIssuer
	verifier *TokenVerifier
	notifier Notifier
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

// NewPasswordResetService creates a new PasswordResetService
func NewPasswordResetService(
	accounts AccountRepository,
	limiter *RateLimitService,
	issuer *TokenIssuer,
	verifier *TokenVerifier,
	notifier Notifier,
	logger *slog.Logger,
) *PasswordResetService {
	return &PasswordResetService{
		accounts: accounts,
		limiter:  limiter,
		issuer:   issuer,
		verifier: verifier,
		notifier: notifier,
		logger:   logger,
		audit:    pkglogger.NewAuditLogger(logger),
	}
}

// ForgotPassword issues a reset code for a known address. Unknown addresses
// receive an invitation instead.
func (s *PasswordResetService) ForgotPassword(ctx context.Context, email string) (*ForgotPasswordResult, error) {
	email = normalizeEmail(email)

	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		s.notifier.Notify(ctx, models.Notification{
			ContactAddress: email,
			TemplateID:     models.TemplateUserInvite,
		})
		s.logger.Info("invitation sent for unknown address",
			slog.String("email", pkglogger.SanitizedEmail(email)))
		return &ForgotPasswordResult{IsNewUser: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Check(ctx, account.Email, models.TokenKindPasswordReset); err != nil {
		var limited *models.RateLimitedError
		if errors.As(err, &limited) {
			s.audit.LogRateLimited(string(models.TokenKindPasswordReset), account.Email, limited.HoursRemaining)
		}
		return nil, err
	}

	if _, err := s.issuer.Issue(ctx, account.Email, models.TokenKindPasswordReset, models.TemplatePasswordReset); err != nil {
		return nil, err
	}

	return &ForgotPasswordResult{IsNewUser: false}, nil
}

// CheckToken reports whether code is currently usable for email. Lookup failures
// are a false answer, not an error.
func (s *PasswordResetService) CheckToken(ctx context.Context, email, code string) (bool, error) {
	result, err := s.verifier.Verify(ctx, models.TokenKindPasswordReset, code, normalizeEmail(email))
	switch {
	case err == nil:
		return result.Valid, nil
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrExpired), errors.Is(err, models.ErrSubjectMismatch):
		return false, nil
	default:
		return false, err
	}
}

// ResetPassword consumes the reset code and stores the new password hash.
// A code can change the password at most once.
func (s *PasswordResetService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}

	account, err := resolveAccount(ctx, s.accounts, models.AccountRef{Email: email})
	if err != nil {
		return err
	}

	result, err := s.verifier.Verify(ctx, models.TokenKindPasswordReset, code, account.Email)
	if err != nil {
		s.audit.LogPasswordReset(account.ID, account.Email, false, verifyFailureReason(err))
		return err
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.verifier.Consume(ctx, result.Record); err != nil {
		if errors.Is(err, models.ErrAlreadyConsumed) {
			return models.ErrNotFound
		}
		return err
	}

	if err := s.accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		s.logger.Error("failed to store new password",
			slog.String("user_id", account.ID),
			slog.Any("error", err))
		if relErr := s.verifier.Release(ctx, result.Record); relErr != nil {
			s.logger.Warn("reset code not restored",
				slog.String("user_id", account.ID),
				slog.Any("error", relErr))
		}
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.logger.Info("password reset", slog.String("user_id", account.ID))
	s.audit.LogPasswordReset(account.ID, account.Email, true, "")

	return nil
}

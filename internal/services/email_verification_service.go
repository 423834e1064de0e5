package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BradenHooton/tokenwarden/internal/models"
	pkglogger "github.com/BradenHooton/tokenwarden/pkg/logger"
)

// AccountRepository resolves identities and applies the account side of token flows
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	Activate(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// SessionEstablisher creates an authenticated session for an account
type SessionEstablisher interface {
	GenerateSession(account *models.Account) (*models.Session, error)
}

// VerifyEmailResult is returned after an account has been activated
type VerifyEmailResult struct {
	Account *models.Account `json:"user"`
	Session *models.Session `json:"session"`
}

// VerificationStatus describes where an account is in the verification flow
type VerificationStatus struct {
	Email          string `json:"email"`
	Verified       bool   `json:"verified"`
	CanResend      bool   `json:"can_resend"`
	HoursUntilNext int    `json:"hours_until_next"`
}

// EmailVerificationService drives the registration code flow
type EmailVerificationService struct {
	accounts AccountRepository
	limiter  *RateLimitService
	issuer   *TokenIssuer
	verifier *TokenVerifier
	sessions SessionEstablisher
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

// NewEmailVerificationService creates a new EmailVerificationService
func NewEmailVerificationService(
	accounts AccountRepository,
	limiter *RateLimitService,
	issuer *TokenIssuer,
	verifier *TokenVerifier,
	sessions SessionEstablisher,
	logger *slog.Logger,
) *EmailVerificationService {
	return &EmailVerificationService{
		accounts: accounts,
		limiter:  limiter,
		issuer:   issuer,
		verifier: verifier,
		sessions: sessions,
		logger:   logger,
		audit:    pkglogger.NewAuditLogger(logger),
	}
}

// resolveAccount looks the account up by id, falling back to email
func resolveAccount(ctx context.Context, accounts AccountRepository, ref models.AccountRef) (*models.Account, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("user_id or email is required: %w", models.ErrBadRequest)
	}

	var account *models.Account
	var err error
	if ref.ID != "" {
		account, err = accounts.GetByID(ctx, ref.ID)
	} else {
		account, err = accounts.GetByEmail(ctx, normalizeEmail(ref.Email))
	}
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrAccountNotFound
	}
	return account, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RequestCode issues a fresh verification code if the account is pending and under its limit
func (s *EmailVerificationService) RequestCode(ctx context.Context, ref models.AccountRef) error {
	account, err := resolveAccount(ctx, s.accounts, ref)
	if err != nil {
		return err
	}

	if account.Active {
		return models.ErrAlreadyActive
	}

	if err := s.limiter.Check(ctx, account.Email, models.TokenKindEmailVerification); err != nil {
		var limited *models.RateLimitedError
		if errors.As(err, &limited) {
			s.audit.LogRateLimited(string(models.TokenKindEmailVerification), account.Email, limited.HoursRemaining)
		}
		return err
	}

	if _, err := s.issuer.Issue(ctx, account.Email, models.TokenKindEmailVerification, models.TemplateEmailVerification); err != nil {
		return err
	}

	return nil
}

// Verify checks the code against the resolved account and activates it exactly once.
// A repeat verification after success reports models.ErrAlreadyActive.
func (s *EmailVerificationService) Verify(ctx context.Context, ref models.AccountRef, code string) (*VerifyEmailResult, error) {
	account, err := resolveAccount(ctx, s.accounts, ref)
	if err != nil {
		return nil, err
	}

	if account.Active {
		return nil, models.ErrAlreadyActive
	}

	result, err := s.verifier.Verify(ctx, models.TokenKindEmailVerification, code, account.Email)
	if err != nil {
		s.audit.LogEmailVerification(account.ID, account.Email, false, verifyFailureReason(err))
		return nil, err
	}

	if err := s.verifier.Consume(ctx, result.Record); err != nil {
		if errors.Is(err, models.ErrAlreadyConsumed) {
			return nil, s.consumeLost(ctx, account)
		}
		return nil, err
	}

	if err := s.accounts.Activate(ctx, account.ID); err != nil {
		if errors.Is(err, models.ErrAlreadyActive) {
			return nil, err
		}
		s.logger.Error("failed to activate account",
			slog.String("user_id", account.ID),
			slog.Any("error", err))
		if relErr := s.verifier.Release(ctx, result.Record); relErr != nil {
			s.logger.Warn("verification code not restored",
				slog.String("user_id", account.ID),
				slog.Any("error", relErr))
		}
		return nil, err
	}
	account.Active = true

	session, err := s.sessions.GenerateSession(account)
	if err != nil {
		s.logger.Error("failed to establish session after verification",
			slog.String("user_id", account.ID),
			slog.Any("error", err))
		return nil, fmt.Errorf("failed to establish session: %w", err)
	}

	s.logger.Info("email verified", slog.String("user_id", account.ID))
	s.audit.LogEmailVerification(account.ID, account.Email, true, "")

	return &VerifyEmailResult{Account: account, Session: session}, nil
}

// GetStatus reports verification state and resend budget for an email address
func (s *EmailVerificationService) GetStatus(ctx context.Context, email string) (*VerificationStatus, error) {
	account, err := resolveAccount(ctx, s.accounts, models.AccountRef{Email: email})
	if err != nil {
		return nil, err
	}

	status := &VerificationStatus{Email: account.Email, Verified: account.Active}
	if account.Active {
		return status, nil
	}

	hours, err := s.limiter.HoursUntilNextAllowed(ctx, account.Email, models.TokenKindEmailVerification)
	if err != nil {
		return nil, err
	}
	status.HoursUntilNext = hours
	status.CanResend, err = s.limiter.CanIssue(ctx, account.Email, models.TokenKindEmailVerification)
	if err != nil {
		return nil, err
	}

	return status, nil
}

// consumeLost explains why the code was gone by the time it was consumed: either a
// concurrent verification activated the account, or a resend superseded the code.
func (s *EmailVerificationService) consumeLost(ctx context.Context, account *models.Account) error {
	current, err := s.accounts.GetByID(ctx, account.ID)
	if err == nil && current.Active {
		return models.ErrAlreadyActive
	}
	s.audit.LogEmailVerification(account.ID, account.Email, false, "superseded")
	return models.ErrNotFound
}

func verifyFailureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrExpired):
		return "expired"
	case errors.Is(err, models.ErrSubjectMismatch):
		return "subject_mismatch"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/tokenwarden/internal/models"
	"github.com/BradenHooton/tokenwarden/pkg/auth"
	pkglogger "github.com/BradenHooton/tokenwarden/pkg/logger"
)

// TimingDelayer pads failed credential checks
type TimingDelayer interface {
	WaitFrom(start time.Time, success bool)
}

// RegisterInput holds the fields of a new account
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Domain    string
}

// LoginResult carries the account and, for verified accounts, a session.
// Unverified accounts get the account with models.ErrEmailNotVerified.
type LoginResult struct {
	Account *models.Account `json:"user"`
	Session *models.Session `json:"session,omitempty"`
}

// AccountService handles registration and login around the token flows
type AccountService struct {
	accounts AccountRepository
	issuer   *TokenIssuer
	sessions SessionEstablisher
	timing   TimingDelayer
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

// NewAccountService creates a new AccountService
func NewAccountService(
	accounts AccountRepository,
	issuer *TokenIssuer,
	sessions SessionEstablisher,
	timing TimingDelayer,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		accounts: accounts,
		issuer:   issuer,
		sessions: sessions,
		timing:   timing,
		logger:   logger,
		audit:    pkglogger.NewAuditLogger(logger),
	}
}

// Register creates an inactive account and sends its first verification code.
// A failed issue is logged; the user can ask for a resend.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*models.Account, error) {
	if err := auth.ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account, err := s.accounts.Create(ctx, &models.Account{
		Email:        normalizeEmail(in.Email),
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Domain:       in.Domain,
		Active:       false,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.issuer.Issue(ctx, account.Email, models.TokenKindEmailVerification, models.TemplateEmailVerification); err != nil {
		s.logger.Warn("registered account without verification code",
			slog.String("user_id", account.ID),
			slog.Any("error", err))
	}

	s.audit.Log(pkglogger.AuditEvent{
		EventType: pkglogger.EventRegister,
		UserID:    account.ID,
		Email:     account.Email,
		Success:   true,
	})

	return account, nil
}

// Login checks credentials. Unknown email and wrong password both return
// models.ErrUnauthorized after the same padded delay.
func (s *AccountService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	start := time.Now()
	email = normalizeEmail(email)

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		s.timing.WaitFrom(start, false)
		s.auditLogin("", email, false, "unknown_email")
		return nil, models.ErrUnauthorized
	}

	if err := auth.ComparePassword(account.PasswordHash, password); err != nil {
		s.timing.WaitFrom(start, false)
		s.auditLogin(account.ID, email, false, "bad_password")
		return nil, models.ErrUnauthorized
	}
	s.timing.WaitFrom(start, true)

	if !account.Active {
		s.auditLogin(account.ID, email, false, "not_verified")
		return &LoginResult{Account: account}, models.ErrEmailNotVerified
	}

	session, err := s.sessions.GenerateSession(account)
	if err != nil {
		return nil, fmt.Errorf("failed to establish session: %w", err)
	}

	s.auditLogin(account.ID, email, true, "")
	return &LoginResult{Account: account, Session: session}, nil
}

// GetAccount returns the account behind an authenticated session
func (s *AccountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrAccountNotFound
	}
	return account, err
}

func (s *AccountService) auditLogin(userID, email string, success bool, reason string) {
	s.audit.Log(pkglogger.AuditEvent{
		EventType:     pkglogger.EventLogin,
		UserID:        userID,
		Email:         email,
		Success:       success,
		FailureReason: reason,
	})
}

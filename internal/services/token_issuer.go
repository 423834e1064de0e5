package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/tokenwarden/internal/models"
	pkglogger "github.com/BradenHooton/tokenwarden/pkg/logger"
)

// TokenStore is the durable history of issued tokens
type TokenStore interface {
	IssuanceHistory
	Insert(ctx context.Context, token *models.Token) (*models.Token, error)
	DeactivateActive(ctx context.Context, kind models.TokenKind, subjectKey string) (int64, error)
	ConsumeToken(ctx context.Context, token *models.Token, at time.Time) (bool, error)
	RestoreToken(ctx context.Context, token *models.Token, consumedAt time.Time) (bool, error)
	FindByCodeHash(ctx context.Context, kind models.TokenKind, codeHash string) ([]*models.Token, error)
}

// Notifier hands a notification off for delivery. It never reports failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

// TokenIssuer generates codes, supersedes older ones and triggers delivery.
// It does not consult the rate limiter; callers run RateLimitService.Check first.
type TokenIssuer struct {
	store    TokenStore
	notifier Notifier
	clock    Clock
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

// NewTokenIssuer creates a new TokenIssuer
func NewTokenIssuer(store TokenStore, notifier Notifier, clock Clock, logger *slog.Logger) *TokenIssuer {
	return &TokenIssuer{
		store:    store,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
		audit:    pkglogger.NewAuditLogger(logger),
	}
}

func defaultTemplate(kind models.TokenKind) string {
	if kind == models.TokenKindPasswordReset {
		return models.TemplatePasswordReset
	}
	return models.TemplateEmailVerification
}

// Issue creates a new active token for subject and queues its delivery.
// An empty templateID selects the kind's default template.
func (i *TokenIssuer) Issue(ctx context.Context, subjectKey string, kind models.TokenKind, templateID string) (*models.Token, error) {
	if subjectKey == "" {
		return nil, fmt.Errorf("subject is required: %w", models.ErrBadRequest)
	}

	code, err := generateCode(kind)
	if err != nil {
		return nil, err
	}

	deactivated, err := i.store.DeactivateActive(ctx, kind, subjectKey)
	if err != nil {
		i.logger.Error("failed to deactivate previous tokens",
			slog.String("email", pkglogger.SanitizedEmail(subjectKey)),
			slog.String("kind", string(kind)),
			slog.Any("error", err))
		return nil, fmt.Errorf("failed to deactivate previous tokens: %w", err)
	}

	token, err := i.store.Insert(ctx, &models.Token{
		Kind:       kind,
		SubjectKey: subjectKey,
		Code:       code,
		CodeHash:   hashCode(code),
		Active:     true,
		CreatedAt:  i.clock.Now(),
	})
	if err != nil {
		i.logger.Error("failed to store token",
			slog.String("email", pkglogger.SanitizedEmail(subjectKey)),
			slog.String("kind", string(kind)),
			slog.Any("error", err))
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	token.Code = code

	if templateID == "" {
		templateID = defaultTemplate(kind)
	}
	i.notifier.Notify(ctx, models.Notification{
		ContactAddress: subjectKey,
		Code:           code,
		TemplateID:     templateID,
	})

	i.logger.Info("token issued",
		slog.String("email", pkglogger.SanitizedEmail(subjectKey)),
		slog.String("kind", string(kind)),
		slog.Int64("superseded", deactivated))
	i.audit.LogTokenIssued(string(kind), subjectKey)

	return token, nil
}

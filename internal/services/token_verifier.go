package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/tokenwarden/internal/models"
	pkglogger "github.com/BradenHooton/tokenwarden/pkg/logger"
)

// VerifyResult describes the token a code resolved to
type VerifyResult struct {
	Valid          bool
	SubjectMatches bool
	Record         *models.Token
}

// TokenVerifier validates presented codes and performs the one-time consumption
type TokenVerifier struct {
	store    TokenStore
	clock    Clock
	validity time.Duration
	logger   *slog.Logger
}

// NewTokenVerifier creates a new TokenVerifier. validity is how long a code stays usable.
func NewTokenVerifier(store TokenStore, clock Clock, validity time.Duration, logger *slog.Logger) *TokenVerifier {
	return &TokenVerifier{
		store:    store,
		clock:    clock,
		validity: validity,
		logger:   logger,
	}
}

// Verify resolves code for subjectKey without consuming it.
//
// Errors: models.ErrNotFound when no matching record exists (or it was superseded),
// models.ErrExpired when the subject's active record is past its validity window,
// models.ErrSubjectMismatch when the email code is live but issued to someone else.
func (v *TokenVerifier) Verify(ctx context.Context, kind models.TokenKind, code, subjectKey string) (*VerifyResult, error) {
	if code == "" {
		return nil, models.ErrNotFound
	}

	candidates, err := v.store.FindByCodeHash(ctx, kind, hashCode(code))
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	if len(candidates) == 0 {
		return nil, models.ErrNotFound
	}

	now := v.clock.Now()

	var match *models.Token
	foreignUsable := false
	for _, c := range candidates {
		if c.SubjectKey == subjectKey {
			// Candidates come active first, newest first
			if match == nil {
				match = c
			}
			continue
		}
		if c.IsUsable(now, v.validity) {
			foreignUsable = true
		}
	}

	if match == nil {
		if kind == models.TokenKindEmailVerification && foreignUsable {
			v.logger.Warn("verification code presented for another subject",
				slog.String("email", pkglogger.SanitizedEmail(subjectKey)))
			return &VerifyResult{SubjectMatches: false}, models.ErrSubjectMismatch
		}
		return nil, models.ErrNotFound
	}

	result := &VerifyResult{SubjectMatches: true, Record: match}

	switch {
	case !match.Active:
		return result, models.ErrNotFound
	case match.IsExpired(now, v.validity):
		return result, models.ErrExpired
	}

	result.Valid = true
	return result, nil
}

// Consume marks the record Verify resolved as used. It fails with models.ErrAlreadyConsumed
// when the record is no longer active, either because a concurrent caller consumed it or
// because a newer code superseded it in the meantime.
func (v *TokenVerifier) Consume(ctx context.Context, record *models.Token) error {
	at := v.clock.Now().Truncate(time.Microsecond)

	ok, err := v.store.ConsumeToken(ctx, record, at)
	if err != nil {
		return fmt.Errorf("failed to consume token: %w", err)
	}
	if !ok {
		return models.ErrAlreadyConsumed
	}
	record.Active = false
	record.ConsumedAt = &at

	v.logger.Debug("token consumed",
		slog.String("email", pkglogger.SanitizedEmail(record.SubjectKey)),
		slog.String("kind", string(record.Kind)))
	return nil
}

// Release undoes Consume after the follow-up write failed, so the code can be retried.
// The record is left consumed when a newer code exists for the subject.
func (v *TokenVerifier) Release(ctx context.Context, record *models.Token) error {
	if record.ConsumedAt == nil {
		return nil
	}

	// The request may already be cancelled by the failure being handled
	ok, err := v.store.RestoreToken(context.WithoutCancel(ctx), record, *record.ConsumedAt)
	if err != nil {
		return fmt.Errorf("failed to restore token: %w", err)
	}
	if !ok {
		return models.ErrNotFound
	}
	record.Active = true
	record.ConsumedAt = nil
	return nil
}

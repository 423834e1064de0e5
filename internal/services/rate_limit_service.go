package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/tokenwarden/internal/models"
	pkglogger "github.com/BradenHooton/tokenwarden/pkg/logger"
)

// IssuanceHistory is the read side of the token store the limiter needs
type IssuanceHistory interface {
	CountCreatedBetween(ctx context.Context, kind models.TokenKind, subjectKey string, from, to time.Time) (int, error)
	OldestCreatedBetween(ctx context.Context, kind models.TokenKind, subjectKey string, from, to time.Time) (*time.Time, error)
}

// RateLimitConfig holds configuration for issuance limiting
type RateLimitConfig struct {
	Window    time.Duration // sliding window issues are counted over
	MaxIssues int           // issues allowed inside one window
}

// DefaultRateLimitConfig allows three issues per 24 hours
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Window:    24 * time.Hour,
		MaxIssues: 3,
	}
}

// RateLimitService decides whether a new token may be issued for a subject.
// It only reads history; recording happens when the issuer inserts.
type RateLimitService struct {
	repo   IssuanceHistory
	config RateLimitConfig
	clock  Clock
	logger *slog.Logger
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(repo IssuanceHistory, config RateLimitConfig, clock Clock, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		repo:   repo,
		config: config,
		clock:  clock,
		logger: logger,
	}
}

// CanIssue reports whether fewer than MaxIssues tokens were created in (now-Window, now)
func (s *RateLimitService) CanIssue(ctx context.Context, subjectKey string, kind models.TokenKind) (bool, error) {
	now := s.clock.Now()

	count, err := s.repo.CountCreatedBetween(ctx, kind, subjectKey, now.Add(-s.config.Window), now)
	if err != nil {
		return false, fmt.Errorf("failed to count issued tokens: %w", err)
	}

	return count < s.config.MaxIssues, nil
}

// HoursUntilNextAllowed returns whole hours until the oldest counted issue leaves
// the window, rounded down. Zero when issuing is allowed now.
func (s *RateLimitService) HoursUntilNextAllowed(ctx context.Context, subjectKey string, kind models.TokenKind) (int, error) {
	allowed, err := s.CanIssue(ctx, subjectKey, kind)
	if err != nil {
		return 0, err
	}
	if allowed {
		return 0, nil
	}

	return s.hoursRemaining(ctx, subjectKey, kind)
}

// Check returns *models.RateLimitedError when the subject is over budget
func (s *RateLimitService) Check(ctx context.Context, subjectKey string, kind models.TokenKind) error {
	allowed, err := s.CanIssue(ctx, subjectKey, kind)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}

	hours, err := s.hoursRemaining(ctx, subjectKey, kind)
	if err != nil {
		return err
	}

	s.logger.Warn("token issuance rate limited",
		slog.String("email", pkglogger.SanitizedEmail(subjectKey)),
		slog.String("kind", string(kind)),
		slog.Int("hours_remaining", hours))

	return &models.RateLimitedError{HoursRemaining: hours}
}

func (s *RateLimitService) hoursRemaining(ctx context.Context, subjectKey string, kind models.TokenKind) (int, error) {
	now := s.clock.Now()

	oldest, err := s.repo.OldestCreatedBetween(ctx, kind, subjectKey, now.Add(-s.config.Window), now)
	if err != nil {
		return 0, fmt.Errorf("failed to find oldest issued token: %w", err)
	}
	if oldest == nil {
		// Window emptied between the count and this read
		return 0, nil
	}

	remaining := oldest.Add(s.config.Window).Sub(now)
	if remaining <= 0 {
		return 0, nil
	}

	return int(remaining / time.Hour), nil
}

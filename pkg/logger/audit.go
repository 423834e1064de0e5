package logger

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// Audit event types
const (
	EventTokenIssued       = "token_issued"
	EventTokenRateLimited  = "token_rate_limited"
	EventEmailVerified     = "email_verified"
	EventVerificationFail  = "email_verification_failed"
	EventPasswordReset     = "password_reset"
	EventPasswordResetFail = "password_reset_failed"
	EventLogin             = "login"
	EventRegister          = "register"
	EventSessionRefreshed  = "session_refreshed"
	EventRefreshFailed     = "session_refresh_failed"
	EventLogout            = "logout"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	Email         string
	Kind          string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// Log writes an audit record. Failures go out at warn level.
func (al *AuditLogger) Log(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "token"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.Kind != "" {
		attrs = append(attrs, slog.String("kind", event.Kind))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

// LogTokenIssued records a successful issuance
func (al *AuditLogger) LogTokenIssued(kind, email string) {
	al.Log(AuditEvent{EventType: EventTokenIssued, Kind: kind, Email: email, Success: true})
}

// LogRateLimited records an issuance refused by the limiter
func (al *AuditLogger) LogRateLimited(kind, email string, hoursRemaining int) {
	al.Log(AuditEvent{
		EventType:     EventTokenRateLimited,
		Kind:          kind,
		Email:         email,
		FailureReason: "rate_limited",
		Metadata:      map[string]string{"hours_remaining": strconv.Itoa(hoursRemaining)},
	})
}

// LogPasswordReset logs password reset outcomes
func (al *AuditLogger) LogPasswordReset(userID, email string, success bool, reason string) {
	eventType := EventPasswordReset
	if !success {
		eventType = EventPasswordResetFail
	}
	al.Log(AuditEvent{
		EventType:     eventType,
		UserID:        userID,
		Email:         email,
		Kind:          "password_reset",
		Success:       success,
		FailureReason: reason,
	})
}

// LogEmailVerification logs email verification outcomes
func (al *AuditLogger) LogEmailVerification(userID, email string, success bool, reason string) {
	eventType := EventEmailVerified
	if !success {
		eventType = EventVerificationFail
	}
	al.Log(AuditEvent{
		EventType:     eventType,
		UserID:        userID,
		Email:         email,
		Kind:          "email_verification",
		Success:       success,
		FailureReason: reason,
	})
}

// LogSessionRefresh records a refresh token exchange
func (al *AuditLogger) LogSessionRefresh(userID string, success bool, reason string) {
	eventType := EventSessionRefreshed
	if !success {
		eventType = EventRefreshFailed
	}
	al.Log(AuditEvent{
		EventType:     eventType,
		UserID:        userID,
		Kind:          "session",
		Success:       success,
		FailureReason: reason,
	})
}

// LogLogout records a session ended by its owner
func (al *AuditLogger) LogLogout(userID string) {
	al.Log(AuditEvent{EventType: EventLogout, UserID: userID, Kind: "session", Success: true})
}

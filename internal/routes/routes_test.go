package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/tokenwarden/internal/auth"
	"github.com/BradenHooton/tokenwarden/internal/background"
	"github.com/BradenHooton/tokenwarden/internal/database"
	"github.com/BradenHooton/tokenwarden/internal/handlers"
	middlewareCustom "github.com/BradenHooton/tokenwarden/internal/middleware"
	"github.com/BradenHooton/tokenwarden/internal/models"
	"github.com/BradenHooton/tokenwarden/internal/repositories"
	"github.com/BradenHooton/tokenwarden/internal/routes"
	"github.com/BradenHooton/tokenwarden/internal/services"
	"github.com/BradenHooton/tokenwarden/internal/testutil"
	pkghttp "github.com/BradenHooton/tokenwarden/pkg/http"
)

// capturingSender records every delivered notification
type capturingSender struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (s *capturingSender) Send(ctx context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

func (s *capturingSender) count(template string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.sent {
		if m.TemplateID == template {
			n++
		}
	}
	return n
}

func (s *capturingSender) last(template string) models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].TemplateID == template {
			return s.sent[i]
		}
	}
	return models.Notification{}
}

type tokenBackend interface {
	services.TokenStore
	background.TokenPruner
}

type testServer struct {
	server *httptest.Server
	sender *capturingSender
}

func newTestServer(t *testing.T, db *database.DB, tokens tokenBackend) *testServer {
	t.Helper()
	logger := testutil.DiscardLogger()

	sender := &capturingSender{}
	dispatcher := background.NewNotificationDispatcher(sender, background.DispatcherConfig{QueueSize: 16, MaxAttempts: 1}, logger)
	dispatcher.Start(context.Background())

	tokenManager := auth.NewTokenManager("integration-secret-32-characters!", 15*time.Minute, time.Hour)
	clock := services.SystemClock{}
	limiter := services.NewRateLimitService(tokens, services.DefaultRateLimitConfig(), clock, logger)
	issuer := services.NewTokenIssuer(tokens, dispatcher, clock, logger)
	verifier := services.NewTokenVerifier(tokens, clock, 15*time.Minute, logger)

	accounts := repositories.NewAccountRepository(db)
	revocations := repositories.NewTokenRevocationRepository(db)
	authHandler := handlers.NewAuthHandler(
		services.NewAccountService(accounts, issuer, tokenManager, auth.NewTimingDelay(auth.TimingConfig{}), logger),
		services.NewEmailVerificationService(accounts, limiter, issuer, verifier, tokenManager, logger),
		services.NewPasswordResetService(accounts, limiter, issuer, verifier, dispatcher, logger),
		services.NewSessionService(accounts, tokenManager, revocations, logger),
		logger,
	)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.HealthCheck{"postgres": db.HealthCheck}, logger)

	ipConfig := &pkghttp.IPConfig{}
	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	routes.RegisterRoutes(router, authHandler, healthHandler, tokenManager, revocations, auth.RevocationConfig{FailClosed: true}, ipConfig, 1000)

	ts := &testServer{server: httptest.NewServer(router), sender: sender}
	t.Cleanup(func() {
		ts.server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = dispatcher.Stop(ctx)
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, bearer string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

// waitFor blocks until n notifications of template were delivered and returns the newest
func (ts *testServer) waitFor(t *testing.T, template string, n int) models.Notification {
	t.Helper()
	require.Eventually(t, func() bool { return ts.sender.count(template) >= n }, 5*time.Second, 10*time.Millisecond)
	return ts.sender.last(template)
}

func TestTokenFlows(t *testing.T) {
	db := testutil.StartPostgres(t)

	backends := map[string]func(t *testing.T) tokenBackend{
		"postgres": func(t *testing.T) tokenBackend {
			return repositories.NewTokenRepository(db)
		},
		"redis": func(t *testing.T) tokenBackend {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return repositories.NewRedisTokenRepository(client, "it")
		},
	}

	for name, newBackend := range backends {
		t.Run(name, func(t *testing.T) {
			ts := newTestServer(t, db, newBackend(t))
			email := name + "-flow@example.com"

			// Registration sends the first code
			status, body := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
				"first_name":            "Flow",
				"last_name":             "Tester",
				"email":                 email,
				"password":              "rabbit-hole",
				"password_confirmation": "rabbit-hole",
			})
			require.Equal(t, http.StatusCreated, status, body)
			userID := body["id"].(string)
			ts.waitFor(t, models.TemplateEmailVerification, 1)

			status, body = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": "rabbit-hole"})
			assert.Equal(t, http.StatusForbidden, status)
			assert.Equal(t, "Not Verified User.", body["message"])

			status, body = ts.do(t, http.MethodPost, "/auth/verify", "", map[string]string{"code": "000000", "user_id": userID})
			assert.Equal(t, http.StatusForbidden, status)
			assert.Equal(t, "Wrong authorization code", body["message"])

			// Two resends fit the budget of three, the third is blocked
			for i := 2; i <= 3; i++ {
				status, body = ts.do(t, http.MethodPost, "/auth/resend-verification-code", "", map[string]string{"email": email})
				require.Equal(t, http.StatusOK, status, body)
				ts.waitFor(t, models.TemplateEmailVerification, i)
			}
			status, body = ts.do(t, http.MethodPost, "/auth/resend-verification-code", "", map[string]string{"user_id": userID})
			assert.Equal(t, http.StatusTooManyRequests, status)
			assert.Equal(t, "Request blocked, please try 23 hours later.", body["message"])

			status, body = ts.do(t, http.MethodGet, "/auth/verification-status?email="+email, "", nil)
			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, false, body["can_resend"])

			code := ts.sender.last(models.TemplateEmailVerification).Code
			status, body = ts.do(t, http.MethodPost, "/auth/verify", "", map[string]string{"code": code, "user_id": userID})
			require.Equal(t, http.StatusOK, status, body)
			session := body["session"].(map[string]any)
			accessToken := session["access_token"].(string)

			status, body = ts.do(t, http.MethodGet, "/auth/me", accessToken, nil)
			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, true, body["active"])

			status, _ = ts.do(t, http.MethodPost, "/auth/verify", "", map[string]string{"code": code, "email": email})
			assert.Equal(t, http.StatusConflict, status)

			// Refresh tokens rotate and work once
			refreshToken := session["refresh_token"].(string)
			status, rotated := ts.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refreshToken})
			require.Equal(t, http.StatusOK, status, rotated)
			status, _ = ts.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refreshToken})
			assert.Equal(t, http.StatusUnauthorized, status)

			// Logout revokes both halves of the session
			rotatedAccess := rotated["access_token"].(string)
			rotatedRefresh := rotated["refresh_token"].(string)
			status, body = ts.do(t, http.MethodPost, "/auth/logout", rotatedAccess, map[string]string{"refresh_token": rotatedRefresh})
			require.Equal(t, http.StatusOK, status, body)
			assert.Equal(t, "User has been logged out", body["message"])
			status, _ = ts.do(t, http.MethodGet, "/auth/me", rotatedAccess, nil)
			assert.Equal(t, http.StatusUnauthorized, status)
			status, _ = ts.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": rotatedRefresh})
			assert.Equal(t, http.StatusUnauthorized, status)

			// Password reset is single use
			status, body = ts.do(t, http.MethodPost, "/auth/forgot-password", "", map[string]string{"email": email})
			require.Equal(t, http.StatusOK, status, body)
			assert.Equal(t, false, body["isNewUser"])
			resetCode := ts.waitFor(t, models.TemplatePasswordReset, 1).Code
			assert.Len(t, resetCode, 64)

			status, body = ts.do(t, http.MethodPost, "/auth/verify-password-token", "", map[string]string{"token": resetCode, "email": email})
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, true, body["validToken"])

			reset := map[string]string{
				"token":                 resetCode,
				"email":                 email,
				"password":              "looking-glass",
				"password_confirmation": "looking-glass",
			}
			status, body = ts.do(t, http.MethodPost, "/auth/reset-password", "", reset)
			require.Equal(t, http.StatusOK, status, body)
			assert.Equal(t, "You password successfully updated.", body["message"])

			status, _ = ts.do(t, http.MethodPost, "/auth/reset-password", "", reset)
			assert.Equal(t, http.StatusForbidden, status)

			status, _ = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": "rabbit-hole"})
			assert.Equal(t, http.StatusUnauthorized, status)
			status, body = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": "looking-glass"})
			assert.Equal(t, http.StatusOK, status, body)

			// Unknown addresses get an invitation
			status, body = ts.do(t, http.MethodPost, "/auth/forgot-password", "", map[string]string{"email": "stranger-" + name + "@example.com"})
			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, true, body["isNewUser"])
			ts.waitFor(t, models.TemplateUserInvite, 1)
		})
	}
}

func TestHealthAndAuthRequired(t *testing.T) {
	db := testutil.StartPostgres(t)
	ts := newTestServer(t, db, repositories.NewTokenRepository(db))

	status, body := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, _ = ts.do(t, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = ts.do(t, http.MethodGet, "/auth/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/tokenwarden/internal/auth"
	"github.com/BradenHooton/tokenwarden/internal/models"
	"github.com/BradenHooton/tokenwarden/internal/services"
	pkghttp "github.com/BradenHooton/tokenwarden/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access token claims to the request context
func WithAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Type:   auth.TokenTypeAccess,
	}
	ctx := auth.WithClaims(req.Context(), claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks the status, error code and message of an error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError, expectedMessage string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	if expectedMessage != "" {
		assert.Equal(t, expectedMessage, resp.Message)
	} else {
		assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	}
}

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockAccountService implements AccountServiceInterface for testing
type MockAccountService struct {
	RegisterFunc   func(ctx context.Context, in services.RegisterInput) (*models.Account, error)
	LoginFunc      func(ctx context.Context, email, password string) (*services.LoginResult, error)
	GetAccountFunc func(ctx context.Context, id string) (*models.Account, error)
}

func (m *MockAccountService) Register(ctx context.Context, in services.RegisterInput) (*models.Account, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, in)
}

func (m *MockAccountService) Login(ctx context.Context, email, password string) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, email, password)
}

func (m *MockAccountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	if m.GetAccountFunc == nil {
		return nil, models.ErrAccountNotFound
	}
	return m.GetAccountFunc(ctx, id)
}

// MockEmailVerificationService implements EmailVerificationServiceInterface for testing
type MockEmailVerificationService struct {
	RequestCodeFunc func(ctx context.Context, ref models.AccountRef) error
	VerifyFunc      func(ctx context.Context, ref models.AccountRef, code string) (*services.VerifyEmailResult, error)
	GetStatusFunc   func(ctx context.Context, email string) (*services.VerificationStatus, error)
}

func (m *MockEmailVerificationService) RequestCode(ctx context.Context, ref models.AccountRef) error {
	if m.RequestCodeFunc == nil {
		return nil
	}
	return m.RequestCodeFunc(ctx, ref)
}

func (m *MockEmailVerificationService) Verify(ctx context.Context, ref models.AccountRef, code string) (*services.VerifyEmailResult, error) {
	if m.VerifyFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.VerifyFunc(ctx, ref, code)
}

func (m *MockEmailVerificationService) GetStatus(ctx context.Context, email string) (*services.VerificationStatus, error) {
	if m.GetStatusFunc == nil {
		return nil, models.ErrAccountNotFound
	}
	return m.GetStatusFunc(ctx, email)
}

// MockPasswordResetService implements PasswordResetServiceInterface for testing
type MockPasswordResetService struct {
	ForgotPasswordFunc func(ctx context.Context, email string) (*services.ForgotPasswordResult, error)
	CheckTokenFunc     func(ctx context.Context, email, code string) (bool, error)
	ResetPasswordFunc  func(ctx context.Context, email, code, newPassword string) error
}

func (m *MockPasswordResetService) ForgotPassword(ctx context.Context, email string) (*services.ForgotPasswordResult, error) {
	if m.ForgotPasswordFunc == nil {
		return &services.ForgotPasswordResult{}, nil
	}
	return m.ForgotPasswordFunc(ctx, email)
}

func (m *MockPasswordResetService) CheckToken(ctx context.Context, email, code string) (bool, error) {
	if m.CheckTokenFunc == nil {
		return false, nil
	}
	return m.CheckTokenFunc(ctx, email, code)
}

func (m *MockPasswordResetService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if m.ResetPasswordFunc == nil {
		return nil
	}
	return m.ResetPasswordFunc(ctx, email, code, newPassword)
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	RefreshFunc func(ctx context.Context, refreshToken string) (*models.Session, error)
	LogoutFunc  func(ctx context.Context, access *models.TokenClaims, refreshToken string) error
}

func (m *MockSessionService) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshFunc(ctx, refreshToken)
}

func (m *MockSessionService) Logout(ctx context.Context, access *models.TokenClaims, refreshToken string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, access, refreshToken)
}

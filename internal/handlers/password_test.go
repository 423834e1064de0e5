package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/tokenwarden/internal/handlers"
	"github.com/BradenHooton/tokenwarden/internal/models"
	"github.com/BradenHooton/tokenwarden/internal/services"
	pkgauth "github.com/BradenHooton/tokenwarden/pkg/auth"
	pkghttp "github.com/BradenHooton/tokenwarden/pkg/http"
	"github.com/stretchr/testify/assert"
)

func TestForgotPassword(t *testing.T) {
	tests := []struct {
		name      string
		result    *services.ForgotPasswordResult
		err       error
		wantNew   bool
		wantLimit bool
	}{
		{"known address", &services.ForgotPasswordResult{IsNewUser: false}, nil, false, false},
		{"unknown address", &services.ForgotPasswordResult{IsNewUser: true}, nil, true, false},
		{"blocked", nil, &models.RateLimitedError{HoursRemaining: 14}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockPasswordResetService{
				ForgotPasswordFunc: func(ctx context.Context, email string) (*services.ForgotPasswordResult, error) {
					return tt.result, tt.err
				},
			}

			w := httptest.NewRecorder()
			newHandler(nil, nil, mock).ForgotPassword(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/forgot-password", handlers.ForgotPasswordRequest{
				Email: "alice@example.com",
			}))

			if tt.wantLimit {
				handlers.AssertErrorResponse(t, w, http.StatusTooManyRequests, "rate_limit_exceeded", "Request blocked, please try 14 hours later.")
				return
			}
			var resp handlers.ForgotPasswordResponse
			handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
			assert.Equal(t, tt.wantNew, resp.IsNewUser)
			assert.Equal(t, "Check your email.", resp.Message)
		})
	}
}

func TestForgotPassword_InvalidEmail(t *testing.T) {
	w := httptest.NewRecorder()
	newHandler(nil, nil, nil).ForgotPassword(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/forgot-password", handlers.ForgotPasswordRequest{
		Email: "nope",
	}))

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request", "")
}

func TestVerifyPasswordToken(t *testing.T) {
	tests := []struct {
		name       string
		valid      bool
		err        error
		wantStatus int
	}{
		{"usable", true, nil, http.StatusOK},
		{"not usable", false, nil, http.StatusForbidden},
		{"store failure", false, errors.New("down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockPasswordResetService{
				CheckTokenFunc: func(ctx context.Context, email, code string) (bool, error) {
					return tt.valid, tt.err
				},
			}

			w := httptest.NewRecorder()
			newHandler(nil, nil, mock).VerifyPasswordToken(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/verify-password-token", handlers.VerifyPasswordTokenRequest{
				Token: "a1b2c3",
				Email: "alice@example.com",
			}))

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.err == nil {
				var resp handlers.VerifyPasswordTokenResponse
				handlers.AssertJSONResponse(t, w, tt.wantStatus, &resp)
				assert.Equal(t, tt.valid, resp.ValidToken)
			}
		})
	}
}

func validResetRequest() handlers.ResetPasswordRequest {
	return handlers.ResetPasswordRequest{
		Token:                "a1b2c3",
		Email:                "alice@example.com",
		Password:             "new-secret",
		PasswordConfirmation: "new-secret",
	}
}

func TestResetPassword_Success(t *testing.T) {
	var gotEmail, gotCode, gotPassword string
	mock := &handlers.MockPasswordResetService{
		ResetPasswordFunc: func(ctx context.Context, email, code, newPassword string) error {
			gotEmail, gotCode, gotPassword = email, code, newPassword
			return nil
		},
	}

	w := httptest.NewRecorder()
	newHandler(nil, nil, mock).ResetPassword(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/reset-password", validResetRequest()))

	var resp pkghttp.MessageResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "You password successfully updated.", resp.Message)
	assert.Equal(t, "alice@example.com", gotEmail)
	assert.Equal(t, "a1b2c3", gotCode)
	assert.Equal(t, "new-secret", gotPassword)
}

func TestResetPassword_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"consumed or unknown code", models.ErrNotFound, http.StatusForbidden, "forbidden"},
		{"expired code", models.ErrExpired, http.StatusForbidden, "forbidden"},
		{"unknown account", models.ErrAccountNotFound, http.StatusNotFound, "not_found"},
		{"weak password", &pkgauth.PasswordValidationError{Errors: []string{"too short"}}, http.StatusBadRequest, "bad_request"},
		{"store failure", errors.New("down"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockPasswordResetService{
				ResetPasswordFunc: func(ctx context.Context, email, code, newPassword string) error {
					return tt.err
				},
			}

			w := httptest.NewRecorder()
			newHandler(nil, nil, mock).ResetPassword(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/reset-password", validResetRequest()))

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode, "")
		})
	}
}

func TestResetPassword_ConfirmationMismatch(t *testing.T) {
	req := validResetRequest()
	req.PasswordConfirmation = "something-else"

	w := httptest.NewRecorder()
	newHandler(nil, nil, nil).ResetPassword(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/reset-password", req))

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request", "validation failed: password_confirmation: must match password")
}

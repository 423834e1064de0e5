package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/tokenwarden/internal/auth"
	"github.com/BradenHooton/tokenwarden/internal/models"
	"github.com/BradenHooton/tokenwarden/internal/services"
	pkgauth "github.com/BradenHooton/tokenwarden/pkg/auth"
	pkghttp "github.com/BradenHooton/tokenwarden/pkg/http"
)

// AccountServiceInterface defines registration and login
type AccountServiceInterface interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.Account, error)
	Login(ctx context.Context, email, password string) (*services.LoginResult, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
}

// EmailVerificationServiceInterface defines the verification code flow
type EmailVerificationServiceInterface interface {
	RequestCode(ctx context.Context, ref models.AccountRef) error
	Verify(ctx context.Context, ref models.AccountRef, code string) (*services.VerifyEmailResult, error)
	GetStatus(ctx context.Context, email string) (*services.VerificationStatus, error)
}

// PasswordResetServiceInterface defines the reset code flow
type PasswordResetServiceInterface interface {
	ForgotPassword(ctx context.Context, email string) (*services.ForgotPasswordResult, error)
	CheckToken(ctx context.Context, email, code string) (bool, error)
	ResetPassword(ctx context.Context, email, code, newPassword string) error
}

// SessionServiceInterface defines refresh token exchange and logout
type SessionServiceInterface interface {
	Refresh(ctx context.Context, refreshToken string) (*models.Session, error)
	Logout(ctx context.Context, access *models.TokenClaims, refreshToken string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	accounts     AccountServiceInterface
	verification EmailVerificationServiceInterface
	passwords    PasswordResetServiceInterface
	sessions     SessionServiceInterface
	logger       *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	accounts AccountServiceInterface,
	verification EmailVerificationServiceInterface,
	passwords PasswordResetServiceInterface,
	sessions SessionServiceInterface,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		accounts:     accounts,
		verification: verification,
		passwords:    passwords,
		sessions:     sessions,
		logger:       logger,
	}
}

// User-facing messages
const (
	msgCheckEmail       = "Check your email."
	msgWrongCode        = "Wrong authorization code"
	msgNotVerified      = "Not Verified User."
	msgAlreadyVerified  = "User already verified."
	msgPasswordUpdated  = "You password successfully updated."
	msgUserNotFound     = "User not found"
	msgInvalidPassword  = "Password does not meet requirements"
	msgInternalError    = "Internal server error"
	msgInvalidBody      = "Invalid request body"
	msgAuthFailed       = "Authentication failed"
	msgEmailAlreadyUsed = "Email already registered"
	msgLoggedOut        = "User has been logged out"
)

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	FirstName            string `json:"first_name" validate:"required,max=100"`
	LastName             string `json:"last_name" validate:"required,max=100"`
	Email                string `json:"email" validate:"required,email,max=255"`
	Password             string `json:"password" validate:"required"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=Password"`
	Domain               string `json:"domain,omitempty" validate:"omitempty,fqdn"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// NotVerifiedResponse is returned when an unverified account logs in
type NotVerifiedResponse struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	User    *models.Account `json:"user"`
}

// rateLimitedMessage renders the resend block message
func rateLimitedMessage(hours int) string {
	return fmt.Sprintf("Request blocked, please try %d hours later.", hours)
}

// Register handles account registration
// @Summary Register a new account
// @Accept json
// @Param request body RegisterRequest true "Registration request"
// @Produce json
// @Success 201 {object} models.Account
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, msgInvalidBody)
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	account, err := h.accounts.Register(r.Context(), services.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Domain:    req.Domain,
	})
	if err != nil {
		switch {
		case errors.Is(err, pkgauth.ErrInvalidPassword):
			pkghttp.WriteBadRequest(w, msgInvalidPassword)
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, msgEmailAlreadyUsed)
		default:
			h.internalError(w, "register", err)
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, account)
}

// Login handles credential login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.LoginResult
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 403 {object} NotVerifiedResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, msgInvalidBody)
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrEmailNotVerified) && result != nil:
			pkghttp.WriteJSON(w, http.StatusForbidden, NotVerifiedResponse{
				Error:   "forbidden",
				Message: msgNotVerified,
				User:    result.Account,
			})
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, msgAuthFailed)
		default:
			h.internalError(w, "login", err)
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Me returns the account of the authenticated caller
// @Summary Current account
// @Produce json
// @Success 200 {object} models.Account
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Missing authentication")
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, msgUserNotFound)
			return
		}
		h.internalError(w, "me", err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, account)
}

func (h *AuthHandler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("request failed", slog.String("op", op), slog.Any("error", err))
	pkghttp.WriteInternalError(w, msgInternalError)
}

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/BradenHooton/tokenwarden/internal/models"
	pkgauth "github.com/BradenHooton/tokenwarden/pkg/auth"
	pkghttp "github.com/BradenHooton/tokenwarden/pkg/http"
)

// ForgotPasswordRequest represents the request body for starting a reset
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ForgotPasswordResponse tells the client whether an invitation was sent instead of a code
type ForgotPasswordResponse struct {
	IsNewUser bool   `json:"isNewUser"`
	Message   string `json:"message"`
}

// VerifyPasswordTokenRequest asks whether a reset code is still usable
type VerifyPasswordTokenRequest struct {
	Token string `json:"token" validate:"required,max=128"`
	Email string `json:"email" validate:"required,email"`
}

// VerifyPasswordTokenResponse is the answer to VerifyPasswordTokenRequest
type VerifyPasswordTokenResponse struct {
	ValidToken bool `json:"validToken"`
}

// ResetPasswordRequest represents the request body for completing a reset
type ResetPasswordRequest struct {
	Token                string `json:"token" validate:"required,max=128"`
	Email                string `json:"email" validate:"required,email"`
	Password             string `json:"password" validate:"required"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=Password"`
}

// ForgotPassword sends a reset code, or an invitation for unknown addresses
// @Summary Forgot password
// @Accept json
// @Param request body ForgotPasswordRequest true "Forgot password request"
// @Produce json
// @Success 200 {object} ForgotPasswordResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, msgInvalidBody)
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.passwords.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		var limited *models.RateLimitedError
		if errors.As(err, &limited) {
			pkghttp.WriteTooManyRequests(w, rateLimitedMessage(limited.HoursRemaining))
			return
		}
		h.internalError(w, "forgot password", err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ForgotPasswordResponse{
		IsNewUser: result.IsNewUser,
		Message:   msgCheckEmail,
	})
}

// VerifyPasswordToken reports whether a reset code can still be used
// @Summary Check reset code
// @Accept json
// @Param request body VerifyPasswordTokenRequest true "Token check request"
// @Produce json
// @Success 200 {object} VerifyPasswordTokenResponse
// @Failure 403 {object} VerifyPasswordTokenResponse
// @Router /auth/verify-password-token [post]
func (h *AuthHandler) VerifyPasswordToken(w http.ResponseWriter, r *http.Request) {
	var req VerifyPasswordTokenRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, msgInvalidBody)
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	valid, err := h.passwords.CheckToken(r.Context(), req.Email, strings.TrimSpace(req.Token))
	if err != nil {
		h.internalError(w, "verify password token", err)
		return
	}

	status := http.StatusOK
	if !valid {
		status = http.StatusForbidden
	}
	pkghttp.WriteJSON(w, status, VerifyPasswordTokenResponse{ValidToken: valid})
}

// ResetPassword consumes a reset code and sets the new password
// @Summary Reset password
// @Accept json
// @Param request body ResetPasswordRequest true "Reset request"
// @Produce json
// @Success 200 {object} pkghttp.MessageResponse
// @Failure 403 {object} pkghttp.ErrorResponse
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, msgInvalidBody)
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.passwords.ResetPassword(r.Context(), req.Email, strings.TrimSpace(req.Token), req.Password)
	if err != nil {
		if errors.Is(err, pkgauth.ErrInvalidPassword) {
			pkghttp.WriteBadRequest(w, msgInvalidPassword)
			return
		}
		h.writeCodeError(w, "reset password", err)
		return
	}

	pkghttp.WriteMessage(w, http.StatusOK, msgPasswordUpdated)
}

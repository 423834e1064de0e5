package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/BradenHooton/tokenwarden/internal/models"
	pkghttp "github.com/BradenHooton/tokenwarden/pkg/http"
)

// VerifyEmailRequest carries the emailed code and the account it was sent to
type VerifyEmailRequest struct {
	Code   string `json:"code" validate:"required,max=64"`
	UserID string `json:"user_id" validate:"required_without=Email"`
	Email  string `json:"email" validate:"omitempty,email"`
}

// ResendVerificationRequest identifies the account by id or email
type ResendVerificationRequest struct {
	UserID string `json:"user_id" validate:"required_without=Email"`
	Email  string `json:"email" validate:"omitempty,email"`
}

func (r VerifyEmailRequest) ref() models.AccountRef {
	return models.AccountRef{ID: strings.TrimSpace(r.UserID), Email: r.Email}
}

func (r ResendVerificationRequest) ref() models.AccountRef {
	return models.AccountRef{ID: strings.TrimSpace(r.UserID), Email: r.Email}
}

// VerifyEmail activates the account when the code matches
// @Summary Verify email code
// @Accept json
// @Param request body VerifyEmailRequest true "Verification request"
// @Produce json
// @Success 200 {object} services.VerifyEmailResult
// @Failure 403 {object} pkghttp.ErrorResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /auth/verify [post]
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, msgInvalidBody)
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.verification.Verify(r.Context(), req.ref(), strings.TrimSpace(req.Code))
	if err != nil {
		h.writeCodeError(w, "verify email", err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// ResendVerificationCode issues a fresh code if the account is within its budget
// @Summary Resend verification code
// @Accept json
// @Param request body ResendVerificationRequest true "Resend request"
// @Produce json
// @Success 200 {object} pkghttp.MessageResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/resend-verification-code [post]
func (h *AuthHandler) ResendVerificationCode(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, msgInvalidBody)
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.verification.RequestCode(r.Context(), req.ref()); err != nil {
		var limited *models.RateLimitedError
		switch {
		case errors.As(err, &limited):
			pkghttp.WriteTooManyRequests(w, rateLimitedMessage(limited.HoursRemaining))
		case errors.Is(err, models.ErrAccountNotFound):
			pkghttp.WriteNotFound(w, msgUserNotFound)
		case errors.Is(err, models.ErrAlreadyActive):
			pkghttp.WriteConflict(w, msgAlreadyVerified)
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "user_id or email is required")
		default:
			h.internalError(w, "resend verification code", err)
		}
		return
	}

	pkghttp.WriteMessage(w, http.StatusOK, msgCheckEmail)
}

// VerificationStatus reports whether an address is verified and can request another code
// @Summary Verification status
// @Param email query string true "Email address"
// @Produce json
// @Success 200 {object} services.VerificationStatus
// @Router /auth/verification-status [get]
func (h *AuthHandler) VerificationStatus(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if err := validate.Var(email, "required,email"); err != nil {
		pkghttp.WriteBadRequest(w, "validation failed: email: must be a valid email address")
		return
	}

	status, err := h.verification.GetStatus(r.Context(), email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, msgUserNotFound)
			return
		}
		h.internalError(w, "verification status", err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// writeCodeError maps code verification failures. A missing account is 404;
// every failure of the code itself is the same 403.
func (h *AuthHandler) writeCodeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, models.ErrAccountNotFound):
		pkghttp.WriteNotFound(w, msgUserNotFound)
	case errors.Is(err, models.ErrAlreadyActive):
		pkghttp.WriteConflict(w, msgAlreadyVerified)
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrExpired),
		errors.Is(err, models.ErrSubjectMismatch):
		pkghttp.WriteForbidden(w, msgWrongCode)
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "user_id or email is required")
	default:
		h.internalError(w, op, err)
	}
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/BradenHooton/tokenwarden/internal/auth"
	"github.com/BradenHooton/tokenwarden/internal/models"
	pkghttp "github.com/BradenHooton/tokenwarden/pkg/http"
)

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest optionally names the refresh token to revoke with the session
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

// RefreshToken exchanges a refresh token for a new session
// @Summary Refresh access token
// @Accept json
// @Param request body RefreshTokenRequest true "Refresh token request"
// @Produce json
// @Success 200 {object} models.Session
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, msgInvalidBody)
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	session, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, msgAuthFailed)
			return
		}
		h.internalError(w, "refresh", err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, session)
}

// Logout revokes the caller's access token and the optional refresh token
// @Summary User logout
// @Accept json
// @Security BearerAuth
// @Param request body LogoutRequest false "Refresh token to revoke"
// @Produce json
// @Success 200 {object} pkghttp.MessageResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Missing authentication")
		return
	}

	var req LogoutRequest
	if r.ContentLength != 0 {
		if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
			pkghttp.WriteBadRequest(w, msgInvalidBody)
			return
		}
	}

	if err := h.sessions.Logout(r.Context(), claims, req.RefreshToken); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, msgAuthFailed)
			return
		}
		h.internalError(w, "logout", err)
		return
	}

	pkghttp.WriteMessage(w, http.StatusOK, msgLoggedOut)
}

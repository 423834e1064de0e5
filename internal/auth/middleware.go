package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BradenHooton/tokenwarden/internal/models"
	pkghttp "github.com/BradenHooton/tokenwarden/pkg/http"
)

type claimsKey struct{}

// RevocationChecker reports whether a token id was revoked
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// RevocationConfig controls what happens when the revocation lookup fails.
// FailClosed answers 503; otherwise the request proceeds on signature alone.
type RevocationConfig struct {
	FailClosed bool
}

var (
	errMissingBearer  = errors.New("missing bearer token")
	errWrongTokenType = errors.New("refresh tokens cannot be used for API access")
	errRevoked        = errors.New("token has been revoked")
	errRevocationDown = errors.New("unable to verify token status")
)

// AuthMiddleware accepts signed access tokens without a revocation lookup
func AuthMiddleware(tm *TokenManager) func(next http.Handler) http.Handler {
	return AuthMiddlewareWithRevocation(tm, nil, RevocationConfig{})
}

// AuthMiddlewareWithRevocation accepts signed access tokens whose jti is not
// on the revocation list and stores their claims on the request context.
func AuthMiddlewareWithRevocation(tm *TokenManager, checker RevocationChecker, cfg RevocationConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authenticate(r, tm, checker, cfg)
			switch {
			case errors.Is(err, errRevocationDown):
				pkghttp.WriteServiceUnavailable(w, err.Error())
				return
			case err != nil:
				pkghttp.WriteUnauthorized(w, err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func authenticate(r *http.Request, tm *TokenManager, checker RevocationChecker, cfg RevocationConfig) (*models.TokenClaims, error) {
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, errMissingBearer
	}

	claims, err := tm.ValidateToken(raw)
	if err != nil {
		return nil, errors.New("invalid or expired token")
	}
	if claims.Type != TokenTypeAccess {
		return nil, errWrongTokenType
	}

	if checker == nil || claims.ID == "" {
		return claims, nil
	}

	revoked, err := checker.IsTokenRevoked(r.Context(), claims.ID)
	switch {
	case err != nil && cfg.FailClosed:
		return nil, errRevocationDown
	case revoked:
		return nil, errRevoked
	}
	return claims, nil
}

// bearerToken extracts the credential from an "Authorization: Bearer <token>" value
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithClaims attaches authenticated claims to ctx
func WithClaims(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// GetUserFromContext returns the claims stored by the auth middleware, or nil
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, _ := r.Context().Value(claimsKey{}).(*models.TokenClaims)
	return claims
}

package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/tokenwarden/internal/auth"
	"github.com/BradenHooton/tokenwarden/internal/handlers"
	"github.com/BradenHooton/tokenwarden/internal/middleware"
	pkghttp "github.com/BradenHooton/tokenwarden/pkg/http"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *auth.TokenManager,
	revocations auth.RevocationChecker,
	revocationConfig auth.RevocationConfig,
	ipConfig *pkghttp.IPConfig,
	requestsPerMinute int,
) {
	rateLimit := middleware.DefaultAuthRateLimit(ipConfig)
	if requestsPerMinute > 0 {
		rateLimit.RequestsPerMinute = requestsPerMinute
	}

	router.Get("/health", healthHandler.Health)

	// Public routes, throttled per client IP
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimit))

		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/refresh", authHandler.RefreshToken)
		r.Post("/auth/verify", authHandler.VerifyEmail)
		r.Post("/auth/resend-verification-code", authHandler.ResendVerificationCode)
		r.Get("/auth/verification-status", authHandler.VerificationStatus)
		r.Post("/auth/forgot-password", authHandler.ForgotPassword)
		r.Post("/auth/verify-password-token", authHandler.VerifyPasswordToken)
		r.Post("/auth/reset-password", authHandler.ResetPassword)
	})

	// Protected routes
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddlewareWithRevocation(tokenManager, revocations, revocationConfig))
		r.Get("/auth/me", authHandler.Me)
		r.Post("/auth/logout", authHandler.Logout)
	})
}

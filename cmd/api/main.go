package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/tokenwarden/internal/auth"
	"github.com/BradenHooton/tokenwarden/internal/background"
	"github.com/BradenHooton/tokenwarden/internal/config"
	"github.com/BradenHooton/tokenwarden/internal/database"
	"github.com/BradenHooton/tokenwarden/internal/handlers"
	middlewareCustom "github.com/BradenHooton/tokenwarden/internal/middleware"
	"github.com/BradenHooton/tokenwarden/internal/repositories"
	"github.com/BradenHooton/tokenwarden/internal/routes"
	"github.com/BradenHooton/tokenwarden/internal/services"
	pkghttp "github.com/BradenHooton/tokenwarden/pkg/http"
)

// tokenBackend is what both token stores provide
type tokenBackend interface {
	services.TokenStore
	background.TokenPruner
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	opts, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	cfg, err := config.LoadWithOptions(opts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("token_store", cfg.Tokens.Store),
		slog.String("email_provider", cfg.Email.Provider))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Accounts always live in Postgres
	if err := database.Migrate(ctx, cfg.Database.DSN(), logger); err != nil {
		return err
	}
	if opts.MigrateOnly {
		logger.Info("migrations applied, exiting")
		return nil
	}

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	healthChecks := map[string]handlers.HealthCheck{"postgres": db.HealthCheck}

	var tokens tokenBackend
	switch cfg.Tokens.Store {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		redisTokens := repositories.NewRedisTokenRepository(client, cfg.Redis.Prefix)
		if err := redisTokens.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		healthChecks["redis"] = redisTokens.Ping
		tokens = redisTokens
	default:
		tokens = repositories.NewTokenRepository(db)
	}
	accountRepo := repositories.NewAccountRepository(db)
	revocationRepo := repositories.NewTokenRevocationRepository(db)

	sender, err := newSender(ctx, cfg, logger)
	if err != nil {
		return err
	}

	dispatcher := background.NewNotificationDispatcher(sender, background.DispatcherConfig{
		QueueSize:      cfg.Email.QueueSize,
		Workers:        2,
		MaxAttempts:    cfg.Email.MaxAttempts,
		RetryBaseDelay: cfg.Email.RetryBaseDelay,
		SendTimeout:    10 * time.Second,
	}, logger)
	dispatcher.Start(context.Background())

	cleanupManager := background.NewCleanupManager(tokens, cfg.Tokens.Retention, cfg.Tokens.CleanupInterval, logger)
	go cleanupManager.Start(ctx)

	// Revoked jtis are kept until the token itself would have expired
	revocationCleanup := background.NewCleanupManager(
		background.PrunerFunc(revocationRepo.DeleteExpiredBefore), 0, cfg.Tokens.CleanupInterval, logger)
	go revocationCleanup.Start(ctx)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:   cfg.Auth.LoginDelayBase,
		RandomDelay: cfg.Auth.LoginDelayJitter,
	})

	clock := services.SystemClock{}
	limiter := services.NewRateLimitService(tokens, services.RateLimitConfig{
		Window:    cfg.Tokens.RateLimitWindow,
		MaxIssues: cfg.Tokens.MaxIssues,
	}, clock, logger)
	issuer := services.NewTokenIssuer(tokens, dispatcher, clock, logger)
	verifier := services.NewTokenVerifier(tokens, clock, cfg.Tokens.Validity, logger)

	accountService := services.NewAccountService(accountRepo, issuer, tokenManager, timingDelay, logger)
	verificationService := services.NewEmailVerificationService(accountRepo, limiter, issuer, verifier, tokenManager, logger)
	resetService := services.NewPasswordResetService(accountRepo, limiter, issuer, verifier, dispatcher, logger)
	sessionService := services.NewSessionService(accountRepo, tokenManager, revocationRepo, logger)

	authHandler := handlers.NewAuthHandler(accountService, verificationService, resetService, sessionService, logger)
	healthHandler := handlers.NewHealthHandler(healthChecks, logger)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	routes.RegisterRoutes(router, authHandler, healthHandler, tokenManager, revocationRepo,
		auth.RevocationConfig{FailClosed: cfg.Auth.RevocationFailClosed}, ipConfig, cfg.Server.RequestsPerMinuteIP)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	cleanupManager.Stop()
	revocationCleanup.Stop()

	// Handlers are done; flush what is still queued
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("notifications left undelivered", slog.Any("error", err))
	}

	logger.Info("server stopped gracefully")
	return nil
}

func newSender(ctx context.Context, cfg *config.Config, logger *slog.Logger) (background.Sender, error) {
	if cfg.Email.Provider == config.EmailProviderSES {
		sender, err := services.NewSESSender(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize email sender: %w", err)
		}
		return sender, nil
	}

	logger.Warn("email provider is log; codes are written to the log instead of sent",
		slog.String("env", cfg.Server.Env))
	return services.NewLogSender(cfg.Server.Env, logger), nil
}

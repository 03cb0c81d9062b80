package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/bantay/internal/auth"
	"github.com/BradenHooton/bantay/internal/background"
	"github.com/BradenHooton/bantay/internal/config"
	"github.com/BradenHooton/bantay/internal/database"
	"github.com/BradenHooton/bantay/internal/handlers"
	middlewareCustom "github.com/BradenHooton/bantay/internal/middleware"
	"github.com/BradenHooton/bantay/internal/repositories"
	"github.com/BradenHooton/bantay/internal/routes"
	"github.com/BradenHooton/bantay/internal/services"
	"github.com/BradenHooton/bantay/internal/session"
	pkghttp "github.com/BradenHooton/bantay/pkg/http"
	pkglogger "github.com/BradenHooton/bantay/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	if cfg.Database.RunMigrations {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		err := database.MigrateDSN(ctx, cfg.Database.DSN(), logger)
		cancel()
		if err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)
	deviceRepo := repositories.NewTrustedDeviceRepository(db)
	otpRepo := repositories.NewOTPRepository(db)
	resetLedger := repositories.NewResetTokenLedger(redisClient)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})

	dispatcher, err := newDispatcher(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize notification dispatcher", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	guard := services.NewCredentialGuard(accountRepo, services.CredentialGuardConfig{
		MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
		LockoutDuration:   cfg.Auth.LockoutDuration,
	}, logger)
	deviceTrust := services.NewDeviceTrustService(deviceRepo, cfg.Auth.DeviceTokenTTL, logger, auditLogger)
	otpService := services.NewOTPService(otpRepo, cfg.Auth.OTPTTL, logger)
	authService := services.NewAuthService(accountRepo, guard, deviceTrust, dispatcher, timingDelay, logger, auditLogger)
	resetService := services.NewPasswordResetService(
		accountRepo,
		otpService,
		dispatcher,
		auth.NewResetTokenManager(cfg.Auth.Secret, cfg.Auth.ResetTokenTTL),
		resetLedger,
		logger,
		auditLogger,
	)

	// Sessions live in redis; the cookie only carries the signed id
	sessionConfig := session.Config{
		CookieName:    cfg.Session.CookieName,
		IdleTimeout:   cfg.Session.IdleTimeout,
		WarningWindow: cfg.Session.WarningWindow,
		Lifetime:      cfg.Session.Lifetime,
		Cookie:        auth.CookieConfig{Secure: cfg.Session.SecureCookie, SameSite: "lax"},
	}
	sessionManager := session.NewManager(
		session.NewRedisStore(redisClient, cfg.Session.Lifetime),
		session.NewCookieStore(cfg.Session.HashKey, cfg.Session.BlockKey, sessionConfig),
		sessionConfig,
		logger,
		auditLogger,
	)

	// Bootstrap first admin account if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	ensureAdminAccount(ctx, authService, logger)
	cancel()

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	// Initialize handlers
	h := routes.Handlers{
		Auth:     handlers.NewAuthHandler(authService, sessionManager, ipConfig, sessionConfig.Cookie, logger),
		Session:  handlers.NewSessionHandler(sessionManager, logger),
		Devices:  handlers.NewDeviceHandler(deviceTrust, logger),
		Password: handlers.NewPasswordHandler(resetService, cfg.Auth.ResetTokenTTL),
		Health: handlers.NewHealthHandler(
			db.HealthCheck,
			func(ctx context.Context) error { return database.RedisHealthCheck(ctx, redisClient) },
			logger,
		),
	}

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(logger, cfg.Auth.CleanupInterval,
		background.PurgeFunc{Label: "one_time_codes", Fn: otpService.PurgeExpired},
		background.PurgeFunc{Label: "device_verification_tokens", Fn: deviceTrust.PurgeExpiredTokens},
	)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, h, sessionManager, middlewareCustom.RateLimitConfig{
		RequestsPerMinute: cfg.Auth.RequestsPerMinute,
		IPConfig:          ipConfig,
	}, logger)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// newDispatcher sends through SES when a region is configured. Without one
// it only logs, revealing links and codes in development. Production refuses
// to start without SES.
func newDispatcher(cfg *config.Config, logger *slog.Logger) (services.Dispatcher, error) {
	if cfg.Email.AWSRegion == "" {
		if cfg.Server.Env == "production" {
			return nil, errors.New("AWS_REGION is required in production")
		}
		logger.Warn("AWS_REGION not set, emails will only be logged")
		return services.NewLogDispatcher(cfg.Email.AppBaseURL, cfg.Server.Env == "development", logger), nil
	}
	return services.NewSESDispatcher(cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.AppBaseURL, cfg.Auth.OTPTTL, logger)
}

// ensureAdminAccount creates the first admin account if ADMIN_EMAIL and
// ADMIN_PASSWORD are set
func ensureAdminAccount(ctx context.Context, authService *services.AuthService, logger *slog.Logger) {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin account creation")
		return
	}

	name := os.Getenv("ADMIN_NAME")
	if name == "" {
		name = "Barangay Administrator"
	}

	created, err := authService.EnsureAdmin(ctx, adminEmail, adminPassword, name)
	if err != nil {
		logger.Error("failed to ensure admin account", slog.Any("error", err))
		return
	}
	if !created {
		logger.Info("admin account already exists")
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xtottel/xto-auth/internal/auth"
	"github.com/xtottel/xto-auth/internal/config"
	"github.com/xtottel/xto-auth/internal/db"
	httphandler "github.com/xtottel/xto-auth/internal/http"
	"github.com/xtottel/xto-auth/internal/http/handlers"
	"github.com/xtottel/xto-auth/internal/mail"
	"github.com/xtottel/xto-auth/internal/repo"

	_ "github.com/lib/pq"
)

const sessionSweepInterval = 15 * time.Minute

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.DevMode, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// Repositories
	userRepo := repo.NewUserRepo(database)
	sessionRepo := repo.NewSessionRepo(database)
	attemptRepo := repo.NewAttemptRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	tokenRepo := repo.NewTokenRepo(database)

	// Auth engine
	mailer := mail.NewLogMailer(logger)
	signer := auth.NewSigner(cfg.AccessTokenSecret, cfg.RefreshTokenSecret,
		cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.MFATokenTTL)
	hasher := auth.NewPasswordHasher(cfg.BcryptCost)
	codes := auth.NewCodeManager(otpRepo, mailer, cfg.OTPSalt, cfg.OneTimeCodeTTL)
	throttle := auth.NewThrottle(attemptRepo)
	authService := auth.NewService(userRepo, sessionRepo, attemptRepo, tokenRepo,
		signer, hasher, codes, throttle, mailer,
		auth.TTLConfig{
			Session:      cfg.RefreshTokenTTL,
			Reset:        cfg.ResetTokenTTL,
			Verification: cfg.VerificationTokenTTL,
		}, logger)

	authHandler := handlers.NewAuthHandler(authService, logger,
		cfg.AccessTokenTTL, cfg.RefreshTokenTTL, !cfg.DevMode)

	router := httphandler.NewRouter(authHandler, authService, database, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sweepDone := make(chan struct{})
	go sweepSessions(sessionRepo, logger, sweepDone)

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	close(sweepDone)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// sweepSessions periodically closes out sessions that ran past their expiry.
func sweepSessions(sessions repo.SessionRepo, logger *zap.Logger, done <-chan struct{}) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := sessions.SweepExpired(ctx)
			cancel()
			if err != nil {
				logger.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired sessions swept", zap.Int64("count", n))
			}
		}
	}
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the module root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func newLogger(dev bool, level string) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(os.Stdout), lvl)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

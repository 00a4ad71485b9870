package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	Port        string

	AccessTokenSecret  string
	RefreshTokenSecret string
	OTPSalt            string

	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	MFATokenTTL          time.Duration
	OneTimeCodeTTL       time.Duration
	ResetTokenTTL        time.Duration
	VerificationTokenTTL time.Duration

	BcryptCost int
	DevMode    bool
	LogLevel   string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 "8080",
		AccessTokenTTL:       time.Hour,
		RefreshTokenTTL:      7 * 24 * time.Hour,
		MFATokenTTL:          15 * time.Minute,
		OneTimeCodeTTL:       10 * time.Minute,
		ResetTokenTTL:        time.Hour,
		VerificationTokenTTL: 24 * time.Hour,
		BcryptCost:           10,
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	cfg.AccessTokenSecret = os.Getenv("ACCESS_TOKEN_SECRET")
	if cfg.AccessTokenSecret == "" {
		return nil, fmt.Errorf("ACCESS_TOKEN_SECRET environment variable is required")
	}

	cfg.RefreshTokenSecret = os.Getenv("REFRESH_TOKEN_SECRET")
	if cfg.RefreshTokenSecret == "" {
		return nil, fmt.Errorf("REFRESH_TOKEN_SECRET environment variable is required")
	}
	if cfg.RefreshTokenSecret == cfg.AccessTokenSecret {
		return nil, fmt.Errorf("REFRESH_TOKEN_SECRET must differ from ACCESS_TOKEN_SECRET")
	}

	cfg.OTPSalt = os.Getenv("OTP_SALT")
	if cfg.OTPSalt == "" {
		return nil, fmt.Errorf("OTP_SALT environment variable is required")
	}

	var err error
	if cfg.AccessTokenTTL, err = durationEnv("ACCESS_TOKEN_TTL", cfg.AccessTokenTTL); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL, err = durationEnv("REFRESH_TOKEN_TTL", cfg.RefreshTokenTTL); err != nil {
		return nil, err
	}
	if cfg.MFATokenTTL, err = durationEnv("MFA_TOKEN_TTL", cfg.MFATokenTTL); err != nil {
		return nil, err
	}
	if cfg.OneTimeCodeTTL, err = durationEnv("OTP_TTL", cfg.OneTimeCodeTTL); err != nil {
		return nil, err
	}
	if cfg.ResetTokenTTL, err = durationEnv("RESET_TOKEN_TTL", cfg.ResetTokenTTL); err != nil {
		return nil, err
	}
	if cfg.VerificationTokenTTL, err = durationEnv("VERIFICATION_TOKEN_TTL", cfg.VerificationTokenTTL); err != nil {
		return nil, err
	}

	if costStr := os.Getenv("BCRYPT_COST"); costStr != "" {
		cost, err := strconv.Atoi(costStr)
		if err != nil || cost < 4 || cost > 31 {
			return nil, fmt.Errorf("BCRYPT_COST must be an integer between 4 and 31")
		}
		cfg.BcryptCost = cost
	}

	cfg.DevMode = os.Getenv("DEV_MODE") == "true"
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 15m or 24h: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}

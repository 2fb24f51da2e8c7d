package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"hedge-core/pkg/crypto"
)

// Config holds environment-driven settings for the hedge core.
type Config struct {
	Port string

	// Binance USDT-M futures
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool
	RecvWindow       int64

	// Database
	DBPath string

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// API auth
	AppAccessKey string
	JWTSecret    string
	TokenTTL     time.Duration

	// Loops and pacing
	ReconcileInterval time.Duration
	OrderPollInterval time.Duration
	RetryDelay        time.Duration

	// Trading settings snapshot file (YAML)
	SettingsFile string
	Settings     Settings
}

// Load reads environment variables (optionally via .env) into Config and
// loads the trading settings file on top of the defaults.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	secret := os.Getenv("BINANCE_API_SECRET")
	if crypto.IsEncrypted(secret) {
		enc, err := crypto.NewEncryptorFromHex(os.Getenv("ENCRYPTION_KEY"))
		if err != nil {
			return nil, fmt.Errorf("BINANCE_API_SECRET is encrypted: %w", err)
		}
		if secret, err = enc.Decrypt(secret); err != nil {
			return nil, fmt.Errorf("decrypt BINANCE_API_SECRET: %w", err)
		}
	}

	cfg := &Config{
		Port:              getEnv("API_PORT", getEnv("PORT", "8080")),
		BinanceAPIKey:     os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:  secret,
		BinanceTestnet:    getEnvBool("BINANCE_TESTNET", true),
		RecvWindow:        int64(getEnvInt("RECV_WINDOW", 5000)),
		DBPath:            getEnv("DB_PATH", "./data/hedge.db"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFile:           getEnv("LOG_FILE", ""),
		LogMaxSizeMB:      getEnvInt("LOG_MAX_SIZE_MB", 50),
		LogMaxBackups:     getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays:     getEnvInt("LOG_MAX_AGE_DAYS", 14),
		AppAccessKey:      getEnv("APP_ACCESS_KEY", ""),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		TokenTTL:          getEnvDuration("TOKEN_TTL", 24*time.Hour),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
		OrderPollInterval: getEnvDuration("ORDER_POLL_INTERVAL", 3*time.Second),
		RetryDelay:        getEnvDuration("RETRY_DELAY", 3*time.Second),
		SettingsFile:      getEnv("SETTINGS_FILE", "settings.yaml"),
	}

	settings, err := LoadSettings(cfg.SettingsFile)
	if err != nil {
		return nil, err
	}
	cfg.Settings = settings
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.ToUpper(strings.TrimSpace(p)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

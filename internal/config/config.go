package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	PostgresDSN        string
	RedisAddr          string
	KafkaBrokers       []string
	JWTSecret          string
	HTTPAddr           string
	CaptureProviderURL string
	PayoutProviderURL  string
	BalanceSourceURL   string

	FeeRate                    decimal.Decimal
	EarlyWithdrawalPenaltyRate decimal.Decimal
	LockPeriodsMonths          []int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		PostgresDSN:        os.Getenv("POSTGRES_DSN"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		KafkaBrokers:       []string{os.Getenv("KAFKA_BROKER")},
		JWTSecret:          os.Getenv("JWT_SECRET"),
		HTTPAddr:           os.Getenv("HTTP_ADDR"),
		CaptureProviderURL: os.Getenv("CAPTURE_PROVIDER_URL"),
		PayoutProviderURL:  os.Getenv("PAYOUT_PROVIDER_URL"),
		BalanceSourceURL:   os.Getenv("BALANCE_SOURCE_URL"),

		FeeRate:                    decimalEnv("FEE_RATE", "0.03"),
		EarlyWithdrawalPenaltyRate: decimalEnv("EARLY_WITHDRAWAL_PENALTY_RATE", "0.05"),
		LockPeriodsMonths:          periodsEnv("LOCK_PERIODS", []int{3, 6, 12, 24}),
	}

	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "host=localhost user=postgres password=postgres dbname=geopay sslmode=disable"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if len(cfg.KafkaBrokers) == 1 && cfg.KafkaBrokers[0] == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "supersecret"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.CaptureProviderURL == "" {
		cfg.CaptureProviderURL = "http://localhost:9101"
	}
	if cfg.PayoutProviderURL == "" {
		cfg.PayoutProviderURL = "http://localhost:9102"
	}
	if cfg.BalanceSourceURL == "" {
		cfg.BalanceSourceURL = "http://localhost:9103"
	}

	slog.Info("config loaded",
		"postgres_dsn", cfg.PostgresDSN,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"fee_rate", cfg.FeeRate,
		"penalty_rate", cfg.EarlyWithdrawalPenaltyRate,
		"lock_periods", cfg.LockPeriodsMonths)
	return cfg
}

func decimalEnv(key, fallback string) decimal.Decimal {
	raw := os.Getenv(key)
	if raw == "" {
		raw = fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		slog.Warn("invalid decimal env var, using fallback", "key", key, "value", raw)
		d, _ = decimal.NewFromString(fallback)
	}
	return d
}

func periodsEnv(key string, fallback []int) []int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var periods []int
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 {
			slog.Warn("invalid lock period in env var, using fallback", "key", key, "value", raw)
			return fallback
		}
		periods = append(periods, n)
	}
	return periods
}

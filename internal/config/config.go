package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config captures the runtime configuration for the WatchEarn backend service.
type Config struct {
	AppPort          int
	DatabaseURL      string
	MigrationDir     string
	SeedDir          string
	LogLevel         string
	YTDLPPath        string
	YTDLPTimeout     time.Duration
	MetadataCacheTTL time.Duration

	// Location decides which calendar day a timestamp belongs to.
	Location           *time.Location
	DailyTargetMinutes int
	MissThreshold      int

	ReferralBonus   decimal.Decimal
	SignupBonus     decimal.Decimal
	HourlyBonus     decimal.Decimal
	MinPayout       decimal.Decimal
	ReactivationFee decimal.Decimal
	Currency        string

	GatewayBaseURL       string
	GatewayAPIKey        string
	GatewayWebhookSecret string
	GatewayTimeout       time.Duration
	GatewayMaxElapsed    time.Duration

	AdminToken string

	SettlementBucket   string
	SettlementPrefix   string
	SettlementRegion   string
	SettlementEndpoint string

	ScheduleDaily      string
	ScheduleSettlement string
	ScheduleReconcile  string

	ProgressRateLimit float64
	ProgressRateBurst int
	PayoutRateLimit   float64
	PayoutRateBurst   int
}

// Load reads configuration from environment variables, applying sensible defaults
// for local development while allowing overrides through environment variables.
// A .env file in the working directory is read first when present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	location, err := getLocation("WATCHEARN_TIMEZONE", "UTC")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppPort:          getInt("WATCHEARN_PORT", 8080),
		DatabaseURL:      getString("WATCHEARN_DATABASE_URL", "postgres://root@localhost:26257/watchearn?sslmode=disable"),
		MigrationDir:     getString("WATCHEARN_MIGRATIONS", "migrations"),
		SeedDir:          getString("WATCHEARN_SEEDS", "seeds"),
		LogLevel:         getString("WATCHEARN_LOG_LEVEL", "info"),
		YTDLPPath:        getString("WATCHEARN_YTDLP_PATH", "yt-dlp"),
		YTDLPTimeout:     getDuration("WATCHEARN_YTDLP_TIMEOUT", 30*time.Second),
		MetadataCacheTTL: getDuration("WATCHEARN_METADATA_CACHE_TTL", 15*time.Minute),

		Location:           location,
		DailyTargetMinutes: getInt("WATCHEARN_DAILY_TARGET_MINUTES", 480),
		MissThreshold:      getInt("WATCHEARN_MISS_THRESHOLD", 3),

		ReferralBonus:   getDecimal("WATCHEARN_REFERRAL_BONUS", decimal.RequireFromString("2.00")),
		SignupBonus:     getDecimal("WATCHEARN_SIGNUP_BONUS", decimal.RequireFromString("1.00")),
		HourlyBonus:     getDecimal("WATCHEARN_HOURLY_BONUS", decimal.RequireFromString("0.05")),
		MinPayout:       getDecimal("WATCHEARN_MIN_PAYOUT", decimal.Zero),
		ReactivationFee: getDecimal("WATCHEARN_REACTIVATION_FEE", decimal.RequireFromString("5.00")),
		Currency:        getString("WATCHEARN_CURRENCY", "USD"),

		GatewayBaseURL:       getString("WATCHEARN_GATEWAY_URL", "http://localhost:9090"),
		GatewayAPIKey:        getString("WATCHEARN_GATEWAY_API_KEY", ""),
		GatewayWebhookSecret: getString("WATCHEARN_GATEWAY_WEBHOOK_SECRET", ""),
		GatewayTimeout:       getDuration("WATCHEARN_GATEWAY_TIMEOUT", 10*time.Second),
		GatewayMaxElapsed:    getDuration("WATCHEARN_GATEWAY_MAX_ELAPSED", 20*time.Second),

		AdminToken: getString("WATCHEARN_ADMIN_TOKEN", ""),

		SettlementBucket:   getString("WATCHEARN_SETTLEMENT_BUCKET", ""),
		SettlementPrefix:   getString("WATCHEARN_SETTLEMENT_PREFIX", "settlements"),
		SettlementRegion:   getString("WATCHEARN_SETTLEMENT_REGION", "us-east-1"),
		SettlementEndpoint: getString("WATCHEARN_SETTLEMENT_ENDPOINT", ""),

		ScheduleDaily:      getString("WATCHEARN_SCHEDULE_DAILY", "5 0 * * *"),
		ScheduleSettlement: getString("WATCHEARN_SCHEDULE_SETTLEMENT", "0 2 * * MON"),
		ScheduleReconcile:  getString("WATCHEARN_SCHEDULE_RECONCILE", "@hourly"),

		ProgressRateLimit: getFloat("WATCHEARN_PROGRESS_RATE_LIMIT", 1),
		ProgressRateBurst: getInt("WATCHEARN_PROGRESS_RATE_BURST", 5),
		PayoutRateLimit:   getFloat("WATCHEARN_PAYOUT_RATE_LIMIT", 0.1),
		PayoutRateBurst:   getInt("WATCHEARN_PAYOUT_RATE_BURST", 3),
	}

	if cfg.DailyTargetMinutes <= 0 {
		return Config{}, fmt.Errorf("WATCHEARN_DAILY_TARGET_MINUTES must be positive, got %d", cfg.DailyTargetMinutes)
	}
	if cfg.MissThreshold <= 0 {
		return Config{}, fmt.Errorf("WATCHEARN_MISS_THRESHOLD must be positive, got %d", cfg.MissThreshold)
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := decimal.NewFromString(value)
	if err != nil || d.IsNegative() {
		return fallback
	}
	return d
}

func getLocation(key, fallback string) (*time.Location, error) {
	name := getString(key, fallback)
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load %s %q: %w", key, name, err)
	}
	return loc, nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/ledger"
)

type Config struct {
	Port                     string
	AllowedOrigin            string
	DatabaseURL              string
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	AuthSecret               string
	AccessTokenTTLMinutes    int
	ManagerPIN               string
	OperatingTimezone        string
	CreditPolicy             domain.CreditPolicy
	CreditTermDays           int
	MaxAmount                int64
	SnapshotCacheTTLSeconds  int
	SnapshotSchedulerEnabled bool
	SnapshotRunAt            string
	LogLevel                 string
	SeedDemoData             bool
}

// Load reads the environment, after merging an optional .env file.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	termDays, err := strconv.Atoi(getEnv("CREDIT_TERM_DAYS", "30"))
	if err != nil || termDays < 0 {
		termDays = 30
	}
	maxAmount, err := strconv.ParseInt(getEnv("MAX_AMOUNT", ""), 10, 64)
	if err != nil || maxAmount < 1 {
		maxAmount = ledger.DefaultMaxAmount
	}
	cacheTTL, err := strconv.Atoi(getEnv("SNAPSHOT_CACHE_TTL_SECONDS", "3600"))
	if err != nil || cacheTTL < 1 {
		cacheTTL = 3600
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	policy, ok := domain.ParseCreditPolicy(strings.ToLower(getEnv("CREDIT_POLICY", string(domain.CreditPolicyStrict))))
	if !ok {
		policy = domain.CreditPolicyStrict
	}

	return Config{
		Port:                     getEnv("PORT", "8080"),
		AllowedOrigin:            getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  redisDB,
		AuthSecret:               strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:    tokenTTL,
		ManagerPIN:               strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		OperatingTimezone:        getEnv("OPERATING_TIMEZONE", "Asia/Jakarta"),
		CreditPolicy:             policy,
		CreditTermDays:           termDays,
		MaxAmount:                maxAmount,
		SnapshotCacheTTLSeconds:  cacheTTL,
		SnapshotSchedulerEnabled: getBool("SNAPSHOT_SCHEDULER_ENABLED", false),
		SnapshotRunAt:            getEnv("SNAPSHOT_RUN_AT", "00:05"),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		SeedDemoData:             getBool("SEED_DEMO_DATA", false),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) SnapshotCacheTTL() time.Duration {
	return time.Duration(c.SnapshotCacheTTLSeconds) * time.Second
}

// RunAt parses SNAPSHOT_RUN_AT as HH:MM.
func (c Config) RunAt() (int, int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(c.SnapshotRunAt))
	if err != nil {
		return 0, 0, fmt.Errorf("SNAPSHOT_RUN_AT must be HH:MM: %w", err)
	}
	return parsed.Hour(), parsed.Minute(), nil
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return val
}

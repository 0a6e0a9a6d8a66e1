package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	BusMemory = "memory"
	BusRedis  = "redis"

	JournalNone     = "none"
	JournalMemory   = "memory"
	JournalPostgres = "postgres"
	JournalSQLite   = "sqlite"
)

// Config holds service configuration.
type Config struct {
	ServerAddr       string
	OrgID            string
	ProjectID        string
	MaxRetryAttempts int
	RetryCondition   string
	OAuthRedirectURL string

	FlowIdleTTL       time.Duration
	FlowAbandonTTL    time.Duration
	FlowSweepInterval time.Duration

	ExchangeSandbox bool
	ExchangeAPIURL  string
	ExchangeAPIKey  string

	SandboxTOTPSecret  string
	SandboxTwoFactorAt decimal.Decimal
	SandboxQuoteTTL    time.Duration
	SandboxSettleDelay time.Duration

	MessageBus       string
	RedisAddr        string
	RedisTopicPrefix string
	RelayToken       string
	RelayTokenHash   string

	JournalDriver string
	DatabaseURL   string
	SQLitePath    string
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "withdraw")
		pass := getenv("POSTGRES_PASSWORD", "withdraw_pass")
		db := getenv("POSTGRES_DB", "withdraw")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	maxRetries, err := parseInt(getenv("MAX_RETRY_ATTEMPTS", "3"))
	if err != nil || maxRetries <= 0 {
		return nil, fmt.Errorf("invalid MAX_RETRY_ATTEMPTS: %q", os.Getenv("MAX_RETRY_ATTEMPTS"))
	}
	threshold, err := decimal.NewFromString(getenv("SANDBOX_2FA_THRESHOLD", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid SANDBOX_2FA_THRESHOLD: %w", err)
	}

	cfg := &Config{
		ServerAddr:       getenv("SERVER_ADDR", "0.0.0.0:8080"),
		OrgID:            getenv("ORG_ID", "default-org"),
		ProjectID:        getenv("PROJECT_ID", "default-project"),
		MaxRetryAttempts: maxRetries,
		RetryCondition:   os.Getenv("RETRY_CONDITION"),
		OAuthRedirectURL: os.Getenv("OAUTH_REDIRECT_URL"),

		FlowIdleTTL:       parseDuration(getenv("FLOW_IDLE_TTL", "10m"), 10*time.Minute),
		FlowAbandonTTL:    parseDuration(getenv("FLOW_ABANDON_TTL", "1h"), time.Hour),
		FlowSweepInterval: parseDuration(getenv("FLOW_SWEEP_INTERVAL", "30s"), 30*time.Second),

		ExchangeSandbox: parseBool(getenv("EXCHANGE_SANDBOX", "true"), true),
		ExchangeAPIURL:  os.Getenv("EXCHANGE_API_URL"),
		ExchangeAPIKey:  os.Getenv("EXCHANGE_API_KEY"),

		SandboxTOTPSecret:  os.Getenv("SANDBOX_TOTP_SECRET"),
		SandboxTwoFactorAt: threshold,
		SandboxQuoteTTL:    parseDuration(getenv("SANDBOX_QUOTE_TTL", "30s"), 30*time.Second),
		SandboxSettleDelay: parseDuration(getenv("SANDBOX_SETTLE_DELAY", "2s"), 2*time.Second),

		MessageBus:       strings.ToLower(getenv("MESSAGE_BUS", BusMemory)),
		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		RedisTopicPrefix: getenv("REDIS_TOPIC_PREFIX", "withdraw:topic:"),
		RelayToken:       os.Getenv("RELAY_TOKEN"),
		RelayTokenHash:   os.Getenv("RELAY_TOKEN_HASH"),

		JournalDriver: strings.ToLower(getenv("JOURNAL_DRIVER", JournalMemory)),
		DatabaseURL:   dsn,
		SQLitePath:    getenv("SQLITE_PATH", "withdraw-journal.db"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.MessageBus {
	case BusMemory, BusRedis:
	default:
		return fmt.Errorf("invalid MESSAGE_BUS: %q", c.MessageBus)
	}
	switch c.JournalDriver {
	case JournalNone, JournalMemory, JournalPostgres, JournalSQLite:
	default:
		return fmt.Errorf("invalid JOURNAL_DRIVER: %q", c.JournalDriver)
	}
	if !c.ExchangeSandbox && c.ExchangeAPIURL == "" {
		return fmt.Errorf("EXCHANGE_API_URL is required when EXCHANGE_SANDBOX is false")
	}
	return nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseBool(val string, def bool) bool {
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func parseInt(val string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(val))
}

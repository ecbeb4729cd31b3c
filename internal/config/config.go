package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	LedgerModeTx   = "tx"
	LedgerModeSaga = "saga"
)

type Config struct {
	Port             string
	AllowedOrigins   []string
	DatabaseURL      string
	MigrateOnStart   bool
	SQLitePath       string
	LedgerMode       string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	ReceiptCacheTTL  time.Duration
	PaymentLockTTL   time.Duration
	TxTimeout        time.Duration
	AuthSecret       string
	DefaultAccountID string
	LogLevel         string
	RateLimitRPS     float64
	RateLimitBurst   int
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGINS", "http://127.0.0.1:5173")
	v.SetDefault("MIGRATE_ON_START", true)
	v.SetDefault("LEDGER_MODE", LedgerModeTx)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RECEIPT_CACHE_TTL_SECONDS", 600)
	v.SetDefault("PAYMENT_LOCK_TTL_SECONDS", 10)
	v.SetDefault("TX_TIMEOUT_SECONDS", 8)
	v.SetDefault("DEFAULT_ACCOUNT_ID", "main-account")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	return v
}

func FromViper(v *viper.Viper) Config {
	return Config{
		Port:             v.GetString("PORT"),
		AllowedOrigins:   splitList(v.GetString("ALLOWED_ORIGINS")),
		DatabaseURL:      v.GetString("DATABASE_URL"),
		MigrateOnStart:   v.GetBool("MIGRATE_ON_START"),
		SQLitePath:       v.GetString("SQLITE_PATH"),
		LedgerMode:       strings.ToLower(strings.TrimSpace(v.GetString("LEDGER_MODE"))),
		RedisAddr:        v.GetString("REDIS_ADDR"),
		RedisPassword:    v.GetString("REDIS_PASSWORD"),
		RedisDB:          v.GetInt("REDIS_DB"),
		ReceiptCacheTTL:  seconds(v.GetInt("RECEIPT_CACHE_TTL_SECONDS"), 600),
		PaymentLockTTL:   seconds(v.GetInt("PAYMENT_LOCK_TTL_SECONDS"), 10),
		TxTimeout:        seconds(v.GetInt("TX_TIMEOUT_SECONDS"), 8),
		AuthSecret:       strings.TrimSpace(v.GetString("AUTH_SECRET")),
		DefaultAccountID: v.GetString("DEFAULT_ACCOUNT_ID"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		RateLimitRPS:     positiveFloat(v.GetFloat64("RATE_LIMIT_RPS"), 20),
		RateLimitBurst:   positiveInt(v.GetInt("RATE_LIMIT_BURST"), 40),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Validate rejects configurations the server must not start with.
func (c Config) Validate() error {
	if len(c.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if c.DatabaseURL != "" && c.SQLitePath != "" {
		return fmt.Errorf("set only one of DATABASE_URL and SQLITE_PATH")
	}
	switch c.LedgerMode {
	case "", LedgerModeTx:
	case LedgerModeSaga:
		// Only the in-memory tables expose single-write operations.
		if c.DatabaseURL != "" || c.SQLitePath != "" {
			return fmt.Errorf("LEDGER_MODE=saga runs on the in-memory tables only")
		}
	default:
		return fmt.Errorf("unknown LEDGER_MODE %q", c.LedgerMode)
	}
	return nil
}

func seconds(n int, fallback int) time.Duration {
	if n < 1 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func positiveInt(n int, fallback int) int {
	if n < 1 {
		return fallback
	}
	return n
}

func positiveFloat(f float64, fallback float64) float64 {
	if f <= 0 {
		return fallback
	}
	return f
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

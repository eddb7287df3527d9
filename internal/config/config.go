package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ENV string

	Log struct {
		Level     string
		Format    string
		Component string
		Source    bool
	}

	DB struct {
		DSN      string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	HTTP struct {
		Host string
		Port string
	}

	// Commitment gate
	Commitment struct {
		CostCents      int64         // wallet spend required to unlock a conversation
		DepositUnlock  int64         // legacy: a deposit at or above this counts as committed
		DecisionWindow time.Duration // receiver's window to respond before auto-close
	}

	// Drink perk / handshake
	Perk struct {
		RadiusM        float64       // co-location distance threshold
		Streak         time.Duration // continuous co-location required before READY
		LocationMaxAge time.Duration // pings older than this don't count
		HandshakeTTL   time.Duration // open handshake session lifetime
		CreditTTL      time.Duration // redemption token lifetime
		RewardCents    int64         // REWARD ledger amount minted per participant
	}
}

func New() *Config {
	cfg := &Config{}

	cfg.ENV = getEnvDefault("APP_ENV", "development")

	// Logger
	cfg.Log.Level = getEnvDefault("LOG_LEVEL", "info")
	cfg.Log.Format = getEnvDefault("LOG_FORMAT", "text")
	cfg.Log.Component = getEnvDefault("LOG_COMPONENT", "commitments-core")
	cfg.Log.Source = isTruthy(os.Getenv("LOG_SOURCE"))

	// Database
	cfg.DB.DSN = os.Getenv("MYSQL_DSN")
	if cfg.DB.DSN == "" {
		cfg.DB.Host = getEnvDefault("DB_HOST", "localhost")
		cfg.DB.Port = getEnvDefault("DB_PORT", "3306")
		cfg.DB.User = getEnvDefault("DB_USER", "root")
		cfg.DB.Password = getEnvDefault("DB_PASSWORD", "root")
		cfg.DB.Name = getEnvDefault("DB_NAME", "muzz")

		cfg.DB.DSN = fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
		)
	}

	// Redis
	cfg.Redis.Addr = getEnvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnvDefault("REDIS_PASSWORD", "")
	if dbStr := getEnvDefault("REDIS_DB", "0"); dbStr != "" {
		if dbInt, err := strconv.Atoi(dbStr); err == nil {
			cfg.Redis.DB = dbInt
		}
	}

	// HTTP
	cfg.HTTP.Host = getEnvDefault("HTTP_HOST", "127.0.0.1")
	cfg.HTTP.Port = getEnvDefault("HTTP_PORT", "8080")

	// Commitment gate
	cfg.Commitment.CostCents = getEnvInt64("COMMITMENT_COST_CENTS", 3000)
	cfg.Commitment.DepositUnlock = getEnvInt64("DEPOSIT_UNLOCK_CENTS", 3000)
	cfg.Commitment.DecisionWindow = getEnvDuration("DECISION_WINDOW", 72*time.Hour)

	// Perk / handshake
	cfg.Perk.RadiusM = getEnvFloat("PROXIMITY_RADIUS_M", 75)
	cfg.Perk.Streak = getEnvDuration("PROXIMITY_STREAK", 10*time.Minute)
	cfg.Perk.LocationMaxAge = getEnvDuration("LOCATION_MAX_AGE", 3*time.Minute)
	cfg.Perk.HandshakeTTL = getEnvDuration("HANDSHAKE_TTL", 5*time.Minute)
	cfg.Perk.CreditTTL = getEnvDuration("CREDIT_TTL", 24*time.Hour)
	cfg.Perk.RewardCents = getEnvInt64("PERK_REWARD_CENTS", 1000)

	return cfg
}

func getEnvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt64(k string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(k string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

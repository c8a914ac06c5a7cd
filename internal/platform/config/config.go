package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures server level configuration.
type Config struct {
	Addr          string
	JWTSigningKey string

	// PostgresURL selects durable stores; empty means in-memory stores
	// (development and tests).
	PostgresURL string

	Redis RedisConfig

	// AuditStream is the redis stream the audit worker appends to.
	AuditStream string

	// PayoutStream carries rent payout instructions for the settlement
	// engine; ExecutionStream carries queued governance executions.
	PayoutStream    string
	ExecutionStream string
}

// RedisConfig holds connection settings for the optional redis sink.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	addr := os.Getenv("BRICKVAULT_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	auditStream := os.Getenv("AUDIT_STREAM")
	if auditStream == "" {
		auditStream = "brickvault:audit"
	}

	payoutStream := os.Getenv("PAYOUT_STREAM")
	if payoutStream == "" {
		payoutStream = "brickvault:payouts"
	}

	executionStream := os.Getenv("EXECUTION_STREAM")
	if executionStream == "" {
		executionStream = "brickvault:executions"
	}

	return Config{
		Addr:            addr,
		JWTSigningKey:   jwtSigningKey,
		PostgresURL:     os.Getenv("POSTGRES_URL"),
		AuditStream:     auditStream,
		PayoutStream:    payoutStream,
		ExecutionStream: executionStream,
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

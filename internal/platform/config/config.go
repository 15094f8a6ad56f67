package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything main needs to wire the gateway. Values come from
// the environment so deployments stay twelve-factor; defaults favor local
// development.
type Config struct {
	Addr string

	// PostgresDSN selects the durable certificate store. Empty means run on
	// the in-memory stores (development and tests only).
	PostgresDSN string

	// RedisURL selects the redis-backed idempotency ledger. Empty means the
	// in-memory ledger.
	RedisURL string

	// KafkaBrokers and KafkaAuditTopic select the direct kafka audit sink.
	// Empty brokers fall back to the configured store-backed sink.
	KafkaBrokers    []string
	KafkaAuditTopic string

	Registry RegistryConfig
	Provider ProviderConfig

	// IdempotencyTTL bounds how long a completed idempotency record replays.
	IdempotencyTTL time.Duration
	// IdempotencySweepInterval drives the expired-key sweeper.
	IdempotencySweepInterval time.Duration

	// SubmissionWorkers sizes the pool draining the async submission queue.
	SubmissionWorkers int

	Breaker BreakerConfig
}

// RegistryConfig points at the policy/insured-party registry.
type RegistryConfig struct {
	BaseURL string
	APIKey  string
}

// ProviderConfig points at the attestation provider.
type ProviderConfig struct {
	BaseURL       string
	APIKey        string
	RequesterCode string
}

// BreakerConfig holds shared circuit breaker tuning. Each gateway still owns
// its own breaker instance.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	CallTimeout      time.Duration
	ResetTimeout     time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:                     envOr("ATTESTA_ADDR", ":8080"),
		PostgresDSN:              os.Getenv("ATTESTA_POSTGRES_DSN"),
		RedisURL:                 os.Getenv("ATTESTA_REDIS_URL"),
		KafkaAuditTopic:          envOr("ATTESTA_KAFKA_AUDIT_TOPIC", "attesta.audit"),
		IdempotencyTTL:           envDuration("ATTESTA_IDEMPOTENCY_TTL", 24*time.Hour),
		IdempotencySweepInterval: envDuration("ATTESTA_IDEMPOTENCY_SWEEP_INTERVAL", time.Hour),
		SubmissionWorkers:        envInt("ATTESTA_SUBMISSION_WORKERS", 4),
		Registry: RegistryConfig{
			BaseURL: envOr("ATTESTA_REGISTRY_URL", "http://localhost:9081"),
			APIKey:  os.Getenv("ATTESTA_REGISTRY_API_KEY"),
		},
		Provider: ProviderConfig{
			BaseURL:       envOr("ATTESTA_PROVIDER_URL", "http://localhost:9082"),
			APIKey:        os.Getenv("ATTESTA_PROVIDER_API_KEY"),
			RequesterCode: envOr("ATTESTA_PROVIDER_REQUESTER_CODE", "ATTESTA"),
		},
		Breaker: BreakerConfig{
			FailureThreshold: envInt("ATTESTA_BREAKER_FAILURES", 5),
			SuccessThreshold: envInt("ATTESTA_BREAKER_SUCCESSES", 3),
			CallTimeout:      envDuration("ATTESTA_BREAKER_CALL_TIMEOUT", 10*time.Second),
			ResetTimeout:     envDuration("ATTESTA_BREAKER_RESET_TIMEOUT", 30*time.Second),
		},
	}
	if brokers := os.Getenv("ATTESTA_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

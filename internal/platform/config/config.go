package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string
	HTTPPort    string
	PostgresDSN string

	VoteDeadline        time.Duration
	WorkerPollInterval  time.Duration
	OutboxBatchSize     int
	DeliveryMaxAttempts int
	DeliveryBackoffBase time.Duration
	DeliveryBackoffMax  time.Duration
	DeliveryMaxEventAge time.Duration
	DeadLetterRetention time.Duration

	EnableVoteAggregator    bool
	EnableDeletionExecutor  bool
	EnableWorkflowTracker   bool
	EnableTimeoutSweep      bool
	EnableDeadLetterExpiry  bool
	EnableCancellationEvent bool
}

func Load() (Config, error) {
	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "centsible"
	}

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		ServiceName: service,
		HTTPPort:    port,
		PostgresDSN: os.Getenv("POSTGRES_DSN"),

		VoteDeadline:        envDuration("VOTE_DEADLINE", 15*time.Minute),
		WorkerPollInterval:  envDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		OutboxBatchSize:     envInt("OUTBOX_BATCH_SIZE", 100),
		DeliveryMaxAttempts: envInt("DELIVERY_MAX_ATTEMPTS", 5),
		DeliveryBackoffBase: envDuration("DELIVERY_BACKOFF_BASE", 100*time.Millisecond),
		DeliveryBackoffMax:  envDuration("DELIVERY_BACKOFF_MAX", 5*time.Second),
		DeliveryMaxEventAge: envDuration("DELIVERY_MAX_EVENT_AGE", 24*time.Hour),
		DeadLetterRetention: envDuration("DEAD_LETTER_RETENTION", 14*24*time.Hour),

		EnableVoteAggregator:    envBool("ENABLE_VOTE_AGGREGATOR", true),
		EnableDeletionExecutor:  envBool("ENABLE_DELETION_EXECUTOR", true),
		EnableWorkflowTracker:   envBool("ENABLE_WORKFLOW_TRACKER", true),
		EnableTimeoutSweep:      envBool("ENABLE_TIMEOUT_SWEEP", true),
		EnableDeadLetterExpiry:  envBool("ENABLE_DEAD_LETTER_EXPIRY", true),
		EnableCancellationEvent: envBool("ENABLE_CANCELLATION_EVENT", true),
	}, nil
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// Package config loads the runtime configuration of the liveauction binaries
// from environment variables, reporting every problem at once.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Component selects which variables are required
type Component string

const (
	ComponentAPI     Component = "api"
	ComponentWorker  Component = "worker"
	ComponentMigrate Component = "migrate"
)

// EventBroker selects the outbox publisher
type EventBroker string

const (
	BrokerRabbitMQ EventBroker = "rabbitmq"
	BrokerNATS     EventBroker = "nats"
)

type Config struct {
	DatabaseURL   string
	DBLockTimeout time.Duration

	Broker      EventBroker
	RabbitMQURL string
	NATSURL     string

	// RedisURL enables cross-instance room fan-out when set
	RedisURL string

	JWTPublicKeyPath string
	JWTIssuer        string

	HTTPAddr         string
	ScanInterval     time.Duration
	BidMaxAttempts   int
	StoreMaxRetries  int
	SubscriberBuffer int

	OutboxBatchSize int
	OutboxInterval  time.Duration
}

func getRequiredEnv(key string, errors *[]string) string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		*errors = append(*errors, fmt.Sprintf("missing required environment variable: %s", key))
		return ""
	}
	return value
}

func getOptionalEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// getOptionalEnvInt also rejects values below minimum
func getOptionalEnvInt(key string, defaultValue, minimum int, errors *[]string) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		*errors = append(*errors, fmt.Sprintf("invalid value for %s: expected integer, got '%s'", key, valueStr))
		return defaultValue
	}
	if value < minimum {
		*errors = append(*errors, fmt.Sprintf("invalid value for %s: must be at least %d, got %d", key, minimum, value))
		return defaultValue
	}
	return value
}

func getOptionalEnvDuration(key string, defaultValue time.Duration, errors *[]string) time.Duration {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		*errors = append(*errors, fmt.Sprintf("invalid value for %s: expected duration string, got '%s'", key, valueStr))
		return defaultValue
	}
	if value <= 0 {
		*errors = append(*errors, fmt.Sprintf("invalid value for %s: must be positive, got %s", key, value))
		return defaultValue
	}
	return value
}

// Load reads the configuration needed by component
func Load(component Component) (*Config, error) {
	var errors []string

	cfg := &Config{
		DatabaseURL:      getRequiredEnv("AUCTION_DB_URL", &errors),
		DBLockTimeout:    getOptionalEnvDuration("DB_LOCK_TIMEOUT", 3*time.Second, &errors),
		Broker:           EventBroker(strings.ToLower(getOptionalEnv("EVENT_BROKER", string(BrokerRabbitMQ)))),
		RedisURL:         getOptionalEnv("REDIS_URL", ""),
		JWTIssuer:        getOptionalEnv("JWT_ISSUER", ""),
		HTTPAddr:         getOptionalEnv("HTTP_ADDR", ":8080"),
		ScanInterval:     getOptionalEnvDuration("SCAN_INTERVAL", 10*time.Second, &errors),
		BidMaxAttempts:   getOptionalEnvInt("BID_MAX_ATTEMPTS", 16, 1, &errors),
		StoreMaxRetries:  getOptionalEnvInt("STORE_MAX_RETRIES", 3, 0, &errors),
		SubscriberBuffer: getOptionalEnvInt("SUBSCRIBER_BUFFER", 64, 1, &errors),
		OutboxBatchSize:  getOptionalEnvInt("OUTBOX_BATCH_SIZE", 10, 1, &errors),
		OutboxInterval:   getOptionalEnvDuration("OUTBOX_INTERVAL", time.Second, &errors),
	}

	switch component {
	case ComponentAPI:
		cfg.JWTPublicKeyPath = getRequiredEnv("JWT_PUBLIC_KEY_PATH", &errors)
	case ComponentWorker:
		switch cfg.Broker {
		case BrokerRabbitMQ:
			cfg.RabbitMQURL = getRequiredEnv("RABBITMQ_URL", &errors)
		case BrokerNATS:
			cfg.NATSURL = getRequiredEnv("NATS_URL", &errors)
		default:
			errors = append(errors, fmt.Sprintf("invalid value for EVENT_BROKER: expected rabbitmq or nats, got '%s'", cfg.Broker))
		}
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}
	return cfg, nil
}

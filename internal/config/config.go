// Package config loads indexer configuration from environment variables:
// typed struct with defaults, plain os.Getenv/strconv overrides, and a
// required-variable check that fails fast.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// WebhookSubscriptionConfig is one statically configured webhook
// subscription loaded from the environment.
type WebhookSubscriptionConfig struct {
	Name           string // identifies the subscription for logging
	KeyPrefix      string // filter: event.Key must equal or start with this canonical prefix
	ContractAddr   string // optional: restrict to one contract address, "" matches any
	EndpointURL    string // Url endpoint target
	EndpointMethod string // defaults to POST
	SoketiChannel  string // Soketi endpoint target, mutually exclusive with EndpointURL
	SoketiEvent    string
}

// SoketiConfig configures the Pusher-protocol-compatible delivery client.
type SoketiConfig struct {
	Host   string
	AppID  string
	Key    string
	Secret string
	UseTLS bool
}

// Config holds all configuration for the indexer.
type Config struct {
	// Storage
	PostgresURL    string
	PostgresSchema string // schema all tables live under; created if missing
	RedisURL       string

	// Ingestion source
	SourceWasmPath     string // sources.wasm: path to the line-oriented event stream
	SourceWasmWSURL    string // optional live WebSocket tail, "" disables it
	InitialBlockHeight uint64 // initialBlockHeight override; 0 means "use state checkpoint"
	BatchSize          int    // batch; flush trigger threshold

	// Webhooks
	WebhooksEnabled bool
	Webhooks        []WebhookSubscriptionConfig
	Soketi          SoketiConfig

	// Computation cache
	CacheUpdatesEnabled bool

	// Redis Streams topic for queued webhook deliveries
	WebhookTopic         string
	WebhookConsumerGroup string
	WebhookConcurrency   int

	// HTTP query API
	HTTPEnabled bool
	HTTPAddr    string

	// WebSocket reconnect tuning
	WSMaxRetries     int
	WSReconnectDelay time.Duration

	LogLevel string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		BatchSize:            5000,
		WebhooksEnabled:      true,
		CacheUpdatesEnabled:  true,
		WebhookTopic:         "pending-webhooks",
		WebhookConsumerGroup: "webhook-dispatcher",
		WebhookConcurrency:   4,
		HTTPEnabled:          true,
		HTTPAddr:             ":8080",
		WSMaxRetries:         25,
		WSReconnectDelay:     time.Second,
		LogLevel:             "info",
		PostgresSchema:       "public",
	}

	cfg.PostgresURL = os.Getenv("POSTGRES_URL")
	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("POSTGRES_URL is required")
	}

	if schema := os.Getenv("POSTGRES_SCHEMA"); schema != "" {
		cfg.PostgresSchema = schema
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg.SourceWasmPath = os.Getenv("SOURCE_WASM_PATH")
	cfg.SourceWasmWSURL = os.Getenv("SOURCE_WASM_WS_URL")
	if cfg.SourceWasmPath == "" && cfg.SourceWasmWSURL == "" {
		return nil, fmt.Errorf("one of SOURCE_WASM_PATH or SOURCE_WASM_WS_URL is required")
	}

	if v := os.Getenv("INITIAL_BLOCK_HEIGHT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.InitialBlockHeight = n
		}
	}

	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = n
		}
	}

	if v := os.Getenv("WEBHOOKS_ENABLED"); v != "" {
		cfg.WebhooksEnabled = v == "true" || v == "1"
	}

	if v := os.Getenv("CACHE_UPDATES_ENABLED"); v != "" {
		cfg.CacheUpdatesEnabled = v == "true" || v == "1"
	}

	if v := os.Getenv("WEBHOOK_TOPIC"); v != "" {
		cfg.WebhookTopic = v
	}

	if v := os.Getenv("WEBHOOK_CONSUMER_GROUP"); v != "" {
		cfg.WebhookConsumerGroup = v
	}

	if v := os.Getenv("WEBHOOK_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WebhookConcurrency = n
		}
	}

	if v := os.Getenv("HTTP_ENABLED"); v != "" {
		cfg.HTTPEnabled = v == "true" || v == "1"
	}

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	if v := os.Getenv("WS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WSMaxRetries = n
		}
	}

	if v := os.Getenv("WS_RECONNECT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WSReconnectDelay = d
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	cfg.Soketi = SoketiConfig{
		Host:   os.Getenv("SOKETI_HOST"),
		AppID:  os.Getenv("SOKETI_APP_ID"),
		Key:    os.Getenv("SOKETI_KEY"),
		Secret: os.Getenv("SOKETI_SECRET"),
		UseTLS: os.Getenv("SOKETI_USE_TLS") == "true" || os.Getenv("SOKETI_USE_TLS") == "1",
	}

	// Webhook subscriptions are loaded from config in production
	// deployments via a richer config file format; the environment-only
	// loader here ships a single example subscription (key prefix
	// "balance:" -> URL endpoint), wired only if WEBHOOK_EXAMPLE_URL is set.
	if url := os.Getenv("WEBHOOK_EXAMPLE_URL"); url != "" {
		cfg.Webhooks = append(cfg.Webhooks, WebhookSubscriptionConfig{
			Name:           "balance-changes",
			KeyPrefix:      "balance:",
			EndpointURL:    url,
			EndpointMethod: "POST",
		})
	}

	return cfg, nil
}

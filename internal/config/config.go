package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configurable parameters of the wallet service.
type Config struct {
	// HTTP transport
	HTTPAddr          string
	PublicEndpointURL string // advertised in issued deposit endpoints
	ShutdownTimeout   time.Duration

	// Storage; an empty DatabaseURL selects the in-memory store
	DatabaseURL string
	TxTimeout   time.Duration

	// Bearer token verification
	JWTSigningKey string
	JWTIssuer     string

	// Registry feed; no brokers disables ingestion
	FeedBrokers      []string
	FeedTopic        string
	FeedGroup        string
	FeedPollInterval time.Duration

	// Version tag of issued deposit endpoints
	DepositEndpointVersion int32
}

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		HTTPAddr:          ":8080",
		PublicEndpointURL: "http://localhost:8080",
		ShutdownTimeout:   10 * time.Second,

		TxTimeout: 5 * time.Second,

		FeedTopic:        "registry-feed",
		FeedGroup:        "certwallet",
		FeedPollInterval: 1 * time.Second,

		DepositEndpointVersion: 1,
	}
}

// FromEnv returns a Config populated from environment variables,
// falling back to defaults for unset or unparsable values.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("WALLET_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("WALLET_PUBLIC_URL"); v != "" {
		cfg.PublicEndpointURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("WALLET_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	cfg.DatabaseURL = os.Getenv("WALLET_DATABASE_URL")
	if v := os.Getenv("WALLET_TX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TxTimeout = d
		}
	}
	cfg.JWTSigningKey = os.Getenv("WALLET_JWT_SIGNING_KEY")
	cfg.JWTIssuer = os.Getenv("WALLET_JWT_ISSUER")

	if v := os.Getenv("WALLET_FEED_BROKERS"); v != "" {
		cfg.FeedBrokers = splitList(v)
	}
	if v := os.Getenv("WALLET_FEED_TOPIC"); v != "" {
		cfg.FeedTopic = v
	}
	if v := os.Getenv("WALLET_FEED_GROUP"); v != "" {
		cfg.FeedGroup = v
	}
	if v := os.Getenv("WALLET_FEED_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.FeedPollInterval = d
		}
	}
	if v := os.Getenv("WALLET_DEPOSIT_ENDPOINT_VERSION"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			cfg.DepositEndpointVersion = int32(n)
		}
	}

	return cfg
}

// FeedEnabled reports whether registry feed ingestion is configured.
func (c Config) FeedEnabled() bool {
	return len(c.FeedBrokers) > 0
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

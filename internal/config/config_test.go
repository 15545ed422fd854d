package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.TxTimeout != 5*time.Second {
		t.Errorf("TxTimeout = %v, want 5s", cfg.TxTimeout)
	}
	if cfg.DepositEndpointVersion != 1 {
		t.Errorf("DepositEndpointVersion = %d, want 1", cfg.DepositEndpointVersion)
	}
	if cfg.FeedEnabled() {
		t.Error("feed must be disabled without brokers")
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("WALLET_HTTP_ADDR", ":9090")
	t.Setenv("WALLET_PUBLIC_URL", "https://wallet.example/")
	t.Setenv("WALLET_DATABASE_URL", "postgres://wallet@db/certwallet")
	t.Setenv("WALLET_TX_TIMEOUT", "2s")
	t.Setenv("WALLET_FEED_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("WALLET_FEED_POLL_INTERVAL", "250ms")
	t.Setenv("WALLET_DEPOSIT_ENDPOINT_VERSION", "3")
	t.Setenv("WALLET_JWT_SIGNING_KEY", "secret")

	cfg := FromEnv()

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.PublicEndpointURL != "https://wallet.example" {
		t.Errorf("PublicEndpointURL = %q", cfg.PublicEndpointURL)
	}
	if cfg.DatabaseURL != "postgres://wallet@db/certwallet" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.TxTimeout != 2*time.Second {
		t.Errorf("TxTimeout = %v", cfg.TxTimeout)
	}
	if len(cfg.FeedBrokers) != 2 || cfg.FeedBrokers[1] != "kafka-2:9092" {
		t.Errorf("FeedBrokers = %v", cfg.FeedBrokers)
	}
	if !cfg.FeedEnabled() {
		t.Error("feed must be enabled with brokers")
	}
	if cfg.FeedPollInterval != 250*time.Millisecond {
		t.Errorf("FeedPollInterval = %v", cfg.FeedPollInterval)
	}
	if cfg.DepositEndpointVersion != 3 {
		t.Errorf("DepositEndpointVersion = %d", cfg.DepositEndpointVersion)
	}
	if cfg.JWTSigningKey != "secret" {
		t.Errorf("JWTSigningKey = %q", cfg.JWTSigningKey)
	}
}

func TestFromEnv_IgnoresUnparsable(t *testing.T) {
	t.Setenv("WALLET_TX_TIMEOUT", "soon")
	t.Setenv("WALLET_DEPOSIT_ENDPOINT_VERSION", "v2")

	cfg := FromEnv()
	def := Default()
	if cfg.TxTimeout != def.TxTimeout {
		t.Errorf("TxTimeout = %v, want default %v", cfg.TxTimeout, def.TxTimeout)
	}
	if cfg.DepositEndpointVersion != def.DepositEndpointVersion {
		t.Errorf("DepositEndpointVersion = %d, want default", cfg.DepositEndpointVersion)
	}
}

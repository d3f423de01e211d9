package config

import (
	"testing"
	"time"
)

func TestLoadServerConfig_Defaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("addr = %s", cfg.HTTPAddr)
	}
	if cfg.CommissionPercent != 15 {
		t.Fatalf("commission = %v, want 15", cfg.CommissionPercent)
	}
	if cfg.Currency != "ils" {
		t.Fatalf("currency = %s", cfg.Currency)
	}
	if cfg.KafkaTopic != "relay-events" {
		t.Fatalf("topic = %s", cfg.KafkaTopic)
	}
}

func TestLoadServerConfig_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("HTTP_SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("STRIPE_COMMISSION_PERCENT", "12.5")
	t.Setenv("MIGRATE", "true")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("addr = %s", cfg.HTTPAddr)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Fatalf("shutdown timeout = %v", cfg.ShutdownTimeout)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
	if cfg.CommissionPercent != 12.5 {
		t.Fatalf("commission = %v", cfg.CommissionPercent)
	}
	if !cfg.RunMigrations {
		t.Fatal("MIGRATE=true not honored")
	}
}

func TestLoadServerConfig_Invalid(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "not-a-duration")
	t.Setenv("STRIPE_COMMISSION_PERCENT", "150")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("expected error for bad duration and out-of-range commission")
	}
}

package config

import "testing"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_URL", "postgres://localhost/test")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("SOURCE_WASM_PATH", "/tmp/events.jsonl")
}

func TestLoadRequiresPostgresURL(t *testing.T) {
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("SOURCE_WASM_PATH", "/tmp/events.jsonl")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when POSTGRES_URL is unset")
	}
}

func TestLoadRequiresASource(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://localhost/test")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("SOURCE_WASM_PATH", "")
	t.Setenv("SOURCE_WASM_WS_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when neither SOURCE_WASM_PATH nor SOURCE_WASM_WS_URL is set")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BatchSize != 5000 {
		t.Errorf("BatchSize = %d, want 5000", cfg.BatchSize)
	}
	if !cfg.WebhooksEnabled {
		t.Error("WebhooksEnabled should default to true")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.PostgresSchema != "public" {
		t.Errorf("PostgresSchema = %q, want public", cfg.PostgresSchema)
	}
}

func TestLoadPostgresSchemaOverride(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("POSTGRES_SCHEMA", "wasmd_indexer")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PostgresSchema != "wasmd_indexer" {
		t.Errorf("PostgresSchema = %q, want wasmd_indexer", cfg.PostgresSchema)
	}
}

func TestLoadWebhookExampleSubscription(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WEBHOOK_EXAMPLE_URL", "https://example.com/hook")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Webhooks) != 1 {
		t.Fatalf("len(Webhooks) = %d, want 1", len(cfg.Webhooks))
	}
	if cfg.Webhooks[0].KeyPrefix != "balance:" {
		t.Errorf("Webhooks[0].KeyPrefix = %q, want balance:", cfg.Webhooks[0].KeyPrefix)
	}
}

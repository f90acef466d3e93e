package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORE_BACKEND", "COMPLETION_GRACE_SECONDS", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("default port %q", cfg.Port)
	}
	if cfg.StoreBackend != "memory" {
		t.Fatalf("default backend %q", cfg.StoreBackend)
	}
	if cfg.CompletionGrace != 3*time.Second {
		t.Fatalf("default completion grace %v", cfg.CompletionGrace)
	}
	if cfg.OTLPEndpoint != "" || cfg.OTLPInsecure {
		t.Fatalf("tracing enabled by default: %q insecure=%v", cfg.OTLPEndpoint, cfg.OTLPInsecure)
	}
}

func TestLoadTracingKnobs(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg := Load()
	if cfg.OTLPEndpoint != "collector:4317" {
		t.Fatalf("endpoint %q", cfg.OTLPEndpoint)
	}
	if !cfg.OTLPInsecure {
		t.Fatalf("expected insecure exporter")
	}
}

func TestReadBoolIgnoresGarbage(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "yes please")
	if readBool("OTEL_EXPORTER_OTLP_INSECURE", false) {
		t.Fatalf("garbage value parsed as true")
	}
}

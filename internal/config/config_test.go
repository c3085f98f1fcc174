package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("unexpected port: %q", cfg.Port)
	}
	if cfg.MongoDB != "rocketchat" {
		t.Fatalf("unexpected database: %q", cfg.MongoDB)
	}
	if cfg.DefaultEstimatedWaitingTime != 9999999 || cfg.PriorityWeightNotSpecified != 99999 {
		t.Fatalf("unexpected sentinels: %d / %d", cfg.DefaultEstimatedWaitingTime, cfg.PriorityWeightNotSpecified)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("unexpected sweep interval: %v", cfg.SweepInterval)
	}
	if cfg.OTLPEndpoint != "" || cfg.OTLPInsecure {
		t.Fatalf("tracing must be off by default: %q insecure=%v", cfg.OTLPEndpoint, cfg.OTLPInsecure)
	}
}

func TestLoadReadsTracingSettings(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg := Load()
	if cfg.OTLPEndpoint != "collector:4317" {
		t.Fatalf("unexpected endpoint: %q", cfg.OTLPEndpoint)
	}
	if !cfg.OTLPInsecure {
		t.Fatal("insecure flag not read")
	}
}

func TestLoadParsesRestrictedUnits(t *testing.T) {
	t.Setenv("RESTRICTED_UNITS", " u1, u2 ,,u3 ")

	cfg := Load()
	if len(cfg.RestrictedUnits) != 3 || cfg.RestrictedUnits[0] != "u1" || cfg.RestrictedUnits[2] != "u3" {
		t.Fatalf("unexpected units: %v", cfg.RestrictedUnits)
	}
}

func TestReadBoolRejectsGarbage(t *testing.T) {
	t.Setenv("SOME_FLAG", "definitely")
	if readBool("SOME_FLAG", false) {
		t.Fatal("unparseable value must fall back")
	}
	t.Setenv("SOME_FLAG", "1")
	if !readBool("SOME_FLAG", false) {
		t.Fatal("1 must parse as true")
	}
}

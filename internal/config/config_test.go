package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.DBPath == "" {
		t.Fatalf("expected default db path")
	}
	if cfg.MaxIterations != 100 {
		t.Fatalf("expected default max iterations 100, got %d", cfg.MaxIterations)
	}
	if cfg.CondenserKind != "noop" {
		t.Fatalf("expected default condenser noop, got %s", cfg.CondenserKind)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TASKCORE_MAX_ITERATIONS", "7")
	t.Setenv("TASKCORE_CONDENSER", "summarize")
	t.Setenv("TASKCORE_MAX_COST_USD", "2.5")

	cfg := Load()
	if cfg.MaxIterations != 7 {
		t.Fatalf("expected 7, got %d", cfg.MaxIterations)
	}
	if cfg.CondenserKind != "summarize" {
		t.Fatalf("expected summarize, got %s", cfg.CondenserKind)
	}
	if cfg.MaxCostUSD != 2.5 {
		t.Fatalf("expected 2.5, got %v", cfg.MaxCostUSD)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("TASKCORE_MAX_ITERATIONS", "lots")
	cfg := Load()
	if cfg.MaxIterations != 100 {
		t.Fatalf("malformed value should fall back to default, got %d", cfg.MaxIterations)
	}
}

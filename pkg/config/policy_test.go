package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPolicyFileOverridesThresholds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	body := "partial_exit_threshold: 5.5\nfull_exit_threshold: 12.0\npartial_fraction: 0.75\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	cfg := &Config{
		PartialExitThreshold: 4.2,
		FullExitThreshold:    10.3,
		PartialFraction:      0.8,
		BreakevenBufferPct:   0.05,
	}
	if err := cfg.applyPolicyFile(path); err != nil {
		t.Fatalf("apply policy: %v", err)
	}

	if cfg.PartialExitThreshold != 5.5 {
		t.Errorf("partial threshold = %v, want 5.5", cfg.PartialExitThreshold)
	}
	if cfg.FullExitThreshold != 12.0 {
		t.Errorf("full threshold = %v, want 12.0", cfg.FullExitThreshold)
	}
	if cfg.PartialFraction != 0.75 {
		t.Errorf("partial fraction = %v, want 0.75", cfg.PartialFraction)
	}
	if cfg.BreakevenBufferPct != 0.05 {
		t.Errorf("breakeven buffer = %v, want unchanged 0.05", cfg.BreakevenBufferPct)
	}
}

func TestValidateRejectsMissingCredentials(t *testing.T) {
	cfg := &Config{
		Instruments:          []string{"BTCUSDT"},
		Leverage:             20,
		PartialFraction:      0.8,
		PartialExitThreshold: 4.2,
		FullExitThreshold:    10.3,
		DailyLossLimitPct:    -3,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing credentials")
	}

	cfg.BinanceAPIKey = "k"
	cfg.BinanceAPISecret = "s"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

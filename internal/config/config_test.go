package config

import (
	"testing"
	"time"
)

func TestParseTokenDecimals(t *testing.T) {
	got := parseTokenDecimals(" usdc:6, ETH:18,bad,WBTC:x,NEG:-1,")
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %v", got)
	}
	if got["USDC"] != 6 {
		t.Errorf("USDC = %d, want 6", got["USDC"])
	}
	if got["ETH"] != 18 {
		t.Errorf("ETH = %d, want 18", got["ETH"])
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("SETTLEMENT_WAIT_MS", "250")
	t.Setenv("CHAIN_ID", "1")
	t.Setenv("TOKEN_DECIMALS", "USDC:6")
	t.Setenv("CUSTODY_ADDRESS", "")

	cfg := Load()
	if cfg.StoreBackend != StoreRedis {
		t.Errorf("StoreBackend = %q, want %q", cfg.StoreBackend, StoreRedis)
	}
	if cfg.SettlementWait != 250*time.Millisecond {
		t.Errorf("SettlementWait = %v", cfg.SettlementWait)
	}
	if cfg.ChainID != 1 {
		t.Errorf("ChainID = %d", cfg.ChainID)
	}
	if d, ok := cfg.Decimals("usdc"); !ok || d != 6 {
		t.Errorf("Decimals(usdc) = %d, %v", d, ok)
	}
	if cfg.CustodyEnabled() {
		t.Error("custody should be disabled without addresses")
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validPairs = `
pairs:
  - id: p1
    name: Test Pair
    polymarket_event: "12345"
    polymarket_market_id: "501"
    kalshi_event: KXTEST-25
    kalshi_market_id: KXTEST-25-T50
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validPairs))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Monitor.Interval.Seconds() != 30 {
		t.Fatalf("default interval = %v", cfg.Monitor.Interval)
	}
	if cfg.Checkpoint.RecoveryTimeout.Minutes() != 5 {
		t.Fatalf("default recovery timeout = %v", cfg.Checkpoint.RecoveryTimeout)
	}
	if cfg.Costs.FeeBasis != "ask" {
		t.Fatalf("default fee basis = %q", cfg.Costs.FeeBasis)
	}
	if cfg.RateLimit.AlertThreshold != 3 || cfg.RateLimit.ExtendThreshold != 5 {
		t.Fatalf("rate limit defaults = %+v", cfg.RateLimit)
	}
	if len(cfg.Pairs) != 1 || cfg.Pairs[0].ID != "p1" {
		t.Fatalf("pairs = %+v", cfg.Pairs)
	}
}

func TestLoadRejectsBadFeeBasis(t *testing.T) {
	body := validPairs + `
costs:
  fee_basis: midpoint
`
	if _, err := Load(writeConfig(t, body)); err == nil || !strings.Contains(err.Error(), "fee_basis") {
		t.Fatalf("want fee_basis error, got %v", err)
	}
}

func TestLoadRejectsIncompletePair(t *testing.T) {
	body := `
pairs:
  - id: p1
    polymarket_event: "12345"
    kalshi_event: KXTEST-25
    kalshi_market_id: KXTEST-25-T50
`
	if _, err := Load(writeConfig(t, body)); err == nil || !strings.Contains(err.Error(), "polymarket") {
		t.Fatalf("want missing identifier error, got %v", err)
	}
}

func TestLoadRejectsDuplicatePairIDs(t *testing.T) {
	body := validPairs + `  - id: p1
    polymarket_event: "6"
    polymarket_market_id: "7"
    kalshi_event: E
    kalshi_market_id: M
`
	if _, err := Load(writeConfig(t, body)); err == nil || !strings.Contains(err.Error(), "duplicates") {
		t.Fatalf("want duplicate id error, got %v", err)
	}
}

func TestLoadRejectsTelegramWithoutCredentials(t *testing.T) {
	body := validPairs + `
alerting:
  telegram:
    enabled: true
`
	if _, err := Load(writeConfig(t, body)); err == nil || !strings.Contains(err.Error(), "bot_token") {
		t.Fatalf("want bot_token error, got %v", err)
	}
}

func TestLoadRejectsNonPositiveInterval(t *testing.T) {
	body := validPairs + `
monitor:
  interval: 0s
`
	if _, err := Load(writeConfig(t, body)); err == nil || !strings.Contains(err.Error(), "monitor.interval") {
		t.Fatalf("want interval error, got %v", err)
	}
}

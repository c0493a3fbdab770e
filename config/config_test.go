package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
log_level: debug
redis_addr: localhost:6379
admin_addr: :8080
trade_log:
  sqlite_path: trades.db
pairs:
  btc:
    enabled: true
    symbol: btc-usdt
    exchange_a: venue-a
    exchange_b: venue-b
    quantity: "0.01"
    quantity_precision: "0.001"
    open_threshold: 0.05
    close_threshold: 0.01
    min_depth_quantity: "0.02"
    accumulate_mode: true
    max_position: "0.05"
    trigger_exchange: B
    dynamic_threshold:
      enabled: true
      window: 200
      open_percentile: 0.8
    venue_a:
      kind: poll
      base_url: https://a.example.com
      poll_interval: 500ms
    venue_b:
      kind: ws
      ws_url: wss://b.example.com/stream
      base_url: https://b.example.com
  disabled-pair:
    enabled: false
    symbol: eth-usdt
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFullPairConfig(t *testing.T) {
	f, err := Load(writeConfig(t, sampleYAML), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if f.LogLevel != "debug" || f.RedisAddr != "localhost:6379" {
		t.Fatalf("top-level fields: %+v", f)
	}

	p, err := f.Pair("btc")
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	if p.Symbol != "btc-usdt" || p.ExchangeA != "venue-a" || p.ExchangeB != "venue-b" {
		t.Fatalf("pair identity: %+v", p)
	}
	q, err := p.QuantityDec()
	if err != nil || q.String() != "0.01" {
		t.Fatalf("quantity = %s, err %v", q, err)
	}
	mp, err := p.MaxPositionDec()
	if err != nil || mp.String() != "0.05" {
		t.Fatalf("max_position = %s, err %v", mp, err)
	}
	if p.OpenThreshold != 0.05 || p.CloseThreshold != 0.01 {
		t.Fatalf("thresholds: %+v", p)
	}
	if !p.DynamicThreshold.Enabled || p.DynamicThreshold.Window != 200 {
		t.Fatalf("dynamic threshold: %+v", p.DynamicThreshold)
	}
	if p.VenueA.Kind != "poll" || p.VenueB.Kind != "ws" {
		t.Fatalf("venue kinds: %s/%s", p.VenueA.Kind, p.VenueB.Kind)
	}
	if p.TriggerExchange != "B" {
		t.Fatalf("trigger = %s", p.TriggerExchange)
	}
}

func TestDisabledPairIsRejected(t *testing.T) {
	f, err := Load(writeConfig(t, sampleYAML), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := f.Pair("disabled-pair"); err == nil {
		t.Fatal("disabled pair must be rejected")
	}
	if _, err := f.Pair("missing"); err == nil {
		t.Fatal("unknown pair must be rejected")
	}
}

func TestValidateRejectsBadQuantity(t *testing.T) {
	bad := `
pairs:
  btc:
    enabled: true
    symbol: btc-usdt
    exchange_a: a
    exchange_b: b
    quantity: "-1"
`
	if _, err := Load(writeConfig(t, bad), ""); err == nil {
		t.Fatal("negative quantity must fail validation")
	}
}

func TestValidateRequiresExchanges(t *testing.T) {
	bad := `
pairs:
  btc:
    enabled: true
    symbol: btc-usdt
    quantity: "0.01"
`
	if _, err := Load(writeConfig(t, bad), ""); err == nil {
		t.Fatal("missing exchanges must fail validation")
	}
}

func TestMaxPositionDefaultsToQuantity(t *testing.T) {
	f, err := Load(writeConfig(t, `
pairs:
  btc:
    enabled: true
    symbol: btc-usdt
    exchange_a: a
    exchange_b: b
    quantity: "0.01"
`), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p, _ := f.Pair("btc")
	mp, err := p.MaxPositionDec()
	if err != nil || mp.String() != "0.01" {
		t.Fatalf("max_position default = %s, err %v", mp, err)
	}
}

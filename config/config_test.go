package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
gateway:
  name: cryptogate
  version: "1.0.0"
  default_venue: binance
logging:
  level: info
  format: json
  output: stdout
venues:
  binance:
    enabled: true
    required: true
    read_only: true
    api_key: ${TEST_BINANCE_KEY}
    api_secret: ${TEST_BINANCE_SECRET}
    timeout: 15s
    health_interval: 30s
    rate_limit:
      max_requests: 1200
      interval: 1m
    retry:
      max_attempts: 3
      base_delay: 500ms
      max_delay: 5s
    stream:
      connect_timeout: 10s
      max_reconnect_attempts: 10
      reconnect_base_delay: 1s
      reconnect_max_delay: 30s
  kucoin:
    enabled: false
subscriptions:
  - venue: binance
    channel: ticker
    symbol: BTCUSDT
  - venue: binance
    channel: candles
    symbol: ETHUSDT
    timeframe: 1h
`

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_BINANCE_KEY", "key-from-env")
	t.Setenv("TEST_BINANCE_SECRET", "secret-from-env")

	cfg, err := LoadConfig(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Gateway.DefaultVenue != "binance" {
		t.Errorf("default venue = %q", cfg.Gateway.DefaultVenue)
	}
	bn := cfg.Venue("binance")
	if bn == nil {
		t.Fatal("binance config missing")
	}
	if bn.APIKey != "key-from-env" || bn.APISecret != "secret-from-env" {
		t.Errorf("env expansion failed: key=%q secret=%q", bn.APIKey, bn.APISecret)
	}
	if bn.Timeout.Std() != 15*time.Second {
		t.Errorf("timeout = %v", bn.Timeout.Std())
	}
	if bn.RateLimit.Interval.Std() != time.Minute {
		t.Errorf("rate limit interval = %v", bn.RateLimit.Interval.Std())
	}
	if bn.Retry.BaseDelay.Std() != 500*time.Millisecond {
		t.Errorf("base delay = %v", bn.Retry.BaseDelay.Std())
	}
	if !bn.ReadOnly {
		t.Error("read_only not parsed")
	}
	if len(cfg.Subscriptions) != 2 {
		t.Errorf("subscriptions = %d", len(cfg.Subscriptions))
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfigUnsetEnvExpandsEmpty(t *testing.T) {
	os.Unsetenv("TEST_BINANCE_KEY")
	os.Unsetenv("TEST_BINANCE_SECRET")
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := cfg.Venue("binance").APIKey; got != "" {
		t.Errorf("unset env var expanded to %q, want empty", got)
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	bad := strings.Replace(validConfig, "timeout: 15s", "timeout: fifteen", 1)
	if _, err := LoadConfig(writeConfig(t, bad)); err == nil {
		t.Fatal("expected duration parse error")
	}
}

func TestValidate(t *testing.T) {
	enabled := &VenueConfig{Enabled: true}
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{
			name: "no venues",
			cfg:  Config{},
			ok:   false,
		},
		{
			name: "none enabled",
			cfg:  Config{Venues: map[string]*VenueConfig{"binance": {Enabled: false}}},
			ok:   false,
		},
		{
			name: "default venue not enabled",
			cfg: Config{
				Gateway: GatewayConfig{DefaultVenue: "kucoin"},
				Venues:  map[string]*VenueConfig{"binance": enabled},
			},
			ok: false,
		},
		{
			name: "incomplete subscription",
			cfg: Config{
				Venues:        map[string]*VenueConfig{"binance": enabled},
				Subscriptions: []SubscriptionConfig{{Venue: "binance", Channel: "ticker"}},
			},
			ok: false,
		},
		{
			name: "candles without timeframe",
			cfg: Config{
				Venues: map[string]*VenueConfig{"binance": enabled},
				Subscriptions: []SubscriptionConfig{
					{Venue: "binance", Channel: "candles", Symbol: "BTCUSDT"},
				},
			},
			ok: false,
		},
		{
			name: "minimal valid",
			cfg: Config{
				Gateway: GatewayConfig{DefaultVenue: "binance"},
				Venues:  map[string]*VenueConfig{"binance": enabled},
			},
			ok: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEnabledVenues(t *testing.T) {
	cfg := Config{Venues: map[string]*VenueConfig{
		"binance": {Enabled: true},
		"kucoin":  {Enabled: false},
	}}
	names := cfg.EnabledVenues()
	if len(names) != 1 || names[0] != "binance" {
		t.Errorf("enabled = %v", names)
	}
	if cfg.Venue("BINANCE") == nil {
		t.Error("venue lookup should be case-insensitive")
	}
	if cfg.Venue("bybit") != nil {
		t.Error("unknown venue should be nil")
	}
}

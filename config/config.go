package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes "10s"-style YAML values into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Gateway       GatewayConfig           `yaml:"gateway"`
	Logging       LoggingConfig           `yaml:"logging"`
	Metrics       MetricsConfig           `yaml:"metrics"`
	Venues        map[string]*VenueConfig `yaml:"venues"`
	Subscriptions []SubscriptionConfig    `yaml:"subscriptions"`
}

type GatewayConfig struct {
	Name         string `yaml:"name"`
	Version      string `yaml:"version"`
	DefaultVenue string `yaml:"default_venue"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch bool   `yaml:"cloudwatch"`
	Region     string `yaml:"region"`
	Namespace  string `yaml:"namespace"`
	Dashboard  string `yaml:"dashboard"`
	Report     bool   `yaml:"report"`
}

type VenueConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Required   bool   `yaml:"required"`
	Sandbox    bool   `yaml:"sandbox"`
	RESTURL    string `yaml:"rest_url"`
	StreamURL  string `yaml:"stream_url"`
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	Passphrase string `yaml:"passphrase"`
	ReadOnly   bool   `yaml:"read_only"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
	Stream    StreamConfig    `yaml:"stream"`

	Timeout        Duration `yaml:"timeout"`
	HealthInterval Duration `yaml:"health_interval"`
}

type RateLimitConfig struct {
	MaxRequests       int      `yaml:"max_requests"`
	Interval          Duration `yaml:"interval"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
}

type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
}

type StreamConfig struct {
	ConnectTimeout       Duration `yaml:"connect_timeout"`
	KeepAlive            Duration `yaml:"keep_alive"`
	HealthCheckPeriod    Duration `yaml:"health_check_period"`
	CloseWait            Duration `yaml:"close_wait"`
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    Duration `yaml:"reconnect_max_delay"`
}

type SubscriptionConfig struct {
	Venue     string `yaml:"venue"`
	Channel   string `yaml:"channel"`
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references with environment values so
// credentials never live inside the YAML file.
func expandEnv(raw []byte) []byte {
	return envPattern.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// LoadConfig reads, env-expands and validates the YAML configuration.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(expandEnv(raw), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the cross-field rules a running gateway depends on.
func (c *Config) Validate() error {
	if len(c.Venues) == 0 {
		return fmt.Errorf("no venues configured")
	}
	enabled := 0
	for name, vc := range c.Venues {
		if vc == nil {
			return fmt.Errorf("venue %s: empty configuration", name)
		}
		if vc.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("no venues enabled")
	}
	if c.Gateway.DefaultVenue != "" {
		vc, ok := c.Venues[strings.ToLower(c.Gateway.DefaultVenue)]
		if !ok || !vc.Enabled {
			return fmt.Errorf("default venue %s is not an enabled venue", c.Gateway.DefaultVenue)
		}
	}
	for i, sub := range c.Subscriptions {
		if sub.Venue == "" || sub.Channel == "" || sub.Symbol == "" {
			return fmt.Errorf("subscription %d: venue, channel and symbol are required", i)
		}
		if sub.Channel == "candles" && sub.Timeframe == "" {
			return fmt.Errorf("subscription %d: candles require a timeframe", i)
		}
	}
	return nil
}

// EnabledVenues returns the names of all enabled venues.
func (c *Config) EnabledVenues() []string {
	names := make([]string, 0, len(c.Venues))
	for name, vc := range c.Venues {
		if vc.Enabled {
			names = append(names, name)
		}
	}
	return names
}

// Venue returns the configuration for one venue, nil when absent.
func (c *Config) Venue(name string) *VenueConfig {
	return c.Venues[strings.ToLower(name)]
}

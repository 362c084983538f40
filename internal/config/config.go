package config

import (
	"time"
)

// Config represents the complete gateway configuration
type Config struct {
	Server      ServerConfig             `yaml:"server"`
	Logging     LoggingConfig            `yaml:"logging"`
	Auth        AuthConfig               `yaml:"auth"`
	RateLimit   RateLimitConfig          `yaml:"rate_limit"`
	Redis       RedisConfig              `yaml:"redis"`
	Revocation  RevocationConfig         `yaml:"revocation"`
	HealthCheck HealthCheckConfig        `yaml:"health_check"`
	Services    map[string]ServiceConfig `yaml:"services"`
	Policies    []PolicyConfig           `yaml:"policies"`
}

// ServerConfig defines the gateway HTTP listener settings
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// AuthConfig defines JWT verification settings.
// The refresh secret is carried for completeness but the gateway only
// verifies access tokens; refresh flows belong to the auth service.
type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	JWTRefreshSecret string `yaml:"jwt_refresh_secret"`
}

// RateLimitConfig defines the edge rate limiting policy.
// The window/max pair implements a fixed window counter per client IP.
type RateLimitConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Window      time.Duration     `yaml:"window"`
	Max         int               `yaml:"max"`
	Distributed bool              `yaml:"distributed"` // use Redis sliding window across instances
	SpikeArrest SpikeArrestConfig `yaml:"spike_arrest"`
}

// SpikeArrestConfig smooths bursts ahead of the fixed window counter
type SpikeArrestConfig struct {
	Enabled bool `yaml:"enabled"`
	Rate    int  `yaml:"rate"`  // requests per second
	Burst   int  `yaml:"burst"` // max burst size, defaults to rate
}

// RedisConfig defines the Redis connection used by distributed rate
// limiting and the token revocation store
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RevocationConfig enables token revocation checks against Redis
type RevocationConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`
}

// HealthCheckConfig defines upstream health polling
type HealthCheckConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ServiceConfig defines one upstream backend service
type ServiceConfig struct {
	URL         string        `yaml:"url"`
	Prefix      string        `yaml:"prefix"`       // inbound path prefix routed to this service
	Timeout     time.Duration `yaml:"timeout"`      // per-request upstream timeout
	MaxRetries  int           `yaml:"max_retries"`  // idempotent methods only
	StripPrefix bool          `yaml:"strip_prefix"` // strip the route prefix before forwarding
}

// PolicyConfig defines one route access policy entry. Entries are evaluated
// in order; the first matching prefix+method wins, so more specific prefixes
// must be listed before shorter overlapping ones.
type PolicyConfig struct {
	Prefix  string   `yaml:"prefix"`
	Methods []string `yaml:"methods"` // empty = all methods
	Require string   `yaml:"require"` // public | authenticated | staff | admin
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Window:  15 * time.Minute,
			Max:     100,
		},
		Revocation: RevocationConfig{
			Prefix: "gw:revoked:",
		},
		HealthCheck: HealthCheckConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
			Timeout:  5 * time.Second,
		},
		Services: map[string]ServiceConfig{
			"auth": {
				URL:    "http://localhost:3001",
				Prefix: "/api/auth",
			},
			"user": {
				URL:    "http://localhost:3002",
				Prefix: "/api/users",
			},
			"product": {
				URL:    "http://localhost:3003",
				Prefix: "/api/products",
			},
			"order": {
				URL:    "http://localhost:3004",
				Prefix: "/api/orders",
			},
		},
	}
}

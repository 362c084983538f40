package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// validHTTPMethods contains all valid HTTP method names.
var validHTTPMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "PATCH": true, "OPTIONS": true,
}

// validRequireValues are the access classes a policy may demand.
var validRequireValues = map[string]bool{
	"public": true, "authenticated": true, "staff": true, "admin": true,
}

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv builds a configuration from defaults and environment variables
// only, for deployments without a config file.
func (l *Loader) LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	applyEnvOverrides(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // keep original if env var not set
	})
}

// applyEnvOverrides applies well-known environment variables on top of the
// parsed configuration. These take precedence over file values so container
// deployments can reconfigure the gateway without editing YAML.
func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("GATEWAY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("JWT_REFRESH_SECRET"); secret != "" {
		cfg.Auth.JWTRefreshSecret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if windowMs := os.Getenv("RATE_LIMIT_WINDOW_MS"); windowMs != "" {
		if ms, err := strconv.Atoi(windowMs); err == nil && ms > 0 {
			cfg.RateLimit.Window = time.Duration(ms) * time.Millisecond
		}
	}
	if max := os.Getenv("RATE_LIMIT_MAX"); max != "" {
		if m, err := strconv.Atoi(max); err == nil && m > 0 {
			cfg.RateLimit.Max = m
		}
	}

	for name, svc := range cfg.Services {
		envName := strings.ToUpper(name) + "_SERVICE_URL"
		if u := os.Getenv(envName); u != "" {
			svc.URL = u
			cfg.Services[name] = svc
		}
	}
}

// validate checks the configuration for errors that must be fatal at startup
func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (set JWT_SECRET)")
	}

	if len(cfg.Services) == 0 {
		return fmt.Errorf("at least one service must be configured")
	}

	seenPrefixes := make(map[string]string, len(cfg.Services))
	for name, svc := range cfg.Services {
		if svc.URL == "" {
			return fmt.Errorf("service %q: url is required", name)
		}
		u, err := url.Parse(svc.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("service %q: invalid url %q", name, svc.URL)
		}
		if svc.Prefix == "" {
			return fmt.Errorf("service %q: prefix is required", name)
		}
		if !strings.HasPrefix(svc.Prefix, "/") {
			return fmt.Errorf("service %q: prefix must start with '/'", name)
		}
		if other, dup := seenPrefixes[svc.Prefix]; dup {
			return fmt.Errorf("service %q: prefix %q already used by service %q", name, svc.Prefix, other)
		}
		seenPrefixes[svc.Prefix] = name
		if svc.Timeout < 0 {
			return fmt.Errorf("service %q: timeout must not be negative", name)
		}
		if svc.MaxRetries < 0 {
			return fmt.Errorf("service %q: max_retries must not be negative", name)
		}
	}

	for i, p := range cfg.Policies {
		if p.Prefix == "" || !strings.HasPrefix(p.Prefix, "/") {
			return fmt.Errorf("policy %d: prefix must start with '/'", i)
		}
		if !validRequireValues[p.Require] {
			return fmt.Errorf("policy %d (%s): invalid require value %q", i, p.Prefix, p.Require)
		}
		for _, m := range p.Methods {
			if !validHTTPMethods[strings.ToUpper(m)] {
				return fmt.Errorf("policy %d (%s): invalid HTTP method %q", i, p.Prefix, m)
			}
		}
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.Window <= 0 {
			return fmt.Errorf("rate_limit.window must be positive")
		}
		if cfg.RateLimit.Max <= 0 {
			return fmt.Errorf("rate_limit.max must be positive")
		}
		if cfg.RateLimit.Distributed && cfg.Redis.Addr == "" {
			return fmt.Errorf("rate_limit.distributed requires redis.addr")
		}
	}

	if cfg.Revocation.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("revocation requires redis.addr")
	}

	return nil
}

package config

import (
	"crypto/rsa"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/time/rate"
)

// Config holds all runtime configuration for the dialcast server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	Port        int
	DataDir     string
	DatabaseURL string // postgres:// URL; empty means embedded SQLite in DataDir

	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	OutboundTrunkID  string // default SIP trunk for campaigns that don't set one
	InboundTrunkID   string

	JWTPublicKey string // PEM-encoded RSA public key, or path to a PEM file

	RateLimitWindowMS    int
	RateLimitMaxRequests int
	CORSOrigin           string

	DefaultCountryCode string // e.g. "+1"; empty rejects ambiguous numbers
	DefaultAgentName   string // fallback agent dispatched when no assignment fits

	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string // "text" or "json"
}

// defaults
const (
	defaultPort          = 8080
	defaultDataDir       = "./data"
	defaultRateWindowMS  = 60000
	defaultRateMax       = 300
	defaultAgentName     = "dialcast-agent"
	defaultShutdownGrace = 10 * time.Second
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
)

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("dialcast", flag.ContinueOnError)

	fs.IntVar(&cfg.Port, "port", defaultPort, "HTTP server listen port")
	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the embedded database")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres:// connection URL (empty uses embedded SQLite)")
	fs.StringVar(&cfg.LiveKitURL, "livekit-url", "", "LiveKit server URL (e.g. https://myproject.livekit.cloud)")
	fs.StringVar(&cfg.LiveKitAPIKey, "livekit-api-key", "", "LiveKit API key")
	fs.StringVar(&cfg.LiveKitAPISecret, "livekit-api-secret", "", "LiveKit API secret")
	fs.StringVar(&cfg.OutboundTrunkID, "livekit-outbound-trunk-id", "", "default LiveKit outbound SIP trunk id")
	fs.StringVar(&cfg.InboundTrunkID, "livekit-inbound-trunk-id", "", "default LiveKit inbound SIP trunk id")
	fs.StringVar(&cfg.JWTPublicKey, "jwt-public-key", "", "PEM-encoded RSA public key (or path to one) for bearer token verification")
	fs.IntVar(&cfg.RateLimitWindowMS, "rate-limit-window-ms", defaultRateWindowMS, "rate limit window in milliseconds")
	fs.IntVar(&cfg.RateLimitMaxRequests, "rate-limit-max-requests", defaultRateMax, "maximum requests per IP per window")
	fs.StringVar(&cfg.CORSOrigin, "cors-origin", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.DefaultCountryCode, "default-country-code", "", "country code prepended to ambiguous phone numbers (e.g. +1); empty rejects them")
	fs.StringVar(&cfg.DefaultAgentName, "default-agent-name", defaultAgentName, "agent dispatched when no campaign agent is available")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", defaultShutdownGrace, "max time to wait for in-flight calls on shutdown")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name. The env names follow the deployment
	// convention (unprefixed) rather than a binary-specific prefix.
	envMap := map[string]string{
		"port":                      "PORT",
		"data-dir":                  "DATA_DIR",
		"database-url":              "DATABASE_URL",
		"livekit-url":               "LIVEKIT_URL",
		"livekit-api-key":           "LIVEKIT_API_KEY",
		"livekit-api-secret":        "LIVEKIT_API_SECRET",
		"livekit-outbound-trunk-id": "LIVEKIT_OUTBOUND_TRUNK_ID",
		"livekit-inbound-trunk-id":  "LIVEKIT_INBOUND_TRUNK_ID",
		"jwt-public-key":            "JWT_PUBLIC_KEY",
		"rate-limit-window-ms":      "RATE_LIMIT_WINDOW_MS",
		"rate-limit-max-requests":   "RATE_LIMIT_MAX_REQUESTS",
		"cors-origin":               "CORS_ORIGIN",
		"default-country-code":      "DEFAULT_COUNTRY_CODE",
		"default-agent-name":        "DEFAULT_AGENT_NAME",
		"shutdown-timeout":          "SHUTDOWN_TIMEOUT",
		"log-level":                 "LOG_LEVEL",
		"log-format":                "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.Port = v
			}
		case "data-dir":
			cfg.DataDir = val
		case "database-url":
			cfg.DatabaseURL = val
		case "livekit-url":
			cfg.LiveKitURL = val
		case "livekit-api-key":
			cfg.LiveKitAPIKey = val
		case "livekit-api-secret":
			cfg.LiveKitAPISecret = val
		case "livekit-outbound-trunk-id":
			cfg.OutboundTrunkID = val
		case "livekit-inbound-trunk-id":
			cfg.InboundTrunkID = val
		case "jwt-public-key":
			cfg.JWTPublicKey = val
		case "rate-limit-window-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RateLimitWindowMS = v
			}
		case "rate-limit-max-requests":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RateLimitMaxRequests = v
			}
		case "cors-origin":
			cfg.CORSOrigin = val
		case "default-country-code":
			cfg.DefaultCountryCode = val
		case "default-agent-name":
			cfg.DefaultAgentName = val
		case "shutdown-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.ShutdownTimeout = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.RateLimitWindowMS < 1 {
		return fmt.Errorf("rate-limit-window-ms must be positive, got %d", c.RateLimitWindowMS)
	}
	if c.RateLimitMaxRequests < 1 {
		return fmt.Errorf("rate-limit-max-requests must be positive, got %d", c.RateLimitMaxRequests)
	}
	if c.DefaultCountryCode != "" {
		if !strings.HasPrefix(c.DefaultCountryCode, "+") {
			return fmt.Errorf("default-country-code must start with +, got %q", c.DefaultCountryCode)
		}
		for _, r := range c.DefaultCountryCode[1:] {
			if r < '0' || r > '9' {
				return fmt.Errorf("default-country-code must be + followed by digits, got %q", c.DefaultCountryCode)
			}
		}
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown-timeout must be positive, got %s", c.ShutdownTimeout)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// JWTPublicKeyRSA returns the parsed RSA public key used to verify bearer
// tokens, or nil if none is configured. The JWT_PUBLIC_KEY value may be either
// the PEM content itself or a path to a PEM file.
func (c *Config) JWTPublicKeyRSA() (*rsa.PublicKey, error) {
	if c.JWTPublicKey == "" {
		return nil, nil
	}
	pem := c.JWTPublicKey
	if !strings.Contains(pem, "-----BEGIN") {
		data, err := os.ReadFile(pem)
		if err != nil {
			return nil, fmt.Errorf("reading jwt public key file: %w", err)
		}
		pem = string(data)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("parsing jwt public key: %w", err)
	}
	return key, nil
}

// RateLimitPerSecond converts the window/max pair into a token bucket rate.
func (c *Config) RateLimitPerSecond() rate.Limit {
	return rate.Limit(float64(c.RateLimitMaxRequests) / (float64(c.RateLimitWindowMS) / 1000.0))
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

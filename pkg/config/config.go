// Package config assembles the server configuration. Values are layered:
// defaults, then an optional YAML file, then the environment (a .env file
// never overrides real variables), then command-line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-training/fitbit-mcp/pkg/auth"
	"github.com/go-training/fitbit-mcp/pkg/core"
	"github.com/go-training/fitbit-mcp/pkg/fitbit"
	"github.com/go-training/fitbit-mcp/pkg/logger"
	"github.com/go-training/fitbit-mcp/pkg/store"
)

// DefaultScopes are requested when none are configured.
const DefaultScopes = "activity heartrate sleep profile weight"

// Transport selects how MCP messages reach the server.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete server configuration.
type Config struct {
	Fitbit   FitbitConfig `yaml:"fitbit"`
	Store    StoreConfig  `yaml:"store"`
	Server   ServerConfig `yaml:"server"`
	LogLevel string       `yaml:"log_level"`
}

// FitbitConfig covers the OAuth client and API access.
type FitbitConfig struct {
	ClientID      string        `yaml:"client_id"`
	ClientSecret  string        `yaml:"client_secret"`
	CallbackAddr  string        `yaml:"callback_addr"`
	Scopes        string        `yaml:"scopes"`
	RefreshMargin time.Duration `yaml:"refresh_margin"`
	RateLimit     int           `yaml:"rate_limit"`
	OpenBrowser   bool          `yaml:"open_browser"`
}

// StoreConfig selects and configures the token store.
type StoreConfig struct {
	Type      string      `yaml:"type"`
	TokenFile string      `yaml:"token_file"`
	Redis     RedisConfig `yaml:"redis"`
}

// RedisConfig is used when the store type is redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerConfig covers the MCP transport.
type ServerConfig struct {
	Transport string `yaml:"transport"`
	Addr      string `yaml:"addr"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Fitbit: FitbitConfig{
			CallbackAddr: auth.DefaultCallbackAddr,
			Scopes:       DefaultScopes,
			RateLimit:    fitbit.DefaultRateLimit,
			OpenBrowser:  true,
		},
		Store: StoreConfig{
			Type:      string(store.StoreTypeFile),
			TokenFile: store.DefaultTokenFile,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Server: ServerConfig{
			Transport: TransportStdio,
			Addr:      ":8080",
		},
	}
}

// ScopeList returns the configured scopes as a list.
func (c *Config) ScopeList() []string {
	return core.ParseScope(c.Fitbit.Scopes)
}

// HasCredentials reports whether both client id and secret are set.
func (c *Config) HasCredentials() bool {
	return c.Fitbit.ClientID != "" && c.Fitbit.ClientSecret != ""
}

// StoreOptions converts the store section for the store factory.
func (c *Config) StoreOptions() store.Config {
	return store.Config{
		Type: store.StoreType(strings.ToLower(c.Store.Type)),
		File: store.FileOptions{Path: c.Store.TokenFile},
		Redis: store.RedisOptions{
			Addr:     c.Store.Redis.Addr,
			Password: c.Store.Redis.Password,
			DB:       c.Store.Redis.DB,
		},
	}
}

// Validate checks values that would otherwise fail later at runtime.
// Missing client credentials are allowed.
func (c *Config) Validate() error {
	var errs []error

	if t := store.StoreType(strings.ToLower(c.Store.Type)); !t.IsValid() {
		errs = append(errs, fmt.Errorf("store type %q must be file, memory or redis", c.Store.Type))
	} else {
		if t == store.StoreTypeFile && c.Store.TokenFile == "" {
			errs = append(errs, errors.New("token file path is required for the file store"))
		}
		if t == store.StoreTypeRedis && c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("redis address is required for the redis store"))
		}
	}

	switch c.Server.Transport {
	case TransportStdio:
	case TransportHTTP:
		if c.Server.Addr == "" {
			errs = append(errs, errors.New("http address is required for the http transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport %q must be stdio or http", c.Server.Transport))
	}

	if _, _, err := net.SplitHostPort(c.Fitbit.CallbackAddr); err != nil {
		errs = append(errs, fmt.Errorf("callback address %q: %w", c.Fitbit.CallbackAddr, err))
	}
	if len(c.ScopeList()) == 0 {
		errs = append(errs, errors.New("at least one scope is required"))
	}
	if c.Fitbit.RefreshMargin < 0 {
		errs = append(errs, errors.New("refresh margin must not be negative"))
	}
	if c.Fitbit.RateLimit < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}
	if c.LogLevel != "" {
		if _, ok := logger.ParseLevel(c.LogLevel); !ok {
			errs = append(errs, fmt.Errorf("log level %q must be DEBUG, INFO, WARN or ERROR", c.LogLevel))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

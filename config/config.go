// Package config holds runtime configuration for the kernel: the registry
// bootstrap source, per-invocation timeouts, and logging. It follows a
// three-layer priority — defaults, then environment variables, then
// functional options — the same order the rest of the surrounding
// ecosystem uses for its own configuration types.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the kernel's runtime configuration.
type Config struct {
	// ToolConfigPath is the on-disk registry file consulted at startup.
	// env: AMP_TOOL_CONFIG, default: "config/tools.json"
	ToolConfigPath string

	// ToolRegistryURL is a remote registry base URL; GET {url}/tools is
	// issued against it. env: AMP_TOOL_REGISTRY_URL
	ToolRegistryURL string

	// RegistryCacheRedisURL optionally points the registry bootstrapper at
	// a Redis instance used to cache the resolved tool map (names and URLs)
	// across process lifetimes. env: AMP_REGISTRY_CACHE_REDIS_URL
	RegistryCacheRedisURL string

	// ToolInvokeTimeout bounds every outbound tool HTTP call.
	// env: AMP_TOOL_TIMEOUT_MS, default: 30000
	ToolInvokeTimeout time.Duration

	// LogLevel gates the default logger. env: AMP_LOG_LEVEL, default: "INFO"
	LogLevel string
}

// Option mutates a Config being built by New.
type Option func(*Config)

// WithToolConfigPath overrides the registry file path.
func WithToolConfigPath(path string) Option {
	return func(c *Config) { c.ToolConfigPath = path }
}

// WithToolRegistryURL overrides the remote registry base URL.
func WithToolRegistryURL(url string) Option {
	return func(c *Config) { c.ToolRegistryURL = url }
}

// WithRegistryCacheRedisURL enables the optional Redis-backed registry
// cache.
func WithRegistryCacheRedisURL(url string) Option {
	return func(c *Config) { c.RegistryCacheRedisURL = url }
}

// WithToolInvokeTimeout overrides the per-invocation timeout.
func WithToolInvokeTimeout(d time.Duration) Option {
	return func(c *Config) { c.ToolInvokeTimeout = d }
}

// WithLogLevel overrides the default logger's gate level.
func WithLogLevel(level string) Option {
	return func(c *Config) { c.LogLevel = level }
}

// New builds a Config from defaults, then environment variables, then the
// supplied functional options, in that priority order.
func New(opts ...Option) *Config {
	c := &Config{
		ToolConfigPath:    "config/tools.json",
		ToolInvokeTimeout: 30 * time.Second,
		LogLevel:          "INFO",
	}

	if v := os.Getenv("AMP_TOOL_CONFIG"); v != "" {
		c.ToolConfigPath = v
	}
	if v := os.Getenv("AMP_TOOL_REGISTRY_URL"); v != "" {
		c.ToolRegistryURL = v
	}
	if v := os.Getenv("AMP_REGISTRY_CACHE_REDIS_URL"); v != "" {
		c.RegistryCacheRedisURL = v
	}
	if v := os.Getenv("AMP_TOOL_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.ToolInvokeTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("AMP_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

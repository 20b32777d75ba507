// Coworker is a local-first filesystem coworker server.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config parses the coworker server's runtime configuration from
// environment variables and flags, flags taking precedence over env vars.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration for the coworker server.
type Config struct {
	Host string // COWORKER_HOST
	Port int    // COWORKER_PORT

	StorePath string // COWORKER_STORE_PATH

	WorkerCount  int           // COWORKER_WORKERS
	LeaseMS      int64         // COWORKER_LEASE_MS
	PollInterval time.Duration // COWORKER_POLL_INTERVAL

	SessionInactivityTTL time.Duration // COWORKER_SESSION_TTL

	RateLimitPerMinute int  // COWORKER_RATE_LIMIT_RPM
	RateLimitBurst     int  // COWORKER_RATE_LIMIT_BURST
	EnableCORS         bool // COWORKER_ENABLE_CORS

	// TokenEncryptionKey, if set, encrypts session tokens at rest in the CP
	// Store (see internal/cryptutil). Empty disables at-rest encryption.
	TokenEncryptionKey string // COWORKER_TOKEN_ENCRYPTION_KEY

	LogLevel string // COWORKER_LOG_LEVEL
}

// Default returns the out-of-the-box configuration: loopback-only on the
// conventional port, a 30s lease, two workers, and a 24h session TTL.
func Default() Config {
	return Config{
		Host:                 "127.0.0.1",
		Port:                 8765,
		StorePath:            "./coworker.db",
		WorkerCount:          2,
		LeaseMS:              30_000,
		PollInterval:         100 * time.Millisecond,
		SessionInactivityTTL: 24 * time.Hour,
		RateLimitPerMinute:   60,
		RateLimitBurst:       10,
		EnableCORS:           false,
		LogLevel:             "info",
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return i
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Parse builds Config from the environment, then overlays any flags the
// caller passed. Flags take precedence over environment variables, which
// take precedence over Default().
func Parse() Config {
	def := Default()

	cfg := Config{
		Host:                 getenv("COWORKER_HOST", def.Host),
		Port:                 getenvInt("COWORKER_PORT", def.Port),
		StorePath:            getenv("COWORKER_STORE_PATH", def.StorePath),
		WorkerCount:          getenvInt("COWORKER_WORKERS", def.WorkerCount),
		LeaseMS:              getenvInt64("COWORKER_LEASE_MS", def.LeaseMS),
		PollInterval:         getenvDuration("COWORKER_POLL_INTERVAL", def.PollInterval),
		SessionInactivityTTL: getenvDuration("COWORKER_SESSION_TTL", def.SessionInactivityTTL),
		RateLimitPerMinute:   getenvInt("COWORKER_RATE_LIMIT_RPM", def.RateLimitPerMinute),
		RateLimitBurst:       getenvInt("COWORKER_RATE_LIMIT_BURST", def.RateLimitBurst),
		EnableCORS:           getenvBool("COWORKER_ENABLE_CORS", def.EnableCORS),
		TokenEncryptionKey:   getenv("COWORKER_TOKEN_ENCRYPTION_KEY", def.TokenEncryptionKey),
		LogLevel:             getenv("COWORKER_LOG_LEVEL", def.LogLevel),
	}

	flag.StringVar(&cfg.Host, "host", cfg.Host, "listen host, loopback only by convention (env COWORKER_HOST)")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "listen port (env COWORKER_PORT)")
	flag.StringVar(&cfg.StorePath, "store", cfg.StorePath, "CP Store SQLite file path (env COWORKER_STORE_PATH)")
	flag.IntVar(&cfg.WorkerCount, "workers", cfg.WorkerCount, "worker pool size (env COWORKER_WORKERS)")
	flag.Int64Var(&cfg.LeaseMS, "lease-ms", cfg.LeaseMS, "default job lease duration in ms (env COWORKER_LEASE_MS)")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "worker claim poll interval (env COWORKER_POLL_INTERVAL)")
	flag.DurationVar(&cfg.SessionInactivityTTL, "session-ttl", cfg.SessionInactivityTTL, "session inactivity expiry, 0 disables (env COWORKER_SESSION_TTL)")
	flag.IntVar(&cfg.RateLimitPerMinute, "rate-limit-rpm", cfg.RateLimitPerMinute, "requests per minute per client (env COWORKER_RATE_LIMIT_RPM)")
	flag.IntVar(&cfg.RateLimitBurst, "rate-limit-burst", cfg.RateLimitBurst, "token bucket burst size (env COWORKER_RATE_LIMIT_BURST)")
	flag.BoolVar(&cfg.EnableCORS, "enable-cors", cfg.EnableCORS, "enable CORS headers for the extension UI origin (env COWORKER_ENABLE_CORS)")
	flag.StringVar(&cfg.TokenEncryptionKey, "token-encryption-key", cfg.TokenEncryptionKey, "passphrase to encrypt session tokens at rest, empty disables (env COWORKER_TOKEN_ENCRYPTION_KEY)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: info|debug (env COWORKER_LOG_LEVEL)")

	flag.Parse()
	return cfg
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsLoopback reports whether Host is one of the conventional loopback
// spellings. Used by main to warn, not to block, on a non-default bind.
func (c Config) IsLoopback() bool {
	switch c.Host {
	case "127.0.0.1", "localhost", "::1":
		return true
	default:
		return false
	}
}

// Validate rejects configuration that would make the server non-functional.
// It does not forbid a non-loopback Host: the CLI surface exposes it as a
// deployment choice, but main logs a warning when it isn't loopback since
// the system is designed to be local-first.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.WorkerCount)
	}
	if c.LeaseMS < 1000 {
		return fmt.Errorf("lease-ms must be at least 1000, got %d", c.LeaseMS)
	}
	if c.StorePath == "" {
		return fmt.Errorf("store path cannot be empty")
	}
	return nil
}

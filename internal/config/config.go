// Package config loads node configuration from environment variables, the
// same shape as the teacher's pkg/config: a flat struct populated by
// getEnv/getEnvInt/getEnvBool helpers with explicit defaults, validated
// once after loading.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/albatross-go/node/internal/policy"
	"github.com/albatross-go/node/internal/primitives"
)

// Config holds everything cmd/node needs to start a validator or follower
// node: network identity, storage location, the policy calendar to run,
// and the validator key material (if any).
type Config struct {
	// Network identification.
	Network   primitives.NetworkID
	ChainID   string // human-readable network name, mirrors teacher's ChainID field
	DataDir   string

	// Storage.
	DatabasePath string // directory cometbft-db opens; empty means in-memory

	// Policy calendar. UseTestCalendar selects policy.Test over
	// policy.Default for short-epoch local networks.
	UseTestCalendar bool

	// LightHistory runs internal/history.Light instead of Full, trading
	// query support for a smaller retained window (light-client/follower
	// deployments).
	LightHistory bool

	// Validator identity. Empty BLSKeyPath means cmd/node uses
	// <DataDir>/bls_key.hex, generating a key there if none exists.
	BLSKeyPath string

	// Logging.
	LogLevel string

	// Proof-chain key material, produced by cmd/bls-zk-setup.
	ZKPKeysDir string

	// Metrics.
	MetricsEnabled bool
}

// Load reads configuration from environment variables, following the
// teacher's naming convention of one explicit env var per field and no
// implicit file-based overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Network:         primitives.NetworkTestAlbatross,
		ChainID:         getEnv("NODE_CHAIN_ID", "albatross-test"),
		DataDir:         getEnv("NODE_DATA_DIR", "./data"),
		DatabasePath:    getEnv("NODE_DATABASE_PATH", ""),
		UseTestCalendar: getEnvBool("NODE_TEST_CALENDAR", false),
		LightHistory:    getEnvBool("NODE_LIGHT_HISTORY", false),
		BLSKeyPath:      getEnv("NODE_BLS_KEY_PATH", ""),
		LogLevel:        getEnv("NODE_LOG_LEVEL", "info"),
		ZKPKeysDir:      getEnv("NODE_ZKP_KEYS_DIR", "./zkp-keys"),
		MetricsEnabled:  getEnvBool("NODE_METRICS_ENABLED", true),
	}
	return cfg, nil
}

// Validate checks the loaded configuration for internally-inconsistent or
// missing required values, returning every problem found rather than
// stopping at the first one (mirrors the teacher's pkg/config.Validate).
func (c *Config) Validate() error {
	var errs []string

	if c.DataDir == "" {
		errs = append(errs, "NODE_DATA_DIR must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("NODE_LOG_LEVEL %q is not one of debug/info/warn/error", c.LogLevel))
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Policy resolves the configured calendar for policy.Init.
func (c *Config) Policy() policy.Policy {
	if c.UseTestCalendar {
		return policy.Test
	}
	return policy.Default
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

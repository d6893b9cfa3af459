package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Master key sources
const (
	MasterKeyEnv    = "env"
	MasterKeyAWSKMS = "aws-kms"
	MasterKeyVault  = "vault"
)

// Config holds process configuration. The master key itself is not checked
// here; a missing or malformed key fails the first operation that needs it.
type Config struct {
	// Server
	Port           int
	MetricsEnabled bool

	// Storage
	StorageBackend string
	PostgresDSN    string

	// Master key
	MasterKeySource     string
	MasterKey           string
	MasterKeyCiphertext string
	KMSAWSKeyID         string
	KMSAWSRegion        string
	VaultAddress        string
	VaultToken          string
	VaultTransitKey     string

	// Ledger
	LedgerPublicURL         string
	LedgerTestnetURL        string
	LedgerPublicPassphrase  string
	LedgerTestnetPassphrase string
	FaucetURL               string
	LedgerTimeout           time.Duration
	LedgerRPS               float64

	// Prepare locking across instances; empty means in-process only.
	RedisAddr string
}

// LoadDotEnv reads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnvInt("PORT", 8080),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),

		StorageBackend: getEnv("STORAGE_BACKEND", StoragePostgres),
		PostgresDSN:    getEnv("POSTGRES_DSN", ""),

		MasterKeySource:     getEnv("MASTER_KEY_SOURCE", MasterKeyEnv),
		MasterKey:           getEnv("MASTER_KEY", ""),
		MasterKeyCiphertext: getEnv("MASTER_KEY_CIPHERTEXT", ""),
		KMSAWSKeyID:         getEnv("KMS_AWS_KEY_ID", ""),
		KMSAWSRegion:        getEnv("KMS_AWS_REGION", ""),
		VaultAddress:        getEnv("VAULT_ADDR", ""),
		VaultToken:          getEnv("VAULT_TOKEN", ""),
		VaultTransitKey:     getEnv("VAULT_TRANSIT_KEY", ""),

		LedgerPublicURL:         getEnv("LEDGER_PUBLIC_URL", ""),
		LedgerTestnetURL:        getEnv("LEDGER_TESTNET_URL", ""),
		LedgerPublicPassphrase:  getEnv("LEDGER_PUBLIC_PASSPHRASE", ""),
		LedgerTestnetPassphrase: getEnv("LEDGER_TESTNET_PASSPHRASE", ""),
		FaucetURL:               getEnv("FAUCET_URL", ""),
		LedgerTimeout:           getEnvDuration("LEDGER_TIMEOUT", 20*time.Second),
		LedgerRPS:               getEnvFloat("LEDGER_RPS", 0),

		RedisAddr: getEnv("REDIS_ADDR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got: %d", c.Port)
	}

	switch c.StorageBackend {
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when STORAGE_BACKEND is 'postgres'")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be 'postgres' or 'memory', got: %s", c.StorageBackend)
	}

	switch c.MasterKeySource {
	case MasterKeyEnv:
	case MasterKeyAWSKMS:
		if c.KMSAWSKeyID == "" {
			return fmt.Errorf("KMS_AWS_KEY_ID is required when MASTER_KEY_SOURCE is 'aws-kms'")
		}
	case MasterKeyVault:
		if c.VaultAddress == "" || c.VaultTransitKey == "" {
			return fmt.Errorf("VAULT_ADDR and VAULT_TRANSIT_KEY are required when MASTER_KEY_SOURCE is 'vault'")
		}
	default:
		return fmt.Errorf("MASTER_KEY_SOURCE must be 'env', 'aws-kms' or 'vault', got: %s", c.MasterKeySource)
	}

	if c.LedgerPublicURL == "" && c.LedgerTestnetURL == "" {
		return fmt.Errorf("LEDGER_PUBLIC_URL or LEDGER_TESTNET_URL is required")
	}
	if c.FaucetURL != "" && c.LedgerTestnetURL == "" {
		return fmt.Errorf("FAUCET_URL requires LEDGER_TESTNET_URL")
	}

	if c.LedgerTimeout <= 0 {
		return fmt.Errorf("LEDGER_TIMEOUT must be positive")
	}
	if c.LedgerRPS < 0 {
		return fmt.Errorf("LEDGER_RPS must not be negative")
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvDuration accepts Go durations ("15s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	valueStr = strings.ToLower(valueStr)
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

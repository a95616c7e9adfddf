package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the proxy's runtime configuration, loaded from environment
// variables. Durations configured via env are expressed in milliseconds,
// matching the persisted account file's millisecond timestamps.
type Config struct {
	// Server
	Host string
	Port int

	// Security
	ServerAPIKey string // prefix "ag_" + 64 hex chars, per external-interface spec

	// Account persistence
	AccountFilePath string
	EncryptionKey   string

	// Observability store (request log ring, refresh locks)
	DBPath string

	// Upstream endpoints, in failover order
	UpstreamEndpoints []string

	// Cooldowns / waits
	DefaultCooldown      time.Duration
	MaxWaitBeforeError   time.Duration
	TokenRefreshInterval time.Duration
	SignatureCacheTTL    time.Duration

	// Per-model-family throttle delays
	ThrottleFamilyC     time.Duration
	ThrottleFamilyV     time.Duration
	ThrottleFamilyOther time.Duration

	// Request handling
	RequestTimeout   time.Duration
	MaxRequestBodyMB int
	MaxRetryAccounts int // floor for outer retry attempts; actual = max(this, accounts+1)

	// Default project id used when account/discovery both fail
	DefaultProjectID string

	LogLevel string
}

func Load() *Config {
	return &Config{
		Host: envOr("HOST", "0.0.0.0"),
		Port: envInt("PORT", 8080),

		ServerAPIKey: os.Getenv("API_TOKEN"),

		AccountFilePath: envOr("ACCOUNT_FILE", "./accounts.json"),
		EncryptionKey:   os.Getenv("ENCRYPTION_KEY"),

		DBPath: envOr("DB_PATH", "./proxy-observability.db"),

		UpstreamEndpoints: []string{
			envOr("UPSTREAM_ENDPOINT_DAILY", "https://daily-cloudcode-pa.sandbox.googleapis.com"),
			envOr("UPSTREAM_ENDPOINT_PROD", "https://cloudcode-pa.googleapis.com"),
		},

		DefaultCooldown:      envDuration("DEFAULT_COOLDOWN_MS", 60_000*time.Millisecond),
		MaxWaitBeforeError:   envDuration("MAX_WAIT_BEFORE_ERROR_MS", 120_000*time.Millisecond),
		TokenRefreshInterval: envDuration("TOKEN_REFRESH_INTERVAL_MS", 5*time.Minute),
		SignatureCacheTTL:    envDuration("SIGNATURE_CACHE_TTL_MS", 2*time.Hour),

		ThrottleFamilyC:     envDuration("THROTTLE_FAMILY_C_MS", 3000*time.Millisecond),
		ThrottleFamilyV:     envDuration("THROTTLE_FAMILY_V_MS", 1500*time.Millisecond),
		ThrottleFamilyOther: envDuration("THROTTLE_FAMILY_OTHER_MS", 3000*time.Millisecond),

		RequestTimeout:   envDuration("REQUEST_TIMEOUT_MS", 5*time.Minute),
		MaxRequestBodyMB: envInt("REQUEST_MAX_SIZE_MB", 60),
		MaxRetryAccounts: envInt("MAX_RETRY_ACCOUNTS", 5),

		DefaultProjectID: envOr("DEFAULT_PROJECT_ID", "default-project"),

		LogLevel: envOr("LOG_LEVEL", "info"),
	}
}

func (c *Config) Validate() error {
	if c.EncryptionKey == "" {
		return errMissing("ENCRYPTION_KEY")
	}
	if c.ServerAPIKey == "" {
		return errMissing("API_TOKEN")
	}
	if len(c.UpstreamEndpoints) == 0 {
		return fmt.Errorf("no upstream endpoints configured")
	}
	return nil
}

type configError struct{ field string }

func (e *configError) Error() string { return "missing required env: " + e.field }
func errMissing(f string) error      { return &configError{field: f} }

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

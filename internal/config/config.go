package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"finlux/internal/core"
)

type Config struct {
	// HTTP Server
	Port string

	// Guest storage
	LocalStore    string
	SQLiteDBPath  string
	MemoryDataDir string

	// Authenticated storage
	SupabaseURL        string
	SupabaseKey        string
	RemotePollInterval time.Duration

	// Ledger
	OperationTimeout time.Duration
	IdempotencyTTL   time.Duration
	Currency         string

	// AMQP change feed
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets mirror
	GoogleSpreadsheetID   string
	GoogleSheetName       string
	GoogleOAuthClientFile string
	GoogleOAuthTokenFile  string
	GoogleOAuthClientJSON string
	GoogleOAuthTokenJSON  string
	// MirrorPartition selects whose changes the mirror copies: "guest" or
	// "authenticated:<user id>".
	MirrorPartition string

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8081"),

		LocalStore:    getEnv("LOCAL_STORE", "sqlite"),
		SQLiteDBPath:  getEnv("SQLITE_DB_PATH", "./data/finlux.db"),
		MemoryDataDir: getEnv("MEMORY_DATA_DIR", ""),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseKey:        getEnv("SUPABASE_KEY", ""),
		RemotePollInterval: getEnvDuration("REMOTE_POLL_INTERVAL", 5*time.Second),

		OperationTimeout: getEnvDuration("OPERATION_TIMEOUT", 10*time.Second),
		IdempotencyTTL:   getEnvDuration("IDEMPOTENCY_TTL", 10*time.Minute),
		Currency:         strings.ToUpper(getEnv("CURRENCY", "USD")),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "finlux"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "finlux_mirror"),

		GoogleSpreadsheetID:   getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:       getEnv("GOOGLE_SHEET_NAME", "Transactions"),
		GoogleOAuthClientFile: getEnv("GOOGLE_OAUTH_CLIENT_FILE", ""),
		GoogleOAuthTokenFile:  getEnv("GOOGLE_OAUTH_TOKEN_FILE", ""),
		GoogleOAuthClientJSON: getEnv("GOOGLE_OAUTH_CLIENT_JSON", ""),
		GoogleOAuthTokenJSON:  getEnv("GOOGLE_OAUTH_TOKEN_JSON", ""),
		MirrorPartition:       getEnv("MIRROR_PARTITION", "guest"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// RemoteEnabled reports whether sign-in can build a remote store.
func (c *Config) RemoteEnabled() bool {
	return c.SupabaseURL != ""
}

// FeedEnabled reports whether committed changes are published.
func (c *Config) FeedEnabled() bool {
	return c.AMQPURL != ""
}

// MirrorEnabled reports whether the spreadsheet mirror is configured.
func (c *Config) MirrorEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validStores := []string{"memory", "sqlite"}
	isValidStore := false
	for _, s := range validStores {
		if c.LocalStore == s {
			isValidStore = true
			break
		}
	}
	if !isValidStore {
		errors = append(errors, fmt.Sprintf("invalid local store '%s': must be one of %v", c.LocalStore, validStores))
	}

	if c.LocalStore == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite store")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.LocalStore == "memory" && c.MemoryDataDir != "" {
		if info, err := os.Stat(c.MemoryDataDir); err != nil || !info.IsDir() {
			errors = append(errors, fmt.Sprintf("memory data directory does not exist: %s", c.MemoryDataDir))
		}
	}

	if c.SupabaseURL != "" {
		if u, err := url.Parse(c.SupabaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid Supabase URL '%s': %v", c.SupabaseURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid Supabase URL scheme '%s': must be 'http' or 'https'", u.Scheme))
		}
		if c.SupabaseKey == "" {
			errors = append(errors, "Supabase key cannot be empty when Supabase URL is provided")
		}
	}

	if c.RemotePollInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid remote poll interval %v: must be at least 1 second", c.RemotePollInterval))
	} else if c.RemotePollInterval > time.Hour {
		errors = append(errors, fmt.Sprintf("invalid remote poll interval %v: must be at most 1 hour", c.RemotePollInterval))
	}

	if c.OperationTimeout < 100*time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid operation timeout %v: must be at least 100ms", c.OperationTimeout))
	} else if c.OperationTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid operation timeout %v: must be at most 5 minutes", c.OperationTimeout))
	}

	if c.IdempotencyTTL < 0 || c.IdempotencyTTL > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid idempotency TTL %v: must be between 0 and 24 hours", c.IdempotencyTTL))
	}

	if len(c.Currency) != 3 {
		errors = append(errors, fmt.Sprintf("invalid currency '%s': must be a 3-letter ISO code", c.Currency))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleSpreadsheetID != "" {
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when the sheets mirror is enabled")
		}
		if _, err := core.ParsePartition(c.MirrorPartition); err != nil {
			errors = append(errors, fmt.Sprintf("invalid MIRROR_PARTITION: %v", err))
		}

		hasClientFile := c.GoogleOAuthClientFile != ""
		if !hasClientFile && c.GoogleOAuthClientJSON == "" {
			errors = append(errors, "either GOOGLE_OAUTH_CLIENT_FILE or GOOGLE_OAUTH_CLIENT_JSON must be provided for the sheets mirror")
		}
		hasTokenFile := c.GoogleOAuthTokenFile != ""
		if !hasTokenFile && c.GoogleOAuthTokenJSON == "" {
			errors = append(errors, "either GOOGLE_OAUTH_TOKEN_FILE or GOOGLE_OAUTH_TOKEN_JSON must be provided for the sheets mirror")
		}

		if hasClientFile {
			if _, err := os.Stat(c.GoogleOAuthClientFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google OAuth client file does not exist: %s", c.GoogleOAuthClientFile))
			}
		}
		if hasTokenFile {
			if _, err := os.Stat(c.GoogleOAuthTokenFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google OAuth token file does not exist: %s", c.GoogleOAuthTokenFile))
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

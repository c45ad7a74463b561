package backend

import (
	"fmt"
	"time"

	"finlux/internal/config"
)

// Config holds configuration for adapter creation
type Config struct {
	Local LocalKind

	// SQLite specific
	SQLiteDBPath string

	// Memory store seed directory, optional
	DataDirectory string

	// Remote (Supabase) specific
	SupabaseURL  string
	SupabaseKey  string
	PollInterval time.Duration
}

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	kind := LocalKind(appConfig.LocalStore)
	if !kind.IsValid() {
		return Config{}, fmt.Errorf("invalid local store in config: %s", appConfig.LocalStore)
	}

	return Config{
		Local:         kind,
		SQLiteDBPath:  appConfig.SQLiteDBPath,
		DataDirectory: appConfig.MemoryDataDir,
		SupabaseURL:   appConfig.SupabaseURL,
		SupabaseKey:   appConfig.SupabaseKey,
		PollInterval:  appConfig.RemotePollInterval,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Local.IsValid() {
		return fmt.Errorf("invalid local store: %s", c.Local)
	}
	if c.Local == SQLiteStore && c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required for sqlite store")
	}
	if c.SupabaseURL != "" && c.SupabaseKey == "" {
		return fmt.Errorf("Supabase key is required when Supabase URL is set")
	}
	return nil
}

// RemoteEnabled reports whether authenticated adapters can be built.
func (c Config) RemoteEnabled() bool {
	return c.SupabaseURL != ""
}

// LocalKinds returns all valid local store kinds
func LocalKinds() []LocalKind {
	return []LocalKind{SQLiteStore, MemoryStore}
}

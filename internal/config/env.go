package config

import (
	"log/slog"
	"os"
)

// Environment variable names for overrides.
const (
	EnvConfig        = "SYNCROOT_CONFIG"
	EnvDatabasePath  = "SYNCROOT_DATABASE_PATH"
	EnvSyncRootTitle = "SYNCROOT_SYNC_ROOT_TITLE"
	EnvBaseURL       = "SYNCROOT_BASE_URL"
	EnvClientID      = "SYNCROOT_CLIENT_ID"
	EnvLogLevel      = "SYNCROOT_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables. Empty
// fields mean "not set".
type EnvOverrides struct {
	ConfigPath    string // SYNCROOT_CONFIG: override config file path
	DatabasePath  string // SYNCROOT_DATABASE_PATH
	SyncRootTitle string // SYNCROOT_SYNC_ROOT_TITLE
	BaseURL       string // SYNCROOT_BASE_URL
	ClientID      string // SYNCROOT_CLIENT_ID
	LogLevel      string // SYNCROOT_LOG_LEVEL
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	o := EnvOverrides{
		ConfigPath:    os.Getenv(EnvConfig),
		DatabasePath:  os.Getenv(EnvDatabasePath),
		SyncRootTitle: os.Getenv(EnvSyncRootTitle),
		BaseURL:       os.Getenv(EnvBaseURL),
		ClientID:      os.Getenv(EnvClientID),
		LogLevel:      os.Getenv(EnvLogLevel),
	}

	for name, value := range map[string]string{
		EnvConfig:        o.ConfigPath,
		EnvDatabasePath:  o.DatabasePath,
		EnvSyncRootTitle: o.SyncRootTitle,
		EnvBaseURL:       o.BaseURL,
		EnvClientID:      o.ClientID,
		EnvLogLevel:      o.LogLevel,
	} {
		if value != "" {
			logger.Debug("environment override", slog.String("var", name))
		}
	}

	return o
}

func (e EnvOverrides) apply(cfg *Config) {
	if e.DatabasePath != "" {
		cfg.Sync.DatabasePath = e.DatabasePath
	}

	if e.SyncRootTitle != "" {
		cfg.Sync.SyncRootTitle = e.SyncRootTitle
	}

	if e.BaseURL != "" {
		cfg.Remote.BaseURL = e.BaseURL
	}

	if e.ClientID != "" {
		cfg.Remote.ClientID = e.ClientID
	}

	if e.LogLevel != "" {
		cfg.Logging.LogLevel = e.LogLevel
	}
}

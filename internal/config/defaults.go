package config

import "path/filepath"

// Default values for configuration options. These are "layer 0" of the
// override chain.
const (
	defaultBaseURL        = "https://www.googleapis.com/drive/v2"
	defaultAuthURL        = "https://accounts.google.com/o/oauth2/auth"
	defaultTokenURL       = "https://oauth2.googleapis.com/token"
	defaultDeviceAuthURL  = "https://oauth2.googleapis.com/device/code"
	defaultScope          = "https://www.googleapis.com/auth/drive"
	defaultRequestTimeout = "60s"
	defaultSyncRootTitle  = "Chrome Syncable FileSystem"
	defaultFanOut         = 4
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	databaseFileName      = "metadata.db"
	tokenFileName         = "token.json"
)

// DefaultConfig returns a Config populated with all default values. TOML
// decoding starts from it, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Remote:  defaultRemoteConfig(),
		Sync:    defaultSyncConfig(),
		Logging: defaultLoggingConfig(),
	}
}

func defaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		BaseURL:        defaultBaseURL,
		AuthURL:        defaultAuthURL,
		TokenURL:       defaultTokenURL,
		DeviceAuthURL:  defaultDeviceAuthURL,
		Scopes:         []string{defaultScope},
		RequestTimeout: defaultRequestTimeout,
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		SyncRootTitle: defaultSyncRootTitle,
		FanOut:        defaultFanOut,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

// DefaultDatabasePath is used when database_path is not configured.
func DefaultDatabasePath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, databaseFileName)
}

// DefaultTokenPath is where the OAuth2 token is persisted.
func DefaultTokenPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, tokenFileName)
}

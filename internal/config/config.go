// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for syncroot. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Remote  RemoteConfig  `toml:"remote"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
}

// RemoteConfig locates the remote file service and its OAuth2 endpoints.
type RemoteConfig struct {
	BaseURL        string   `toml:"base_url"`
	ClientID       string   `toml:"client_id"`
	AuthURL        string   `toml:"auth_url"`
	TokenURL       string   `toml:"token_url"`
	DeviceAuthURL  string   `toml:"device_auth_url"`
	Scopes         []string `toml:"scopes"`
	RequestTimeout string   `toml:"request_timeout"`
}

// SyncConfig controls the bootstrap and where its state lives.
type SyncConfig struct {
	SyncRootTitle string `toml:"sync_root_title"`
	DatabasePath  string `toml:"database_path"`
	FanOut        int    `toml:"fan_out"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set".
type CLIOverrides struct {
	ConfigPath   string  // --config flag (empty = use default)
	DatabasePath *string // --db flag
	LogLevel     *string // derived from --verbose / --quiet
}

// RequestTimeoutDuration returns the parsed request timeout. Validation has
// already rejected malformed values, so a parse failure yields zero.
func (r *RemoteConfig) RequestTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(r.RequestTimeout)
	if err != nil {
		return 0
	}

	return d
}

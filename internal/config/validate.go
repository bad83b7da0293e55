package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Validation range constants.
const (
	minFanOut         = 1
	maxFanOut         = 32
	minRequestTimeout = 1 * time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRemote(&cfg.Remote)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only apply after the override
// chain has run.
func ValidateResolved(cfg *Config) error {
	if cfg.Sync.DatabasePath == "" {
		return errors.New("database_path: could not determine a default location")
	}

	if !filepath.IsAbs(cfg.Sync.DatabasePath) {
		return fmt.Errorf("database_path: must be absolute after expansion, got %q", cfg.Sync.DatabasePath)
	}

	return nil
}

func validateRemote(r *RemoteConfig) []error {
	var errs []error

	errs = append(errs, validateURL("base_url", r.BaseURL, true)...)
	errs = append(errs, validateURL("auth_url", r.AuthURL, false)...)
	errs = append(errs, validateURL("token_url", r.TokenURL, true)...)
	errs = append(errs, validateURL("device_auth_url", r.DeviceAuthURL, true)...)

	for _, s := range r.Scopes {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, errors.New("scopes: must not contain empty entries"))
			break
		}
	}

	if err := validateDuration("request_timeout", r.RequestTimeout, minRequestTimeout); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateURL(field, value string, required bool) []error {
	if value == "" {
		if required {
			return []error{fmt.Errorf("%s: must not be empty", field)}
		}

		return nil
	}

	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", field, value, err)}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{fmt.Errorf("%s: scheme must be http or https, got %q", field, value)}
	}

	if u.Host == "" {
		return []error{fmt.Errorf("%s: missing host in %q", field, value)}
	}

	return nil
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if strings.TrimSpace(s.SyncRootTitle) == "" {
		errs = append(errs, errors.New("sync_root_title: must not be empty"))
	}

	if strings.Contains(s.SyncRootTitle, "/") {
		errs = append(errs, fmt.Errorf("sync_root_title: must not contain '/', got %q", s.SyncRootTitle))
	}

	if s.FanOut < minFanOut || s.FanOut > maxFanOut {
		errs = append(errs, fmt.Errorf("fan_out: must be between %d and %d, got %d",
			minFanOut, maxFanOut, s.FanOut))
	}

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

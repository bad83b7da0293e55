package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DefaultsAreValid(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Remote(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RemoteConfig)
		wantErr string
	}{
		{"empty base url", func(r *RemoteConfig) { r.BaseURL = "" }, "base_url: must not be empty"},
		{"ftp scheme", func(r *RemoteConfig) { r.BaseURL = "ftp://example.com" }, "base_url: scheme"},
		{"no host", func(r *RemoteConfig) { r.TokenURL = "https://" }, "token_url: missing host"},
		{"optional auth url", func(r *RemoteConfig) { r.AuthURL = "" }, ""},
		{"empty scope", func(r *RemoteConfig) { r.Scopes = []string{"a", " "} }, "scopes"},
		{"short timeout", func(r *RemoteConfig) { r.RequestTimeout = "10ms" }, "request_timeout: must be >="},
		{"bad timeout", func(r *RemoteConfig) { r.RequestTimeout = "soon" }, "request_timeout: invalid duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg.Remote)

			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_Sync(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.SyncRootTitle = " "
	cfg.Sync.FanOut = 0

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync_root_title")
	assert.Contains(t, err.Error(), "fan_out: must be between 1 and 32, got 0")

	cfg = DefaultConfig()
	cfg.Sync.SyncRootTitle = "a/b"
	assert.ErrorContains(t, Validate(cfg), "must not contain '/'")
}

func TestValidate_Logging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.LogLevel = "verbose"
	cfg.Logging.LogFormat = "xml"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "log_format")
}

func TestValidateResolved_RelativeDatabasePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.DatabasePath = "relative/meta.db"

	assert.ErrorContains(t, ValidateResolved(cfg), "must be absolute")

	cfg.Sync.DatabasePath = "/abs/meta.db"
	assert.NoError(t, ValidateResolved(cfg))
}

func TestRequestTimeoutDuration(t *testing.T) {
	r := defaultRemoteConfig()
	assert.Equal(t, "1m0s", r.RequestTimeoutDuration().String())

	r.RequestTimeout = "garbage"
	assert.Zero(t, r.RequestTimeoutDuration())
}

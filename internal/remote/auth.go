package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/syncroot/internal/tokenfile"
)

// OAuthSettings describes the OAuth2 client used to talk to the remote
// store. The caller fills it from config; remote/ has no config import.
type OAuthSettings struct {
	ClientID      string
	Scopes        []string
	AuthURL       string
	TokenURL      string
	DeviceAuthURL string
}

// DeviceAuth holds the device code response fields that the CLI displays to the user.
type DeviceAuth struct {
	UserCode        string
	VerificationURI string
}

// Login performs the device code OAuth2 flow: it requests a device code,
// hands the user code to display, polls until the user authorizes, saves
// the token at tokenPath, and returns a refreshing TokenSource.
//
// ctx must outlive the returned TokenSource; silent refresh uses it.
func Login(
	ctx context.Context,
	settings OAuthSettings,
	tokenPath string,
	display func(DeviceAuth),
	logger *slog.Logger,
) (TokenSource, error) {
	cfg := oauthConfig(settings, tokenPath, logger)

	logger.Info("starting device code auth flow", slog.String("path", tokenPath))

	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("remote: device auth request failed: %w", err)
	}

	display(DeviceAuth{
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
	})

	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("remote: device code authorization failed: %w", err)
	}

	if saveErr := tokenfile.Save(tokenPath, tok); saveErr != nil {
		return nil, fmt.Errorf("remote: saving token: %w", saveErr)
	}

	logger.Info("login successful",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return &tokenBridge{src: cfg.TokenSource(ctx, tok), logger: logger}, nil
}

// TokenSourceFromPath loads a saved token and returns a TokenSource that
// refreshes it and writes refreshed tokens back to tokenPath.
// Returns ErrNotLoggedIn if no token file exists.
func TokenSourceFromPath(
	ctx context.Context,
	settings OAuthSettings,
	tokenPath string,
	logger *slog.Logger,
) (TokenSource, error) {
	tok, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	logger.Info("loaded saved token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("expired", !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now())),
	)

	cfg := oauthConfig(settings, tokenPath, logger)

	return &tokenBridge{src: cfg.TokenSource(ctx, tok), logger: logger}, nil
}

// Logout removes the saved token file. A missing file is not an error.
func Logout(tokenPath string, logger *slog.Logger) error {
	err := os.Remove(tokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("logout: no token file to remove", slog.String("path", tokenPath))

		return nil
	}

	if err != nil {
		return fmt.Errorf("remote: removing token file: %w", err)
	}

	logger.Info("logout: removed token file", slog.String("path", tokenPath))

	return nil
}

// oauthConfig builds an oauth2.Config whose OnTokenChange hook persists
// silently refreshed tokens.
func oauthConfig(settings OAuthSettings, tokenPath string, logger *slog.Logger) *oauth2.Config {
	return &oauth2.Config{
		ClientID: settings.ClientID,
		Scopes:   settings.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:       settings.AuthURL,
			TokenURL:      settings.TokenURL,
			DeviceAuthURL: settings.DeviceAuthURL,
		},
		OnTokenChange: func(tok *oauth2.Token) {
			if err := tokenfile.Save(tokenPath, tok); err != nil {
				logger.Warn("failed to persist refreshed token",
					slog.String("path", tokenPath),
					slog.String("error", err.Error()),
				)

				return
			}

			logger.Info("persisted refreshed token",
				slog.String("path", tokenPath),
				slog.Time("new_expiry", tok.Expiry),
			)
		},
	}
}

// tokenBridge adapts oauth2.TokenSource to remote.TokenSource.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("remote: obtaining token: %w", err)
	}

	b.logger.Debug("token acquired", slog.Time("expiry", t.Expiry))

	return t.AccessToken, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/syncroot/internal/config"
	"github.com/tonimelisma/syncroot/internal/remote"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the remote store using device code flow",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved authentication token",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the remote root folder and change position",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

// oauthSettings maps the [remote] config section onto the client's OAuth2
// settings.
func oauthSettings(cfg *config.Config) remote.OAuthSettings {
	return remote.OAuthSettings{
		ClientID:      cfg.Remote.ClientID,
		Scopes:        cfg.Remote.Scopes,
		AuthURL:       cfg.Remote.AuthURL,
		TokenURL:      cfg.Remote.TokenURL,
		DeviceAuthURL: cfg.Remote.DeviceAuthURL,
	}
}

// newRemoteClient loads the saved token and returns a client for the
// configured remote store.
func newRemoteClient(ctx context.Context, cc *CLIContext) (*remote.Client, error) {
	ts, err := remote.TokenSourceFromPath(ctx, oauthSettings(cc.Cfg), config.DefaultTokenPath(), cc.Logger)
	if err != nil {
		if errors.Is(err, remote.ErrNotLoggedIn) {
			return nil, errors.New("not logged in, run 'syncroot login' first")
		}

		return nil, err
	}

	httpClient := &http.Client{Timeout: cc.Cfg.Remote.RequestTimeoutDuration()}

	return remote.NewClient(cc.Cfg.Remote.BaseURL, httpClient, ts, cc.Logger), nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Cfg.Remote.ClientID == "" {
		return fmt.Errorf("remote.client_id is not configured (set it in the config file or %s)", config.EnvClientID)
	}

	_, err := remote.Login(cmd.Context(), oauthSettings(cc.Cfg), config.DefaultTokenPath(),
		func(da remote.DeviceAuth) {
			// Device code prompts are shown even with --quiet.
			fmt.Fprintf(os.Stderr, "To sign in, visit: %s\n", da.VerificationURI)
			fmt.Fprintf(os.Stderr, "Enter code: %s\n", da.UserCode)
		}, cc.Logger)
	if err != nil {
		return err
	}

	cc.Statusf("Login successful.\n")

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := remote.Logout(config.DefaultTokenPath(), cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	BaseURL         string `json:"base_url"`
	RootFolderID    string `json:"root_folder_id"`
	LargestChangeID int64  `json:"largest_change_id"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	client, err := newRemoteClient(cmd.Context(), cc)
	if err != nil {
		return err
	}

	about, err := client.GetAbout(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetching account info: %w", err)
	}

	out := whoamiOutput{
		BaseURL:         cc.Cfg.Remote.BaseURL,
		RootFolderID:    about.RootFolderID,
		LargestChangeID: about.LargestChangeID,
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, out)
	}

	fmt.Fprintf(cc.Out, "Remote:            %s\n", out.BaseURL)
	fmt.Fprintf(cc.Out, "Root folder:       %s\n", out.RootFolderID)
	fmt.Fprintf(cc.Out, "Largest change id: %d\n", out.LargestChangeID)

	return nil
}

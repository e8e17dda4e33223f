package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/termpal/internal/config"
	"github.com/stellarlinkco/termpal/internal/credentials"
	"github.com/stellarlinkco/termpal/internal/oauth"
)

const authTimeout = 5 * time.Minute

var (
	newCredentialStore = func() credentials.Store {
		return credentials.NewFileStore(config.CredentialsDir())
	}
	openBrowser = defaultOpenBrowser
)

var authCmd = &cobra.Command{
	Use:       "auth <service>",
	Short:     "Connect termpal to a service (spotify, google)",
	Args:      cobra.ExactArgs(1),
	ValidArgs: oauth.Services(),
	RunE:      runAuth,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which services are connected",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout <service|all>",
	Short: "Forget the stored token of a service",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthLogout,
}

func init() {
	authCmd.AddCommand(authStatusCmd, authLogoutCmd)
}

func runAuth(cmd *cobra.Command, args []string) error {
	service := strings.ToLower(strings.TrimSpace(args[0]))
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	out := cmd.OutOrStdout()

	flow := oauth.NewFlow(cfg, newCredentialStore())
	flow.Open = func(url string) error {
		fmt.Fprintf(out, "Opening your browser to connect %s. If nothing happens, visit:\n\n  %s\n\n", service, url)
		if err := openBrowser(url); err != nil {
			log.Debug().Err(err).Msg("open browser")
		}
		fmt.Fprintln(out, "Waiting for authorization (Ctrl-C to abort)...")
		return nil
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	if _, err := flow.Authorize(ctx, service); err != nil {
		if errors.Is(err, oauth.ErrNotConfigured) {
			return fmt.Errorf("%w\nAdd the %s client ID and secret with 'termpal config setup'", err, service)
		}
		return fmt.Errorf("authorize %s: %w", service, err)
	}
	fmt.Fprintf(out, "✔ %s connected\n", service)
	return nil
}

func runAuthStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store := newCredentialStore()
	for _, svc := range oauth.Services() {
		fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", svc+":", serviceStatus(cfg, store, svc, time.Now()))
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	target := strings.ToLower(strings.TrimSpace(args[0]))
	services := []string{target}
	if target == "all" {
		services = oauth.Services()
	} else if _, ok := oauth.DefaultProviders[target]; !ok {
		return fmt.Errorf("%w: %s (choose one of %s, or all)", oauth.ErrUnknownService, target, strings.Join(oauth.Services(), ", "))
	}

	store := newCredentialStore()
	out := cmd.OutOrStdout()
	for _, svc := range services {
		err := store.Delete(svc)
		switch {
		case errors.Is(err, credentials.ErrNotFound):
			fmt.Fprintf(out, "%s: was not logged in\n", svc)
		case err != nil:
			return err
		default:
			fmt.Fprintf(out, "✔ Logged out of %s\n", svc)
		}
	}
	return nil
}

func oauthApp(cfg *config.Config, service string) config.OAuthAppConfig {
	switch service {
	case oauth.ServiceSpotify:
		return cfg.Services.Spotify
	case oauth.ServiceGoogle:
		return cfg.Services.Google
	default:
		return config.OAuthAppConfig{}
	}
}

func serviceStatus(cfg *config.Config, store credentials.Store, service string, now time.Time) string {
	if !oauthApp(cfg, service).Configured() {
		return "not configured"
	}
	tok, err := store.Load(service)
	switch {
	case errors.Is(err, credentials.ErrNotFound):
		return fmt.Sprintf("not authenticated (run 'termpal auth %s')", service)
	case err != nil:
		return "error: " + err.Error()
	case tok.Expiry.IsZero():
		return "authenticated"
	case tok.Expiry.After(now):
		return "authenticated, token valid until " + tok.Expiry.Local().Format("Jan 2 15:04")
	case tok.RefreshToken != "":
		return "authenticated, token refreshes on next use"
	default:
		return fmt.Sprintf("token expired (run 'termpal auth %s')", service)
	}
}

func defaultOpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

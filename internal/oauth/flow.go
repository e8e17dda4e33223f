// Package oauth runs the browser authorization flow for third-party services
// and makes authenticated requests with the stored tokens.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/stellarlinkco/termpal/internal/config"
	"github.com/stellarlinkco/termpal/internal/credentials"
)

var (
	// ErrNotAuthenticated is returned when a service has no usable token.
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrUnknownService   = errors.New("unknown service")
	ErrNotConfigured    = errors.New("service client credentials not configured")
)

// Flow performs the authorization-code flow with a local callback server.
type Flow struct {
	Store     credentials.Store
	Apps      map[string]config.OAuthAppConfig
	Providers map[string]Provider
	// ListenAddr is where the callback server listens, e.g. "127.0.0.1:8888".
	ListenAddr string
	// Open presents the authorization URL to the user.
	Open       func(url string) error
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// NewFlow builds a flow for the configured services.
func NewFlow(cfg *config.Config, store credentials.Store) *Flow {
	port := cfg.Services.CallbackPort
	if port <= 0 {
		port = config.DefaultCallbackPort
	}
	return &Flow{
		Store: store,
		Apps: map[string]config.OAuthAppConfig{
			ServiceSpotify: cfg.Services.Spotify,
			ServiceGoogle:  cfg.Services.Google,
		},
		Providers:  DefaultProviders,
		ListenAddr: fmt.Sprintf("127.0.0.1:%d", port),
		Logger:     log.With().Str("component", "oauth").Logger(),
	}
}

// Config returns the oauth2 configuration for service with the given redirect.
func (f *Flow) Config(service, redirect string) (*oauth2.Config, error) {
	p, ok := f.Providers[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	app := f.Apps[service]
	if !app.Configured() {
		return nil, fmt.Errorf("%s: %w (set services.%s.clientId and clientSecret)", service, ErrNotConfigured, service)
	}
	return &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		Endpoint:     p.Endpoint,
		Scopes:       p.Scopes,
		RedirectURL:  redirect,
	}, nil
}

// Authorize sends the user through the provider's consent page and stores the
// resulting token.
func (f *Flow) Authorize(ctx context.Context, service string) (*oauth2.Token, error) {
	if _, err := f.Config(service, ""); err != nil {
		return nil, err
	}
	state := uuid.NewString()
	cs, err := newCallbackServer(f.ListenAddr, state)
	if err != nil {
		return nil, err
	}
	defer cs.close()

	conf, err := f.Config(service, cs.redirectURL())
	if err != nil {
		return nil, err
	}
	cs.serve()

	authURL := conf.AuthCodeURL(state, f.Providers[service].AuthOptions...)
	f.Logger.Debug().Str("service", service).Str("redirect", conf.RedirectURL).Msg("starting authorization")
	if f.Open != nil {
		if err := f.Open(authURL); err != nil {
			return nil, fmt.Errorf("open authorization url: %w", err)
		}
	}

	code, err := cs.wait(ctx)
	if err != nil {
		return nil, err
	}

	if f.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.HTTPClient)
	}
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange %s code: %w", service, err)
	}
	if err := f.Store.Save(service, tok); err != nil {
		return nil, err
	}
	f.Logger.Info().Str("service", service).Msg("authorized")
	return tok, nil
}

// Client returns an authenticated client for service. The redirect URL is not
// needed for refreshing.
func (f *Flow) Client(service string) (*Client, error) {
	conf, err := f.Config(service, "")
	if err != nil {
		return nil, err
	}
	return NewClient(service, conf, f.Store, f.HTTPClient), nil
}

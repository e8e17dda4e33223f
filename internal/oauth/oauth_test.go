package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/stellarlinkco/termpal/internal/config"
	"github.com/stellarlinkco/termpal/internal/credentials"
)

type memStore struct {
	mu     sync.Mutex
	tokens map[string]*oauth2.Token
	saves  int
}

func newMemStore() *memStore { return &memStore{tokens: map[string]*oauth2.Token{}} }

func (m *memStore) Load(service string) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[service]
	if !ok {
		return nil, fmt.Errorf("%s: %w", service, credentials.ErrNotFound)
	}
	cp := *tok
	return &cp, nil
}

func (m *memStore) Save(service string, tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tok
	m.tokens[service] = &cp
	m.saves++
	return nil
}

func (m *memStore) Delete(service string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, service)
	return nil
}

func (m *memStore) List() ([]string, error) { return nil, nil }

// tokenServer answers refresh and code exchanges with sequential access tokens.
func tokenServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var issued int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		n := atomic.AddInt32(&issued, 1)
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			fmt.Fprintf(w, `{"access_token":"code-%s","refresh_token":"refresh-1","token_type":"Bearer","expires_in":3600}`, r.Form.Get("code"))
		case "refresh_token":
			fmt.Fprintf(w, `{"access_token":"fresh-%d","token_type":"Bearer","expires_in":3600}`, n)
		default:
			http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &issued
}

func testConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{AuthURL: "https://auth.example/authorize", TokenURL: tokenURL},
	}
}

func TestClientNotAuthenticated(t *testing.T) {
	c := NewClient("spotify", testConfig("http://unused"), newMemStore(), nil)
	_, err := c.AccessToken(context.Background())
	assert.True(t, errors.Is(err, ErrNotAuthenticated))
}

func TestClientUsesValidToken(t *testing.T) {
	tokens, issued := tokenServer(t)
	store := newMemStore()
	require.NoError(t, store.Save("spotify", &oauth2.Token{AccessToken: "live", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}))

	c := NewClient("spotify", testConfig(tokens.URL), store, nil)
	tok, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live", tok)
	assert.Equal(t, int32(0), atomic.LoadInt32(issued))
}

func TestClientRefreshesExpiredToken(t *testing.T) {
	tokens, _ := tokenServer(t)
	store := newMemStore()
	require.NoError(t, store.Save("spotify", &oauth2.Token{AccessToken: "old", RefreshToken: "r", Expiry: time.Now().Add(-time.Hour)}))

	c := NewClient("spotify", testConfig(tokens.URL), store, nil)
	tok, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-1", tok)

	saved, err := store.Load("spotify")
	require.NoError(t, err)
	assert.Equal(t, "fresh-1", saved.AccessToken)
	assert.Equal(t, "r", saved.RefreshToken, "refresh token kept when the server omits it")
}

func TestClientExpiredWithoutRefreshToken(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Save("google", &oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Hour)}))

	c := NewClient("google", testConfig("http://unused"), store, nil)
	_, err := c.AccessToken(context.Background())
	assert.True(t, errors.Is(err, ErrNotAuthenticated))
}

func TestClientRetriesOnceAfter401(t *testing.T) {
	tokens, _ := tokenServer(t)
	var hits int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("Authorization") != "Bearer fresh-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer api.Close()

	store := newMemStore()
	require.NoError(t, store.Save("spotify", &oauth2.Token{AccessToken: "revoked", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}))

	c := NewClient("spotify", testConfig(tokens.URL), store, nil)
	body, err := c.Do(context.Background(), http.MethodGet, api.URL+"/me", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestClientGivesUpAfterSecond401(t *testing.T) {
	tokens, _ := tokenServer(t)
	var hits int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer api.Close()

	store := newMemStore()
	require.NoError(t, store.Save("spotify", &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}))

	c := NewClient("spotify", testConfig(tokens.URL), store, nil)
	_, err := c.Do(context.Background(), http.MethodPut, api.URL+"/play", []byte(`{}`))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestFlowConfigErrors(t *testing.T) {
	f := &Flow{Providers: DefaultProviders, Apps: map[string]config.OAuthAppConfig{}}

	_, err := f.Config("dropbox", "")
	assert.True(t, errors.Is(err, ErrUnknownService))

	_, err = f.Config(ServiceSpotify, "")
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestFlowAuthorize(t *testing.T) {
	tokens, _ := tokenServer(t)
	store := newMemStore()

	f := &Flow{
		Store: store,
		Apps:  map[string]config.OAuthAppConfig{"spotify": {ClientID: "id", ClientSecret: "secret"}},
		Providers: map[string]Provider{"spotify": {
			Name:     "spotify",
			Endpoint: oauth2.Endpoint{AuthURL: "https://auth.example/authorize", TokenURL: tokens.URL},
			Scopes:   []string{"user-read-playback-state"},
		}},
		ListenAddr: "127.0.0.1:0",
		Logger:     zerolog.Nop(),
	}
	f.Open = func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		redirect := q.Get("redirect_uri") + "?state=" + url.QueryEscape(q.Get("state")) + "&code=abc"
		go func() {
			resp, err := http.Get(redirect)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tok, err := f.Authorize(ctx, "spotify")
	require.NoError(t, err)
	assert.Equal(t, "code-abc", tok.AccessToken)

	saved, err := store.Load("spotify")
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", saved.RefreshToken)
}

func TestFlowAuthorizeRejectsWrongState(t *testing.T) {
	f := &Flow{
		Store:      newMemStore(),
		Apps:       map[string]config.OAuthAppConfig{"spotify": {ClientID: "id", ClientSecret: "secret"}},
		Providers:  DefaultProviders,
		ListenAddr: "127.0.0.1:0",
		Logger:     zerolog.Nop(),
	}
	f.Open = func(authURL string) error {
		u, _ := url.Parse(authURL)
		go func() {
			resp, err := http.Get(u.Query().Get("redirect_uri") + "?state=forged&code=abc")
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := f.Authorize(ctx, "spotify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state mismatch")
}

func TestServices(t *testing.T) {
	assert.Equal(t, []string{"google", "spotify"}, Services())
}

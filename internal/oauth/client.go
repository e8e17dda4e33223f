package oauth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/stellarlinkco/termpal/internal/credentials"
)

// APIError is a non-2xx response from a service API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Body)
}

// Client makes requests on behalf of one service. It refreshes the stored
// token when it has expired and, once per request, when the API answers 401.
type Client struct {
	service string
	conf    *oauth2.Config
	store   credentials.Store
	http    *http.Client

	mu sync.Mutex
}

func NewClient(service string, conf *oauth2.Config, store credentials.Store, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{service: service, conf: conf, store: store, http: httpClient}
}

func (c *Client) Service() string { return c.service }

// AccessToken returns a valid access token, refreshing it if needed.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	tok, err := c.token(ctx, false)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Do sends a request with a bearer token and returns the response body.
func (c *Client) Do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	tok, err := c.token(ctx, false)
	if err != nil {
		return nil, err
	}
	status, data, err := c.send(ctx, method, url, body, tok)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		tok, err = c.token(ctx, true)
		if err != nil {
			return nil, err
		}
		status, data, err = c.send(ctx, method, url, body, tok)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{Status: status, Body: string(bytes.TrimSpace(data))}
	}
	return data, nil
}

func (c *Client) send(ctx context.Context, method, url string, body []byte, tok *oauth2.Token) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tok.SetAuthHeader(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s request: %w", c.service, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read %s response: %w", c.service, err)
	}
	return resp.StatusCode, data, nil
}

// token loads the stored token and refreshes it when it is expired or force
// is set. A refreshed token is written back to the store.
func (c *Client) token(ctx context.Context, force bool) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, err := c.store.Load(c.service)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", c.service, ErrNotAuthenticated)
		}
		return nil, err
	}
	if !force && tok.Valid() {
		return tok, nil
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("%s token expired: %w", c.service, ErrNotAuthenticated)
	}

	stale := *tok
	stale.Expiry = time.Unix(1, 0)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	fresh, err := c.conf.TokenSource(ctx, &stale).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh %s token: %w", c.service, err)
	}
	if err := c.store.Save(c.service, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

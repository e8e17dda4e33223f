// Package builtin provides the tools termpal ships with.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stellarlinkco/termpal/internal/cron"
	"github.com/stellarlinkco/termpal/internal/oauth"
	"github.com/stellarlinkco/termpal/internal/tasks"
	"github.com/stellarlinkco/termpal/internal/tool"
)

const (
	CategoryTime      = "time"
	CategoryTasks     = "tasks"
	CategoryReminders = "reminders"
	CategoryGit       = "git"
	CategoryFiles     = "files"
	CategoryMusic     = "music"
	CategoryCalendar  = "calendar"
	CategoryMail      = "mail"
)

const (
	DefaultSpotifyAPI = "https://api.spotify.com/v1"
	DefaultGoogleAPI  = "https://www.googleapis.com"
)

// ServiceClient makes authenticated requests to a third-party API.
// *oauth.Client satisfies it.
type ServiceClient interface {
	Do(ctx context.Context, method, url string, body []byte) ([]byte, error)
}

// Deps carries the collaborators the tools need. Tools whose collaborator is
// nil are not registered.
type Deps struct {
	Now       func() time.Time
	WorkDir   string
	Tasks     *tasks.Store
	Reminders *cron.Service
	Spotify   ServiceClient
	Google    ServiceClient

	SpotifyAPI string
	GoogleAPI  string
	// Timeout bounds each external call.
	Timeout time.Duration
}

func (d *Deps) defaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.WorkDir == "" {
		d.WorkDir = "."
	}
	if d.SpotifyAPI == "" {
		d.SpotifyAPI = DefaultSpotifyAPI
	}
	if d.GoogleAPI == "" {
		d.GoogleAPI = DefaultGoogleAPI
	}
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
}

// RegisterAll adds every available builtin tool to r.
func RegisterAll(r *tool.Registry, deps Deps) {
	deps.defaults()

	r.Register(newTimeTool(deps.Now))
	if deps.Tasks != nil {
		for _, t := range taskTools(deps.Tasks) {
			r.Register(t)
		}
	}
	if deps.Reminders != nil {
		for _, t := range reminderTools(deps.Reminders, deps.Now) {
			r.Register(t)
		}
	}
	for _, t := range gitTools(deps.WorkDir, deps.Timeout) {
		r.Register(t)
	}
	r.Register(newReadFileTool(deps.WorkDir))
	if deps.Spotify != nil {
		sp := &spotify{client: deps.Spotify, base: deps.SpotifyAPI, timeout: deps.Timeout}
		for _, t := range sp.tools() {
			r.Register(t)
		}
	}
	if deps.Google != nil {
		g := &google{client: deps.Google, base: deps.GoogleAPI, timeout: deps.Timeout, now: deps.Now}
		for _, t := range g.tools() {
			r.Register(t)
		}
	}
}

// Unconfigured is a ServiceClient for services without OAuth client
// credentials; every request fails with a setup hint.
type Unconfigured string

func (u Unconfigured) Do(context.Context, string, string, []byte) ([]byte, error) {
	return nil, fmt.Errorf("%s is not configured: set services.%s.clientId and clientSecret with `termpal config setup`, then run `termpal auth %s`", string(u), string(u), string(u))
}

// serviceFailure turns a service call error into a tool result.
func serviceFailure(service string, err error) tool.Result {
	var apiErr *oauth.APIError
	switch {
	case errors.Is(err, oauth.ErrNotAuthenticated):
		return tool.Failf("not authenticated, run `termpal auth %s`", service)
	case errors.Is(err, context.DeadlineExceeded):
		return tool.Failf("%s request timed out", service)
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized:
		return tool.Failf("%s rejected the stored credentials, run `termpal auth %s`", service, service)
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden:
		return tool.Failf("%s denied access (status 403); re-run `termpal auth %s` to grant the required scopes", service, service)
	}
	return tool.Fail(err)
}

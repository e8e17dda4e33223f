package oauth

import (
	"sort"

	"golang.org/x/oauth2"
)

const (
	ServiceSpotify = "spotify"
	ServiceGoogle  = "google"
)

// Provider describes an OAuth authorization server and the scopes termpal
// asks for.
type Provider struct {
	Name     string
	Endpoint oauth2.Endpoint
	Scopes   []string
	// AuthOptions are added to the authorization URL.
	AuthOptions []oauth2.AuthCodeOption
}

// DefaultProviders lists the services `termpal auth` understands.
var DefaultProviders = map[string]Provider{
	ServiceSpotify: {
		Name: ServiceSpotify,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.spotify.com/authorize",
			TokenURL: "https://accounts.spotify.com/api/token",
		},
		Scopes: []string{
			"user-read-playback-state",
			"user-modify-playback-state",
			"user-read-currently-playing",
		},
	},
	ServiceGoogle: {
		Name: ServiceGoogle,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes: []string{
			"https://www.googleapis.com/auth/calendar.readonly",
			"https://www.googleapis.com/auth/gmail.readonly",
		},
		AuthOptions: []oauth2.AuthCodeOption{
			oauth2.AccessTypeOffline,
			oauth2.SetAuthURLParam("prompt", "consent"),
		},
	},
}

// Services returns the known service names, sorted.
func Services() []string {
	names := make([]string, 0, len(DefaultProviders))
	for name := range DefaultProviders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

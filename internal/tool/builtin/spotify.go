package builtin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stellarlinkco/termpal/internal/oauth"
	"github.com/stellarlinkco/termpal/internal/tool"
)

type spotify struct {
	client  ServiceClient
	base    string
	timeout time.Duration
}

func (s *spotify) tools() []tool.Tool {
	return []tool.Tool{
		&tool.Func{
			Desc: tool.Descriptor{
				Name:        "spotify_play",
				Description: "Play a song on Spotify by search query, or resume playback when no query is given",
				Category:    CategoryMusic,
				Parameters: []tool.Param{
					tool.StringParam("query", "Song, artist or both, e.g. 'Bohemian Rhapsody Queen'", false),
				},
			},
			Fn: s.play,
		},
		&tool.Func{
			Desc: tool.Descriptor{
				Name:        "spotify_pause",
				Description: "Pause Spotify playback",
				Category:    CategoryMusic,
			},
			Fn: s.pause,
		},
		&tool.Func{
			Desc: tool.Descriptor{
				Name:        "spotify_current",
				Description: "Show the track currently playing on Spotify",
				Category:    CategoryMusic,
			},
			Fn: s.current,
		},
	}
}

func (s *spotify) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Do(ctx, method, s.base+path, body)
}

func (s *spotify) play(ctx context.Context, args tool.Args) tool.Result {
	query := args.String("query")
	if query == "" {
		if _, err := s.do(ctx, http.MethodPut, "/me/player/play", nil); err != nil {
			return s.failure(err)
		}
		return tool.OK("Resumed playback", nil)
	}

	found, err := s.do(ctx, http.MethodGet, "/search?type=track&limit=1&q="+url.QueryEscape(query), nil)
	if err != nil {
		return s.failure(err)
	}
	track := gjson.GetBytes(found, "tracks.items.0")
	if !track.Exists() {
		return tool.Failf("no track found for %q", query)
	}
	uri := track.Get("uri").String()
	body := fmt.Sprintf(`{"uris":[%q]}`, uri)
	if _, err := s.do(ctx, http.MethodPut, "/me/player/play", []byte(body)); err != nil {
		return s.failure(err)
	}
	name := describeTrack(track)
	return tool.OK("Now playing: "+name, map[string]string{"uri": uri, "track": name})
}

func (s *spotify) pause(ctx context.Context, _ tool.Args) tool.Result {
	if _, err := s.do(ctx, http.MethodPut, "/me/player/pause", nil); err != nil {
		return s.failure(err)
	}
	return tool.OK("Paused playback", nil)
}

func (s *spotify) current(ctx context.Context, _ tool.Args) tool.Result {
	data, err := s.do(ctx, http.MethodGet, "/me/player/currently-playing", nil)
	if err != nil {
		return s.failure(err)
	}
	item := gjson.GetBytes(data, "item")
	if len(strings.TrimSpace(string(data))) == 0 || !item.Exists() {
		return tool.OK("Nothing is playing right now", nil)
	}
	name := describeTrack(item)
	state := "Playing"
	if !gjson.GetBytes(data, "is_playing").Bool() {
		state = "Paused"
	}
	return tool.OK(fmt.Sprintf("%s: %s", state, name), map[string]any{
		"track":      name,
		"is_playing": state == "Playing",
		"album":      item.Get("album.name").String(),
	})
}

func (s *spotify) failure(err error) tool.Result {
	var apiErr *oauth.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound &&
		strings.Contains(apiErr.Body, "NO_ACTIVE_DEVICE") {
		return tool.Failf("no active Spotify device, open Spotify on a device first")
	}
	return serviceFailure(oauth.ServiceSpotify, err)
}

func describeTrack(track gjson.Result) string {
	var artists []string
	for _, a := range track.Get("artists.#.name").Array() {
		artists = append(artists, a.String())
	}
	name := track.Get("name").String()
	if len(artists) == 0 {
		return name
	}
	return name + " by " + strings.Join(artists, ", ")
}

package builtin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stellarlinkco/termpal/internal/oauth"
	"github.com/stellarlinkco/termpal/internal/tool"
)

const maxGoogleResults = 25

type google struct {
	client  ServiceClient
	base    string
	timeout time.Duration
	now     func() time.Time
}

type event struct {
	Summary string
	Start   string
	AllDay  bool
}

type mail struct {
	ID      string
	From    string
	Subject string
	Snippet string
}

func (g *google) tools() []tool.Tool {
	return []tool.Tool{
		&tool.Func{
			Desc: tool.Descriptor{
				Name:        "calendar_list_events",
				Description: "List upcoming events from the user's primary Google Calendar",
				Category:    CategoryCalendar,
				Parameters: []tool.Param{
					tool.NumberParam("days", "How many days ahead to look; 1 means the rest of today (default 1)", false),
					tool.NumberParam("max_results", "Maximum number of events (default 10)", false),
				},
			},
			Fn: g.listEvents,
		},
		&tool.Func{
			Desc: tool.Descriptor{
				Name:        "gmail_list_unread",
				Description: "List unread messages in the user's Gmail inbox",
				Category:    CategoryMail,
				Parameters: []tool.Param{
					tool.NumberParam("max_results", "Maximum number of messages (default 5)", false),
				},
			},
			Fn: g.listUnread,
		},
	}
}

func (g *google) get(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.client.Do(ctx, http.MethodGet, g.base+path, nil)
}

func (g *google) listEvents(ctx context.Context, args tool.Args) tool.Result {
	days := clamp(args.Int("days", 1), 1, 31)
	limit := clamp(args.Int("max_results", 10), 1, maxGoogleResults)
	from := g.now()
	to := from.AddDate(0, 0, days)
	window := fmt.Sprintf("in the next %d days", days)
	if days == 1 {
		y, m, d := from.Date()
		to = time.Date(y, m, d+1, 0, 0, 0, 0, from.Location())
		window = "today"
	}
	q := url.Values{}
	q.Set("timeMin", from.Format(time.RFC3339))
	q.Set("timeMax", to.Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	q.Set("maxResults", strconv.Itoa(limit))

	data, err := g.get(ctx, "/calendar/v3/calendars/primary/events?"+q.Encode())
	if err != nil {
		return serviceFailure(oauth.ServiceGoogle, err)
	}

	var events []event
	gjson.GetBytes(data, "items").ForEach(func(_, item gjson.Result) bool {
		ev := event{Summary: item.Get("summary").String()}
		if ev.Summary == "" {
			ev.Summary = "(no title)"
		}
		if dt := item.Get("start.dateTime"); dt.Exists() {
			if t, err := time.Parse(time.RFC3339, dt.String()); err == nil {
				ev.Start = t.In(from.Location()).Format("Mon Jan 2 15:04")
			} else {
				ev.Start = dt.String()
			}
		} else {
			ev.Start = item.Get("start.date").String()
			ev.AllDay = true
		}
		events = append(events, ev)
		return true
	})

	if len(events) == 0 {
		return tool.OK("No events "+window, events)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d event(s) %s:", len(events), window)
	for _, ev := range events {
		if ev.AllDay {
			fmt.Fprintf(&b, "\n  %s (all day) %s", ev.Start, ev.Summary)
		} else {
			fmt.Fprintf(&b, "\n  %s %s", ev.Start, ev.Summary)
		}
	}
	return tool.OK(b.String(), events)
}

func (g *google) listUnread(ctx context.Context, args tool.Args) tool.Result {
	limit := clamp(args.Int("max_results", 5), 1, maxGoogleResults)
	q := url.Values{}
	q.Set("q", "is:unread in:inbox")
	q.Set("maxResults", strconv.Itoa(limit))

	data, err := g.get(ctx, "/gmail/v1/users/me/messages?"+q.Encode())
	if err != nil {
		return serviceFailure(oauth.ServiceGoogle, err)
	}
	ids := gjson.GetBytes(data, "messages.#.id").Array()
	if len(ids) == 0 {
		return tool.OK("No unread messages", []mail{})
	}

	mails := make([]mail, 0, len(ids))
	for _, id := range ids {
		detail, err := g.get(ctx, "/gmail/v1/users/me/messages/"+url.PathEscape(id.String())+
			"?format=metadata&metadataHeaders=From&metadataHeaders=Subject")
		if err != nil {
			return serviceFailure(oauth.ServiceGoogle, err)
		}
		m := mail{
			ID:      id.String(),
			From:    gjson.GetBytes(detail, `payload.headers.#(name=="From").value`).String(),
			Subject: gjson.GetBytes(detail, `payload.headers.#(name=="Subject").value`).String(),
			Snippet: gjson.GetBytes(detail, "snippet").String(),
		}
		if m.Subject == "" {
			m.Subject = "(no subject)"
		}
		mails = append(mails, m)
	}

	total := gjson.GetBytes(data, "resultSizeEstimate").Int()
	var b strings.Builder
	fmt.Fprintf(&b, "%d unread message(s)", len(mails))
	if total > int64(len(mails)) {
		fmt.Fprintf(&b, " (about %d in total)", total)
	}
	b.WriteString(":")
	for _, m := range mails {
		fmt.Fprintf(&b, "\n  %s: %s", m.From, m.Subject)
	}
	return tool.OK(b.String(), mails)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package cron schedules reminders and persists them as JSON.
package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	rcron "github.com/robfig/cron/v3"
)

const (
	KindAt    = "at"
	KindEvery = "every"
	KindCron  = "cron"
)

// MinEvery is the shortest repeat interval accepted for "every" reminders.
const MinEvery = time.Minute

type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

type Payload struct {
	Message string `json:"message"`
}

type JobState struct {
	NextRunAtMs int64  `json:"nextRunAtMs,omitempty"`
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
	Runs        int    `json:"runs,omitempty"`
}

type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
}

// NewCronJob returns an enabled job with a fresh ID. One-shot jobs are
// removed after they fire.
func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:             uuid.NewString()[:8],
		Name:           name,
		Enabled:        true,
		Schedule:       schedule,
		Payload:        payload,
		CreatedAtMs:    time.Now().UnixMilli(),
		DeleteAfterRun: schedule.Kind == KindAt,
	}
}

var cronParser = rcron.NewParser(rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

func (s Schedule) Validate() error {
	switch s.Kind {
	case KindAt:
		if s.AtMs <= 0 {
			return fmt.Errorf("at schedule needs a time")
		}
	case KindEvery:
		if time.Duration(s.EveryMs)*time.Millisecond < MinEvery {
			return fmt.Errorf("every schedule must repeat at most once a minute")
		}
	case KindCron:
		if _, err := cronParser.Parse(s.Expr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.Expr, err)
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// Next returns when the schedule fires after from, or the zero time if it
// never does again.
func (s Schedule) Next(from time.Time) time.Time {
	switch s.Kind {
	case KindAt:
		at := time.UnixMilli(s.AtMs)
		if at.After(from) {
			return at
		}
		return time.Time{}
	case KindEvery:
		return from.Add(time.Duration(s.EveryMs) * time.Millisecond)
	case KindCron:
		sched, err := cronParser.Parse(s.Expr)
		if err != nil {
			return time.Time{}
		}
		return sched.Next(from)
	}
	return time.Time{}
}

func (s Schedule) String() string {
	switch s.Kind {
	case KindAt:
		return "at " + time.UnixMilli(s.AtMs).Format("Mon Jan 2 15:04")
	case KindEvery:
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case KindCron:
		return "cron " + s.Expr
	}
	return s.Kind
}

// ParseSchedule turns user input into a schedule. For "at" it accepts an
// RFC 3339 timestamp, "2006-01-02 15:04", a clock time "15:04" (today, or
// tomorrow if already past) or a relative duration such as "10m". For
// "every" it accepts a duration; for "cron" a five-field expression.
func ParseSchedule(kind, when string, now time.Time) (Schedule, error) {
	when = strings.TrimSpace(when)
	if kind == "" {
		kind = KindAt
	}
	var s Schedule
	switch kind {
	case KindAt:
		at, err := parseAt(when, now)
		if err != nil {
			return Schedule{}, err
		}
		if !at.After(now) {
			return Schedule{}, fmt.Errorf("reminder time %s is in the past", at.Format(time.RFC3339))
		}
		s = Schedule{Kind: KindAt, AtMs: at.UnixMilli()}
	case KindEvery:
		d, err := time.ParseDuration(when)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid interval %q: %w", when, err)
		}
		s = Schedule{Kind: KindEvery, EveryMs: d.Milliseconds()}
	case KindCron:
		s = Schedule{Kind: KindCron, Expr: when}
	default:
		return Schedule{}, fmt.Errorf("unknown schedule kind %q", kind)
	}
	return s, s.Validate()
}

func parseAt(when string, now time.Time) (time.Time, error) {
	if when == "" {
		return time.Time{}, fmt.Errorf("reminder time is empty")
	}
	if t, err := time.Parse(time.RFC3339, when); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", when, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("15:04", when, now.Location()); err == nil {
		at := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at, nil
	}
	if d, err := time.ParseDuration(when); err == nil {
		return now.Add(d), nil
	}
	return time.Time{}, fmt.Errorf("cannot understand reminder time %q", when)
}

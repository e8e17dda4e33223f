package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stellarlinkco/termpal/internal/cron"
	"github.com/stellarlinkco/termpal/internal/tool"
)

func reminderTools(svc *cron.Service, now func() time.Time) []tool.Tool {
	return []tool.Tool{
		&tool.Func{
			Desc: tool.Descriptor{
				Name: "set_reminder",
				Description: "Schedule a reminder. For a one-off reminder pass 'when' as a time (15:04, " +
					"YYYY-MM-DD 15:04, RFC 3339) or a delay like 10m or 2h. For repeat=every pass an interval " +
					"like 1h; for repeat=cron a five-field cron expression.",
				Category: CategoryReminders,
				Parameters: []tool.Param{
					tool.StringParam("message", "What to remind the user about", true),
					tool.StringParam("when", "When the reminder fires, interpreted according to repeat", true),
					tool.StringParam("repeat", "Schedule kind; defaults to at (one-off)", false, cron.KindAt, cron.KindEvery, cron.KindCron),
				},
			},
			Fn: func(_ context.Context, args tool.Args) tool.Result {
				sched, err := cron.ParseSchedule(args.StringOr("repeat", cron.KindAt), args.String("when"), now())
				if err != nil {
					return tool.Fail(err)
				}
				msg := args.String("message")
				job, err := svc.AddJob(reminderName(msg), sched, cron.Payload{Message: msg})
				if err != nil {
					return tool.Fail(err)
				}
				return tool.OK(fmt.Sprintf("Reminder %s set %s: %s", job.ID, sched, msg), job)
			},
		},
		&tool.Func{
			Desc: tool.Descriptor{
				Name:        "list_reminders",
				Description: "List scheduled reminders",
				Category:    CategoryReminders,
			},
			Fn: func(context.Context, tool.Args) tool.Result {
				jobs := svc.ListJobs()
				if len(jobs) == 0 {
					return tool.OK("No reminders scheduled.", jobs)
				}
				sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAtMs < jobs[j].CreatedAtMs })
				var b strings.Builder
				fmt.Fprintf(&b, "%d reminder(s):", len(jobs))
				for _, j := range jobs {
					fmt.Fprintf(&b, "\n  %s %s: %s", j.ID, j.Schedule, j.Payload.Message)
					if !j.Enabled {
						b.WriteString(" (disabled)")
					}
				}
				return tool.OK(b.String(), jobs)
			},
		},
		&tool.Func{
			Desc: tool.Descriptor{
				Name:        "cancel_reminder",
				Description: "Cancel a scheduled reminder by its id",
				Category:    CategoryReminders,
				Parameters: []tool.Param{
					tool.StringParam("id", "Reminder id as shown by list_reminders", true),
				},
			},
			Fn: func(_ context.Context, args tool.Args) tool.Result {
				id := args.String("id")
				if !svc.RemoveJob(id) {
					return tool.Failf("no reminder with id %q", id)
				}
				return tool.OK("Cancelled reminder "+id, nil)
			},
		},
	}
}

func reminderName(msg string) string {
	const max = 40
	r := []rune(msg)
	if len(r) <= max {
		return msg
	}
	return string(r[:max]) + "..."
}

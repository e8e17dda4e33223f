package builtin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/stellarlinkco/termpal/internal/tasks"
	"github.com/stellarlinkco/termpal/internal/tool"
)

func taskTools(store *tasks.Store) []tool.Tool {
	return []tool.Tool{
		&tool.Func{
			Desc: tool.Descriptor{
				Name:        "add_task",
				Description: "Add a task to the user's to-do list",
				Category:    CategoryTasks,
				Parameters: []tool.Param{
					tool.StringParam("title", "What needs to be done", true),
					tool.StringParam("priority", "Task priority", false, tasks.PriorityLow, tasks.PriorityMedium, tasks.PriorityHigh),
					tool.StringParam("due", "Due date as YYYY-MM-DD", false),
				},
			},
			Fn: func(ctx context.Context, args tool.Args) tool.Result {
				var due *time.Time
				if s := args.String("due"); s != "" {
					d, err := time.ParseInLocation("2006-01-02", s, time.Local)
					if err != nil {
						return tool.Failf("invalid due date %q, expected YYYY-MM-DD", s)
					}
					due = &d
				}
				t, err := store.Add(ctx, args.String("title"), args.String("priority"), due)
				if err != nil {
					return tool.Fail(err)
				}
				return tool.OK("Added task "+describeTask(t), t)
			},
		},
		&tool.Func{
			Desc: tool.Descriptor{
				Name:        "list_tasks",
				Description: "List the user's tasks",
				Category:    CategoryTasks,
				Parameters: []tool.Param{
					tool.StringParam("status", "Which tasks to show; defaults to pending", false, tasks.StatusPending, tasks.StatusDone, tasks.StatusAll),
				},
			},
			Fn: func(ctx context.Context, args tool.Args) tool.Result {
				status := args.StringOr("status", tasks.StatusPending)
				list, err := store.List(ctx, status)
				if err != nil {
					return tool.Fail(err)
				}
				if len(list) == 0 {
					if status == tasks.StatusAll {
						return tool.OK("No tasks.", list)
					}
					return tool.OK(fmt.Sprintf("No %s tasks.", status), list)
				}
				var b strings.Builder
				fmt.Fprintf(&b, "%d %s task(s):", len(list), strings.Replace(status, tasks.StatusAll, "total", 1))
				for _, t := range list {
					b.WriteString("\n  ")
					if t.Status == tasks.StatusDone {
						b.WriteString("✔ ")
					}
					b.WriteString(describeTask(t))
				}
				return tool.OK(b.String(), list)
			},
		},
		&tool.Func{
			Desc: tool.Descriptor{
				Name:        "complete_task",
				Description: "Mark a task as done by its number",
				Category:    CategoryTasks,
				Parameters: []tool.Param{
					tool.NumberParam("id", "Task number as shown by list_tasks", true),
				},
			},
			Fn: func(ctx context.Context, args tool.Args) tool.Result {
				f, _ := args.Number("id")
				if f < 1 || f != math.Trunc(f) {
					return tool.Failf("task id must be a positive whole number, got %v", f)
				}
				t, err := store.Complete(ctx, int64(f))
				switch {
				case errors.Is(err, tasks.ErrAlreadyDone):
					return tool.OK("Task "+describeTask(t)+" was already done", t)
				case err != nil:
					return tool.Fail(err)
				}
				return tool.OK("Completed task "+describeTask(t), t)
			},
		},
	}
}

func describeTask(t tasks.Task) string {
	s := fmt.Sprintf("#%d: %s [%s]", t.ID, t.Title, t.Priority)
	if t.Due != nil {
		s += " due " + t.Due.Format("Mon Jan 2")
	}
	return s
}

package builtin

import (
	"context"
	"time"

	"github.com/stellarlinkco/termpal/internal/tool"
)

const timeLayout = "Monday, January 2, 2006 at 3:04 PM"

func newTimeTool(now func() time.Time) tool.Tool {
	return &tool.Func{
		Desc: tool.Descriptor{
			Name:        "get_current_time",
			Description: "Get the current date and time, optionally in a given IANA timezone such as Europe/Paris",
			Category:    CategoryTime,
			Parameters: []tool.Param{
				tool.StringParam("timezone", "IANA timezone name; defaults to the local timezone", false),
			},
		},
		Fn: func(_ context.Context, args tool.Args) tool.Result {
			t := now()
			if tz := args.String("timezone"); tz != "" {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return tool.Failf("unknown timezone %q", tz)
				}
				t = t.In(loc)
			}
			return tool.OK("Current time: "+t.Format(timeLayout)+" "+t.Format("MST"), map[string]any{
				"iso":      t.Format(time.RFC3339),
				"timezone": t.Location().String(),
				"unix":     t.Unix(),
			})
		},
	}
}

package sleep

import (
	"context"
	"fmt"
	"time"

	"github.com/go-training/fitbit-mcp/pkg/core"
	"github.com/go-training/fitbit-mcp/pkg/fitbit"
	"github.com/go-training/fitbit-mcp/pkg/operation/result"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MaxRangeDays is the widest span the sleep endpoint serves in one call.
const MaxRangeDays = 100

var SleepByDateRangeTool = mcp.NewTool("get_sleep_by_date_range",
	mcp.WithDescription("Get the raw JSON response for sleep logs from Fitbit for a specific date range. "+
		"Requires 'startDate' and 'endDate' parameters in 'YYYY-MM-DD' format. "+
		"Note: The API enforces a maximum range of 100 days."),
	mcp.WithString("startDate",
		mcp.Description("The start date for which to retrieve sleep data (YYYY-MM-DD)."),
		mcp.Pattern(result.DatePattern),
		mcp.Required(),
	),
	mcp.WithString("endDate",
		mcp.Description("The end date for which to retrieve sleep data (YYYY-MM-DD)."),
		mcp.Pattern(result.DatePattern),
		mcp.Required(),
	),
)

// HandleSleepByDateRangeTool returns the handler bound to f.
func HandleSleepByDateRangeTool(f result.Fetcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start, err := result.DateArg(req, "startDate")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		end, err := result.DateArg(req, "endDate")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := checkRange(start, end); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		s, e := start.Format(result.DateLayout), end.Format(result.DateLayout)
		core.LoggerFromCtx(ctx).Info("fetching sleep", "start", s, "end", e)

		return result.Fetch(ctx, f, result.Query{
			Version:    fitbit.V12,
			Path:       fmt.Sprintf("sleep/date/%s/%s.json", s, e),
			EntriesKey: "sleep",
			Failure: fmt.Sprintf("Failed to retrieve sleep data from Fitbit API for the date range '%s' to '%s'. "+
				"Check token, permissions, date format, and ensure the range is 100 days or less.", s, e),
			Empty: fmt.Sprintf("No sleep data found for the date range '%s' to '%s'.", s, e),
		}), nil
	}
}

func checkRange(start, end time.Time) error {
	if end.Before(start) {
		return fmt.Errorf("parameter 'endDate' (%s) must not be before 'startDate' (%s)",
			end.Format(result.DateLayout), start.Format(result.DateLayout))
	}
	if days := int(end.Sub(start).Hours() / 24); days > MaxRangeDays {
		return fmt.Errorf("date range spans %d days, the maximum is %d", days, MaxRangeDays)
	}
	return nil
}

// Tools returns the sleep tools bound to f.
func Tools(f result.Fetcher) []server.ServerTool {
	return []server.ServerTool{
		{Tool: SleepByDateRangeTool, Handler: HandleSleepByDateRangeTool(f)},
	}
}

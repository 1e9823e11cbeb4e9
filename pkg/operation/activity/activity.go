package activity

import (
	"context"
	"fmt"
	"net/url"

	"github.com/go-training/fitbit-mcp/pkg/core"
	"github.com/go-training/fitbit-mcp/pkg/fitbit"
	"github.com/go-training/fitbit-mcp/pkg/operation/result"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var ExercisesTool = mcp.NewTool("get_exercises",
	mcp.WithDescription("Get the raw JSON response for exercise and activity logs from Fitbit after a specific date. "+
		"Requires 'afterDate' parameter in 'YYYY-MM-DD' format. Retrieves a detailed list of logged exercises and activities."),
	mcp.WithString("afterDate",
		mcp.Description("Retrieve activities after this date (YYYY-MM-DD)."),
		mcp.Pattern(result.DatePattern),
		mcp.Required(),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of activities to return (1-100, default: 20)"),
		mcp.Min(1),
		mcp.Max(MaxLimit),
		mcp.DefaultNumber(DefaultLimit),
	),
)

// HandleExercisesTool returns the handler bound to f.
func HandleExercisesTool(f result.Fetcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		after, err := result.DateArg(req, "afterDate")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		limit, err := result.IntArg(req, "limit", DefaultLimit, 1, MaxLimit)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		date := after.Format(result.DateLayout)
		core.LoggerFromCtx(ctx).Info("fetching exercises", "after", date, "limit", limit)

		return result.Fetch(ctx, f, result.Query{
			Version:    fitbit.V1,
			Path:       fmt.Sprintf("activities/list.json?afterDate=%s&sort=asc&offset=0&limit=%d", url.QueryEscape(date), limit),
			EntriesKey: "activities",
			Failure:    fmt.Sprintf("Failed to retrieve exercise data from Fitbit API after date '%s'. Check API permissions and date format.", date),
			Empty:      fmt.Sprintf("No exercise data found after date '%s'.", date),
		}), nil
	}
}

// Tools returns the activity tools bound to f.
func Tools(f result.Fetcher) []server.ServerTool {
	return []server.ServerTool{
		{Tool: ExercisesTool, Handler: HandleExercisesTool(f)},
	}
}

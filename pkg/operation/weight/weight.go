package weight

import (
	"context"
	"fmt"

	"github.com/go-training/fitbit-mcp/pkg/core"
	"github.com/go-training/fitbit-mcp/pkg/fitbit"
	"github.com/go-training/fitbit-mcp/pkg/operation/result"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Periods are the supported look-back windows in days.
var Periods = []int{7, 30, 90}

// ToolName returns the tool name for a look-back window.
func ToolName(days int) string {
	return fmt.Sprintf("get_weight_last_%d_days", days)
}

// NewWeightTool returns the definition of the weight tool for days.
func NewWeightTool(days int) mcp.Tool {
	return mcp.NewTool(ToolName(days),
		mcp.WithDescription(fmt.Sprintf("Get the raw JSON response for weight entries from the last %d days.", days)),
	)
}

// HandleWeightTool returns the handler for the weight tool for days.
func HandleWeightTool(f result.Fetcher, days int) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		core.LoggerFromCtx(ctx).Info("fetching weight", "days", days)
		return result.Fetch(ctx, f, result.Query{
			Version:    fitbit.V1,
			Path:       fmt.Sprintf("body/weight/date/today/%dd.json", days),
			EntriesKey: "body-weight",
			Failure:    fmt.Sprintf("Failed to retrieve weight data from Fitbit API for the last %d days. Check token and permissions.", days),
			Empty:      fmt.Sprintf("No weight data found in the last %d days.", days),
		}), nil
	}
}

// Tools returns one weight tool per period.
func Tools(f result.Fetcher) []server.ServerTool {
	tools := make([]server.ServerTool, 0, len(Periods))
	for _, days := range Periods {
		tools = append(tools, server.ServerTool{
			Tool:    NewWeightTool(days),
			Handler: HandleWeightTool(f, days),
		})
	}
	return tools
}

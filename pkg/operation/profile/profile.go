package profile

import (
	"context"

	"github.com/go-training/fitbit-mcp/pkg/core"
	"github.com/go-training/fitbit-mcp/pkg/fitbit"
	"github.com/go-training/fitbit-mcp/pkg/operation/result"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

var ProfileTool = mcp.NewTool("get_profile",
	mcp.WithDescription("Get the raw JSON response for the user's Fitbit profile."),
)

// HandleProfileTool returns the handler bound to f. Any payload is a success.
func HandleProfileTool(f result.Fetcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		core.LoggerFromCtx(ctx).Info("fetching profile")
		return result.Fetch(ctx, f, result.Query{
			Version: fitbit.V1,
			Path:    "profile.json",
			Failure: "Failed to retrieve profile data from Fitbit API. Check token and permissions.",
		}), nil
	}
}

// Tools returns the profile tools bound to f.
func Tools(f result.Fetcher) []server.ServerTool {
	return []server.ServerTool{
		{Tool: ProfileTool, Handler: HandleProfileTool(f)},
	}
}

package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-training/fitbit-mcp/pkg/auth"
	"github.com/go-training/fitbit-mcp/pkg/core"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Authorizer starts or reports the local authorization flow.
type Authorizer interface {
	Start(ctx context.Context) (*auth.Flow, bool, error)
	Current() *auth.Flow
}

// StatusReporter reports the held token without exposing it.
type StatusReporter interface {
	Status() auth.Status
}

var StartAuthorizationTool = mcp.NewTool("start_authorization",
	mcp.WithDescription("Start the Fitbit OAuth2 authorization flow. Returns a local URL to open in a browser; "+
		"if a flow is already in progress its URL is returned instead."),
)

var AuthStatusTool = mcp.NewTool("get_auth_status",
	mcp.WithDescription("Report whether a Fitbit access token is held, when it expires, its scope, "+
		"and whether an authorization flow is in progress."),
)

// HandleStartAuthorizationTool returns the handler bound to a.
func HandleStartAuthorizationTool(a Authorizer) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log := core.LoggerFromCtx(ctx)

		flow, started, err := a.Start(ctx)
		switch {
		case errors.Is(err, auth.ErrMissingCredentials):
			return mcp.NewToolResultError("Fitbit client credentials are not configured. " +
				"Set FITBIT_CLIENT_ID and FITBIT_CLIENT_SECRET and restart the server."), nil
		case err != nil:
			log.Error("failed to start authorization", "error", err)
			return mcp.NewToolResultError(fmt.Sprintf("Failed to start authorization: %v", err)), nil
		}

		if !started {
			return mcp.NewToolResultText(fmt.Sprintf(
				"An authorization flow is already in progress. Open %s in your browser to continue.", flow.AuthURL())), nil
		}
		log.Info("authorization started from tool", "auth_url", flow.AuthURL())
		return mcp.NewToolResultText(fmt.Sprintf(
			"Authorization started. Open %s in your browser and approve access to Fitbit.", flow.AuthURL())), nil
	}
}

// HandleAuthStatusTool returns the handler bound to st and a.
func HandleAuthStatusTool(st StatusReporter, a Authorizer) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(describe(st.Status(), a.Current())), nil
	}
}

func describe(s auth.Status, flow *auth.Flow) string {
	var b strings.Builder
	if s.Authenticated {
		b.WriteString("Authenticated: yes\n")
		expiry := s.ExpiresAt.UTC().Format(time.RFC3339)
		if s.Expired {
			expiry += " (expired)"
		}
		fmt.Fprintf(&b, "Token expires at: %s\n", expiry)
		if len(s.Scope) > 0 {
			fmt.Fprintf(&b, "Scope: %s\n", strings.Join(s.Scope, " "))
		}
		if s.UserID != "" {
			fmt.Fprintf(&b, "User ID: %s\n", s.UserID)
		}
	} else {
		b.WriteString("Authenticated: no\n")
	}

	if flow == nil {
		b.WriteString("Authorization flow: none")
	} else {
		fmt.Fprintf(&b, "Authorization flow: %s (open %s)", flow.State(), flow.AuthURL())
	}
	return b.String()
}

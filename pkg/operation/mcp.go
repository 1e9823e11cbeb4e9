package operation

import (
	"github.com/go-training/fitbit-mcp/pkg/operation/authz"
	"github.com/go-training/fitbit-mcp/pkg/operation/result"

	"github.com/mark3labs/mcp-go/server"
)

// RegisterTool registers every tool the server exposes.
// Parameter:
//
//	s - the MCPServer instance to which the tools will be registered.
//	f - the gateway the data tools fetch through.
//	a, st - the authorization flow and token status the auth tools report on.
func RegisterTool(s *server.MCPServer, f result.Fetcher, a authz.Authorizer, st authz.StatusReporter) {
	RegisterFitbitTool(s, f)
	RegisterAuthTool(s, a, st)
}

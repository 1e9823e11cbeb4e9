package operation

import (
	"github.com/go-training/fitbit-mcp/pkg/operation/activity"
	"github.com/go-training/fitbit-mcp/pkg/operation/authz"
	"github.com/go-training/fitbit-mcp/pkg/operation/profile"
	"github.com/go-training/fitbit-mcp/pkg/operation/result"
	"github.com/go-training/fitbit-mcp/pkg/operation/sleep"
	"github.com/go-training/fitbit-mcp/pkg/operation/weight"

	"github.com/mark3labs/mcp-go/server"
)

/*
FitbitTools collects the Fitbit data tools bound to a gateway.

Parameters:
  - f: The gateway every data tool fetches through.

All data tools only read from the API, so they are registered as read operations.
*/
func FitbitTools(f result.Fetcher) *Tool {
	tool := &Tool{}

	groups := [][]server.ServerTool{
		weight.Tools(f),
		sleep.Tools(f),
		activity.Tools(f),
		profile.Tools(f),
	}
	for _, group := range groups {
		for _, t := range group {
			tool.RegisterRead(t)
		}
	}

	return tool
}

/*
AuthTools collects the authorization tools.

Parameters:
  - a: The local callback receiver that runs authorization flows.
  - st: The token holder whose status is reported.

start_authorization binds a listener and is registered as a write operation;
get_auth_status is a read operation.
*/
func AuthTools(a authz.Authorizer, st authz.StatusReporter) *Tool {
	tool := &Tool{}

	tool.RegisterWrite(server.ServerTool{
		Tool:    authz.StartAuthorizationTool,
		Handler: authz.HandleStartAuthorizationTool(a),
	})
	tool.RegisterRead(server.ServerTool{
		Tool:    authz.AuthStatusTool,
		Handler: authz.HandleAuthStatusTool(st, a),
	})

	return tool
}

// RegisterFitbitTool registers the Fitbit data tools on s.
func RegisterFitbitTool(s *server.MCPServer, f result.Fetcher) {
	s.AddTools(FitbitTools(f).Tools()...)
}

// RegisterAuthTool registers the authorization tools on s.
func RegisterAuthTool(s *server.MCPServer, a authz.Authorizer, st authz.StatusReporter) {
	s.AddTools(AuthTools(a, st).Tools()...)
}

/*
Tool manages collections of tools to be registered with an MCPServer.

Fields:
  - write: Stores all ServerTools registered as write operations.
  - read: Stores all ServerTools registered as read operations.
*/
type Tool struct {
	write []server.ServerTool
	read  []server.ServerTool
}

/*
RegisterWrite registers a ServerTool as a write operation.

Parameters:
  - s: The ServerTool instance to register.

This method appends the tool to the write slice, indicating it is a write-type operation.
*/
func (t *Tool) RegisterWrite(s server.ServerTool) {
	t.write = append(t.write, s)
}

/*
RegisterRead registers a ServerTool as a read operation.

Parameters:
  - s: The ServerTool instance to register.

This method appends the tool to the read slice, indicating it is a read-type operation.
*/
func (t *Tool) RegisterRead(s server.ServerTool) {
	t.read = append(t.read, s)
}

/*
Tools returns all registered ServerTools.

Returns:
  - []server.ServerTool: A slice containing all write and read tools, with write tools first followed by read tools.

This method combines all registered tools for convenient batch registration to the MCPServer.
*/
func (t *Tool) Tools() []server.ServerTool {
	tools := make([]server.ServerTool, 0, len(t.write)+len(t.read))
	tools = append(tools, t.write...)
	tools = append(tools, t.read...)
	return tools
}

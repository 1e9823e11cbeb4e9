// Package result turns gateway outcomes into MCP tool results. Every data
// tool ends in one of three shapes: a failure, an empty success, or the
// pretty-printed JSON payload.
package result

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-training/fitbit-mcp/pkg/core"
	"github.com/go-training/fitbit-mcp/pkg/fitbit"

	"github.com/mark3labs/mcp-go/mcp"
)

// UnauthenticatedMessage is returned by every data tool while no token is held.
const UnauthenticatedMessage = "Not authorized with Fitbit. Run the start_authorization tool and complete " +
	"the authorization in your browser, then try again."

// Fetcher is the gateway call every data tool makes.
type Fetcher interface {
	Get(ctx context.Context, version fitbit.Version, path string) (json.RawMessage, error)
}

// Query describes one tool's request and how to word its outcomes.
type Query struct {
	Version fitbit.Version
	Path    string
	// EntriesKey names the array whose length decides between empty and
	// success. Empty means any payload is a success.
	EntriesKey string
	// Failure is shown when the request cannot be completed.
	Failure string
	// Empty is shown when the entries array has no elements.
	Empty string
}

// Fetch runs q through f and maps the outcome.
func Fetch(ctx context.Context, f Fetcher, q Query) *mcp.CallToolResult {
	log := core.LoggerFromCtx(ctx)

	payload, err := f.Get(ctx, q.Version, q.Path)
	if err != nil {
		log.Error("fitbit request failed", "path", q.Path, "error", err)
		return mcp.NewToolResultError(failureText(q.Failure, err))
	}

	if q.EntriesKey != "" {
		n, err := Entries(payload, q.EntriesKey)
		if err != nil {
			log.Error("unexpected fitbit response", "path", q.Path, "error", err)
			return mcp.NewToolResultError(q.Failure + " The response had an unexpected shape.")
		}
		if n == 0 {
			log.Info("fitbit returned no entries", "path", q.Path)
			return mcp.NewToolResultText(q.Empty)
		}
	}

	text, err := Pretty(payload)
	if err != nil {
		log.Error("failed to format fitbit response", "path", q.Path, "error", err)
		return mcp.NewToolResultError(q.Failure + " The response could not be formatted.")
	}
	return mcp.NewToolResultText(text)
}

func failureText(base string, err error) string {
	if errors.Is(err, fitbit.ErrUnauthenticated) {
		return UnauthenticatedMessage
	}

	var apiErr *fitbit.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Sprintf("%s Fitbit rejected the access token (status 401). Run the start_authorization tool to authorize again.", base)
		case http.StatusForbidden:
			return fmt.Sprintf("%s Fitbit denied access (status 403). The granted scope may not cover this data.", base)
		case http.StatusTooManyRequests:
			return fmt.Sprintf("%s Fitbit rate limit reached (status 429). Try again later.", base)
		default:
			return fmt.Sprintf("%s Fitbit returned status %d.", base, apiErr.StatusCode)
		}
	}
	return base
}

// Entries counts the elements of the array stored under key. A missing or
// null key counts as zero.
func Entries(payload json.RawMessage, key string) (int, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return 0, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	raw, ok := obj[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return 0, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return 0, fmt.Errorf("%q is not an array: %w", key, err)
	}
	return len(entries), nil
}

// Pretty re-indents payload with two spaces, keeping key order.
func Pretty(payload json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Package fitbit is the single gateway every data tool uses to reach the
// Fitbit Web API.
package fitbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-training/fitbit-mcp/pkg/core"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the API host.
	DefaultBaseURL = "https://api.fitbit.com"
	// UserAgent identifies this server to the API.
	UserAgent = "mcp-fitbit-server/1.0"
	// DefaultRateLimit is the per-user request quota per hour.
	DefaultRateLimit = 150

	requestTimeout = 30 * time.Second
	maxBodySize    = 10 << 20
)

// Version selects the API version segment. Sleep resources live under 1.2,
// everything else under 1.
type Version string

const (
	V1  Version = "1"
	V12 Version = "1.2"
)

// ErrUnauthenticated is returned without any network call when no access
// token is held.
var ErrUnauthenticated = errors.New("no access token available, authorization required")

// APIError is a non-success response from the API.
type APIError struct {
	StatusCode int
	Body       string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fitbit api request to %s failed with status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Client issues authenticated GET requests on behalf of the single user.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     core.TokenSource
	limiter    *rate.Limiter
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API host.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// WithRateLimit caps outgoing requests at perHour, spread evenly with the
// whole quota available as burst. Zero or less disables limiting.
func WithRateLimit(perHour int) Option {
	return func(c *Client) {
		if perHour <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), perHour)
	}
}

// NewClient creates a gateway reading tokens from tokens.
func NewClient(tokens core.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		tokens:     tokens,
		tracer:     otel.Tracer("github.com/go-training/fitbit-mcp/pkg/fitbit"),
	}
	WithRateLimit(DefaultRateLimit)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the absolute address of a user-scoped resource.
func (c *Client) URL(version Version, path string) string {
	return fmt.Sprintf("%s/%s/user/-/%s", c.baseURL, version, strings.TrimLeft(path, "/"))
}

// Get fetches a user-scoped resource and returns its JSON body. A 204
// response yields an empty object. A 401 invalidates the held token.
func (c *Client) Get(ctx context.Context, version Version, path string) (json.RawMessage, error) {
	endpoint := c.URL(version, path)

	ctx, span := c.tracer.Start(ctx, "fitbit.Get", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("fitbit.path", path),
		attribute.String("fitbit.version", string(version)),
	)

	payload, err := c.get(ctx, endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return payload, nil
}

func (c *Client) get(ctx context.Context, endpoint string) (json.RawMessage, error) {
	log := core.LoggerFromCtx(ctx)

	token, ok := c.tokens.Token(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	log.Debug("calling fitbit api", "url", endpoint)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call fitbit api: %w", err)
	}
	defer resp.Body.Close()

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			URL:        endpoint,
		}
		log.Warn("fitbit api returned an error", "url", endpoint, "status", resp.StatusCode)
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate(token, "fitbit api returned 401")
		}
		return nil, apiErr
	}

	if resp.StatusCode == http.StatusNoContent || len(strings.TrimSpace(string(body))) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("fitbit api returned invalid JSON from %s", endpoint)
	}
	return json.RawMessage(body), nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-training/fitbit-mcp/pkg/core"

	"golang.org/x/oauth2"
)

const (
	// DefaultAuthURL is the provider's consent page.
	DefaultAuthURL = "https://www.fitbit.com/oauth2/authorize"
	// DefaultTokenURL is the provider's token endpoint.
	DefaultTokenURL = "https://api.fitbit.com/oauth2/token"

	requestTimeout = 30 * time.Second
)

// Grant names the OAuth 2.0 exchange mode.
type Grant string

const (
	GrantAuthorizationCode Grant = "authorization_code"
	GrantRefreshToken      Grant = "refresh_token"
)

// ErrNoRefreshToken is returned when a refresh is attempted on a record
// that carries no refresh token.
var ErrNoRefreshToken = errors.New("token record has no refresh token")

// ExchangeError reports a failed call to the token endpoint. StatusCode is
// zero when the request never produced an HTTP response.
type ExchangeError struct {
	Grant      Grant
	StatusCode int
	Body       string
	Err        error
}

func (e *ExchangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s grant failed with status %d: %s", e.Grant, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s grant failed: %v", e.Grant, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// Rejected reports whether the provider refused the grant itself, as
// opposed to a transport or server-side failure. A rejected refresh token
// will never work again.
func (e *ExchangeError) Rejected() bool {
	return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnauthorized
}

// Exchanger wraps the provider's token endpoint for the authorization code
// and refresh token grants.
type Exchanger struct {
	config     oauth2.Config
	httpClient *http.Client
	now        func() time.Time
}

// ExchangerOption configures an Exchanger.
type ExchangerOption func(*Exchanger)

// WithEndpoint overrides the provider's authorize and token URLs.
func WithEndpoint(authURL, tokenURL string) ExchangerOption {
	return func(e *Exchanger) {
		e.config.Endpoint.AuthURL = authURL
		e.config.Endpoint.TokenURL = tokenURL
	}
}

// WithHTTPClient sets the client used to reach the token endpoint.
func WithHTTPClient(c *http.Client) ExchangerOption {
	return func(e *Exchanger) {
		e.httpClient = c
	}
}

// NewExchanger creates an Exchanger for the given client credentials and
// requested scopes. Credentials travel in the Authorization header.
func NewExchanger(clientID, clientSecret string, scopes []string, opts ...ExchangerOption) *Exchanger {
	e := &Exchanger{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       slices.Clone(scopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:   DefaultAuthURL,
				TokenURL:  DefaultTokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: &http.Client{Timeout: requestTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HasCredentials reports whether both client id and secret are configured.
func (e *Exchanger) HasCredentials() bool {
	return e.config.ClientID != "" && e.config.ClientSecret != ""
}

// AuthCodeURL builds the provider consent URL for redirectURI, carrying the
// S256 challenge of verifier.
func (e *Exchanger) AuthCodeURL(redirectURI, verifier string) string {
	cfg := e.config
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL("", oauth2.S256ChallengeOption(verifier))
}

// ExchangeCode trades an authorization code for a new token record.
func (e *Exchanger) ExchangeCode(ctx context.Context, code, redirectURI, verifier string) (*core.TokenRecord, error) {
	cfg := e.config
	cfg.RedirectURL = redirectURI

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	return e.grant(ctx, GrantAuthorizationCode, nil, func(ctx context.Context) (*oauth2.Token, error) {
		return cfg.Exchange(ctx, code, opts...)
	})
}

// Refresh trades the record's refresh token for a renewed record. The old
// refresh token and scope carry over when the provider omits them.
func (e *Exchanger) Refresh(ctx context.Context, record *core.TokenRecord) (*core.TokenRecord, error) {
	if record == nil || record.RefreshToken == "" {
		return nil, &ExchangeError{Grant: GrantRefreshToken, Err: ErrNoRefreshToken}
	}

	cfg := e.config
	return e.grant(ctx, GrantRefreshToken, record, func(ctx context.Context) (*oauth2.Token, error) {
		// Without an access token the source always goes to the endpoint.
		return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: record.RefreshToken}).Token()
	})
}

// grant runs one token endpoint call and converts the outcome.
func (e *Exchanger) grant(
	ctx context.Context,
	grant Grant,
	prev *core.TokenRecord,
	fetch func(context.Context) (*oauth2.Token, error),
) (*core.TokenRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)

	token, err := fetch(ctx)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, &ExchangeError{
				Grant:      grant,
				StatusCode: retrieveErr.Response.StatusCode,
				Body:       strings.TrimSpace(string(retrieveErr.Body)),
				Err:        err,
			}
		}
		return nil, &ExchangeError{Grant: grant, Err: err}
	}

	return e.toRecord(grant, token, prev)
}

func (e *Exchanger) toRecord(grant Grant, token *oauth2.Token, prev *core.TokenRecord) (*core.TokenRecord, error) {
	if token.AccessToken == "" {
		return nil, &ExchangeError{Grant: grant, Err: errors.New("response missing access_token")}
	}
	if token.Expiry.IsZero() || !token.Expiry.After(e.now()) {
		return nil, &ExchangeError{Grant: grant, Err: errors.New("response missing a positive expires_in")}
	}

	record := &core.TokenRecord{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		TokenType:    core.TokenTypeBearer,
	}

	if scope, ok := token.Extra("scope").(string); ok && strings.TrimSpace(scope) != "" {
		record.Scope = core.ParseScope(scope)
	} else if prev != nil {
		record.Scope = slices.Clone(prev.Scope)
	} else {
		record.Scope = slices.Clone(e.config.Scopes)
	}

	if userID, ok := token.Extra("user_id").(string); ok {
		record.UserID = userID
	} else if prev != nil {
		record.UserID = prev.UserID
	}

	if record.RefreshToken == "" && prev != nil {
		record.RefreshToken = prev.RefreshToken
	}

	return record, nil
}

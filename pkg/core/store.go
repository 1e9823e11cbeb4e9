package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// TokenTypeBearer is the only token type issued by the provider.
const TokenTypeBearer = "Bearer"

// TokenRecord is the OAuth 2.0 token set held for the single authorized user.
// A record is always replaced wholesale, never patched field by field.
type TokenRecord struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        []string
	TokenType    string
	// UserID is the provider's encoded user id, when the token response carried one.
	UserID string
}

// tokenRecordJSON is the persisted layout of a TokenRecord.
type tokenRecordJSON struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    json.RawMessage `json:"expires_at"`
	Scope        string          `json:"scope"`
	TokenType    string          `json:"token_type"`
	UserID       string          `json:"user_id,omitempty"`
}

// MarshalJSON encodes the record as a flat object with an RFC 3339 expiry
// and a space separated scope string.
func (r TokenRecord) MarshalJSON() ([]byte, error) {
	expiresAt, err := json.Marshal(r.ExpiresAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	tokenType := r.TokenType
	if tokenType == "" {
		tokenType = TokenTypeBearer
	}
	return json.Marshal(tokenRecordJSON{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    expiresAt,
		Scope:        r.ScopeString(),
		TokenType:    tokenType,
		UserID:       r.UserID,
	})
}

// UnmarshalJSON decodes the persisted layout. expires_at may be an RFC 3339
// string or a number of seconds (or milliseconds) since the Unix epoch.
func (r *TokenRecord) UnmarshalJSON(data []byte) error {
	var raw tokenRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	expiresAt, err := parseExpiry(raw.ExpiresAt)
	if err != nil {
		return err
	}
	*r = TokenRecord{
		AccessToken:  raw.AccessToken,
		RefreshToken: raw.RefreshToken,
		ExpiresAt:    expiresAt,
		Scope:        ParseScope(raw.Scope),
		TokenType:    raw.TokenType,
		UserID:       raw.UserID,
	}
	return nil
}

func parseExpiry(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("expires_at is missing")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid expires_at %q: %w", s, err)
		}
		return t, nil
	}
	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expires_at %s: %w", raw, err)
	}
	// Values this large are JavaScript style millisecond timestamps.
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC(), nil
	}
	return time.Unix(int64(n), 0).UTC(), nil
}

// ParseScope splits a space separated scope string into its permissions.
func ParseScope(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// ScopeString joins the granted permissions with single spaces.
func (r *TokenRecord) ScopeString() string {
	return strings.Join(r.Scope, " ")
}

// Expired reports whether the access token has expired at the given time.
func (r *TokenRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires within d of now.
func (r *TokenRecord) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !now.Add(d).Before(r.ExpiresAt)
}

// Clone returns a deep copy of the record.
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Scope = slices.Clone(r.Scope)
	return &c
}

// TokenStore is the durable single-record persistence of the current token set.
type TokenStore interface {
	// Save replaces any previously stored record.
	Save(ctx context.Context, record *TokenRecord) error
	// Load returns the stored record. Implementations return a not-found
	// error when nothing has been stored yet.
	Load(ctx context.Context) (*TokenRecord, error)
	// Delete removes the stored record, if any.
	Delete(ctx context.Context) error
}

// TokenSource hands the current access token to API callers.
type TokenSource interface {
	// Token returns the access token to send, or false when none is held.
	Token(ctx context.Context) (string, bool)
	// Invalidate drops the held token after the API rejected it. A token
	// that is no longer the held one is ignored.
	Invalidate(token, reason string)
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-training/fitbit-mcp/pkg/core"
)

// tokenServer fakes the provider token endpoint. Each request is checked for
// header client authentication before handler runs.
func tokenServer(t *testing.T, handler func(w http.ResponseWriter, form url.Values)) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("token request method = %s, want POST", r.Method)
		}
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client-id" || secret != "client-secret" {
			t.Errorf("token request missing header client credentials: %q %q %v", id, secret, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if r.PostForm.Get("client_secret") != "" {
			t.Error("client secret must not be sent in the body")
		}
		handler(w, r.PostForm)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestExchanger(srv *httptest.Server) *Exchanger {
	return NewExchanger("client-id", "client-secret", []string{"activity", "sleep"},
		WithEndpoint(srv.URL+"/oauth2/authorize", srv.URL+"/oauth2/token"),
		WithHTTPClient(srv.Client()),
	)
}

func TestExchanger_HasCredentials(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		secret string
		want   bool
	}{
		{name: "both set", id: "id", secret: "secret", want: true},
		{name: "missing secret", id: "id", want: false},
		{name: "missing id", secret: "secret", want: false},
		{name: "none", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewExchanger(tt.id, tt.secret, nil).HasCredentials(); got != tt.want {
				t.Errorf("HasCredentials() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExchanger_AuthCodeURL(t *testing.T) {
	e := NewExchanger("client-id", "client-secret", []string{"activity", "sleep"})

	raw := e.AuthCodeURL("http://localhost:3000/callback", "verifier-123")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if !strings.HasPrefix(raw, DefaultAuthURL+"?") {
		t.Errorf("AuthCodeURL() = %s, want prefix %s", raw, DefaultAuthURL)
	}

	q := u.Query()
	want := map[string]string{
		"response_type":         "code",
		"client_id":             "client-id",
		"redirect_uri":          "http://localhost:3000/callback",
		"scope":                 "activity sleep",
		"code_challenge_method": "S256",
	}
	for key, value := range want {
		if got := q.Get(key); got != value {
			t.Errorf("query %s = %q, want %q", key, got, value)
		}
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge") == "verifier-123" {
		t.Errorf("code_challenge = %q, want S256 digest of the verifier", q.Get("code_challenge"))
	}
	if strings.Contains(raw, "client-secret") {
		t.Error("authorize URL must not carry the client secret")
	}
}

func TestExchanger_ExchangeCode(t *testing.T) {
	srv := tokenServer(t, func(w http.ResponseWriter, form url.Values) {
		if form.Get("grant_type") != "authorization_code" {
			t.Errorf("grant_type = %q", form.Get("grant_type"))
		}
		if form.Get("code") != "abc123" {
			t.Errorf("code = %q", form.Get("code"))
		}
		if form.Get("redirect_uri") != "http://localhost:3000/callback" {
			t.Errorf("redirect_uri = %q", form.Get("redirect_uri"))
		}
		if form.Get("code_verifier") != "verifier-123" {
			t.Errorf("code_verifier = %q", form.Get("code_verifier"))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    28800,
			"scope":         "sleep weight",
			"token_type":    "Bearer",
			"user_id":       "7ABC12",
		})
	})

	before := time.Now()
	record, err := newTestExchanger(srv).ExchangeCode(context.Background(), "abc123", "http://localhost:3000/callback", "verifier-123")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if record.AccessToken != "new-access" || record.RefreshToken != "new-refresh" {
		t.Errorf("unexpected tokens: %+v", record)
	}
	if record.ScopeString() != "sleep weight" {
		t.Errorf("Scope = %q, want granted scope", record.ScopeString())
	}
	if record.UserID != "7ABC12" {
		t.Errorf("UserID = %q", record.UserID)
	}
	if record.TokenType != core.TokenTypeBearer {
		t.Errorf("TokenType = %q", record.TokenType)
	}
	lower := before.Add(28800 * time.Second)
	upper := time.Now().Add(28800 * time.Second)
	if record.ExpiresAt.Before(lower.Add(-time.Second)) || record.ExpiresAt.After(upper.Add(time.Second)) {
		t.Errorf("ExpiresAt = %v, want issuance time plus lifetime", record.ExpiresAt)
	}
}

func TestExchanger_ExchangeCode_ScopeFallback(t *testing.T) {
	srv := tokenServer(t, func(w http.ResponseWriter, form url.Values) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "a",
			"refresh_token": "r",
			"expires_in":    3600,
		})
	})

	record, err := newTestExchanger(srv).ExchangeCode(context.Background(), "abc", "http://x/callback", "")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if record.ScopeString() != "activity sleep" {
		t.Errorf("Scope = %q, want requested scope", record.ScopeString())
	}
}

func TestExchanger_Failures(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         any
		wantStatus   int
		wantRejected bool
	}{
		{
			name:         "invalid grant",
			status:       http.StatusBadRequest,
			body:         map[string]any{"errors": []any{map[string]any{"errorType": "invalid_grant"}}},
			wantStatus:   http.StatusBadRequest,
			wantRejected: true,
		},
		{
			name:         "invalid client",
			status:       http.StatusUnauthorized,
			body:         map[string]any{"errors": []any{map[string]any{"errorType": "invalid_client"}}},
			wantStatus:   http.StatusUnauthorized,
			wantRejected: true,
		},
		{
			name:       "server error",
			status:     http.StatusInternalServerError,
			body:       map[string]any{"message": "boom"},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:   "missing access token",
			status: http.StatusOK,
			body:   map[string]any{"refresh_token": "r", "expires_in": 3600},
		},
		{
			name:   "missing lifetime",
			status: http.StatusOK,
			body:   map[string]any{"access_token": "a", "refresh_token": "r"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := tokenServer(t, func(w http.ResponseWriter, form url.Values) {
				writeJSON(w, tt.status, tt.body)
			})

			record, err := newTestExchanger(srv).ExchangeCode(context.Background(), "abc", "http://x/callback", "v")
			if record != nil {
				t.Errorf("ExchangeCode() record = %+v, want nil", record)
			}

			var exchangeErr *ExchangeError
			if !errors.As(err, &exchangeErr) {
				t.Fatalf("ExchangeCode() error = %v, want *ExchangeError", err)
			}
			if exchangeErr.Grant != GrantAuthorizationCode {
				t.Errorf("Grant = %q", exchangeErr.Grant)
			}
			if exchangeErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", exchangeErr.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != 0 && exchangeErr.Body == "" {
				t.Error("Body should carry the provider response")
			}
			if exchangeErr.Rejected() != tt.wantRejected {
				t.Errorf("Rejected() = %v, want %v", exchangeErr.Rejected(), tt.wantRejected)
			}
		})
	}
}

func TestExchanger_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	e := newTestExchanger(srv)
	srv.Close()

	_, err := e.ExchangeCode(context.Background(), "abc", "http://x/callback", "v")

	var exchangeErr *ExchangeError
	if !errors.As(err, &exchangeErr) {
		t.Fatalf("ExchangeCode() error = %v, want *ExchangeError", err)
	}
	if exchangeErr.StatusCode != 0 || exchangeErr.Err == nil {
		t.Errorf("network failure should carry the cause without a status: %+v", exchangeErr)
	}
}

func TestExchanger_Refresh(t *testing.T) {
	previous := &core.TokenRecord{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(-time.Hour),
		Scope:        []string{"weight"},
		TokenType:    core.TokenTypeBearer,
		UserID:       "7ABC12",
	}

	tests := []struct {
		name        string
		response    map[string]any
		wantRefresh string
		wantScope   string
	}{
		{
			name: "rotated refresh token",
			response: map[string]any{
				"access_token":  "new-access",
				"refresh_token": "new-refresh",
				"expires_in":    28800,
				"scope":         "weight sleep",
			},
			wantRefresh: "new-refresh",
			wantScope:   "weight sleep",
		},
		{
			name: "refresh token and scope carried over",
			response: map[string]any{
				"access_token": "new-access",
				"expires_in":   28800,
			},
			wantRefresh: "old-refresh",
			wantScope:   "weight",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := tokenServer(t, func(w http.ResponseWriter, form url.Values) {
				if form.Get("grant_type") != "refresh_token" {
					t.Errorf("grant_type = %q", form.Get("grant_type"))
				}
				if form.Get("refresh_token") != "old-refresh" {
					t.Errorf("refresh_token = %q", form.Get("refresh_token"))
				}
				writeJSON(w, http.StatusOK, tt.response)
			})

			record, err := newTestExchanger(srv).Refresh(context.Background(), previous)
			if err != nil {
				t.Fatalf("Refresh() error = %v", err)
			}
			if record.AccessToken != "new-access" {
				t.Errorf("AccessToken = %q", record.AccessToken)
			}
			if record.RefreshToken != tt.wantRefresh {
				t.Errorf("RefreshToken = %q, want %q", record.RefreshToken, tt.wantRefresh)
			}
			if record.ScopeString() != tt.wantScope {
				t.Errorf("Scope = %q, want %q", record.ScopeString(), tt.wantScope)
			}
			if record.UserID != "7ABC12" {
				t.Errorf("UserID = %q, want carried over", record.UserID)
			}
			if !record.ExpiresAt.After(time.Now()) {
				t.Errorf("ExpiresAt = %v, want in the future", record.ExpiresAt)
			}
		})
	}
}

func TestExchanger_RefreshWithoutRefreshToken(t *testing.T) {
	e := NewExchanger("client-id", "client-secret", nil)

	_, err := e.Refresh(context.Background(), &core.TokenRecord{AccessToken: "a"})
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Errorf("Refresh() error = %v, want %v", err, ErrNoRefreshToken)
	}
}

package result

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/go-training/fitbit-mcp/pkg/fitbit"

	"github.com/mark3labs/mcp-go/mcp"
)

type stubFetcher struct {
	payload string
	err     error
	version fitbit.Version
	path    string
}

func (s *stubFetcher) Get(_ context.Context, version fitbit.Version, path string) (json.RawMessage, error) {
	s.version, s.path = version, path
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(s.payload), nil
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content items = %d, want 1", len(res.Content))
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content = %T, want mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func TestEntries(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    int
		wantErr bool
	}{
		{"two entries", `{"sleep":[{"logId":1},{"logId":2}]}`, 2, false},
		{"empty array", `{"sleep":[]}`, 0, false},
		{"missing key", `{"summary":{}}`, 0, false},
		{"null key", `{"sleep":null}`, 0, false},
		{"not an array", `{"sleep":{"logId":1}}`, 0, true},
		{"not an object", `[1,2]`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Entries(json.RawMessage(tt.payload), "sleep")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Entries() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Entries() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPretty(t *testing.T) {
	got, err := Pretty(json.RawMessage(`{"b":1,"a":[true]}`))
	if err != nil {
		t.Fatalf("Pretty() error = %v", err)
	}
	want := "{\n  \"b\": 1,\n  \"a\": [\n    true\n  ]\n}"
	if got != want {
		t.Errorf("Pretty() = %q, want %q", got, want)
	}

	if _, err := Pretty(json.RawMessage(`{`)); err == nil {
		t.Error("Pretty() should fail on invalid JSON")
	}
}

func TestFetch(t *testing.T) {
	query := Query{
		Version:    fitbit.V12,
		Path:       "sleep/date/2025-01-01/2025-01-02.json",
		EntriesKey: "sleep",
		Failure:    "Failed to retrieve sleep data.",
		Empty:      "No sleep data found.",
	}

	tests := []struct {
		name      string
		fetcher   *stubFetcher
		wantError bool
		contains  []string
		excludes  []string
	}{
		{
			name:     "success is pretty printed",
			fetcher:  &stubFetcher{payload: `{"sleep":[{"logId":1}]}`},
			contains: []string{"{\n  \"sleep\": ["},
		},
		{
			name:     "empty entries",
			fetcher:  &stubFetcher{payload: `{"sleep":[]}`},
			contains: []string{"No sleep data found."},
		},
		{
			name:     "missing entries key",
			fetcher:  &stubFetcher{payload: `{}`},
			contains: []string{"No sleep data found."},
		},
		{
			name:      "unexpected shape",
			fetcher:   &stubFetcher{payload: `{"sleep":"x"}`},
			wantError: true,
			contains:  []string{"Failed to retrieve sleep data.", "unexpected shape"},
		},
		{
			name:      "unauthenticated",
			fetcher:   &stubFetcher{err: fitbit.ErrUnauthenticated},
			wantError: true,
			contains:  []string{"authoriz", "start_authorization"},
			excludes:  []string{"Failed to retrieve"},
		},
		{
			name:      "token rejected",
			fetcher:   &stubFetcher{err: &fitbit.APIError{StatusCode: 401}},
			wantError: true,
			contains:  []string{"Failed to retrieve sleep data.", "401", "start_authorization"},
		},
		{
			name:      "scope missing",
			fetcher:   &stubFetcher{err: &fitbit.APIError{StatusCode: 403}},
			wantError: true,
			contains:  []string{"403", "scope"},
		},
		{
			name:      "rate limited",
			fetcher:   &stubFetcher{err: &fitbit.APIError{StatusCode: 429}},
			wantError: true,
			contains:  []string{"429"},
		},
		{
			name:      "server error",
			fetcher:   &stubFetcher{err: &fitbit.APIError{StatusCode: 502, Body: "bad gateway"}},
			wantError: true,
			contains:  []string{"status 502"},
			excludes:  []string{"bad gateway"},
		},
		{
			name:      "network failure",
			fetcher:   &stubFetcher{err: errors.New("dial tcp: connection refused")},
			wantError: true,
			contains:  []string{"Failed to retrieve sleep data."},
			excludes:  []string{"dial tcp"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Fetch(context.Background(), tt.fetcher, query)
			if res.IsError != tt.wantError {
				t.Errorf("IsError = %v, want %v", res.IsError, tt.wantError)
			}
			got := text(t, res)
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("result %q does not contain %q", got, s)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(got, s) {
					t.Errorf("result %q should not contain %q", got, s)
				}
			}
			if tt.fetcher.version != query.Version || tt.fetcher.path != query.Path {
				t.Errorf("fetched %s %s, want %s %s", tt.fetcher.version, tt.fetcher.path, query.Version, query.Path)
			}
		})
	}
}

func TestFetch_NoEntriesKey(t *testing.T) {
	res := Fetch(context.Background(), &stubFetcher{payload: `{}`}, Query{Version: fitbit.V1, Path: "profile.json"})
	if res.IsError {
		t.Fatal("IsError = true, want false")
	}
	if got := text(t, res); got != "{}" {
		t.Errorf("result = %q, want {}", got)
	}
}

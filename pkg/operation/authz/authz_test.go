package authz

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/go-training/fitbit-mcp/pkg/auth"
	"github.com/go-training/fitbit-mcp/pkg/core"
	"github.com/go-training/fitbit-mcp/pkg/store"

	"github.com/mark3labs/mcp-go/mcp"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func setup(t *testing.T, clientID string) (*auth.Receiver, *auth.Manager) {
	t.Helper()
	exchanger := auth.NewExchanger(clientID, "client-secret", []string{"sleep", "weight"})
	manager := auth.NewManager(store.NewMemoryStore(), exchanger, auth.WithLogger(discardLogger))
	receiver := auth.NewReceiver("127.0.0.1:0", exchanger, manager,
		auth.WithBrowser(nil),
		auth.WithReceiverLogger(discardLogger),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = receiver.Close(ctx)
		manager.Wait()
	})
	return receiver, manager
}

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)) (string, bool) {
	t.Helper()
	res, err := h(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	return res.Content[0].(mcp.TextContent).Text, res.IsError
}

func TestStartAuthorization_MissingCredentials(t *testing.T) {
	receiver, _ := setup(t, "")

	got, isErr := call(t, HandleStartAuthorizationTool(receiver))
	if !isErr {
		t.Error("IsError = false, want true")
	}
	if !strings.Contains(got, "FITBIT_CLIENT_ID") {
		t.Errorf("result = %q, want credential guidance", got)
	}
	if receiver.Active() {
		t.Error("no flow may start without credentials")
	}
}

func TestStartAuthorization(t *testing.T) {
	receiver, _ := setup(t, "client-id")

	first, isErr := call(t, HandleStartAuthorizationTool(receiver))
	if isErr {
		t.Fatalf("first call failed: %s", first)
	}
	flow := receiver.Current()
	if flow == nil {
		t.Fatal("no flow after start_authorization")
	}
	if !strings.HasPrefix(first, "Authorization started.") || !strings.Contains(first, flow.AuthURL()) {
		t.Errorf("first result = %q", first)
	}

	second, isErr := call(t, HandleStartAuthorizationTool(receiver))
	if isErr {
		t.Fatalf("second call failed: %s", second)
	}
	if !strings.Contains(second, "already in progress") || !strings.Contains(second, flow.AuthURL()) {
		t.Errorf("second result = %q", second)
	}
	if receiver.Current() != flow {
		t.Error("second call must reuse the running flow")
	}
}

func TestAuthStatus(t *testing.T) {
	receiver, manager := setup(t, "client-id")

	got, _ := call(t, HandleAuthStatusTool(manager, receiver))
	if got != "Authenticated: no\nAuthorization flow: none" {
		t.Errorf("unauthenticated status = %q", got)
	}

	record := &core.TokenRecord{
		AccessToken:  "secret-access-token",
		RefreshToken: "secret-refresh-token",
		ExpiresAt:    time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
		Scope:        []string{"sleep", "weight"},
		UserID:       "7ABC12",
		TokenType:    core.TokenTypeBearer,
	}
	if err := manager.Adopt(context.Background(), record); err != nil {
		t.Fatalf("Adopt() error = %v", err)
	}
	if _, _, err := receiver.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got, _ = call(t, HandleAuthStatusTool(manager, receiver))
	for _, want := range []string{
		"Authenticated: yes",
		"Token expires at: 2030-01-02T03:04:05Z",
		"Scope: sleep weight",
		"User ID: 7ABC12",
		"Authorization flow: listening (open " + receiver.Current().AuthURL() + ")",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("status %q does not contain %q", got, want)
		}
	}
	for _, secret := range []string{"secret-access-token", "secret-refresh-token"} {
		if strings.Contains(got, secret) {
			t.Errorf("status leaks %q", secret)
		}
	}
}

func TestDescribe_Expired(t *testing.T) {
	got := describe(auth.Status{
		Authenticated: true,
		Expired:       true,
		ExpiresAt:     time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil)
	want := "Authenticated: yes\nToken expires at: 2020-01-01T00:00:00Z (expired)\nAuthorization flow: none"
	if got != want {
		t.Errorf("describe() = %q, want %q", got, want)
	}
}

package main

import (
	"context"
	"log/slog"

	"github.com/go-training/fitbit-mcp/pkg/auth"
	"github.com/go-training/fitbit-mcp/pkg/config"
	"github.com/go-training/fitbit-mcp/pkg/core"
	"github.com/go-training/fitbit-mcp/pkg/fitbit"
	"github.com/go-training/fitbit-mcp/pkg/store"
)

// App holds the long-lived components shared by every tool call.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     core.TokenStore
	exchanger *auth.Exchanger
	manager   *auth.Manager
	receiver  *auth.Receiver
	client    *fitbit.Client
}

// NewApp builds the token store, the authorization components and the API
// gateway from cfg. Nothing is loaded or bound yet.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	tokens, err := store.NewStore(cfg.StoreOptions())
	if err != nil {
		return nil, err
	}

	exchanger := auth.NewExchanger(cfg.Fitbit.ClientID, cfg.Fitbit.ClientSecret, cfg.ScopeList())
	manager := auth.NewManager(tokens, exchanger,
		auth.WithRefreshMargin(cfg.Fitbit.RefreshMargin),
		auth.WithLogger(logger),
	)

	receiverOpts := []auth.ReceiverOption{auth.WithReceiverLogger(logger)}
	if !cfg.Fitbit.OpenBrowser {
		receiverOpts = append(receiverOpts, auth.WithBrowser(nil))
	}
	receiver := auth.NewReceiver(cfg.Fitbit.CallbackAddr, exchanger, manager, receiverOpts...)

	client := fitbit.NewClient(manager, fitbit.WithRateLimit(cfg.Fitbit.RateLimit))

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     tokens,
		exchanger: exchanger,
		manager:   manager,
		receiver:  receiver,
		client:    client,
	}, nil
}

// Initialize loads the persisted token before any tool is served.
func (a *App) Initialize(ctx context.Context) {
	a.manager.Initialize(ctx)
}

// Authorize starts the local authorization flow in the background when no
// token is held. Missing credentials are logged, never fatal.
func (a *App) Authorize(ctx context.Context) {
	if a.manager.Status().Authenticated {
		return
	}
	if !a.cfg.HasCredentials() {
		a.logger.Warn("no Fitbit token and no client credentials; set FITBIT_CLIENT_ID and FITBIT_CLIENT_SECRET to authorize")
		return
	}

	go func() {
		flow, started, err := a.receiver.Start(ctx)
		if err != nil {
			a.logger.Error("failed to start authorization flow", "error", err)
			return
		}
		if started {
			a.logger.Info("open the authorization page to grant access", "url", flow.AuthURL())
		}
	}()
}

// Close releases the callback listener, flushes pending token writes and
// closes the store connection.
func (a *App) Close(ctx context.Context) error {
	err := a.receiver.Close(ctx)
	a.manager.Wait()
	if closer, ok := a.store.(interface{ Close() }); ok {
		closer.Close()
	}
	return err
}

// Command fitbit-server exposes the Fitbit Web API as MCP tools over stdio
// or streamable HTTP, authorizing through a local browser flow.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-training/fitbit-mcp/pkg/config"
	"github.com/go-training/fitbit-mcp/pkg/logger"

	"github.com/appleboy/graceful"
	sloggin "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.NewWithLevel(cfg.LogLevel)

	// stdout belongs to the stdio transport.
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = os.Stderr
	gin.DefaultErrorWriter = os.Stderr

	app, err := NewApp(cfg, log)
	if err != nil {
		log.Error("failed to create token store", "store", cfg.Store.Type, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	app.Initialize(ctx)
	mcpServer := NewMCPServer(app)
	app.Authorize(ctx)

	switch cfg.Server.Transport {
	case config.TransportStdio:
		log.Info("serving MCP over stdio")
		err := mcpServer.ServeStdio()
		closeApp(app)
		if err != nil {
			log.Error("Server error", "error", err)
			os.Exit(1)
		}
	case config.TransportHTTP:
		serveHTTP(cfg.Server.Addr, mcpServer, app)
	}
}

// NewRouter mounts the streamable HTTP handler on /mcp and a health check.
func NewRouter(s *MCPServer, app *App) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		sloggin.SetLogger(sloggin.WithLogger(func(*gin.Context, *slog.Logger) *slog.Logger { return app.logger })),
		corsMiddleware(),
	)

	handler := gin.WrapH(s.ServeHTTP())
	for _, method := range []string{http.MethodPost, http.MethodGet, http.MethodDelete} {
		router.Handle(method, "/mcp", handler)
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"authenticated": app.manager.Status().Authenticated,
			"authorization": app.receiver.State().String(),
		})
	})
	return router
}

func serveHTTP(addr string, s *MCPServer, app *App) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(s, app),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	m := graceful.NewManager()
	m.AddRunningJob(func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			slog.Info("HTTP server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			slog.Error("Server error", "error", err)
			closeApp(app)
			os.Exit(1)
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	})
	m.AddShutdownJob(func() error {
		closeApp(app)
		return nil
	})

	<-m.Done()
	slog.Info("Server shutdown gracefully")
}

func closeApp(app *App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Close(ctx); err != nil {
		slog.Error("failed to close authorization listener", "error", err)
	}
}

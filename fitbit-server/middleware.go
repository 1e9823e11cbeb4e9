package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-training/fitbit-mcp/pkg/core"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/go-training/fitbit-mcp/fitbit-server")

/*
AddRequestAttributes sets attributes on the current trace span. Without a
recording span the attributes are logged at debug level instead, together
with the trace and span ids when present.
*/
func AddRequestAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
		return
	}

	logAttrs := make([]slog.Attr, 0, len(attrs)+2)
	for _, attr := range attrs {
		logAttrs = append(logAttrs, slog.Any(string(attr.Key), attr.Value.AsInterface()))
	}
	sc := span.SpanContext()
	if sc.HasTraceID() {
		logAttrs = append(logAttrs, slog.String("trace_id", sc.TraceID().String()))
	}
	if sc.HasSpanID() {
		logAttrs = append(logAttrs, slog.String("span_id", sc.SpanID().String()))
	}
	core.LoggerFromCtx(ctx).LogAttrs(ctx, slog.LevelDebug, "tool call attributes", logAttrs...)
}

// MCPToolHandlerMiddleware gives every tool call a request ID and a span,
// and records its status and duration.
func MCPToolHandlerMiddleware() server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if core.RequestIDFromCtx(ctx) == "" {
				ctx = core.WithRequestID(ctx)
			}
			ctx, span := tracer.Start(ctx, "mcp.tool "+req.Params.Name)
			defer span.End()

			start := time.Now()
			AddRequestAttributes(
				ctx,
				attribute.String("mcp.tool", req.Params.Name),
				attribute.String("mcp.params", fmt.Sprintf("%v", req.GetArguments())),
				attribute.String("request_id", core.RequestIDFromCtx(ctx)),
			)

			res, err := next(ctx, req)
			durationMs := float64(time.Since(start).Microseconds()) / 1000.0

			status := "ok"
			errMsg := toolError(res, err)
			if errMsg != "" {
				status = "error"
				span.SetStatus(codes.Error, errMsg)
			}
			attrs := []attribute.KeyValue{
				attribute.String("mcp.status", status),
				attribute.Float64("mcp.duration_ms", durationMs),
			}
			if errMsg != "" {
				attrs = append(attrs, attribute.String("mcp.error", errMsg))
			}
			AddRequestAttributes(ctx, attrs...)

			core.LoggerFromCtx(ctx).Info("tool call finished",
				"tool", req.Params.Name,
				"status", status,
				"duration_ms", durationMs,
			)
			return res, err
		}
	}
}

// toolError returns the failure text of a tool call, or "" on success.
func toolError(res *mcp.CallToolResult, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case res == nil || !res.IsError:
		return ""
	case len(res.Content) == 0:
		return "unknown error with no content"
	}
	if txt, ok := res.Content[0].(mcp.TextContent); ok {
		return txt.Text
	}
	return fmt.Sprintf("unknown error with content type %T", res.Content[0])
}

// corsMiddleware allows browser-based MCP clients to reach /mcp. Extra
// headers are appended to the defaults, matched case-insensitively.
func corsMiddleware(allowedHeaders ...string) gin.HandlerFunc {
	headers := []string{"Mcp-Protocol-Version", "Mcp-Session-Id", "Authorization", "Content-Type"}
	for _, h := range allowedHeaders {
		h = strings.TrimSpace(h)
		if h != "" && h != "*" && !containsCI(headers, h) {
			headers = append(headers, h)
		}
	}
	allowHeaders := strings.Join(headers, ", ")
	allowMethods := strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}, ", ")

	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Vary", "Origin")
		c.Header("Access-Control-Allow-Methods", allowMethods)
		c.Header("Access-Control-Allow-Headers", allowHeaders)
		c.Header("Access-Control-Expose-Headers", "Mcp-Session-Id")
		c.Header("Access-Control-Max-Age", "86400")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// containsCI reports whether list holds s, ignoring case.
func containsCI(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

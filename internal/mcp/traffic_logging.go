package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// trafficLoggingMiddleware logs each message at debug level. Tool calls are
// tagged with the tool name and the record they target.
func trafficLoggingMiddleware(logger *slog.Logger, direction string) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			if logger == nil || !logger.Enabled(ctx, slog.LevelDebug) {
				return next(ctx, method, req)
			}

			attrs := trafficAttrs(ctx, direction, method, req)
			logger.LogAttrs(ctx, slog.LevelDebug, "mcp request",
				append(attrs, slog.String("params", formatPayload(safeParams(req))))...)

			start := time.Now()
			result, err := next(ctx, method, req)
			if strings.HasPrefix(method, "notifications/") {
				return result, err
			}

			attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))
			if res, ok := result.(*sdkmcp.CallToolResult); ok && res != nil && res.IsError {
				attrs = append(attrs, slog.Bool("tool_error", true))
			}
			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
			}
			logger.LogAttrs(ctx, slog.LevelDebug, "mcp response",
				append(attrs, slog.String("result", formatPayload(result)))...)
			return result, err
		}
	}
}

func trafficAttrs(ctx context.Context, direction, method string, req sdkmcp.Request) []slog.Attr {
	attrs := []slog.Attr{slog.String("direction", direction), slog.String("method", method)}
	if id := sessionID(req); id != "" {
		attrs = append(attrs, slog.String("session_id", id))
	}
	if actor, ok := actorFrom(ctx); ok {
		attrs = append(attrs, slog.String("actor_id", actor.ID), slog.String("role", string(actor.Role)))
	}
	if tool, recordID, ok := toolTarget(req); ok {
		attrs = append(attrs, slog.String("tool", tool))
		if recordID != "" {
			attrs = append(attrs, slog.String("record_id", recordID))
		}
	}
	return attrs
}

// toolTarget reads the tool name and record_id argument of a tools/call.
func toolTarget(req sdkmcp.Request) (tool, recordID string, ok bool) {
	params, isCall := safeParams(req).(*sdkmcp.CallToolParamsRaw)
	if !isCall || params == nil {
		return "", "", false
	}
	var args struct {
		RecordID string `json:"record_id"`
	}
	if len(params.Arguments) > 0 && json.Unmarshal(params.Arguments, &args) == nil {
		recordID = args.RecordID
	}
	return params.Name, recordID, true
}

// sessionID tolerates requests built without a live session.
func sessionID(req sdkmcp.Request) (id string) {
	defer func() {
		if recover() != nil {
			id = ""
		}
	}()
	if req == nil {
		return ""
	}
	if session := req.GetSession(); session != nil {
		return session.ID()
	}
	return ""
}

func safeParams(req sdkmcp.Request) (params any) {
	defer func() {
		if recover() != nil {
			params = nil
		}
	}()
	if req == nil {
		return nil
	}
	return req.GetParams()
}

func formatPayload(payload any) string {
	if payload == nil {
		return "<nil>"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%T", payload)
	}
	return string(data)
}

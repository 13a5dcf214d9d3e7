package mcp

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tracceaqua/tracceaqua/internal/domain/record"
)

type contextKey int

const actorKey contextKey = iota

// actorFrom extracts the calling actor from context.
func actorFrom(ctx context.Context) (record.Actor, bool) {
	v, ok := ctx.Value(actorKey).(record.Actor)
	return v, ok
}

func withActor(ctx context.Context, actor record.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorResolver resolves the actor behind a bearer token.
type ActorResolver interface {
	ResolveActor(ctx context.Context, token string) (record.Actor, error)
}

// authMiddleware implements bearer token authentication as MCP middleware.
func authMiddleware(resolver ActorResolver) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			// Protocol handshakes carry no actor.
			if method == "initialize" || method == "ping" || strings.HasPrefix(method, "notifications/") {
				return next(ctx, method, req)
			}

			extra := req.GetExtra()
			if extra == nil || extra.Header == nil {
				return nil, fmt.Errorf("unauthorized: missing headers")
			}

			auth := extra.Header.Get("Authorization")
			token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if token == "" {
				return nil, fmt.Errorf("unauthorized: missing bearer token")
			}

			actor, err := resolver.ResolveActor(ctx, token)
			if err != nil {
				return nil, fmt.Errorf("unauthorized: %w", err)
			}
			if actor.ID == "" {
				return nil, fmt.Errorf("unauthorized: invalid bearer token")
			}

			return next(withActor(ctx, actor), method, req)
		}
	}
}

// staticActorMiddleware injects a fixed actor when auth is disabled.
func staticActorMiddleware(actor record.Actor) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			return next(withActor(ctx, actor), method, req)
		}
	}
}

package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/tracceaqua/tracceaqua/internal/domain/record"
)

type actorKey struct{}

// ActorResolver resolves the actor behind a bearer token.
type ActorResolver interface {
	ResolveActor(ctx context.Context, token string) (record.Actor, error)
}

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (record.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(record.Actor)
	return actor, ok
}

// WithActor stores actor in ctx.
func WithActor(ctx context.Context, actor record.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// AuthMiddleware enforces bearer API key authentication.
func AuthMiddleware(resolver ActorResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeProblem(w, http.StatusUnauthorized, ErrorBody{Code: "UNAUTHENTICATED", Message: "missing bearer token"})
				return
			}

			actor, err := resolver.ResolveActor(r.Context(), token)
			if err != nil || actor.ID == "" {
				writeProblem(w, http.StatusUnauthorized, ErrorBody{Code: "UNAUTHENTICATED", Message: "invalid bearer token"})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// OptionalAuthMiddleware resolves a bearer token when one is sent and lets
// anonymous requests through. A token that fails to resolve is rejected.
func OptionalAuthMiddleware(resolver ActorResolver) func(http.Handler) http.Handler {
	required := AuthMiddleware(resolver)
	return func(next http.Handler) http.Handler {
		withAuth := required(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bearerToken(r) == "" {
				next.ServeHTTP(w, r)
				return
			}
			withAuth.ServeHTTP(w, r)
		})
	}
}

// StaticActorMiddleware attaches a fixed actor. It replaces authentication
// when auth is disabled in configuration.
func StaticActorMiddleware(actor record.Actor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

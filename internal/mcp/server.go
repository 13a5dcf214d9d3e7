// Package mcp exposes record operations as Model Context Protocol tools.
package mcp

import (
	"context"
	"log/slog"
	"net/http"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/trace"
)

// RecordService defines record operations needed by MCP.
type RecordService interface {
	Create(ctx context.Context, actor record.Actor, req record.CreateRequest) (*record.Record, error)
	UpdateStage(ctx context.Context, actor record.Actor, req record.TransitionRequest) (*record.Record, error)
	SetStatus(ctx context.Context, actor record.Actor, id string, to record.Status, reason string) (*record.Record, error)
	SetVisibility(ctx context.Context, actor record.Actor, id string, isPublic bool) (*record.Record, error)
	Get(ctx context.Context, id string) (*record.Record, error)
	List(ctx context.Context, opts record.ListRecordsOptions) ([]record.Summary, error)
	Search(ctx context.Context, query string, opts record.SearchOptions) ([]record.SearchResult, error)
}

// TraceService renders trace views.
type TraceService interface {
	View(ctx context.Context, id string, viewer *record.Actor) (*trace.View, error)
}

// ActivityService defines activity operations needed by MCP.
type ActivityService interface {
	ForRecord(ctx context.Context, recordID string, limit int) ([]activity.ActivityEntry, error)
}

// Viewer decides whether an actor may read a non-public record.
type Viewer interface {
	CanView(viewer *record.Actor, rec *record.Record) bool
}

// Services contains all domain services needed by MCP.
type Services struct {
	Records  RecordService
	Traces   TraceService
	Activity ActivityService
	Viewer   Viewer
}

// Config contains server configuration.
type Config struct {
	Services    Services
	Resolver    ActorResolver
	AuthEnabled bool
	// LocalActor runs every call when auth is off or the transport is stdio.
	LocalActor    record.Actor
	TransportMode string // "stdio" or "http"
	Version       string
	Logger        *slog.Logger
}

// NewServer creates and configures an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "tracceaqua",
		Version: version,
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	registerDocResources(server)

	// Middleware added later wraps earlier middleware, so the actor is
	// resolved before traffic is logged.
	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger, "inbound"))
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, "outbound"))
	// Stdio is a local, single-user transport and never authenticates.
	if cfg.TransportMode != "stdio" && cfg.AuthEnabled {
		server.AddReceivingMiddleware(authMiddleware(cfg.Resolver))
	} else {
		server.AddReceivingMiddleware(staticActorMiddleware(cfg.LocalActor))
	}

	registerTools(server, cfg.Services, cfg.Logger)

	return server
}

// NewHTTPHandler serves server over the streamable HTTP transport.
func NewHTTPHandler(server *sdkmcp.Server, logger *slog.Logger) http.Handler {
	return sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server {
		return server
	}, &sdkmcp.StreamableHTTPOptions{
		JSONResponse: true,
		Logger:       logger,
	})
}

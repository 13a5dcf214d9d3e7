// Package transport serves the REST API over a chi router.
package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tracceaqua/tracceaqua/internal/blob"
	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
	"github.com/tracceaqua/tracceaqua/internal/domain/attachment"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/trace"
)

// RecordService defines the record operations served over HTTP.
type RecordService interface {
	Create(ctx context.Context, actor record.Actor, req record.CreateRequest) (*record.Record, error)
	UpdateStage(ctx context.Context, actor record.Actor, req record.TransitionRequest) (*record.Record, error)
	SetStatus(ctx context.Context, actor record.Actor, id string, to record.Status, reason string) (*record.Record, error)
	SetVisibility(ctx context.Context, actor record.Actor, id string, isPublic bool) (*record.Record, error)
	Get(ctx context.Context, id string) (*record.Record, error)
	List(ctx context.Context, opts record.ListRecordsOptions) ([]record.Summary, error)
	Search(ctx context.Context, query string, opts record.SearchOptions) ([]record.SearchResult, error)
}

// TraceService renders consumer trace views.
type TraceService interface {
	View(ctx context.Context, id string, viewer *record.Actor) (*trace.View, error)
}

// AttachmentService stores and streams attachment content.
type AttachmentService interface {
	Put(ctx context.Context, r io.Reader, contentType string) (attachment.Attachment, error)
	Open(ctx context.Context, ref string) (blob.Info, io.ReadCloser, error)
}

// ActivityService lists audit entries.
type ActivityService interface {
	ForRecord(ctx context.Context, recordID string, limit int) ([]activity.ActivityEntry, error)
}

// Viewer decides whether an actor may read a non-public record.
type Viewer interface {
	CanView(viewer *record.Actor, rec *record.Record) bool
}

// Services bundles the domain services behind the API.
type Services struct {
	Records     RecordService
	Traces      TraceService
	Attachments AttachmentService
	Activity    ActivityService
	Viewer      Viewer
}

// Config configures the router.
type Config struct {
	Services Services
	// Resolver authenticates bearer tokens. When nil, every request runs as
	// LocalActor.
	Resolver   ActorResolver
	LocalActor record.Actor
	// Metrics serves /metrics and times requests when set.
	Metrics interface {
		Handler() http.Handler
		Middleware(http.Handler) http.Handler
	}
	// MCP is mounted at /mcp when set. It authenticates on its own.
	MCP    http.Handler
	Logger *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	svc    Services
	logger *slog.Logger
}

// NewServer creates the API router.
func NewServer(cfg Config) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	srv := &Server{svc: cfg.Services, logger: logger}

	// Without a resolver every API call acts as LocalActor, but traces stay
	// anonymous so private records are never exposed.
	required := StaticActorMiddleware(cfg.LocalActor)
	optional := func(next http.Handler) http.Handler { return next }
	if cfg.Resolver != nil {
		required = AuthMiddleware(cfg.Resolver)
		optional = OptionalAuthMiddleware(cfg.Resolver)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Get("/health", srv.handleHealth)
	r.Get("/api/stages", srv.handleStages)

	r.Group(func(r chi.Router) {
		r.Use(optional)
		r.Get("/trace/{id}", srv.handleTrace)
	})
	r.Get("/attachments/{ref}", srv.handleDownload)

	r.Group(func(r chi.Router) {
		r.Use(required)
		r.Route("/api/records", func(r chi.Router) {
			r.Post("/", srv.handleCreateRecord)
			r.Get("/", srv.handleListRecords)
			r.Get("/search", srv.handleSearchRecords)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", srv.handleGetRecord)
				r.Post("/stages", srv.handleUpdateStage)
				r.Post("/status", srv.handleSetStatus)
				r.Post("/visibility", srv.handleSetVisibility)
				r.Get("/history", srv.handleHistory)
				r.Get("/activity", srv.handleActivity)
			})
		})
		r.Post("/api/attachments", srv.handleUpload)
	})

	if cfg.MCP != nil {
		r.Handle("/mcp", cfg.MCP)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func actorFrom(r *http.Request) record.Actor {
	actor, _ := ActorFromContext(r.Context())
	return actor
}

// Package app assembles the services, workers and HTTP surface of a
// tracceaqua server from its configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/tracceaqua/tracceaqua/internal/access"
	"github.com/tracceaqua/tracceaqua/internal/blob"
	"github.com/tracceaqua/tracceaqua/internal/clock"
	"github.com/tracceaqua/tracceaqua/internal/config"
	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
	"github.com/tracceaqua/tracceaqua/internal/domain/anchor"
	"github.com/tracceaqua/tracceaqua/internal/domain/attachment"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/trace"
	"github.com/tracceaqua/tracceaqua/internal/ledger"
	"github.com/tracceaqua/tracceaqua/internal/mcp"
	"github.com/tracceaqua/tracceaqua/internal/metrics"
	"github.com/tracceaqua/tracceaqua/internal/transport"
)

// Version is reported by the MCP server and the CLI.
var Version = "dev"

// App is a fully wired server.
type App struct {
	Config      config.Config
	Store       *Store
	Records     *record.Service
	Traces      *trace.Service
	Activity    *activity.Service
	Attachments *attachment.Service
	Keys        *access.KeyService
	Ledger      anchor.Ledger
	Worker      *anchor.Worker
	Metrics     *metrics.Recorder
	MCP         *sdkmcp.Server
	// Handler serves the REST API, and the MCP endpoint in http mode.
	Handler http.Handler

	logger *slog.Logger
}

type options struct {
	clock  clock.Clock
	ids    clock.IDGenerator
	ledger anchor.Ledger
	blobs  blob.Store
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

// WithClock sets the clock used by every service.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator sets the record and job ID generator.
func WithIDGenerator(g clock.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithLedger replaces the ledger selected by configuration.
func WithLedger(l anchor.Ledger) Option {
	return func(o *options) { o.ledger = l }
}

// WithBlobStore replaces the blob store selected by configuration.
func WithBlobStore(s blob.Store) Option {
	return func(o *options) { o.blobs = s }
}

// New opens the store and wires every service. Close releases it.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	o := options{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}

	store, err := OpenStore(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a, err := build(ctx, cfg, store, logger, o)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg config.Config, store *Store, logger *slog.Logger, o options) (*App, error) {
	blobs := o.blobs
	if blobs == nil {
		var err error
		blobs, err = blob.Open(ctx, cfg.Blob.Store())
		if err != nil {
			return nil, fmt.Errorf("open blob store: %w", err)
		}
	}

	led := o.ledger
	if led == nil {
		var err error
		led, err = openLedger(cfg.Anchor)
		if err != nil {
			return nil, err
		}
	}

	rec := metrics.New()
	rec.WatchJobs(store.Jobs)
	policy := access.NewRolePolicy()

	attachments := attachment.NewService(blobs, attachment.Config{
		MaxSize:       cfg.Blob.MaxSize,
		PublicBaseURL: cfg.Blob.PublicBaseURL,
		PresignExpiry: cfg.Blob.PresignExpiry,
	}, logger.With("component", "attachment"))

	recordOpts := []record.Option{record.WithClock(o.clock), record.WithRecorder(rec)}
	if o.ids != nil {
		recordOpts = append(recordOpts, record.WithIDGenerator(o.ids))
	}
	records := record.NewService(store.Records, store.Search, store.Activity, policy,
		logger.With("component", "record"), recordOpts...)

	traces := trace.NewService(records, policy, attachments, logger.With("component", "trace"))
	traces.SetRecorder(rec)

	activities := activity.NewService(store.Activity, logger.With("component", "activity"))
	keys := access.NewKeyService(store.Keys, o.clock, logger.With("component", "access"))

	worker := anchor.NewWorker(store.Jobs, records, led, store.Activity, o.clock, anchor.Config{
		PollInterval: cfg.Anchor.PollInterval,
		BatchSize:    cfg.Anchor.BatchSize,
		Concurrency:  cfg.Anchor.Concurrency,
		MaxAttempts:  cfg.Anchor.MaxAttempts,
		BaseBackoff:  cfg.Anchor.BaseBackoff,
		MaxBackoff:   cfg.Anchor.MaxBackoff,
		Lease:        cfg.Anchor.Lease,
	}, logger.With("component", "anchor"))
	worker.SetRecorder(rec)

	local := record.Actor{ID: cfg.Auth.LocalActor, Role: record.RoleAdmin}

	mcpServer := mcp.NewServer(mcp.Config{
		Services: mcp.Services{
			Records:  records,
			Traces:   traces,
			Activity: activities,
			Viewer:   policy,
		},
		Resolver:      keys,
		AuthEnabled:   cfg.Auth.Enabled,
		LocalActor:    local,
		TransportMode: cfg.Transport.Mode,
		Version:       Version,
		Logger:        logger.With("component", "mcp"),
	})

	httpCfg := transport.Config{
		Services: transport.Services{
			Records:     records,
			Traces:      traces,
			Attachments: attachments,
			Activity:    activities,
			Viewer:      policy,
		},
		LocalActor: local,
		Metrics:    rec,
		Logger:     logger.With("component", "http"),
	}
	if cfg.Auth.Enabled {
		httpCfg.Resolver = keys
	}
	if cfg.Transport.Mode == "http" {
		httpCfg.MCP = mcp.NewHTTPHandler(mcpServer, logger.With("component", "mcp"))
	}

	return &App{
		Config:      cfg,
		Store:       store,
		Records:     records,
		Traces:      traces,
		Activity:    activities,
		Attachments: attachments,
		Keys:        keys,
		Ledger:      led,
		Worker:      worker,
		Metrics:     rec,
		MCP:         mcpServer,
		Handler:     transport.NewServer(httpCfg),
		logger:      logger,
	}, nil
}

func openLedger(cfg config.AnchorConfig) (anchor.Ledger, error) {
	switch cfg.Ledger {
	case "", "memory":
		return ledger.NewMemory(), nil
	case "disabled":
		return ledger.Disabled{}, nil
	case "gateway":
		gw, err := ledger.NewGateway(cfg.Gateway)
		if err != nil {
			return nil, fmt.Errorf("open ledger gateway: %w", err)
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("unknown ledger %q", cfg.Ledger)
	}
}

// RunBackground runs the anchor worker and the expiry sweeper, each only
// when enabled, until ctx is canceled.
func (a *App) RunBackground(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if a.Config.Anchor.Enabled {
		g.Go(func() error { return a.Worker.Run(gctx) })
	}
	if a.Config.Expiry.Enabled {
		g.Go(func() error { return a.sweep(gctx) })
	}
	return g.Wait()
}

func (a *App) sweep(ctx context.Context) error {
	interval := a.Config.Expiry.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("expiry sweeper started", "max_age", a.Config.Expiry.MaxAge, "interval", interval)
	for {
		if _, err := a.Records.ExpireStale(ctx, a.Config.Expiry.MaxAge); err != nil && ctx.Err() == nil {
			a.logger.Error("expiry sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			a.logger.Info("expiry sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DrainAnchors runs worker passes until no job is due or ctx ends. It
// returns the summed result.
func (a *App) DrainAnchors(ctx context.Context) (anchor.Result, error) {
	var total anchor.Result
	for {
		res, err := a.Worker.RunOnce(ctx)
		total = total.Merge(res)
		if err != nil {
			return total, err
		}
		if res.Claimed == 0 {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// Close releases the store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

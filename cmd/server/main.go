package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/tracceaqua/tracceaqua/internal/app"
	"github.com/tracceaqua/tracceaqua/internal/config"
	"github.com/tracceaqua/tracceaqua/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Use stderr for logs in stdio mode to keep stdout clean for JSON-RPC.
	logger, closeLog := logging.New(logging.Options{
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
		Stdio: cfg.Transport.Mode == "stdio",
	})
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.RunBackground(gctx) })

	if cfg.Transport.Mode == "stdio" {
		logger.Info("starting stdio transport", "auth", "disabled")
		g.Go(func() error {
			// Run blocks until stdin closes or the context is canceled.
			err := a.MCP.Run(gctx, &sdkmcp.StdioTransport{})
			if err != nil && gctx.Err() == nil {
				return fmt.Errorf("stdio server: %w", err)
			}
			return errStdinClosed
		})
	} else {
		g.Go(func() error { return serveHTTP(gctx, cfg.Server, a.Handler, logger) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errStdinClosed) {
		return err
	}
	logger.Info("shut down")
	return nil
}

// errStdinClosed ends the stdio run so the background workers stop too.
var errStdinClosed = errors.New("stdin closed")

func serveHTTP(ctx context.Context, cfg config.ServerConfig, handler http.Handler, logger *slog.Logger) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	server := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

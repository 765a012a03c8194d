package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/avolkoff/inferelay/internal/api"
	"github.com/avolkoff/inferelay/internal/backend"
	"github.com/avolkoff/inferelay/internal/config"
	"github.com/avolkoff/inferelay/internal/relay"
	"github.com/avolkoff/inferelay/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Discover a backend and start the gateway (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "inferelay version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the discovery cache so the last-good endpoint is probed early.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	lastGood, err := store.LastEndpoint()
	if err != nil {
		slog.Warn("reading discovery cache", "error", err)
	}

	// Resolve the backend once for the process lifetime.
	adapter := backend.New(backend.Options{
		Candidates: backend.Candidates(cfg.Discovery, lastGood),
		CLI:        backend.NewCLI(cfg.CLI.Bin),
		Prober:     backend.NewProber(cfg.Discovery.Verbose),
		OnSelect: func(endpoint string) {
			if err := store.SaveEndpoint(endpoint); err != nil {
				slog.Warn("caching discovered endpoint", "error", err)
			}
		},
	})
	mode := adapter.Init(ctx)
	if mode == backend.ModeUnavailable {
		printWarning("no inference backend found; serving in unavailable mode")
	}

	stats := relay.NewStats()
	handler := api.NewHandler(adapter, stats)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server over stdio, alongside the HTTP API.
	stdioSrv := server.NewStdioServer(api.NewMCPServer(adapter, stats))

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("inferelay listening", "addr", addr, "mode", mode.String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := stdioSrv.Listen(gCtx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

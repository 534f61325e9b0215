package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/relaystack/sms-mcp/internal/config"
	"github.com/relaystack/sms-mcp/internal/httpapi"
	"github.com/relaystack/sms-mcp/internal/lockfile"
	"github.com/relaystack/sms-mcp/internal/mcp"
	"github.com/relaystack/sms-mcp/internal/messaging"
	"github.com/relaystack/sms-mcp/internal/obs"
	"github.com/relaystack/sms-mcp/internal/store"
	"github.com/relaystack/sms-mcp/internal/twilio"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runCmd(os.Args[2:])
	case "version":
		fmt.Printf("sms-mcp %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `sms-mcp

Usage:
  sms-mcp run [flags]
  sms-mcp version

Commands:
  run         Serve MCP tools on stdio and provider webhooks over HTTP.
  version     Print build information.

`)
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Config file path (optional; env vars override)")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")
	httpAddr := fs.String("http-addr", "", "HTTP listen address (overrides config)")
	logFormat := fs.String("log-format", "", "Log format: json|text (overrides config)")
	logLevel := fs.String("log-level", "", "Log level: debug|info|warn|error (overrides config)")
	_ = fs.Parse(args)

	path := *cfgPath
	if path != "" {
		path = filepath.Clean(path)
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel)
	logger.Info("starting", "version", Version, "commit", Commit)

	guard, err := lockfile.GuardDatabase(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to lock database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer guard.Release()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	client, err := twilio.NewClient(cfg.AccountSID, cfg.AuthToken)
	if err != nil {
		logger.Error("failed to init provider client", "error", err)
		os.Exit(1)
	}

	svc := messaging.NewService(st, client, messaging.Options{
		FromNumber:              cfg.FromNumber,
		AutoCreateConversations: cfg.AutoCreate(),
		MMSEnabled:              cfg.MMSEnabled,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	api := httpapi.NewServer(svc, cfg.AuthToken, cfg.PublicBaseURL, logger)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		logger.Info("webhook server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()
	go func() {
		select {
		case err := <-httpErr:
			logger.Error("webhook server failed", "error", err)
			cancel()
		case <-ctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("webhook server shutdown", "error", err)
			}
		}
	}()

	srv := mcp.NewServer("sms-mcp", Version, logger)
	if err := mcp.RegisterGatewayTools(srv, svc); err != nil {
		logger.Error("failed to register tools", "error", err)
		os.Exit(1)
	}

	// Blocks until stdin closes or the context is cancelled. Stdout carries
	// only protocol frames; all logging goes to stderr.
	if err := srv.Run(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Error("mcp server exited with error", "error", err)
		os.Exit(1)
	}

	cancel()
	logger.Info("shutdown complete")
}

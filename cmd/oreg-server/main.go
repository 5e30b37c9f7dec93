// Command oreg-server runs the object registry server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kilupskalvis/oreg/internal/kvstore"
	"github.com/kilupskalvis/oreg/internal/ledger"
	"github.com/kilupskalvis/oreg/internal/remote/server"
)

func main() {
	listen := flag.String("listen", envOrDefault("OREG_LISTEN", "0.0.0.0:8730"), "Listen address")
	dataDir := flag.String("data-dir", envOrDefault("OREG_DATA_DIR", "/var/lib/oreg-server"), "Data directory")
	backend := flag.String("backend", envOrDefault("OREG_BACKEND", "bbolt"), "Storage backend (bbolt, sqlite)")
	authToken := flag.String("auth-token", os.Getenv("OREG_AUTH_TOKEN"), "Static API token (empty disables auth)")
	adminToken := flag.String("admin-token", os.Getenv("OREG_ADMIN_TOKEN"), "Admin API token")
	logLevel := flag.String("log-level", envOrDefault("OREG_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", envOrDefault("OREG_LOG_FORMAT", "json"), "Log format (json, text)")
	tlsCert := flag.String("tls-cert", os.Getenv("OREG_TLS_CERT"), "TLS certificate file")
	tlsKey := flag.String("tls-key", os.Getenv("OREG_TLS_KEY"), "TLS key file")
	webhookURLs := flag.String("webhook-urls", os.Getenv("OREG_WEBHOOK_URLS"), "Comma-separated webhook URLs to notify on head changes")
	flag.Parse()

	// Setup logger
	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "error", err, "path", *dataDir)
		os.Exit(1)
	}

	var store kvstore.Store
	var err error
	switch *backend {
	case "bbolt":
		store, err = kvstore.NewBboltStore(filepath.Join(*dataDir, "registry.db"))
	case "sqlite":
		store, err = kvstore.NewSqliteStore(filepath.Join(*dataDir, "registry.sqlite"))
	default:
		logger.Error("unknown backend", "backend", *backend)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open store", "error", err, "backend", *backend)
		os.Exit(1)
	}
	defer store.Close()

	cfg := server.DefaultConfig()
	cfg.AuthToken = *authToken
	cfg.AdminToken = *adminToken

	if *webhookURLs != "" {
		var trimmed []string
		for _, u := range strings.Split(*webhookURLs, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				trimmed = append(trimmed, u)
			}
		}
		if len(trimmed) > 0 {
			cfg.Webhooks = server.NewWebhookNotifier(&server.WebhookConfig{URLs: trimmed}, logger)
			logger.Info("webhooks configured", "count", len(trimmed))
		}
	}

	h, handlerCleanup := server.Handler(ledger.New(store), cfg, logger)
	defer handlerCleanup()

	srv := &http.Server{
		Addr:         *listen,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return context.Background() },
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting oreg-server", "listen", *listen, "data_dir", *dataDir, "backend", *backend)
		var err error
		if *tlsCert != "" && *tlsKey != "" {
			err = srv.ListenAndServeTLS(*tlsCert, *tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

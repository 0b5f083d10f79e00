// Command authzd runs the authorization control plane's administrative RPC
// surface (spec §6): policy CRUD, principal/OU attachment, and Authorize.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/auth"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/config"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/controlplane"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/identity"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/observability"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()
	logger := slog.Default()

	cfg, err := config.Load()
	if err != nil {
		log.Printf("authzd: config: %v", err)
		return 2
	}

	switch {
	case cfg.DatabaseURL == "":
		logger.Info("authzd: DATABASE_URL unset, running in-memory (single-node)")
	case strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://"):
		logger.Info("authzd: using postgres store")
	default:
		logger.Info("authzd: using embedded sqlite store", "path", cfg.DatabaseURL)
	}

	prov, err := observability.New(ctx, &observability.Config{
		ServiceName:  "authzd",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.OTLPEnabled,
		Insecure:     true,
		SampleRate:   1.0,
	})
	if err != nil {
		log.Printf("authzd: observability init: %v", err)
		return 2
	}
	defer prov.Shutdown(ctx)

	svc, err := controlplane.Bootstrap(cfg, logger)
	if err != nil {
		log.Printf("authzd: bootstrap: %v", err)
		return 2
	}

	keySet, err := identity.NewInMemoryKeySet()
	if err != nil {
		log.Printf("authzd: keyset: %v", err)
		return 2
	}
	validator := auth.NewJWTValidator(keySet)

	handler := auth.NewMiddleware(validator)(controlplane.Handler(svc))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	go func() {
		logger.Info("authzd: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("authzd: server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("authzd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("authzd: shutdown error: %v", err)
		return 1
	}
	return 0
}

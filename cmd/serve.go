package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/daikw/ttsbridge/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func handleServe(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		cfg.Addr = c.String("addr")
	}
	if c.IsSet("base-path") {
		cfg.BasePath = c.String("base-path")
	}
	if c.IsSet("max-sessions") {
		cfg.MaxSessions = c.Int("max-sessions")
	}
	if c.IsSet("session-policy") {
		cfg.SessionPolicy = c.String("session-policy")
	}
	if c.IsSet("keepalive") {
		cfg.KeepAlive = c.Duration("keepalive")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	policy, err := transport.ParsePolicy(cfg.SessionPolicy)
	if err != nil {
		return err
	}

	basePath := transport.NormalizeBasePath(cfg.BasePath)
	svc := newService(cfg, basePath+"/audio/")
	svc.warnIfNoCredential()
	if err := svc.store.EnsureReady(); err != nil {
		return err
	}

	sessions := transport.NewRegistry(cfg.MaxSessions, policy, svc.metrics)
	srv := transport.NewServer(transport.Config{
		BasePath:  basePath,
		KeepAlive: cfg.KeepAlive,
		Name:      serviceName,
		Version:   version,
	}, svc.dispatcher, svc.store, sessions, svc.registry)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("sse", basePath+"/sse").
			Str("audio_dir", svc.store.Dir()).
			Int("max_sessions", cfg.MaxSessions).
			Str("policy", string(policy)).
			Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")

	// Streams never finish on their own; close them so Shutdown can drain.
	sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}

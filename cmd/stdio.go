package main

import (
	"context"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

func handleStdio(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	// No HTTP server here, so report absolute file paths instead of URLs.
	dir, err := filepath.Abs(cfg.AudioDir)
	if err != nil {
		return err
	}
	svc := newService(cfg, dir+string(filepath.Separator))
	svc.warnIfNoCredential()

	s := server.NewMCPServer(serviceName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.AddTools(svc.dispatcher.ServerTools()...)

	log.Info().Str("audio_dir", dir).Msg("Serving tools on stdio")
	return server.ServeStdio(s)
}

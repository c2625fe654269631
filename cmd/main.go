package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/daikw/ttsbridge/internal/config"
	"github.com/daikw/ttsbridge/internal/speech"
)

var (
	version  = "dev"
	revision = "none"
)

const serviceName = "ttsbridge"

func main() {
	// Setup logger
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	app := &cli.Command{
		Name:  serviceName,
		Usage: "Text-to-speech tools over MCP, backed by the OpenAI speech API",
		Description: `ttsbridge exposes speech synthesis as remote tools. Clients open an
event stream, post JSON-RPC messages and receive results on the stream.
Synthesized audio is saved to a local directory and served over HTTP.`,
		Version: fmt.Sprintf("%s (rev: %s)", version, revision),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"V"},
				Usage:   "Enable verbose logging",
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Environment file(s) to load (default: .env)",
			},
			&cli.StringFlag{
				Name:  "audio-dir",
				Usage: "Directory for synthesized audio (env: TTS_AUDIO_DIR)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Timeout for a single OpenAI request (env: TTS_TIMEOUT)",
			},
			&cli.BoolFlag{
				Name:  "insecure",
				Usage: "Skip TLS certificate verification of the OpenAI endpoint, for testing only (env: TTS_INSECURE_SKIP_VERIFY)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the tools over an HTTP event stream",
				Action: handleServe,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "addr",
						Aliases: []string{"a"},
						Usage:   "Listen address (env: TTS_ADDR)",
					},
					&cli.StringFlag{
						Name:  "base-path",
						Usage: "Path prefix for the stream, message and audio routes (env: TTS_BASE_PATH)",
					},
					&cli.IntFlag{
						Name:  "max-sessions",
						Usage: "Maximum number of concurrent streams (env: TTS_MAX_SESSIONS)",
					},
					&cli.StringFlag{
						Name:  "session-policy",
						Usage: "What to do when a stream opens at capacity: replace, reject (env: TTS_SESSION_POLICY)",
					},
					&cli.DurationFlag{
						Name:  "keepalive",
						Usage: "Interval between keep-alive pings (env: TTS_KEEPALIVE)",
					},
				},
			},
			{
				Name:   "stdio",
				Usage:  "Serve the tools over stdin/stdout",
				Action: handleStdio,
			},
			{
				Name:      "synth",
				Aliases:   []string{"say"},
				Usage:     "Synthesize text into an audio file (reads stdin when no text is given)",
				ArgsUsage: "[text]",
				Action:    handleSynth,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "voice",
						Usage: "Voice: alloy, echo, fable, onyx, nova, shimmer",
						Value: speech.DefaultVoice,
					},
					&cli.StringFlag{
						Name:  "model",
						Usage: "Model: tts-1, tts-1-hd",
						Value: speech.DefaultModel,
					},
					&cli.FloatFlag{
						Name:  "speed",
						Usage: "Speech speed (0.25-4.0)",
						Value: speech.DefaultSpeed,
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "Audio format: mp3, opus, aac, flac",
						Value: speech.DefaultFormat,
					},
				},
			},
			{
				Name:    "files",
				Aliases: []string{"ls"},
				Usage:   "List synthesized audio files",
				Action:  handleFiles,
			},
			{
				Name:      "rm",
				Usage:     "Delete a synthesized audio file",
				ArgsUsage: "<filename>",
				Action:    handleRemove,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if c.Bool("verbose") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
			return ctx, nil
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("Failed to run application")
	}
}

// loadConfig reads the environment and applies the global flags on top.
func loadConfig(c *cli.Command) (config.Config, error) {
	cfg, err := config.Load(c.StringSlice("env-file")...)
	if err != nil {
		return config.Config{}, err
	}

	if c.IsSet("audio-dir") {
		cfg.AudioDir = c.String("audio-dir")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.Duration("timeout")
	}
	if c.IsSet("insecure") {
		cfg.InsecureSkipVerify = c.Bool("insecure")
	}
	return cfg, nil
}

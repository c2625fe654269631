// Package config loads service settings from the environment and .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds every setting of the service. Command-line flags override
// these values.
type Config struct {
	// OpenAI
	APIKey             string        `env:"OPENAI_API_KEY"`
	BaseURL            string        `env:"OPENAI_BASE_URL"`
	Timeout            time.Duration `env:"TTS_TIMEOUT"              envDefault:"30s"`
	InsecureSkipVerify bool          `env:"TTS_INSECURE_SKIP_VERIFY" envDefault:"false"`

	// Storage
	AudioDir string `env:"TTS_AUDIO_DIR" envDefault:"audio"`

	// HTTP
	Addr          string        `env:"TTS_ADDR"           envDefault:":3000"`
	BasePath      string        `env:"TTS_BASE_PATH"`
	MaxSessions   int           `env:"TTS_MAX_SESSIONS"   envDefault:"1"`
	SessionPolicy string        `env:"TTS_SESSION_POLICY" envDefault:"replace"`
	KeepAlive     time.Duration `env:"TTS_KEEPALIVE"      envDefault:"30s"`
}

// Load reads the given .env files (".env" when none are given) into the
// process environment without overriding variables that are already set,
// then parses the environment. Missing files are ignored.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
		log.Debug().Str("file", f).Msg("Loaded environment file")
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// FromMap parses settings from the given variables only.
func FromMap(vars map[string]string) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: vars})
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AudioDir) == "" {
		errs = append(errs, errors.New("TTS_AUDIO_DIR must not be empty"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("TTS_TIMEOUT must be positive, got %s", c.Timeout))
	}
	if c.KeepAlive <= 0 {
		errs = append(errs, fmt.Errorf("TTS_KEEPALIVE must be positive, got %s", c.KeepAlive))
	}
	if c.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("TTS_MAX_SESSIONS must be at least 1, got %d", c.MaxSessions))
	}
	switch strings.ToLower(c.SessionPolicy) {
	case "replace", "reject":
	default:
		errs = append(errs, fmt.Errorf("TTS_SESSION_POLICY must be replace or reject, got %q", c.SessionPolicy))
	}
	return errors.Join(errs...)
}

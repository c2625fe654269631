// Package speech builds synthesis requests and sends them to the OpenAI
// Audio API.
package speech

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Supported voices, in the order they are advertised to callers.
var Voices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// Supported models. The first one is the default.
var Models = []string{"tts-1", "tts-1-hd"}

// Supported output formats. The format doubles as the artifact extension.
var Formats = []string{"mp3", "opus", "aac", "flac"}

const (
	DefaultVoice  = "alloy"
	DefaultModel  = "tts-1"
	DefaultFormat = "mp3"
	DefaultSpeed  = 1.0

	MinSpeed = 0.25
	MaxSpeed = 4.0
)

// ErrInvalidRequest is returned when a request field is outside its domain.
var ErrInvalidRequest = errors.New("invalid synthesis request")

// Request is a single text-to-speech job. Build it with NewRequest so that
// defaults are applied and every field is validated.
type Request struct {
	Text   string  `json:"input"`
	Voice  string  `json:"voice"`
	Model  string  `json:"model"`
	Speed  float64 `json:"speed"`
	Format string  `json:"response_format"`
}

// NewRequest validates the given fields and fills in defaults for the empty
// ones. A zero speed means "use the default".
func NewRequest(text, voice, model string, speed float64, format string) (Request, error) {
	if strings.TrimSpace(text) == "" {
		return Request{}, fmt.Errorf("%w: text cannot be empty", ErrInvalidRequest)
	}

	if voice == "" {
		voice = DefaultVoice
	}
	if !slices.Contains(Voices, voice) {
		return Request{}, fmt.Errorf("%w: unsupported voice %q (supported: %s)", ErrInvalidRequest, voice, strings.Join(Voices, ", "))
	}

	if model == "" {
		model = DefaultModel
	}
	if !slices.Contains(Models, model) {
		return Request{}, fmt.Errorf("%w: unsupported model %q (supported: %s)", ErrInvalidRequest, model, strings.Join(Models, ", "))
	}

	if speed == 0 {
		speed = DefaultSpeed
	}
	if speed < MinSpeed || speed > MaxSpeed {
		return Request{}, fmt.Errorf("%w: speed %g out of range [%g, %g]", ErrInvalidRequest, speed, MinSpeed, MaxSpeed)
	}

	if format == "" {
		format = DefaultFormat
	}
	if !slices.Contains(Formats, format) {
		return Request{}, fmt.Errorf("%w: unsupported format %q (supported: %s)", ErrInvalidRequest, format, strings.Join(Formats, ", "))
	}

	return Request{
		Text:   text,
		Voice:  voice,
		Model:  model,
		Speed:  speed,
		Format: format,
	}, nil
}

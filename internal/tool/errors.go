package tool

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/daikw/ttsbridge/internal/artifact"
	"github.com/daikw/ttsbridge/internal/speech"
)

// Kind is the caller-visible category of a failed tool call.
type Kind string

const (
	InvalidArgument    Kind = "InvalidArgument"
	ConfigurationError Kind = "ConfigurationError"
	UpstreamError      Kind = "UpstreamError"
	NotFound           Kind = "NotFound"
	UnknownCapability  Kind = "UnknownCapability"
	Internal           Kind = "InternalError"
)

var (
	// ErrInvalidArgument is returned for missing or malformed arguments.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownCapability is returned when no tool has the requested name.
	ErrUnknownCapability = errors.New("unknown tool")
)

// Classify maps an error returned by a tool handler to its Kind. This is the
// only place where package errors are translated for callers.
func Classify(err error) Kind {
	var upstream *speech.UpstreamError
	switch {
	case errors.Is(err, ErrUnknownCapability):
		return UnknownCapability
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, speech.ErrInvalidRequest),
		errors.Is(err, artifact.ErrInvalidName),
		errors.Is(err, artifact.ErrUnsupportedFormat):
		return InvalidArgument
	case errors.Is(err, speech.ErrMissingAPIKey):
		return ConfigurationError
	case errors.As(err, &upstream):
		return UpstreamError
	case errors.Is(err, artifact.ErrNotFound):
		return NotFound
	default:
		return Internal
	}
}

// ErrorResult converts err into an error tool result. The text always starts
// with "Error: " followed by the kind.
func ErrorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("Error: %s: %v", Classify(err), err))
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Package tool implements the text-to-speech tools offered to remote callers
// and converts every failure into an error result.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"github.com/daikw/ttsbridge/internal/artifact"
	"github.com/daikw/ttsbridge/internal/metrics"
	"github.com/daikw/ttsbridge/internal/speech"
)

const (
	NameSynthesize     = "synthesize"
	NameListArtifacts  = "listArtifacts"
	NameDeleteArtifact = "deleteArtifact"

	// DefaultPublicPrefix is the URL path under which artifacts are served.
	DefaultPublicPrefix = "/audio/"

	noFilesMessage   = "No audio files found."
	unknownToolLabel = "unknown"
)

var toolOrder = []string{
	NameSynthesize,
	NameListArtifacts,
	NameDeleteArtifact,
}

// Synthesizer turns a request into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req speech.Request) ([]byte, error)
}

// Store persists audio artifacts.
type Store interface {
	Save(data []byte, text, format string) (artifact.Artifact, error)
	List() ([]artifact.Artifact, error)
	Delete(name string) error
}

type handler func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)

type definition struct {
	tool    mcp.Tool
	handler handler
}

// Dispatcher routes tool invocations to their handlers.
type Dispatcher struct {
	synth        Synthesizer
	store        Store
	metrics      *metrics.Metrics
	publicPrefix string
	tools        map[string]definition
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records every invocation in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithPublicPrefix sets the URL path prefix reported for saved artifacts.
func WithPublicPrefix(prefix string) Option {
	return func(d *Dispatcher) {
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		d.publicPrefix = prefix
	}
}

// NewDispatcher creates a dispatcher serving the synthesize, listArtifacts and
// deleteArtifact tools.
func NewDispatcher(synth Synthesizer, store Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		synth:        synth,
		store:        store,
		publicPrefix: DefaultPublicPrefix,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.tools = map[string]definition{
		NameSynthesize:     {tool: synthesizeTool(), handler: d.synthesize},
		NameListArtifacts:  {tool: listArtifactsTool(), handler: d.listArtifacts},
		NameDeleteArtifact: {tool: deleteArtifactTool(), handler: d.deleteArtifact},
	}
	return d
}

// Capabilities returns the tool schemas in a stable order.
func (d *Dispatcher) Capabilities() []mcp.Tool {
	tools := make([]mcp.Tool, 0, len(toolOrder))
	for _, name := range toolOrder {
		tools = append(tools, d.tools[name].tool)
	}
	return tools
}

// Call invokes the tool named in req. Arguments must be a JSON object or
// absent.
func (d *Dispatcher) Call(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
	args, err := argumentsOf(req.Params.Arguments)
	if err != nil {
		return d.fail(req.Params.Name, time.Now(), err)
	}
	return d.Invoke(ctx, req.Params.Name, args)
}

// Invoke runs the named tool. It never returns nil and never panics: every
// failure, including a panicking handler, becomes an error result.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args map[string]any) (result *mcp.CallToolResult) {
	start := time.Now()

	def, ok := d.tools[name]
	if !ok {
		return d.fail(name, start, fmt.Errorf("%w: %q", ErrUnknownCapability, name))
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("tool", name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Tool handler panicked")
			result = d.fail(name, start, fmt.Errorf("tool %s panicked: %v", name, r))
		}
	}()

	if args == nil {
		args = map[string]any{}
	}

	res, err := def.handler(ctx, args)
	if err != nil {
		return d.fail(name, start, err)
	}

	d.metrics.ObserveToolCall(name, "ok", time.Since(start))
	log.Debug().Str("tool", name).Dur("duration", time.Since(start)).Msg("Tool call completed")
	return res
}

func (d *Dispatcher) fail(name string, start time.Time, err error) *mcp.CallToolResult {
	kind := Classify(err)
	d.metrics.ObserveToolCall(d.metricLabel(name), string(kind), time.Since(start))

	event := log.Warn()
	if kind == Internal {
		event = log.Error()
	}
	event.Err(err).Str("tool", name).Str("kind", string(kind)).Msg("Tool call failed")

	return ErrorResult(err)
}

// metricLabel bounds the tool label to registered names. Callers choose the
// name, so anything else is counted as unknownToolLabel.
func (d *Dispatcher) metricLabel(name string) string {
	if _, ok := d.tools[name]; ok {
		return name
	}
	return unknownToolLabel
}

// ServerTools adapts the dispatcher to mcp-go's server so the same tools can
// be served over other transports.
func (d *Dispatcher) ServerTools() []server.ServerTool {
	tools := make([]server.ServerTool, 0, len(toolOrder))
	for _, t := range d.Capabilities() {
		tools = append(tools, server.ServerTool{
			Tool: t,
			Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return d.Call(ctx, req), nil
			},
		})
	}
	return tools
}

func argumentsOf(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case json.RawMessage:
		if len(v) == 0 || string(v) == "null" {
			return map[string]any{}, nil
		}
		var args map[string]any
		if err := json.Unmarshal(v, &args); err != nil {
			return nil, invalidArgument("arguments must be an object")
		}
		return args, nil
	default:
		return nil, invalidArgument("arguments must be an object, got %T", raw)
	}
}

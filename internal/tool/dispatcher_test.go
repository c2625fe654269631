package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daikw/ttsbridge/internal/artifact"
	"github.com/daikw/ttsbridge/internal/metrics"
	"github.com/daikw/ttsbridge/internal/speech"
)

type mockSynthesizer struct {
	calls atomic.Int32
	last  speech.Request
	audio []byte
	err   error
	panic bool
}

func (m *mockSynthesizer) Synthesize(_ context.Context, req speech.Request) ([]byte, error) {
	m.calls.Add(1)
	m.last = req
	if m.panic {
		panic("boom")
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.audio, nil
}

func newTestDispatcher(t *testing.T, synth Synthesizer) (*Dispatcher, *artifact.Store) {
	t.Helper()
	store := artifact.NewStore(filepath.Join(t.TempDir(), "audio"))
	return NewDispatcher(synth, store), store
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text
}

func assertToolError(t *testing.T, res *mcp.CallToolResult, kind Kind) string {
	t.Helper()
	require.True(t, res.IsError, "expected error result")
	text := resultText(t, res)
	assert.True(t, strings.HasPrefix(text, "Error: "+string(kind)+":"), "unexpected error text %q", text)
	return text
}

func TestDispatcher_Capabilities(t *testing.T) {
	d, _ := newTestDispatcher(t, &mockSynthesizer{})

	tools := d.Capabilities()
	require.Len(t, tools, 3)
	assert.Equal(t, NameSynthesize, tools[0].Name)
	assert.Equal(t, NameListArtifacts, tools[1].Name)
	assert.Equal(t, NameDeleteArtifact, tools[2].Name)

	synth := tools[0].InputSchema
	assert.Equal(t, []string{"text"}, synth.Required)

	voice := synth.Properties["voice"].(map[string]any)
	assert.Equal(t, speech.Voices, voice["enum"])
	assert.Equal(t, "alloy", voice["default"])

	model := synth.Properties["model"].(map[string]any)
	assert.Equal(t, speech.Models, model["enum"])

	format := synth.Properties["format"].(map[string]any)
	assert.Equal(t, speech.Formats, format["enum"])

	speed := synth.Properties["speed"].(map[string]any)
	assert.Equal(t, 0.25, speed["minimum"])
	assert.Equal(t, 4.0, speed["maximum"])
	assert.Equal(t, 1.0, speed["default"])

	assert.Empty(t, tools[1].InputSchema.Required)
	assert.Equal(t, []string{"filename"}, tools[2].InputSchema.Required)
}

func TestDispatcher_Synthesize(t *testing.T) {
	synth := &mockSynthesizer{audio: make([]byte, 2048)}
	d, store := newTestDispatcher(t, synth)

	res := d.Invoke(context.Background(), NameSynthesize, map[string]any{"text": "Hello world"})
	require.False(t, res.IsError, resultText(t, res))

	assert.Equal(t, int32(1), synth.calls.Load())
	assert.Equal(t, speech.Request{Text: "Hello world", Voice: "alloy", Model: "tts-1", Speed: 1.0, Format: "mp3"}, synth.last)

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	name := list[0].Name
	assert.True(t, strings.HasSuffix(name, "_Hello_world.mp3"), name)

	text := resultText(t, res)
	assert.Contains(t, text, "Text: Hello world")
	assert.Contains(t, text, "Voice: alloy")
	assert.Contains(t, text, "Model: tts-1")
	assert.Contains(t, text, "Speed: 1.00")
	assert.Contains(t, text, "Format: mp3")
	assert.Contains(t, text, "File: "+name)
	assert.Contains(t, text, "Size: 2.00 KB")
	assert.Contains(t, text, "URL: /audio/"+name)

	summary, ok := res.StructuredContent.(SynthesisSummary)
	require.True(t, ok)
	assert.Equal(t, name, summary.Filename)
	assert.InDelta(t, 2.0, summary.SizeKB, 1e-9)
}

func TestDispatcher_SynthesizeWithOptions(t *testing.T) {
	synth := &mockSynthesizer{audio: []byte("ogg")}
	store := artifact.NewStore(filepath.Join(t.TempDir(), "audio"))
	d := NewDispatcher(synth, store, WithPublicPrefix("/tts/files"))

	res := d.Invoke(context.Background(), NameSynthesize, map[string]any{
		"text":   "안녕",
		"voice":  "nova",
		"model":  "tts-1-hd",
		"speed":  1.5,
		"format": "opus",
	})
	require.False(t, res.IsError, resultText(t, res))

	assert.Equal(t, speech.Request{Text: "안녕", Voice: "nova", Model: "tts-1-hd", Speed: 1.5, Format: "opus"}, synth.last)
	summary := res.StructuredContent.(SynthesisSummary)
	assert.True(t, strings.HasSuffix(summary.Filename, "_안녕.opus"), summary.Filename)
	assert.Equal(t, "/tts/files/"+summary.Filename, summary.URL)
}

func TestDispatcher_SynthesizeInvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{name: "missing text", args: map[string]any{}},
		{name: "blank text", args: map[string]any{"text": "   "}},
		{name: "text not a string", args: map[string]any{"text": 42.0}},
		{name: "unknown voice", args: map[string]any{"text": "hi", "voice": "robot"}},
		{name: "unknown model", args: map[string]any{"text": "hi", "model": "tts-9"}},
		{name: "unknown format", args: map[string]any{"text": "hi", "format": "wav"}},
		{name: "speed too high", args: map[string]any{"text": "hi", "speed": 4.5}},
		{name: "speed zero", args: map[string]any{"text": "hi", "speed": 0.0}},
		{name: "speed not a number", args: map[string]any{"text": "hi", "speed": "fast"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synth := &mockSynthesizer{audio: []byte("x")}
			d, _ := newTestDispatcher(t, synth)

			res := d.Invoke(context.Background(), NameSynthesize, tt.args)
			assertToolError(t, res, InvalidArgument)
			assert.Equal(t, int32(0), synth.calls.Load())
		})
	}
}

func TestDispatcher_SynthesizeWithoutCredential(t *testing.T) {
	var hits atomic.Int32
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer provider.Close()

	client := speech.NewClient(speech.ClientConfig{BaseURL: provider.URL})
	d, store := newTestDispatcher(t, client)

	res := d.Invoke(context.Background(), NameSynthesize, map[string]any{"text": "Hello"})
	text := assertToolError(t, res, ConfigurationError)
	assert.Contains(t, text, "OPENAI_API_KEY")
	assert.Equal(t, int32(0), hits.Load())

	list, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDispatcher_SynthesizeUpstreamFailure(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached"}}`))
	}))
	defer provider.Close()

	client := speech.NewClient(speech.ClientConfig{APIKey: "k", BaseURL: provider.URL})
	d, store := newTestDispatcher(t, client)

	res := d.Invoke(context.Background(), NameSynthesize, map[string]any{"text": "Hello"})
	text := assertToolError(t, res, UpstreamError)
	assert.Contains(t, text, "Rate limit reached")

	list, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDispatcher_ListArtifacts(t *testing.T) {
	t.Run("absent directory", func(t *testing.T) {
		d, _ := newTestDispatcher(t, &mockSynthesizer{})
		res := d.Invoke(context.Background(), NameListArtifacts, nil)
		require.False(t, res.IsError)
		assert.Equal(t, "No audio files found.", resultText(t, res))
	})

	t.Run("sorted listing", func(t *testing.T) {
		d, store := newTestDispatcher(t, &mockSynthesizer{})
		require.NoError(t, store.EnsureReady())
		require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "b.mp3"), make([]byte, 1024), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "a.flac"), make([]byte, 512), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "readme.txt"), []byte("x"), 0644))

		res := d.Invoke(context.Background(), NameListArtifacts, map[string]any{})
		require.False(t, res.IsError)

		lines := strings.Split(resultText(t, res), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "Audio files (2):", lines[0])
		assert.True(t, strings.HasPrefix(lines[1], "- a.flac (0.50 KB, created "), lines[1])
		assert.True(t, strings.HasPrefix(lines[2], "- b.mp3 (1.00 KB, created "), lines[2])
	})
}

func TestDispatcher_DeleteArtifact(t *testing.T) {
	d, store := newTestDispatcher(t, &mockSynthesizer{})
	require.NoError(t, store.EnsureReady())
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "keep.mp3"), []byte("x"), 0644))

	res := d.Invoke(context.Background(), NameDeleteArtifact, map[string]any{"filename": "keep.mp3"})
	require.False(t, res.IsError)
	assert.Equal(t, "Deleted audio file: keep.mp3", resultText(t, res))

	res = d.Invoke(context.Background(), NameDeleteArtifact, map[string]any{"filename": "keep.mp3"})
	assertToolError(t, res, NotFound)

	res = d.Invoke(context.Background(), NameDeleteArtifact, map[string]any{"filename": "../etc/passwd"})
	assertToolError(t, res, InvalidArgument)

	res = d.Invoke(context.Background(), NameDeleteArtifact, map[string]any{})
	assertToolError(t, res, InvalidArgument)
}

func TestDispatcher_ArtifactLifecycle(t *testing.T) {
	synth := &mockSynthesizer{audio: []byte("audio-bytes")}
	d, store := newTestDispatcher(t, synth)
	ctx := context.Background()

	for _, text := range []string{"first", "second"} {
		res := d.Invoke(ctx, NameSynthesize, map[string]any{"text": text})
		require.False(t, res.IsError, resultText(t, res))
	}

	before, err := store.List()
	require.NoError(t, err)
	require.Len(t, before, 2)

	// Missing names leave the store untouched.
	res := d.Invoke(ctx, NameDeleteArtifact, map[string]any{"filename": "tts_missing.mp3"})
	assertToolError(t, res, NotFound)
	unchanged, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, before, unchanged)

	res = d.Invoke(ctx, NameDeleteArtifact, map[string]any{"filename": before[0].Name})
	require.False(t, res.IsError)

	res = d.Invoke(ctx, NameListArtifacts, nil)
	require.False(t, res.IsError)
	listing := resultText(t, res)
	assert.NotContains(t, listing, before[0].Name)
	assert.Contains(t, listing, before[1].Name)
	assert.True(t, strings.HasPrefix(listing, "Audio files (1):"), listing)
}

func TestDispatcher_UnknownTool(t *testing.T) {
	d, _ := newTestDispatcher(t, &mockSynthesizer{})
	res := d.Invoke(context.Background(), "speak", nil)
	text := assertToolError(t, res, UnknownCapability)
	assert.Contains(t, text, "speak")
}

func TestDispatcher_RecoversFromPanics(t *testing.T) {
	d, _ := newTestDispatcher(t, &mockSynthesizer{panic: true})

	var res *mcp.CallToolResult
	require.NotPanics(t, func() {
		res = d.Invoke(context.Background(), NameSynthesize, map[string]any{"text": "hi"})
	})
	text := assertToolError(t, res, Internal)
	assert.Contains(t, text, "boom")
}

func TestDispatcher_Call(t *testing.T) {
	d, _ := newTestDispatcher(t, &mockSynthesizer{})

	var req mcp.CallToolRequest
	require.NoError(t, json.Unmarshal([]byte(`{"params":{"name":"listArtifacts"}}`), &req))
	res := d.Call(context.Background(), req)
	assert.False(t, res.IsError)

	req.Params.Arguments = []any{"not", "an", "object"}
	res = d.Call(context.Background(), req)
	assertToolError(t, res, InvalidArgument)

	req.Params.Arguments = json.RawMessage(`{"filename":"missing.mp3"}`)
	req.Params.Name = NameDeleteArtifact
	res = d.Call(context.Background(), req)
	assertToolError(t, res, NotFound)
}

func TestDispatcher_ServerTools(t *testing.T) {
	d, _ := newTestDispatcher(t, &mockSynthesizer{})

	tools := d.ServerTools()
	require.Len(t, tools, 3)
	assert.Equal(t, NameListArtifacts, tools[1].Tool.Name)

	var req mcp.CallToolRequest
	req.Params.Name = NameListArtifacts
	res, err := tools[1].Handler(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "No audio files found.", resultText(t, res))
}

func TestDispatcher_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := artifact.NewStore(filepath.Join(t.TempDir(), "audio"))
	d := NewDispatcher(&mockSynthesizer{}, store, WithMetrics(metrics.New(reg)))

	d.Invoke(context.Background(), NameListArtifacts, nil)
	d.Invoke(context.Background(), NameDeleteArtifact, map[string]any{"filename": "nope.mp3"})

	count, err := testutil.GatherAndCount(reg, "ttsbridge_tool_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Unregistered names share one series, whichever path rejects them.
	for i := range 50 {
		d.Invoke(context.Background(), fmt.Sprintf("bogus-%d", i), nil)
	}
	d.Call(context.Background(), mcp.CallToolRequest{Params: mcp.CallToolParams{Name: "other-bogus", Arguments: "not an object"}})

	count, err = testutil.GatherAndCount(reg, "ttsbridge_tool_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	expected := `
# HELP ttsbridge_tool_calls_total Total number of tool invocations
# TYPE ttsbridge_tool_calls_total counter
ttsbridge_tool_calls_total{outcome="InvalidArgument",tool="unknown"} 1
ttsbridge_tool_calls_total{outcome="NotFound",tool="deleteArtifact"} 1
ttsbridge_tool_calls_total{outcome="UnknownCapability",tool="unknown"} 50
ttsbridge_tool_calls_total{outcome="ok",tool="listArtifacts"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "ttsbridge_tool_calls_total"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{fmt.Errorf("wrap: %w", ErrInvalidArgument), InvalidArgument},
		{fmt.Errorf("wrap: %w", speech.ErrInvalidRequest), InvalidArgument},
		{fmt.Errorf("wrap: %w", artifact.ErrInvalidName), InvalidArgument},
		{speech.ErrMissingAPIKey, ConfigurationError},
		{fmt.Errorf("wrap: %w", &speech.UpstreamError{StatusCode: 500, Message: "x"}), UpstreamError},
		{fmt.Errorf("wrap: %w", artifact.ErrNotFound), NotFound},
		{fmt.Errorf("wrap: %w", ErrUnknownCapability), UnknownCapability},
		{errors.New("disk full"), Internal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorResult(t *testing.T) {
	res := ErrorResult(fmt.Errorf("%w: file.mp3", artifact.ErrNotFound))
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: NotFound: file not found: file.mp3", resultText(t, res))
}

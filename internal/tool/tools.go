package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"

	"github.com/daikw/ttsbridge/internal/speech"
)

func synthesizeTool() mcp.Tool {
	return mcp.NewTool(NameSynthesize,
		mcp.WithDescription("Convert text to speech with the OpenAI TTS API and save the audio to a file"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Text to convert to speech"),
		),
		mcp.WithString("voice",
			mcp.Description("Voice to use"),
			mcp.Enum(speech.Voices...),
			mcp.DefaultString(speech.DefaultVoice),
		),
		mcp.WithString("model",
			mcp.Description("TTS model to use"),
			mcp.Enum(speech.Models...),
			mcp.DefaultString(speech.DefaultModel),
		),
		mcp.WithNumber("speed",
			mcp.Description("Speech speed"),
			mcp.Min(speech.MinSpeed),
			mcp.Max(speech.MaxSpeed),
			mcp.DefaultNumber(speech.DefaultSpeed),
		),
		mcp.WithString("format",
			mcp.Description("Audio format"),
			mcp.Enum(speech.Formats...),
			mcp.DefaultString(speech.DefaultFormat),
		),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	)
}

func listArtifactsTool() mcp.Tool {
	return mcp.NewTool(NameListArtifacts,
		mcp.WithDescription("List generated audio files"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)
}

func deleteArtifactTool() mcp.Tool {
	return mcp.NewTool(NameDeleteArtifact,
		mcp.WithDescription("Delete a generated audio file"),
		mcp.WithString("filename",
			mcp.Required(),
			mcp.Description("Name of the audio file to delete"),
		),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)
}

// SynthesisSummary is the structured content of a successful synthesize call.
type SynthesisSummary struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice"`
	Model    string  `json:"model"`
	Speed    float64 `json:"speed"`
	Format   string  `json:"format"`
	Filename string  `json:"filename"`
	SizeKB   float64 `json:"sizeKB"`
	URL      string  `json:"url"`
}

func (s SynthesisSummary) String() string {
	var b strings.Builder
	b.WriteString("Speech synthesized successfully.\n")
	fmt.Fprintf(&b, "Text: %s\n", s.Text)
	fmt.Fprintf(&b, "Voice: %s\n", s.Voice)
	fmt.Fprintf(&b, "Model: %s\n", s.Model)
	fmt.Fprintf(&b, "Speed: %.2f\n", s.Speed)
	fmt.Fprintf(&b, "Format: %s\n", s.Format)
	fmt.Fprintf(&b, "File: %s\n", s.Filename)
	fmt.Fprintf(&b, "Size: %.2f KB\n", s.SizeKB)
	fmt.Fprintf(&b, "URL: %s", s.URL)
	return b.String()
}

func (d *Dispatcher) synthesize(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	text, err := requiredString(args, "text")
	if err != nil {
		return nil, err
	}
	voice, err := optionalString(args, "voice")
	if err != nil {
		return nil, err
	}
	model, err := optionalString(args, "model")
	if err != nil {
		return nil, err
	}
	speed, err := optionalNumber(args, "speed")
	if err != nil {
		return nil, err
	}
	if v, given := args["speed"]; given && v != nil && speed == 0 {
		return nil, invalidArgument("speed 0 out of range [%g, %g]", speech.MinSpeed, speech.MaxSpeed)
	}
	format, err := optionalString(args, "format")
	if err != nil {
		return nil, err
	}

	req, err := speech.NewRequest(text, voice, model, speed, format)
	if err != nil {
		return nil, err
	}

	audio, err := d.synth.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}

	saved, err := d.store.Save(audio, req.Text, req.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to save audio: %w", err)
	}

	log.Info().
		Str("file", saved.Name).
		Str("voice", req.Voice).
		Str("model", req.Model).
		Int64("bytes", saved.Size).
		Msg("Speech synthesized")

	summary := SynthesisSummary{
		Text:     req.Text,
		Voice:    req.Voice,
		Model:    req.Model,
		Speed:    req.Speed,
		Format:   req.Format,
		Filename: saved.Name,
		SizeKB:   saved.SizeKB(),
		URL:      d.publicPrefix + saved.Name,
	}
	return mcp.NewToolResultStructured(summary, summary.String()), nil
}

func (d *Dispatcher) listArtifacts(_ context.Context, _ map[string]any) (*mcp.CallToolResult, error) {
	artifacts, err := d.store.List()
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return mcp.NewToolResultText(noFilesMessage), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Audio files (%d):", len(artifacts))
	for _, a := range artifacts {
		fmt.Fprintf(&b, "\n- %s (%.2f KB, created %s)", a.Name, a.SizeKB(), a.CreatedAt.UTC().Format(time.RFC3339))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (d *Dispatcher) deleteArtifact(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	name, err := requiredString(args, "filename")
	if err != nil {
		return nil, err
	}
	if err := d.store.Delete(name); err != nil {
		return nil, err
	}

	log.Info().Str("file", name).Msg("Audio file deleted")
	return mcp.NewToolResultText(fmt.Sprintf("Deleted audio file: %s", name)), nil
}

func requiredString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", invalidArgument("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidArgument("%s must be a string, got %T", key, v)
	}
	if strings.TrimSpace(s) == "" {
		return "", invalidArgument("%s cannot be empty", key)
	}
	return s, nil
}

// optionalString returns "" when key is absent so that defaults apply.
func optionalString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidArgument("%s must be a string, got %T", key, v)
	}
	return s, nil
}

// optionalNumber returns 0 when key is absent so that defaults apply.
func optionalNumber(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, invalidArgument("%s must be a number", key)
		}
		return f, nil
	default:
		return 0, invalidArgument("%s must be a number, got %T", key, v)
	}
}

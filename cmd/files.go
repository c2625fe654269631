package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/urfave/cli/v3"

	"github.com/daikw/ttsbridge/internal/tool"
)

func handleSynth(ctx context.Context, c *cli.Command) error {
	text, err := synthText(c.Args().Slice(), os.Stdin)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	svc := newService(cfg, "")

	res := svc.dispatcher.Invoke(ctx, tool.NameSynthesize, map[string]any{
		"text":   text,
		"voice":  c.String("voice"),
		"model":  c.String("model"),
		"speed":  c.Float("speed"),
		"format": c.String("format"),
	})
	if err := resultError(res); err != nil {
		return err
	}

	summary, ok := res.StructuredContent.(tool.SynthesisSummary)
	if !ok {
		fmt.Println(resultText(res))
		return nil
	}

	color.Green("Saved %s", summary.Filename)
	fmt.Printf("  voice=%s model=%s speed=%.2f format=%s size=%.2f KB\n",
		summary.Voice, summary.Model, summary.Speed, summary.Format, summary.SizeKB)
	return nil
}

// synthText joins the arguments, or reads stdin when there are none or the
// only argument is "-". The line ending of piped input is dropped.
func synthText(args []string, stdin io.Reader) (string, error) {
	text := strings.Join(args, " ")
	if text != "" && text != "-" {
		return text, nil
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func handleFiles(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	svc := newService(cfg, "")

	artifacts, err := svc.store.List()
	if err != nil {
		return err
	}
	if len(artifacts) == 0 {
		fmt.Println("No audio files found.")
		return nil
	}

	name := color.New(color.FgCyan).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()
	for _, a := range artifacts {
		fmt.Printf("%s  %8s  %s\n", name(a.Name), humanize.IBytes(uint64(a.Size)), faint(humanize.Time(a.CreatedAt)))
	}
	fmt.Printf("\n%d file(s) in %s\n", len(artifacts), svc.store.Dir())
	return nil
}

func handleRemove(ctx context.Context, c *cli.Command) error {
	filename := c.Args().Get(0)
	if filename == "" {
		return fmt.Errorf("filename is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	svc := newService(cfg, "")

	res := svc.dispatcher.Invoke(ctx, tool.NameDeleteArtifact, map[string]any{"filename": filename})
	if err := resultError(res); err != nil {
		return err
	}

	color.Yellow("%s", resultText(res))
	return nil
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		if text, ok := content.(mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func resultError(res *mcp.CallToolResult) error {
	if !res.IsError {
		return nil
	}
	return errors.New(resultText(res))
}

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/arcaelas/mcp/internal/orchestrator"
)

// BackgroundRemover removes the background of an image. The service may
// return several variants; each is stored as <stem>_nobg_<n>.png.
type BackgroundRemover struct {
	job imageJob
}

func NewBackgroundRemover(backend JobBackend, sinks SinkFactory, settings Settings) *BackgroundRemover {
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 30
	}
	return &BackgroundRemover{job: imageJob{
		tool:     "bgcleaner",
		backend:  backend,
		sinks:    sinks,
		settings: settings,
	}}
}

func (t *BackgroundRemover) Name() string { return t.job.tool }

func (t *BackgroundRemover) Description() string {
	return "Remove background from an image using AI. Produces a high-quality PNG with transparent background, " +
		"preserving fine details like hair and edges. Returns the folder path containing all processed images."
}

func (t *BackgroundRemover) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"image_path": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Absolute path to the source image file (PNG, JPG, WEBP supported)",
			},
		},
		"required": []string{"image_path"},
	}
}

// Call returns the output location followed by the stored file names.
func (t *BackgroundRemover) Call(ctx context.Context, args map[string]any, observe orchestrator.ProgressFunc) (*Result, error) {
	imagePath, err := stringArg(args, "image_path", "")
	if err != nil {
		return nil, err
	}
	stem := fileStem(imagePath)

	out, err := t.job.run(ctx, imagePath, nil, func(i int, _ string) string {
		return fmt.Sprintf("%s_nobg_%d.png", stem, i)
	}, observe)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(out.refs))
	for i, ref := range out.refs {
		names[i] = ref.Name
	}
	return &Result{
		Text:      out.dir + "\n\nFiles:\n" + strings.Join(names, "\n"),
		Location:  out.dir,
		Artifacts: out.refs,
	}, nil
}

var _ Tool = (*BackgroundRemover)(nil)

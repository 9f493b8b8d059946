package tools

import (
	"context"
	"fmt"
	"strconv"

	"github.com/arcaelas/mcp/internal/orchestrator"
)

const (
	ModelDiffuser = "diffuser"
	ModelPlus     = "plus"
	ModelGeneral  = "general"
)

// Upscaler enlarges an image with one of the service's models.
type Upscaler struct {
	job imageJob
}

func NewUpscaler(backend JobBackend, sinks SinkFactory, settings Settings) *Upscaler {
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 60
	}
	return &Upscaler{job: imageJob{
		tool:     "resize",
		backend:  backend,
		sinks:    sinks,
		settings: settings,
	}}
}

func (t *Upscaler) Name() string { return t.job.tool }

func (t *Upscaler) Description() string {
	return "Upscale an image using AI without losing quality. Supports 2x, 3x, or 4x scaling with different " +
		"models optimized for various image sizes. Returns the path to the upscaled image."
}

func (t *Upscaler) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"image_path": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Absolute path to the source image file",
			},
			"scale": map[string]any{
				"type":        "integer",
				"enum":        []int{1, 2, 3, 4},
				"default":     2,
				"description": "Scale factor: 2, 3, or 4 (default: 2)",
			},
			"model": map[string]any{
				"type":        "string",
				"enum":        []string{ModelDiffuser, ModelPlus, ModelGeneral},
				"default":     ModelPlus,
				"description": "Model: diffuser (small images, creative), plus (medium/large), general (very large)",
			},
			"face_enhance": map[string]any{
				"type":        "boolean",
				"default":     false,
				"description": "Enhance faces in the image (only for plus/general models)",
			},
		},
		"required": []string{"image_path"},
	}
}

// Call returns the path of the first upscaled image.
func (t *Upscaler) Call(ctx context.Context, args map[string]any, observe orchestrator.ProgressFunc) (*Result, error) {
	imagePath, err := stringArg(args, "image_path", "")
	if err != nil {
		return nil, err
	}
	scale, err := intArg(args, "scale", 2)
	if err != nil {
		return nil, err
	}
	if scale < 1 || scale > 4 {
		return nil, fmt.Errorf("%w: scale must be between 1 and 4, got %d", ErrInvalidArguments, scale)
	}
	model, err := stringArg(args, "model", ModelPlus)
	if err != nil {
		return nil, err
	}
	faceEnhance, err := boolArg(args, "face_enhance")
	if err != nil {
		return nil, err
	}

	fields, err := upscaleFields(scale, model, faceEnhance)
	if err != nil {
		return nil, err
	}

	stem := fileStem(imagePath)
	out, err := t.job.run(ctx, imagePath, fields, func(i int, _ string) string {
		if i == 0 {
			return fmt.Sprintf("%s_%dx.png", stem, scale)
		}
		return fmt.Sprintf("%s_%dx_%d.png", stem, scale, i)
	}, observe)
	if err != nil {
		return nil, err
	}

	return &Result{
		Text:      out.refs[0].Location,
		Location:  out.dir,
		Artifacts: out.refs,
	}, nil
}

// upscaleFields builds the form fields for an upscaling upload. The face
// enhancement flag is only understood by the plus and general models.
func upscaleFields(scale int, model string, faceEnhance bool) (map[string]string, error) {
	fields := map[string]string{
		"scale": strconv.Itoa(scale),
		"model": model,
	}
	switch model {
	case ModelPlus, ModelGeneral:
		if faceEnhance {
			fields["fx"] = ""
		}
	case ModelDiffuser:
		fields["prompt"] = ""
		fields["creativity"] = "0.1"
	default:
		return nil, fmt.Errorf("%w: unknown model %q", ErrInvalidArguments, model)
	}
	return fields, nil
}

var _ Tool = (*Upscaler)(nil)

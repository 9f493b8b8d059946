package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/arcaelas/mcp/internal/config"
	"github.com/arcaelas/mcp/internal/orchestrator"
	"github.com/arcaelas/mcp/internal/storage"
)

// JobBackend is the remote service a tool submits its job to.
type JobBackend interface {
	orchestrator.Submitter
	orchestrator.StatusProvider
	orchestrator.Fetcher
}

// SinkFactory creates the sink that stores one job's artifacts.
type SinkFactory interface {
	New(prefix string) storage.Sink
}

// Settings tunes the job a tool runs.
type Settings struct {
	MaxAttempts  int
	PollInterval time.Duration
	Jitter       time.Duration
	CallTimeout  time.Duration
	Keys         KeyStrategy
	// InputDir is the only directory source images are read from.
	InputDir string
	Logger   *slog.Logger
}

// SettingsFromConfig returns the settings shared by every tool. Callers set
// MaxAttempts per tool.
func SettingsFromConfig(cfg config.UpscalingConfig) (Settings, error) {
	keys, err := ParseKeyStrategy(cfg.KeyStrategy)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		PollInterval: cfg.PollInterval,
		Jitter:       cfg.PollJitter,
		CallTimeout:  cfg.CallTimeout,
		Keys:         keys,
		InputDir:     cfg.InputDir,
	}, nil
}

// imageJob uploads one source image and collects its results.
type imageJob struct {
	tool     string
	backend  JobBackend
	sinks    SinkFactory
	settings Settings
}

type jobOutput struct {
	dir  string
	refs []orchestrator.ArtifactRef
}

func (j *imageJob) run(ctx context.Context, imagePath string, fields map[string]string, name orchestrator.NameFunc, observe orchestrator.ProgressFunc) (*jobOutput, error) {
	if imagePath == "" {
		return nil, fmt.Errorf("%w: image_path is required", ErrInvalidArguments)
	}
	path, err := resolveInput(j.settings.InputDir, imagePath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading image: %v", ErrInvalidArguments, err)
	}

	key, filename := j.settings.Keys.derive(imagePath)
	if key == "" {
		return nil, fmt.Errorf("%w: image file name has no stem", ErrInvalidArguments)
	}

	logger := j.settings.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("tool", j.tool)

	sink := j.sinks.New(j.tool)
	opts := orchestrator.Options{
		MaxAttempts:  j.settings.MaxAttempts,
		PollInterval: j.settings.PollInterval,
		CallTimeout:  j.settings.CallTimeout,
		Jitter:       j.settings.Jitter,
		Name:         name,
		Logger:       logger,
	}
	if observe != nil {
		opts.OnTransition = orchestrator.TransitionFunc(observe)
		opts.OnAttempt = func(job orchestrator.Job, _ error) { observe(job) }
	}
	o := orchestrator.New(j.backend, j.backend, j.backend, sink, opts)

	refs, err := o.Run(ctx, orchestrator.Payload{
		Filename: filename,
		Data:     data,
		Fields:   fields,
	}, key)
	if err != nil {
		return nil, err
	}
	return &jobOutput{dir: sink.Dir(), refs: refs}, nil
}

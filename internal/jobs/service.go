// Package jobs runs tool calls either inline or as tracked background jobs
// whose progress is written to the store and mirrored in the cache.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arcaelas/mcp/internal/cache"
	"github.com/arcaelas/mcp/internal/orchestrator"
	"github.com/arcaelas/mcp/internal/store"
	"github.com/arcaelas/mcp/internal/tools"
	"github.com/arcaelas/mcp/pkg/models"
	"github.com/google/uuid"
)

var ErrShuttingDown = errors.New("job service is shutting down")

const (
	defaultCacheTTL     = 24 * time.Hour
	defaultWriteTimeout = 5 * time.Second

	// interruptedKind marks jobs that were still running when the process
	// that owned them stopped.
	interruptedKind = "interrupted"
)

// Runner validates and runs named tools.
type Runner interface {
	Validate(name string, args map[string]any) error
	Call(ctx context.Context, name string, args map[string]any, observe orchestrator.ProgressFunc) (*tools.Result, error)
}

type Option func(*Service)

// WithCacheTTL sets how long job snapshots stay cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.cacheTTL = ttl }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service tracks async tool calls.
type Service struct {
	store    store.Store
	cache    cache.Cache
	runner   Runner
	cacheTTL time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(st store.Store, c cache.Cache, runner Runner, opts ...Option) *Service {
	base, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:    st,
		cache:    c,
		runner:   runner,
		cacheTTL: defaultCacheTTL,
		logger:   slog.Default(),
		base:     base,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Call runs a tool inline and returns its result.
func (s *Service) Call(ctx context.Context, tool string, args map[string]any) (*tools.Result, error) {
	return s.runner.Call(ctx, tool, args, nil)
}

// Submit records a queued job and runs it in the background. The returned
// job is the initial snapshot; poll Get for progress.
func (s *Service) Submit(ctx context.Context, tool string, args map[string]any) (*models.Job, error) {
	if err := s.runner.Validate(tool, args); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		Tool:      tool,
		State:     models.JobStateQueued,
		Arguments: args,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	if err := s.store.CreateJob(ctx, job); err != nil {
		s.wg.Done()
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.cacheJob(ctx, job)

	snapshot := *job
	go s.run(job)

	s.logger.Info("job queued", "job_id", job.ID, "tool", tool)
	return &snapshot, nil
}

// Get returns the latest known state of a job, from the cache when present.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if job, found, err := s.cache.GetJob(ctx, id); err != nil {
		s.logger.Warn("job cache read failed", "job_id", id, "error", err)
	} else if found {
		return job, nil
	}

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJob(ctx, job)
	return job, nil
}

// List returns stored jobs matching filter, newest first.
func (s *Service) List(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	return s.store.ListJobs(ctx, filter)
}

// Recover fails every job a previous process left unfinished and drops
// their cached snapshots. Call it once at startup, before Submit.
func (s *Service) Recover(ctx context.Context) (int, error) {
	ids, err := s.store.FailUnfinishedJobs(ctx, interruptedKind, "the server stopped before the job finished")
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.cache.DeleteJob(ctx, id); err != nil {
			s.logger.Warn("job cache evict failed", "job_id", id, "error", err)
		}
	}
	if len(ids) > 0 {
		s.logger.Warn("unfinished jobs marked failed", "count", len(ids))
	}
	return len(ids), nil
}

// Close cancels running jobs and waits for them to record their final
// state, or until ctx is done.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run(job *models.Job) {
	defer s.wg.Done()
	log := s.logger.With("job_id", job.ID, "tool", job.Tool)

	var last orchestrator.Job
	observe := func(j orchestrator.Job) {
		last = j
		// Terminal states are written once the call returns, together
		// with its artifacts or error.
		if j.State.Terminal() {
			return
		}
		if string(j.State) == job.State {
			s.recordAttempts(log, job, j.Attempts)
			return
		}
		s.advance(log, job, string(j.State), progressOptions(job, j)...)
	}

	var (
		res *tools.Result
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				log.Error("job panicked", "panic", r)
			}
		}()
		res, err = s.runner.Call(s.base, job.Tool, job.Arguments, observe)
	}()

	if err != nil {
		kind := errorKind(err)
		s.advance(log, job, finalState(err), store.WithAttempts(last.Attempts), store.WithError(kind, err.Error()))
		log.Warn("job failed", "kind", kind, "error", err)
		return
	}

	s.advance(log, job, models.JobStateCompleted,
		store.WithAttempts(last.Attempts),
		store.WithArtifacts(toModelArtifacts(res.Artifacts)),
		store.WithResultText(res.Text),
	)
	log.Info("job completed", "artifacts", len(res.Artifacts))
}

// advance writes a state change to the store and refreshes the cached
// snapshot. Writes use their own deadline so a canceled job still records
// how it ended.
func (s *Service) advance(log *slog.Logger, job *models.Job, state string, opts ...store.JobUpdateOption) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()

	if err := s.store.UpdateJobState(ctx, job.ID, state, opts...); err != nil {
		log.Error("job state update failed", "from", job.State, "to", state, "error", err)
		return
	}

	applyOptions(job, state, opts)
	s.cacheJob(ctx, job)
}

// recordAttempts stores the poll count of a job that is still polling.
func (s *Service) recordAttempts(log *slog.Logger, job *models.Job, attempts int) {
	if attempts == job.Attempts {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()

	if err := s.store.UpdateJobAttempts(ctx, job.ID, attempts); err != nil {
		log.Warn("job attempts update failed", "attempts", attempts, "error", err)
		return
	}
	job.Attempts = attempts
	job.UpdatedAt = time.Now().UTC()
	s.cacheJob(ctx, job)
}

func (s *Service) cacheJob(ctx context.Context, job *models.Job) {
	if err := s.cache.SetJob(ctx, job, s.cacheTTL); err != nil {
		s.logger.Warn("job cache write failed", "job_id", job.ID, "error", err)
	}
}

func progressOptions(job *models.Job, j orchestrator.Job) []store.JobUpdateOption {
	opts := []store.JobUpdateOption{store.WithAttempts(j.Attempts)}
	if job.CorrelationKey == nil && j.CorrelationKey != "" {
		opts = append(opts, store.WithCorrelationKey(j.CorrelationKey))
	}
	if job.SubmittedAt == nil && !j.SubmittedAt.IsZero() {
		opts = append(opts, store.WithSubmittedAt(j.SubmittedAt))
	}
	return opts
}

func finalState(err error) string {
	if errors.Is(err, orchestrator.ErrTimeout) {
		return models.JobStateTimedOut
	}
	return models.JobStateFailed
}

// errorKind returns the stable failure code recorded with a failed job.
func errorKind(err error) string {
	if kind := orchestrator.Kind(err); kind != "" {
		return kind
	}
	switch {
	case errors.Is(err, tools.ErrInvalidArguments):
		return "invalid_arguments"
	case errors.Is(err, tools.ErrToolNotFound):
		return "tool_not_found"
	default:
		return "internal"
	}
}

func toModelArtifacts(refs []orchestrator.ArtifactRef) []models.Artifact {
	out := make([]models.Artifact, len(refs))
	for i, r := range refs {
		out[i] = models.Artifact{
			Identifier: r.Identifier,
			Name:       r.Name,
			Location:   r.Location,
			Size:       r.Size,
		}
	}
	return out
}

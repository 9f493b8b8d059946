// Package orchestrator drives one remote job through submit, poll and
// download against a service that reports every job it holds through a
// single shared status endpoint. The correlation key is the only thing that
// separates one job's results from another's.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lthibault/jitterbug/v2"
)

const (
	DefaultMaxAttempts  = 30
	DefaultPollInterval = 2 * time.Second

	minPollDelay = time.Millisecond
)

// Options configures a single run. MaxAttempts × PollInterval bounds the
// total wait for completion; CallTimeout bounds each remote call.
type Options struct {
	MaxAttempts  int
	PollInterval time.Duration
	CallTimeout  time.Duration
	// Jitter is the standard deviation applied to each poll interval.
	Jitter       time.Duration
	Matcher      Matcher
	Name         NameFunc
	Logger       *slog.Logger
	OnTransition TransitionFunc
	// OnAttempt is called after every status poll, successful or not.
	OnAttempt AttemptFunc
}

// Orchestrator runs exactly one job. Create a new one per job.
type Orchestrator struct {
	submitter Submitter
	status    StatusProvider
	fetcher   Fetcher
	sink      Sink
	opts      Options

	jitter jitterbug.Norm
	used   atomic.Bool

	mu  sync.Mutex
	job Job
}

// New creates an Orchestrator over the given collaborators.
func New(sub Submitter, st StatusProvider, f Fetcher, sink Sink, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Jitter < 0 {
		opts.Jitter = 0
	}
	if opts.Matcher == nil {
		opts.Matcher = SubstringMatcher
	}
	if opts.Name == nil {
		opts.Name = defaultName
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		submitter: sub,
		status:    st,
		fetcher:   f,
		sink:      sink,
		opts:      opts,
		jitter:    jitterbug.Norm{Stdev: opts.Jitter},
	}
}

// Job returns a copy of the job's current state. It is safe to call while
// Run is in progress.
func (o *Orchestrator) Job() Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.job
}

func (o *Orchestrator) update(fn func(*Job)) {
	o.mu.Lock()
	fn(&o.job)
	o.mu.Unlock()
}

// Run submits payload, waits for the job identified by key to complete and
// persists every result. It returns the storage references in download
// order, or an *Error whose Kind tells why the job produced nothing.
func (o *Orchestrator) Run(ctx context.Context, payload Payload, key string) ([]ArtifactRef, error) {
	if !o.used.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}
	if key == "" {
		return nil, ErrEmptyKey
	}
	o.update(func(j *Job) { j.CorrelationKey = key })
	log := o.opts.Logger.With("correlation_key", key)

	if err := o.submit(ctx, payload); err != nil {
		if ctx.Err() != nil {
			return nil, o.fail(log, ErrCanceled, 0, ctx.Err())
		}
		return nil, o.fail(log, ErrSubmissionFailed, 0, err)
	}
	submittedAt := time.Now().UTC()
	o.update(func(j *Job) { j.SubmittedAt = submittedAt })
	o.transition(StateSubmitted)
	log.Info("job submitted", "filename", payload.Filename)

	matching, attempts, err := o.poll(ctx, log, key)
	if err != nil {
		return nil, err
	}
	return o.collect(ctx, log, matching, attempts)
}

func (o *Orchestrator) submit(ctx context.Context, payload Payload) error {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	return o.submitter.Submit(callCtx, payload)
}

// poll sleeps one interval before every attempt and returns the processed
// identifiers of the job once none of its identifiers is still processing.
// The interval is measured from the end of the previous poll.
func (o *Orchestrator) poll(ctx context.Context, log *slog.Logger, key string) ([]string, int, error) {
	o.transition(StatePolling)

	timer := time.NewTimer(o.pollDelay())
	defer timer.Stop()

	var lastErr error
	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			timer.Reset(o.pollDelay())
		}
		select {
		case <-ctx.Done():
			return nil, attempt - 1, o.fail(log, ErrCanceled, attempt-1, ctx.Err())
		case <-timer.C:
		}
		o.update(func(j *Job) { j.Attempts = attempt })

		snap, err := o.snapshot(ctx)
		if ctx.Err() != nil {
			return nil, attempt, o.fail(log, ErrCanceled, attempt, ctx.Err())
		}
		o.attempted(err)
		if err != nil {
			lastErr = err
			log.Warn("status poll failed", "attempt", attempt, "error", err)
			continue
		}

		matching, busy := snap.match(key, o.opts.Matcher)
		if len(matching) > 0 && !busy {
			log.Info("job processed", "attempt", attempt, "results", len(matching))
			return matching, attempt, nil
		}
		log.Debug("job not ready", "attempt", attempt, "processed", len(matching), "busy", busy)
	}

	return nil, o.opts.MaxAttempts, o.fail(log, ErrTimeout, o.opts.MaxAttempts, lastErr)
}

// pollDelay returns the next wait, never shorter than minPollDelay.
func (o *Orchestrator) pollDelay() time.Duration {
	return max(o.jitter.Jitter(o.opts.PollInterval), minPollDelay)
}

func (o *Orchestrator) attempted(err error) {
	if o.opts.OnAttempt != nil {
		o.opts.OnAttempt(o.Job(), err)
	}
}

func (o *Orchestrator) snapshot(ctx context.Context) (StatusSnapshot, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	return o.status.Status(callCtx)
}

// collect fetches and persists every matching identifier. Individual
// failures are skipped; the run fails only when nothing was persisted.
func (o *Orchestrator) collect(ctx context.Context, log *slog.Logger, ids []string, attempts int) ([]ArtifactRef, error) {
	refs := make([]ArtifactRef, 0, len(ids))
	var lastErr error

	for _, id := range ids {
		if ctx.Err() != nil {
			return nil, o.fail(log, ErrCanceled, attempts, ctx.Err())
		}

		data, err := o.fetch(ctx, id)
		if ctx.Err() != nil {
			return nil, o.fail(log, ErrCanceled, attempts, ctx.Err())
		}
		if err != nil {
			lastErr = err
			log.Warn("result download failed, skipping", "identifier", id, "error", err)
			continue
		}

		name := o.opts.Name(len(refs), id)
		location, err := o.persist(ctx, data, name)
		if ctx.Err() != nil {
			return nil, o.fail(log, ErrCanceled, attempts, ctx.Err())
		}
		if err != nil {
			lastErr = fmt.Errorf("%w: %s: %v", ErrPersistFailed, name, err)
			log.Warn("result persist failed, skipping", "identifier", id, "name", name, "error", err)
			continue
		}

		refs = append(refs, ArtifactRef{
			Identifier: id,
			Name:       name,
			Location:   location,
			Size:       len(data),
		})
	}

	if len(refs) == 0 {
		return nil, o.fail(log, ErrDownloadFailed, attempts, lastErr)
	}

	o.transition(StateCompleted)
	log.Info("job completed", "artifacts", len(refs), "attempts", attempts)
	return refs, nil
}

func (o *Orchestrator) fetch(ctx context.Context, id string) ([]byte, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	return o.fetcher.Fetch(callCtx, id)
}

func (o *Orchestrator) persist(ctx context.Context, data []byte, name string) (string, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	return o.sink.Persist(callCtx, data, name)
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.opts.CallTimeout)
}

func (o *Orchestrator) fail(log *slog.Logger, kind error, attempts int, cause error) error {
	if kind == ErrTimeout {
		o.transition(StateTimedOut)
	} else {
		o.transition(StateFailed)
	}
	err := &Error{Kind: kind, Key: o.Job().CorrelationKey, Attempts: attempts, Err: cause}
	log.Error("job failed", "kind", Kind(err), "attempts", attempts, "error", err)
	return err
}

// transition moves the job forward. Backward or repeated moves, and any move
// out of a terminal state, are ignored.
func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	if o.job.State.Terminal() || to.rank() <= o.job.State.rank() {
		o.mu.Unlock()
		return
	}
	o.job.State = to
	job := o.job
	o.mu.Unlock()

	if o.opts.OnTransition != nil {
		o.opts.OnTransition(job)
	}
}

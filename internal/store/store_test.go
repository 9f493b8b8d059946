package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/arcaelas/mcp/internal/store"
	"github.com/arcaelas/mcp/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mcp_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)
	// A second run finds nothing to apply.
	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newQueuedJob(t *testing.T, s store.Store, tool string) *models.Job {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	job := &models.Job{
		ID:        uuid.New(),
		Tool:      tool,
		State:     models.JobStateQueued,
		Arguments: map[string]any{"image_path": "/tmp/photo1.png"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "mcp_abcd",
		Scopes:    []string{models.ScopeTools, models.ScopeJobs},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.CreateAPIKey(ctx, key)
	require.NoError(t, err)

	keys, err := s.GetAPIKeyByPrefix(ctx, "mcp_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, "test-key", keys[0].Name)
	assert.Equal(t, []string{"tools", "jobs"}, keys[0].Scopes)
}

func TestAPIKey_List(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i := 0; i < 3; i++ {
		err := s.CreateAPIKey(ctx, &models.APIKey{
			ID:        uuid.New(),
			Name:      "key-" + uuid.NewString()[:4],
			KeyHash:   "hash-" + uuid.NewString()[:4],
			KeyPrefix: "mcp_" + uuid.NewString()[:4],
			Scopes:    []string{models.ScopeTools},
			CreatedAt: now,
			UpdatedAt: now,
		})
		require.NoError(t, err)
	}

	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestAPIKey_Revoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "revoke-me",
		KeyHash:   "hash",
		KeyPrefix: "mcp_revk",
		Scopes:    []string{models.ScopeTools},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	err := s.RevokeAPIKey(ctx, key.ID)
	require.NoError(t, err)

	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = s.GetAPIKeyByPrefix(ctx, "mcp_revk")
	require.NoError(t, err)
	assert.Empty(t, keys)

	// revoking twice finds nothing
	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID), store.ErrNotFound)
}

func TestAPIKey_UpdateLastUsed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID: uuid.New(), Name: "usage-key", KeyHash: "hash", KeyPrefix: "mcp_used",
		Scopes: []string{models.ScopeTools}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))

	keys, err := s.GetAPIKeyByPrefix(ctx, "mcp_used")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}

func TestAPIKey_DuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	id := uuid.New()
	require.NoError(t, s.CreateAPIKey(ctx, &models.APIKey{
		ID: id, Name: "dup1", KeyHash: "h1", KeyPrefix: "mcp_dup1",
		Scopes: []string{"tools"}, CreatedAt: now, UpdatedAt: now,
	}))

	err := s.CreateAPIKey(ctx, &models.APIKey{
		ID: id, Name: "dup2", KeyHash: "h2", KeyPrefix: "mcp_dup2",
		Scopes: []string{"tools"}, CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestAPIKey_DuplicateActiveName(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := &models.APIKey{
		ID: uuid.New(), Name: "ci-runner", KeyHash: "h1", KeyPrefix: "mcp_ci01",
		Scopes: []string{"jobs"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, first))

	err := s.CreateAPIKey(ctx, &models.APIKey{
		ID: uuid.New(), Name: "ci-runner", KeyHash: "h2", KeyPrefix: "mcp_ci02",
		Scopes: []string{"jobs"}, CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	// A revoked key frees its name.
	require.NoError(t, s.RevokeAPIKey(ctx, first.ID))
	assert.NoError(t, s.CreateAPIKey(ctx, &models.APIKey{
		ID: uuid.New(), Name: "ci-runner", KeyHash: "h3", KeyPrefix: "mcp_ci03",
		Scopes: []string{"jobs"}, CreatedAt: now, UpdatedAt: now,
	}))
}

// --- Job Tests ---

func TestJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	job := newQueuedJob(t, s, "bgcleaner")

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "bgcleaner", got.Tool)
	assert.Equal(t, models.JobStateQueued, got.State)
	assert.Equal(t, "/tmp/photo1.png", got.Arguments["image_path"])
	assert.Nil(t, got.CorrelationKey)
	assert.Empty(t, got.Artifacts)
}

func TestJob_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_FullLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	job := newQueuedJob(t, s, "resize")
	submittedAt := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, s.UpdateJobState(ctx, job.ID, models.JobStateSubmitted,
		store.WithCorrelationKey("photo1-abc"), store.WithSubmittedAt(submittedAt)))
	require.NoError(t, s.UpdateJobState(ctx, job.ID, models.JobStatePolling))

	artifacts := []models.Artifact{{Identifier: "https://x/photo1-abc_0.png", Name: "photo1_2x.png", Location: "/out/photo1_2x.png", Size: 42}}
	require.NoError(t, s.UpdateJobState(ctx, job.ID, models.JobStateCompleted,
		store.WithAttempts(3), store.WithArtifacts(artifacts), store.WithResultText("/out/photo1_2x.png")))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, got.State)
	require.NotNil(t, got.CorrelationKey)
	assert.Equal(t, "photo1-abc", *got.CorrelationKey)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, artifacts, got.Artifacts)
	require.NotNil(t, got.ResultText)
	assert.Equal(t, "/out/photo1_2x.png", *got.ResultText)
	require.NotNil(t, got.SubmittedAt)
	assert.True(t, submittedAt.Equal(*got.SubmittedAt))
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.ErrorKind)
}

func TestJob_FailureRecordsError(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	job := newQueuedJob(t, s, "bgcleaner")

	require.NoError(t, s.UpdateJobState(ctx, job.ID, models.JobStateSubmitted))
	require.NoError(t, s.UpdateJobState(ctx, job.ID, models.JobStatePolling))
	require.NoError(t, s.UpdateJobState(ctx, job.ID, models.JobStateTimedOut,
		store.WithAttempts(30), store.WithError("timeout", "job timed out after 30 attempts")))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateTimedOut, got.State)
	require.NotNil(t, got.ErrorKind)
	assert.Equal(t, "timeout", *got.ErrorKind)
	assert.Equal(t, 30, got.Attempts)
}

func TestJob_TerminalStateIsFinal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	job := newQueuedJob(t, s, "bgcleaner")

	require.NoError(t, s.UpdateJobState(ctx, job.ID, models.JobStateFailed,
		store.WithError("submission_failed", "upload status 402")))

	err := s.UpdateJobState(ctx, job.ID, models.JobStatePolling)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	err = s.UpdateJobState(ctx, job.ID, models.JobStateCompleted)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, got.State)
}

func TestJob_BackwardTransitionRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	job := newQueuedJob(t, s, "resize")

	require.NoError(t, s.UpdateJobState(ctx, job.ID, models.JobStateSubmitted))
	require.NoError(t, s.UpdateJobState(ctx, job.ID, models.JobStatePolling))

	err := s.UpdateJobState(ctx, job.ID, models.JobStateSubmitted)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestJob_UpdateAttemptsWhilePolling(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	job := newQueuedJob(t, s, "resize")

	err := s.UpdateJobAttempts(ctx, job.ID, 1)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	require.NoError(t, s.UpdateJobState(ctx, job.ID, models.JobStateSubmitted))
	require.NoError(t, s.UpdateJobState(ctx, job.ID, models.JobStatePolling))
	require.NoError(t, s.UpdateJobAttempts(ctx, job.ID, 1))
	require.NoError(t, s.UpdateJobAttempts(ctx, job.ID, 2))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatePolling, got.State)
	assert.Equal(t, 2, got.Attempts)

	require.NoError(t, s.UpdateJobState(ctx, job.ID, models.JobStateTimedOut, store.WithAttempts(2)))
	err = s.UpdateJobAttempts(ctx, job.ID, 3)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	err = s.UpdateJobAttempts(ctx, uuid.New(), 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_FailUnfinishedJobs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	queued := newQueuedJob(t, s, "resize")
	polling := newQueuedJob(t, s, "bgcleaner")
	require.NoError(t, s.UpdateJobState(ctx, polling.ID, models.JobStateSubmitted))
	require.NoError(t, s.UpdateJobState(ctx, polling.ID, models.JobStatePolling))
	done := newQueuedJob(t, s, "resize")
	require.NoError(t, s.UpdateJobState(ctx, done.ID, models.JobStateFailed, store.WithError("submission_failed", "status 402")))

	ids, err := s.FailUnfinishedJobs(ctx, "interrupted", "server restarted")
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{queued.ID, polling.ID}, ids)

	got, err := s.GetJob(ctx, polling.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, got.State)
	require.NotNil(t, got.ErrorKind)
	assert.Equal(t, "interrupted", *got.ErrorKind)
	assert.NotNil(t, got.CompletedAt)

	got, err = s.GetJob(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, "submission_failed", *got.ErrorKind)

	ids, err = s.FailUnfinishedJobs(ctx, "interrupted", "server restarted")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestJob_UpdateNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.UpdateJobState(context.Background(), uuid.New(), models.JobStateSubmitted)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_ListWithFilters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		newQueuedJob(t, s, "bgcleaner")
	}
	resized := newQueuedJob(t, s, "resize")
	require.NoError(t, s.UpdateJobState(ctx, resized.ID, models.JobStateSubmitted))

	jobs, total, err := s.ListJobs(ctx, store.JobFilter{Tool: "bgcleaner", Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, jobs, 2)

	jobs, total, err = s.ListJobs(ctx, store.JobFilter{State: models.JobStateSubmitted})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, resized.ID, jobs[0].ID)

	_, total, err = s.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/arcaelas/mcp/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job state transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	UpdateJobState(ctx context.Context, id uuid.UUID, state string, opts ...JobUpdateOption) error
	UpdateJobAttempts(ctx context.Context, id uuid.UUID, attempts int) error
	FailUnfinishedJobs(ctx context.Context, kind, msg string) ([]uuid.UUID, error)
}

type JobFilter struct {
	Tool  string
	State string
	Page  int
	Limit int
}

// JobUpdate holds the optional columns written with a state change.
type JobUpdate struct {
	CorrelationKey *string
	SubmittedAt    *time.Time
	Attempts       *int
	Artifacts      []models.Artifact
	ResultText     *string
	ErrorKind      *string
	ErrorMessage   *string
}

type JobUpdateOption func(*JobUpdate)

func WithCorrelationKey(key string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.CorrelationKey = &key
	}
}

func WithSubmittedAt(t time.Time) JobUpdateOption {
	return func(p *JobUpdate) {
		p.SubmittedAt = &t
	}
}

func WithAttempts(n int) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Attempts = &n
	}
}

func WithArtifacts(artifacts []models.Artifact) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Artifacts = artifacts
	}
}

func WithResultText(text string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ResultText = &text
	}
}

// WithError records why the job failed. kind is a stable failure code.
func WithError(kind, msg string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorKind = &kind
		p.ErrorMessage = &msg
	}
}

// ResolveJobUpdate applies opts to an empty JobUpdate.
func ResolveJobUpdate(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

package jobs

import (
	"time"

	"github.com/arcaelas/mcp/internal/store"
	"github.com/arcaelas/mcp/pkg/models"
)

// applyOptions mirrors a successful store update onto the in-memory job so
// the cached snapshot matches the row.
func applyOptions(job *models.Job, state string, opts []store.JobUpdateOption) {
	u := store.ResolveJobUpdate(opts...)
	now := time.Now().UTC()

	job.State = state
	job.UpdatedAt = now
	if models.IsTerminalJobState(state) {
		job.CompletedAt = &now
	}
	if u.CorrelationKey != nil {
		job.CorrelationKey = u.CorrelationKey
	}
	if u.SubmittedAt != nil {
		job.SubmittedAt = u.SubmittedAt
	}
	if u.Attempts != nil {
		job.Attempts = *u.Attempts
	}
	if u.Artifacts != nil {
		job.Artifacts = u.Artifacts
	}
	if u.ResultText != nil {
		job.ResultText = u.ResultText
	}
	if u.ErrorKind != nil {
		job.ErrorKind = u.ErrorKind
	}
	if u.ErrorMessage != nil {
		job.ErrorMessage = u.ErrorMessage
	}
}

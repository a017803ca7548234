package store

import (
	"context"
	"errors"

	"github.com/JakeFAU/docgen-gateway/internal/job"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("job record not found")

// HistoryRepository keeps one record per finished job and serves the
// read-only history API.
type HistoryRepository interface {
	// RecordJob stores (or replaces) the record for rec.JobID.
	RecordJob(ctx context.Context, rec job.Record) error
	// GetJob loads a single record or returns ErrNotFound.
	GetJob(ctx context.Context, jobID string) (job.Record, error)
	// ListJobs returns records newest first, optionally filtered by state.
	ListJobs(ctx context.Context, state *job.State, limit, offset int) ([]job.Record, error)
}

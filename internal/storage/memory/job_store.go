package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/docgen-gateway/internal/job"
	"github.com/JakeFAU/docgen-gateway/internal/store"
)

// JobStore keeps job records in memory for development and tests. History
// is lost on restart.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]job.Record
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]job.Record)}
}

// RecordJob stores rec, replacing any earlier record with the same ID.
func (s *JobStore) RecordJob(_ context.Context, rec job.Record) error {
	if rec.JobID == "" {
		return errors.New("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[rec.JobID] = rec
	return nil
}

// GetJob fetches a record by job ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (job.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return job.Record{}, store.ErrNotFound
	}
	return rec, nil
}

// ListJobs returns records ordered by start time, newest first.
func (s *JobStore) ListJobs(_ context.Context, state *job.State, limit, offset int) ([]job.Record, error) {
	s.mu.RLock()
	out := make([]job.Record, 0, len(s.jobs))
	for _, rec := range s.jobs {
		if state != nil && rec.State != *state {
			continue
		}
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset >= len(out) {
		return []job.Record{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

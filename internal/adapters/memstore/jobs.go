// Package memstore holds in-process stores used when Redis or Postgres are
// not configured.
package memstore

import (
	"context"
	"sync"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
)

type jobEntry struct {
	job     domain.AnalysisJob
	expires time.Time
}

// JobStore is a ResultStore backed by a map. Entries expire after ttl.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]jobEntry
	ttl  time.Duration
	now  func() time.Time
}

func NewJobStore(ttl time.Duration) *JobStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JobStore{jobs: make(map[string]jobEntry), ttl: ttl, now: time.Now}
}

// SaveJob stores a copy of job and sweeps expired entries.
func (s *JobStore) SaveJob(ctx context.Context, job *domain.AnalysisJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, e := range s.jobs {
		if now.After(e.expires) {
			delete(s.jobs, id)
		}
	}
	s.jobs[job.ID] = jobEntry{job: *job, expires: now.Add(s.ttl)}
	return nil
}

func (s *JobStore) GetJob(ctx context.Context, id string) (*domain.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok || s.now().After(e.expires) {
		return nil, ports.ErrJobNotFound
	}
	job := e.job
	return &job, nil
}

package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
)

// ErrQueueFull is returned when the analysis backlog is at capacity.
var ErrQueueFull = errors.New("analysis queue is full")

// analyzer is the part of Orchestrator the queue needs.
type analyzer interface {
	Analyze(ctx context.Context, targetURL string) (*domain.VideoInfo, []domain.OrderedFormat, error)
}

// AnalysisQueue runs info+ranking requests on a fixed worker pool and keeps
// the results in a ResultStore for polling.
type AnalysisQueue struct {
	analyzer   analyzer
	store      ports.ResultStore
	jobs       chan *domain.AnalysisJob
	workers    int
	jobTimeout time.Duration
	logger     zerolog.Logger
	wg         sync.WaitGroup
	detect     func(string) string
}

// NewAnalysisQueue creates a queue. detect maps a URL to a platform id.
func NewAnalysisQueue(a analyzer, store ports.ResultStore, detect func(string) string, workers, size int, jobTimeout time.Duration, logger zerolog.Logger) *AnalysisQueue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 100
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &AnalysisQueue{
		analyzer:   a,
		store:      store,
		jobs:       make(chan *domain.AnalysisJob, size),
		workers:    workers,
		jobTimeout: jobTimeout,
		logger:     logger.With().Str("component", "analysis_queue").Logger(),
		detect:     detect,
	}
}

// Start launches the workers. They exit when ctx is done.
func (q *AnalysisQueue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.logger.Info().Int("workers", q.workers).Int("capacity", cap(q.jobs)).Msg("analysis workers started")
}

// Wait blocks until all workers have exited.
func (q *AnalysisQueue) Wait() {
	q.wg.Wait()
}

// Submit stores a pending job and enqueues it without blocking.
func (q *AnalysisQueue) Submit(ctx context.Context, targetURL string) (*domain.AnalysisJob, error) {
	job := &domain.AnalysisJob{
		ID:        uuid.New().String(),
		URL:       targetURL,
		Platform:  q.detect(targetURL),
		Status:    domain.JobPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	// Workers own the queued copy; the caller keeps the pending snapshot.
	queued := *job
	select {
	case q.jobs <- &queued:
	default:
		job.Status = domain.JobFailed
		job.Error = ErrQueueFull.Error()
		_ = q.store.SaveJob(ctx, job)
		return nil, ErrQueueFull
	}
	q.logger.Info().Str("job_id", job.ID).Str("platform", job.Platform).Msg("analysis queued")
	return job, nil
}

// Get returns a job by id.
func (q *AnalysisQueue) Get(ctx context.Context, id string) (*domain.AnalysisJob, error) {
	return q.store.GetJob(ctx, id)
}

func (q *AnalysisQueue) worker(ctx context.Context, n int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.process(ctx, job, n)
		}
	}
}

func (q *AnalysisQueue) process(ctx context.Context, job *domain.AnalysisJob, worker int) {
	logger := q.logger.With().Str("job_id", job.ID).Int("worker", worker).Logger()
	job.Status = domain.JobProcessing
	if err := q.store.SaveJob(ctx, job); err != nil {
		logger.Warn().Err(err).Msg("failed to mark job processing")
	}

	jobCtx, cancel := context.WithTimeout(ctx, q.jobTimeout)
	info, formats, err := q.analyzer.Analyze(jobCtx, job.URL)
	cancel()

	done := time.Now().UTC()
	job.CompletedAt = &done
	if err != nil {
		job.Status = domain.JobFailed
		job.ErrorKind = domain.KindOf(err)
		job.Error = domain.MessageOf(err)
		logger.Warn().Err(err).Msg("analysis failed")
	} else {
		job.Status = domain.JobCompleted
		job.Info = info
		job.Formats = formats
		logger.Info().Int("formats", len(formats)).Msg("analysis completed")
	}
	if err := q.store.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		logger.Error().Err(err).Msg("failed to store analysis result")
	}
}

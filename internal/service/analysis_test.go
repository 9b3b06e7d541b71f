package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
)

type mapJobStore struct {
	mu   sync.Mutex
	jobs map[string]domain.AnalysisJob
}

func newMapJobStore() *mapJobStore {
	return &mapJobStore{jobs: map[string]domain.AnalysisJob{}}
}

func (s *mapJobStore) SaveJob(ctx context.Context, job *domain.AnalysisJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *mapJobStore) GetJob(ctx context.Context, id string) (*domain.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ports.ErrJobNotFound
	}
	return &job, nil
}

type analyzeFunc func(ctx context.Context, targetURL string) (*domain.VideoInfo, []domain.OrderedFormat, error)

func (f analyzeFunc) Analyze(ctx context.Context, targetURL string) (*domain.VideoInfo, []domain.OrderedFormat, error) {
	return f(ctx, targetURL)
}

func waitForJob(t *testing.T, q *AnalysisQueue, id string) *domain.AnalysisJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if job.Status == domain.JobCompleted || job.Status == domain.JobFailed {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return nil
}

func detectTest(string) string { return "youtube" }

func TestAnalysisQueueCompletes(t *testing.T) {
	a := analyzeFunc(func(ctx context.Context, targetURL string) (*domain.VideoInfo, []domain.OrderedFormat, error) {
		return &domain.VideoInfo{Title: "t"}, []domain.OrderedFormat{{Format: domain.Format{FormatID: "18"}, Quality: "360p (video + audio)", HasSound: true}}, nil
	})
	q := NewAnalysisQueue(a, newMapJobStore(), detectTest, 2, 4, time.Second, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	defer func() {
		cancel()
		q.Wait()
	}()

	job, err := q.Submit(context.Background(), "https://youtu.be/X")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if job.ID == "" || job.Platform != "youtube" || job.Status != domain.JobPending {
		t.Fatalf("job = %+v", job)
	}

	done := waitForJob(t, q, job.ID)
	if done.Status != domain.JobCompleted || done.Info.Title != "t" || len(done.Formats) != 1 || done.CompletedAt == nil {
		t.Fatalf("done = %+v", done)
	}
}

func TestAnalysisQueueRecordsFailure(t *testing.T) {
	a := analyzeFunc(func(ctx context.Context, targetURL string) (*domain.VideoInfo, []domain.OrderedFormat, error) {
		return nil, nil, &domain.ExtractionError{Kind: domain.KindUnavailable, Message: "gone"}
	})
	q := NewAnalysisQueue(a, newMapJobStore(), detectTest, 1, 4, time.Second, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	defer func() {
		cancel()
		q.Wait()
	}()

	job, err := q.Submit(context.Background(), "https://youtu.be/X")
	if err != nil {
		t.Fatal(err)
	}
	done := waitForJob(t, q, job.ID)
	if done.Status != domain.JobFailed || done.ErrorKind != domain.KindUnavailable || done.Error != "gone" {
		t.Fatalf("done = %+v", done)
	}
}

func TestAnalysisQueueFull(t *testing.T) {
	q := NewAnalysisQueue(analyzeFunc(nil), newMapJobStore(), detectTest, 1, 1, time.Second, zerolog.Nop())
	// Workers are not started, so the buffer fills.
	if _, err := q.Submit(context.Background(), "https://youtu.be/1"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Submit(context.Background(), "https://youtu.be/2"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit() error = %v, want ErrQueueFull", err)
	}
}

func TestAnalysisQueueJobTimeout(t *testing.T) {
	a := analyzeFunc(func(ctx context.Context, targetURL string) (*domain.VideoInfo, []domain.OrderedFormat, error) {
		<-ctx.Done()
		return nil, nil, &domain.ExtractionError{Kind: domain.KindTimeout, Message: "slow", Err: ctx.Err()}
	})
	q := NewAnalysisQueue(a, newMapJobStore(), detectTest, 1, 1, 50*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	defer func() {
		cancel()
		q.Wait()
	}()

	job, err := q.Submit(context.Background(), "https://youtu.be/X")
	if err != nil {
		t.Fatal(err)
	}
	if done := waitForJob(t, q, job.ID); done.ErrorKind != domain.KindTimeout {
		t.Fatalf("done = %+v", done)
	}
}

func TestAnalysisQueueGetUnknown(t *testing.T) {
	q := NewAnalysisQueue(analyzeFunc(nil), newMapJobStore(), detectTest, 1, 1, time.Second, zerolog.Nop())
	if _, err := q.Get(context.Background(), "nope"); !errors.Is(err, ports.ErrJobNotFound) {
		t.Fatalf("Get() error = %v", err)
	}
}

package memstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
)

func TestJobStoreRoundTrip(t *testing.T) {
	s := NewJobStore(time.Hour)
	job := &domain.AnalysisJob{ID: "j1", Status: domain.JobPending}
	if err := s.SaveJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	job.Status = domain.JobCompleted

	got, err := s.GetJob(context.Background(), "j1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != domain.JobPending {
		t.Fatalf("status = %s, want the stored snapshot", got.Status)
	}
}

func TestJobStoreExpiry(t *testing.T) {
	s := NewJobStore(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	_ = s.SaveJob(context.Background(), &domain.AnalysisJob{ID: "old"})

	now = now.Add(2 * time.Minute)
	if _, err := s.GetJob(context.Background(), "old"); !errors.Is(err, ports.ErrJobNotFound) {
		t.Fatalf("GetJob() error = %v, want ErrJobNotFound", err)
	}
	_ = s.SaveJob(context.Background(), &domain.AnalysisJob{ID: "new"})
	if len(s.jobs) != 1 {
		t.Fatalf("expired entries not swept: %d", len(s.jobs))
	}
}

func TestSessionLogRecent(t *testing.T) {
	l := NewSessionLog(3, zerolog.Nop())
	for i := 1; i <= 5; i++ {
		_ = l.Record(context.Background(), &domain.StreamSession{ID: fmt.Sprint(i)})
	}
	got, _ := l.Recent(context.Background(), 0)
	if len(got) != 3 || got[0].ID != "5" || got[2].ID != "3" {
		t.Fatalf("recent = %v", ids(got))
	}
	got, _ = l.Recent(context.Background(), 1)
	if len(got) != 1 || got[0].ID != "5" {
		t.Fatalf("recent(1) = %v", ids(got))
	}
}

func TestSessionLogPartial(t *testing.T) {
	l := NewSessionLog(10, zerolog.Nop())
	_ = l.Record(context.Background(), &domain.StreamSession{ID: "a"})
	_ = l.Record(context.Background(), &domain.StreamSession{ID: "b"})
	got, _ := l.Recent(context.Background(), 5)
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("recent = %v", ids(got))
	}
}

func ids(sessions []*domain.StreamSession) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}

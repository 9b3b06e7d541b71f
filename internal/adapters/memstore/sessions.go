package memstore

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"vidstream/internal/core/domain"
)

// SessionLog logs every finalized stream session and keeps the most recent
// ones in a ring for the admin API.
type SessionLog struct {
	mu     sync.Mutex
	ring   []*domain.StreamSession
	next   int
	full   bool
	logger zerolog.Logger
}

func NewSessionLog(capacity int, logger zerolog.Logger) *SessionLog {
	if capacity <= 0 {
		capacity = 200
	}
	return &SessionLog{
		ring:   make([]*domain.StreamSession, capacity),
		logger: logger.With().Str("component", "session_log").Logger(),
	}
}

func (l *SessionLog) Record(ctx context.Context, s *domain.StreamSession) error {
	cp := *s
	l.mu.Lock()
	l.ring[l.next] = &cp
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	l.logger.Info().
		Str("session_id", s.ID).
		Str("platform", s.Platform).
		Str("format_id", s.FormatID).
		Int64("bytes", s.BytesStreamed).
		Bool("success", s.Success).
		Str("error", s.ErrorReason).
		Msg("stream session recorded")
	return nil
}

// Recent returns up to limit sessions, newest first.
func (l *SessionLog) Recent(ctx context.Context, limit int) ([]*domain.StreamSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.next
	if l.full {
		n = len(l.ring)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*domain.StreamSession, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.ring)) % len(l.ring)
		cp := *l.ring[idx]
		out = append(out, &cp)
	}
	return out, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"vidstream/internal/core/domain"
)

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Record inserts a finalized session. Recording the same id twice keeps the first row.
func (r *SessionRepository) Record(ctx context.Context, s *domain.StreamSession) error {
	query := `
		INSERT INTO stream_sessions (id, url, format_id, platform, start_time, end_time, bytes_streamed, success, error_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.ExecContext(
		ctx,
		query,
		s.ID,
		s.URL,
		s.FormatID,
		s.Platform,
		s.StartTime,
		s.EndTime,
		s.BytesStreamed,
		s.Success,
		s.ErrorReason,
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", s.ID, err)
	}
	return nil
}

// Recent lists the latest sessions, newest first.
func (r *SessionRepository) Recent(ctx context.Context, limit int) ([]*domain.StreamSession, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, url, format_id, platform, start_time, end_time, bytes_streamed, success, error_reason
		FROM stream_sessions
		ORDER BY start_time DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.StreamSession
	for rows.Next() {
		var (
			s   domain.StreamSession
			end sql.NullTime
		)
		err := rows.Scan(
			&s.ID,
			&s.URL,
			&s.FormatID,
			&s.Platform,
			&s.StartTime,
			&end,
			&s.BytesStreamed,
			&s.Success,
			&s.ErrorReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if end.Valid {
			s.EndTime = &end.Time
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

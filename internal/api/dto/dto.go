package dto

import (
	"time"

	"vidstream/internal/core/domain"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// VideoRequest is the body of the info and analyze endpoints.
type VideoRequest struct {
	URL string `json:"url"`
}

type VideoInfoResponse struct {
	Info    *domain.VideoInfo      `json:"info"`
	Formats []domain.OrderedFormat `json:"formats"`
}

type AnalyzeAccepted struct {
	JobID     string           `json:"job_id"`
	Status    domain.JobStatus `json:"status"`
	StatusURL string           `json:"status_url"`
}

type RefreshRequest struct {
	Platform string `json:"platform,omitempty"`
}

type CookieServiceHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type SessionSummary struct {
	ID            string     `json:"id"`
	Platform      string     `json:"platform"`
	FormatID      string     `json:"format_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	BytesStreamed int64      `json:"bytes_streamed"`
	Success       bool       `json:"success"`
	ErrorReason   string     `json:"error_reason,omitempty"`
}

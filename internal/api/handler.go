package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"vidstream/internal/api/dto"
	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
	"vidstream/internal/platform"
	"vidstream/internal/service"
)

const (
	version        = "1.0.0"
	maxCookieBytes = 1 << 20
)

// VideoService is the part of service.Orchestrator the handlers use.
type VideoService interface {
	Analyze(ctx context.Context, targetURL string) (*domain.VideoInfo, []domain.OrderedFormat, error)
	StreamVideo(w http.ResponseWriter, r *http.Request, opts service.StreamOptions) *domain.StreamResult
	Platforms() *platform.Table
	CookieStatus() ([]*domain.CookieMaterial, error)
	UploadCookies(ctx context.Context, platformID string, data []byte) (*domain.CookieMaterial, error)
	RefreshCookies(ctx context.Context, platformID string) []service.RefreshOutcome
	CookieServiceHealth(ctx context.Context) error
}

// JobQueue is the part of service.AnalysisQueue the handlers use.
type JobQueue interface {
	Submit(ctx context.Context, targetURL string) (*domain.AnalysisJob, error)
	Get(ctx context.Context, id string) (*domain.AnalysisJob, error)
}

type Handler struct {
	svc      VideoService
	queue    JobQueue
	sessions ports.SessionHistory
	logger   zerolog.Logger
}

// NewHandler creates the handler set. sessions may be nil.
func NewHandler(svc VideoService, queue JobQueue, sessions ports.SessionHistory, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:      svc,
		queue:    queue,
		sessions: sessions,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, dto.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version,
	})
}

// VideoInfo extracts metadata and the ranked format list synchronously.
func (h *Handler) VideoInfo(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeVideoRequest(w, r)
	if !ok {
		return
	}
	info, formats, err := h.svc.Analyze(r.Context(), req.URL)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if formats == nil {
		formats = []domain.OrderedFormat{}
	}
	respondJSON(w, http.StatusOK, dto.VideoInfoResponse{Info: info, Formats: formats})
}

// Analyze queues an analysis and returns its job id.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeVideoRequest(w, r)
	if !ok {
		return
	}
	job, err := h.queue.Submit(r.Context(), req.URL)
	if errors.Is(err, service.ErrQueueFull) {
		w.Header().Set("Retry-After", "5")
		respondError(w, http.StatusServiceUnavailable, "queue_full", "Too many analyses in progress, try again shortly.", "")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to queue analysis")
		respondError(w, http.StatusInternalServerError, "internal_error", "Could not queue the analysis", "")
		return
	}
	respondJSON(w, http.StatusAccepted, dto.AnalyzeAccepted{
		JobID:     job.ID,
		Status:    job.Status,
		StatusURL: "/api/video/analyze/" + job.ID,
	})
}

func (h *Handler) AnalysisStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ports.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "Unknown or expired job", "")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load analysis job")
		respondError(w, http.StatusInternalServerError, "internal_error", "Could not load the job", "")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, false)
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, true)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, attachment bool) {
	q := r.URL.Query()
	opts := service.StreamOptions{
		VideoURL:   strings.TrimSpace(q.Get("url")),
		FormatID:   strings.TrimSpace(q.Get("format_id")),
		Title:      q.Get("title"),
		UserAgent:  q.Get("user_agent"),
		Referer:    q.Get("referer"),
		UseAuth:    q.Get("auth") != "none",
		Attachment: attachment,
	}
	if opts.VideoURL == "" || opts.FormatID == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "url and format_id are required", "")
		return
	}

	res := h.svc.StreamVideo(w, r, opts)
	switch {
	case res.Success, res.ClientGone:
	case !res.HeadersSent:
		respondDomainErrorStatus(w, res.Status, res.Err)
	case res.BytesStreamed > 0:
		// Headers and part of the body are out; dropping the connection
		// is the only way left to tell the client the body is incomplete.
		panic(http.ErrAbortHandler)
	}
}

func (h *Handler) ListCookies(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.CookieStatus()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read cookie status")
		respondError(w, http.StatusInternalServerError, "internal_error", "Could not read cookie status", "")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// UploadCookies replaces a platform's jar with a Netscape file from the body.
func (h *Handler) UploadCookies(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "platform")
	if _, ok := h.svc.Platforms().Get(id); !ok {
		respondError(w, http.StatusNotFound, "unknown_platform", "Unknown platform "+strconv.Quote(id), "")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCookieBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "too_large", "Cookie file is too large", "")
		return
	}
	m, err := h.svc.UploadCookies(r.Context(), id, data)
	if errors.Is(err, ports.ErrInvalidCookies) {
		respondError(w, http.StatusBadRequest, "invalid_cookies", err.Error(), "")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("platform", id).Msg("failed to store uploaded cookies")
		respondError(w, http.StatusInternalServerError, "internal_error", "Could not store cookies", "")
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (h *Handler) RefreshCookies(w http.ResponseWriter, r *http.Request) {
	var req dto.RefreshRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body", "")
			return
		}
	}
	if req.Platform != "" {
		if _, ok := h.svc.Platforms().Get(req.Platform); !ok {
			respondError(w, http.StatusNotFound, "unknown_platform", "Unknown platform "+strconv.Quote(req.Platform), "")
			return
		}
	}
	outcomes := h.svc.RefreshCookies(r.Context(), req.Platform)
	if outcomes == nil {
		outcomes = []service.RefreshOutcome{}
	}
	respondJSON(w, http.StatusOK, outcomes)
}

func (h *Handler) CookieServiceHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CookieServiceHealth(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, dto.CookieServiceHealth{Healthy: false, Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, dto.CookieServiceHealth{Healthy: true})
}

func (h *Handler) RecentSessions(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		respondJSON(w, http.StatusOK, []dto.SessionSummary{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	sessions, err := h.sessions.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list sessions")
		respondError(w, http.StatusInternalServerError, "internal_error", "Could not list sessions", "")
		return
	}
	out := make([]dto.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, dto.SessionSummary{
			ID:            s.ID,
			Platform:      s.Platform,
			FormatID:      s.FormatID,
			StartTime:     s.StartTime,
			EndTime:       s.EndTime,
			BytesStreamed: s.BytesStreamed,
			Success:       s.Success,
			ErrorReason:   s.ErrorReason,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func decodeVideoRequest(w http.ResponseWriter, r *http.Request) (dto.VideoRequest, bool) {
	var req dto.VideoRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body", "")
		return req, false
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "url is required", "")
		return req, false
	}
	return req, true
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, code, message, kind string) {
	respondJSON(w, status, dto.ErrorResponse{Error: code, Message: message, Code: status, Kind: kind})
}

// respondDomainError maps a classified failure to its status and body.
func respondDomainError(w http.ResponseWriter, err error) {
	respondDomainErrorStatus(w, service.HTTPStatus(err), err)
}

func respondDomainErrorStatus(w http.ResponseWriter, status int, err error) {
	kind := domain.KindOf(err)
	message := "Request failed"
	if err != nil {
		message = domain.MessageOf(err)
	}
	// Stream headers were prepared for a media body; reset them for JSON.
	for _, k := range []string{"Content-Disposition", "Accept-Ranges", "Content-Range", "Content-Length"} {
		w.Header().Del(k)
	}
	respondError(w, status, string(kind), message, string(kind))
}

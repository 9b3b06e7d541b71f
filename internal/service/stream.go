package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
	"vidstream/internal/metrics"
	"vidstream/internal/platform"
)

var mimeTypes = map[string]string{
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mkv":  "video/x-matroska",
	"avi":  "video/x-msvideo",
	"mov":  "video/quicktime",
	"m4a":  "audio/mp4",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
}

// ContentTypeFor returns the MIME type for a container extension.
func ContentTypeFor(ext string) string {
	if t, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return t
	}
	return "application/octet-stream"
}

// StreamOptions describes one stream request.
type StreamOptions struct {
	VideoURL   string
	FormatID   string
	Title      string
	UserAgent  string
	Referer    string
	UseAuth    bool
	Attachment bool
}

// infoSource is the part of MetadataExtractor the pump needs.
type infoSource interface {
	Extract(ctx context.Context, req domain.ExtractionRequest, withFallback bool) (*domain.VideoInfo, error)
}

var errRangeComplete = errors.New("requested range fully sent")

// StreamPump pipes extractor stdout for one format into an HTTP response.
type StreamPump struct {
	info      infoSource
	runner    ports.ProcessRunner
	auth      *CookieAuthResolver
	platforms *platform.Table
	recorder  ports.SessionRecorder
	timeout   time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewStreamPump creates a pump. recorder may be nil.
func NewStreamPump(
	info infoSource,
	runner ports.ProcessRunner,
	auth *CookieAuthResolver,
	platforms *platform.Table,
	recorder ports.SessionRecorder,
	timeout time.Duration,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *StreamPump {
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	return &StreamPump{
		info:      info,
		runner:    runner,
		auth:      auth,
		platforms: platforms,
		recorder:  recorder,
		timeout:   timeout,
		logger:    logger.With().Str("component", "stream_pump").Logger(),
		metrics:   m,
		now:       time.Now,
	}
}

// Stream re-validates opts.FormatID against fresh metadata and streams it.
// Errors before the first byte leave HeadersSent false so the caller can
// still answer with a JSON error. The session is finalized exactly once,
// after the extractor process is gone.
func (p *StreamPump) Stream(w http.ResponseWriter, r *http.Request, opts StreamOptions) *domain.StreamResult {
	ctx := r.Context()
	session := &domain.StreamSession{
		ID:        uuid.New().String(),
		URL:       opts.VideoURL,
		FormatID:  opts.FormatID,
		Platform:  p.platforms.Detect(opts.VideoURL),
		StartTime: p.now().UTC(),
	}
	logger := p.logger.With().Str("session_id", session.ID).Str("platform", session.Platform).Str("format_id", opts.FormatID).Logger()
	p.metrics.StreamStarted()

	result := &domain.StreamResult{SessionID: session.ID}
	result.Status = p.pump(ctx, w, r, opts, result, logger)
	p.finalize(ctx, session, result, logger)
	return result
}

func (p *StreamPump) pump(ctx context.Context, w http.ResponseWriter, r *http.Request, opts StreamOptions, result *domain.StreamResult, logger zerolog.Logger) int {
	policy := p.platforms.ForURL(opts.VideoURL)
	platformName := ""
	if policy != nil {
		platformName = policy.Name
	}

	req := domain.ExtractionRequest{TargetURL: opts.VideoURL, RequestedFormatID: opts.FormatID}
	if !opts.UseAuth {
		req.AuthPreference = domain.AuthNone
	}
	info, err := p.info.Extract(ctx, req, true)
	if err != nil {
		result.Err = err
		return HTTPStatus(err)
	}
	format, ok := info.FindFormat(opts.FormatID)
	if !ok {
		result.Err = &domain.ExtractionError{
			Kind:     domain.KindFormatNotFound,
			Platform: platformName,
			Message:  userMessage(domain.KindFormatNotFound, platformName, ""),
		}
		return http.StatusBadRequest
	}

	muxed := !format.HasAudio()
	selector := format.FormatID
	if muxed {
		selector = format.FormatID + "+bestaudio/best[ext=mp4]/best"
	}
	ext := format.Ext
	if muxed {
		ext = "mp4"
	}

	b := NewArgBuilder("-f", selector, "-o", "-", "--no-playlist", "--ignore-errors", "--no-part", "--quiet", "--no-warnings")
	if muxed || (policy != nil && policy.MergesOutput()) {
		b.Add("--merge-output-format", "mp4")
	}
	if opts.UserAgent != "" {
		b.Add("--user-agent", opts.UserAgent)
	}
	referer := opts.Referer
	if referer == "" && policy != nil {
		referer = policy.Referer
	}
	if referer != "" {
		b.Add("--referer", referer)
	}
	if opts.UseAuth && p.auth != nil {
		p.auth.AttachAuth(ctx, b, opts.VideoURL)
	}

	title := opts.Title
	if title == "" {
		title = info.Title
	}
	h := w.Header()
	h.Set("Content-Type", ContentTypeFor(ext))
	h.Set("Content-Disposition", contentDisposition(opts.Attachment, SanitizeFilename(title)+"."+ext))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "Range")
	h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

	status := http.StatusOK
	var window *rangeWindow
	rangeable := !muxed && format.Filesize != nil && !format.FilesizeApprox
	if rangeable {
		size := *format.Filesize
		h.Set("Accept-Ranges", "bytes")
		if spec := r.Header.Get("Range"); spec != "" {
			start, end, ok, satisfiable := ParseRange(spec, size)
			switch {
			case ok && !satisfiable:
				h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
				h.Del("Content-Disposition")
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				result.HeadersSent = true
				result.Err = fmt.Errorf("range %q not satisfiable for size %d", spec, size)
				return http.StatusRequestedRangeNotSatisfiable
			case ok:
				status = http.StatusPartialContent
				h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
				h.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
				window = &rangeWindow{skip: start, remaining: end - start + 1}
			}
		}
	}

	rc := http.NewResponseController(w)
	commit := func() {
		if !result.HeadersSent {
			w.WriteHeader(status)
			result.HeadersSent = true
		}
	}
	// The sink runs on the runner's reader goroutine and may still be inside
	// w.Write when Run returns. closed keeps later chunks away from the
	// response; teardown below interrupts the pending write.
	var mu sync.Mutex
	var closed atomic.Bool
	sink := func(chunk []byte) error {
		mu.Lock()
		defer mu.Unlock()
		if closed.Load() {
			return net.ErrClosed
		}
		done := false
		if window != nil {
			chunk, done = window.clip(chunk)
		}
		if len(chunk) > 0 {
			commit()
			n, err := w.Write(chunk)
			result.BytesStreamed += int64(n)
			if err != nil {
				return err
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}
		if done {
			return errRangeComplete
		}
		return nil
	}

	logger.Info().Str("selector", selector).Int("status", status).Msg("stream starting")
	_, err = p.runner.Run(ctx, b.Build(opts.VideoURL), ports.RunOptions{Timeout: p.timeout, OnStdout: sink})
	closed.Store(true)
	// A client that stops reading can hold w.Write open indefinitely; an
	// expired deadline fails it so the session can settle.
	_ = rc.SetWriteDeadline(time.Now())
	mu.Lock()
	defer mu.Unlock()
	_ = rc.SetWriteDeadline(time.Time{})

	var sinkErr *ports.SinkError
	switch {
	case err == nil && window != nil && window.remaining > 0:
		result.Err = &domain.ExtractionError{
			Kind:     domain.KindUnknown,
			Platform: platformName,
			Message:  "The stream ended before the requested range was complete.",
			Err:      fmt.Errorf("extractor exited with %d range bytes unsent", window.remaining),
		}
		if !result.HeadersSent {
			return HTTPStatus(result.Err)
		}
	case err == nil:
		commit()
		result.Success = true
	case errors.Is(err, errRangeComplete):
		result.Success = true
	case errors.As(err, &sinkErr), errors.Is(err, ports.ErrProcessCanceled):
		result.ClientGone = true
		result.Err = classifyRunError(err, platformName)
	default:
		result.Err = classifyRunError(err, platformName)
		if !result.HeadersSent {
			return HTTPStatus(result.Err)
		}
	}
	return status
}

func (p *StreamPump) finalize(ctx context.Context, session *domain.StreamSession, result *domain.StreamResult, logger zerolog.Logger) {
	end := p.now().UTC()
	session.EndTime = &end
	session.BytesStreamed = result.BytesStreamed
	session.Success = result.Success
	if result.Err != nil {
		session.ErrorReason = result.Err.Error()
	}
	result.Duration = end.Sub(session.StartTime)

	outcome := "success"
	switch {
	case result.ClientGone:
		outcome = "client_gone"
	case !result.Success:
		outcome = "failed"
	}
	p.metrics.StreamFinished(outcome, result.BytesStreamed)

	ev := logger.Info()
	if !result.Success {
		ev = logger.Warn().Err(result.Err)
	}
	ev.Str("outcome", outcome).Int64("bytes", result.BytesStreamed).Dur("duration", result.Duration).Msg("stream finished")

	if p.recorder != nil {
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := p.recorder.Record(recCtx, session); err != nil {
			logger.Warn().Err(err).Msg("failed to record stream session")
		}
	}
}

// HTTPStatus maps a classified error to the response status used when
// nothing has been written yet.
func HTTPStatus(err error) int {
	switch domain.KindOf(err) {
	case domain.KindFormatNotFound, domain.KindUnsupportedURL:
		return http.StatusBadRequest
	case domain.KindAuthRequired:
		return http.StatusForbidden
	case domain.KindUnavailable:
		return http.StatusNotFound
	case domain.KindTimeout, domain.KindCanceled:
		return http.StatusRequestTimeout
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// rangeWindow drops the bytes before a range start and reports when the
// range has been fully delivered.
type rangeWindow struct {
	skip      int64
	remaining int64
}

func (rw *rangeWindow) clip(chunk []byte) ([]byte, bool) {
	if rw.skip > 0 {
		if int64(len(chunk)) <= rw.skip {
			rw.skip -= int64(len(chunk))
			return nil, false
		}
		chunk = chunk[rw.skip:]
		rw.skip = 0
	}
	if int64(len(chunk)) >= rw.remaining {
		chunk = chunk[:rw.remaining]
		rw.remaining = 0
		return chunk, true
	}
	rw.remaining -= int64(len(chunk))
	return chunk, false
}

// ParseRange parses a single "bytes=" range against size. ok is false for
// syntax the pump ignores (multiple ranges, other units); satisfiable is
// false when the range lies outside the content.
func ParseRange(header string, size int64) (start, end int64, ok, satisfiable bool) {
	spec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false, false
	}
	first, last, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return 0, 0, false, false
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, false, false
		}
		if n == 0 || size == 0 {
			return 0, 0, true, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true, true
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false, false
	}
	end = size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return 0, 0, false, false
		}
		if end > size-1 {
			end = size - 1
		}
	}
	if start >= size {
		return 0, 0, true, false
	}
	return start, end, true, true
}

// SanitizeFilename strips characters that are unsafe in file names and
// headers, collapsing whitespace.
func SanitizeFilename(name string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range name {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r), unicode.IsControl(r):
			r = '_'
		case unicode.IsSpace(r):
			if lastSpace {
				continue
			}
			r = ' '
		}
		lastSpace = r == ' '
		b.WriteRune(r)
	}
	out := strings.Trim(strings.TrimSpace(b.String()), ".")
	if runes := []rune(out); len(runes) > 150 {
		out = strings.TrimSpace(string(runes[:150]))
	}
	if out == "" {
		return "video"
	}
	return out
}

func contentDisposition(attachment bool, filename string) string {
	kind := "inline"
	if attachment {
		kind = "attachment"
	}
	ascii := strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return '_'
		}
		return r
	}, filename)
	return fmt.Sprintf(`%s; filename="%s"; filename*=UTF-8''%s`, kind, ascii, url.PathEscape(filename))
}
